// Package syncer mirrors Google Slides presentations into local decks and
// runs the link, import and connect workflows around that mirror.
package syncer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"google.golang.org/api/slides/v1"

	"github.com/smorand/easy-deck/internal/deck"
	"github.com/smorand/easy-deck/internal/errs"
	"github.com/smorand/easy-deck/internal/gateway"
	"github.com/smorand/easy-deck/internal/middleware"
	"github.com/smorand/easy-deck/internal/model"
)

const (
	titleLimit   = 100
	contentLimit = 500

	// ImportedDeckName names imported decks whose presentation has no title.
	ImportedDeckName = "Imported Deck"
)

// Tokens yields a usable Google credential for a user.
type Tokens interface {
	ValidToken(ctx context.Context, ownerID string) (*model.Credential, error)
}

// Config holds configuration for the Syncer.
type Config struct {
	Logger *slog.Logger
}

// Syncer coordinates the deck repository, the token store and the gateway.
type Syncer struct {
	decks   *deck.Repository
	tokens  Tokens
	gateway *gateway.Gateway
	logger  *slog.Logger
}

// New creates a Syncer.
func New(config Config, decks *deck.Repository, tokens Tokens, gw *gateway.Gateway) *Syncer {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Syncer{decks: decks, tokens: tokens, gateway: gw, logger: config.Logger}
}

// SyncResult summarizes one sync.
type SyncResult struct {
	SlideCount        int      `json:"slideCount"`
	PresentationTitle string   `json:"presentationTitle"`
	SlideIDs          []string `json:"slideIds"`
}

// LinkResult is the outcome of linking or importing a presentation.
type LinkResult struct {
	Deck *model.Deck `json:"deck"`
	Sync *SyncResult `json:"sync"`
}

// accessToken resolves the caller and returns their valid Google token.
func (s *Syncer) accessToken(ctx context.Context) (string, error) {
	userID := middleware.UserID(ctx)
	if userID == "" {
		return "", errs.ErrUnauthenticated
	}
	cred, err := s.tokens.ValidToken(ctx, userID)
	if err != nil {
		return "", err
	}
	return cred.AccessToken, nil
}

// SyncSlides replaces the deck's local slides with the presentation's
// current slides. An empty presentationID uses the deck's linked one.
//
// Local slides are deleted before the new ones are written; a failure in
// between leaves the deck with fewer slides than the presentation.
func (s *Syncer) SyncSlides(ctx context.Context, deckID, presentationID string) (*SyncResult, error) {
	d, err := s.decks.GetDeck(ctx, deckID)
	if err != nil {
		return nil, err
	}
	if presentationID == "" {
		if !d.Connected() {
			return nil, errs.ErrDeckNotConnected
		}
		presentationID = *d.PresentationID
	}

	token, err := s.accessToken(ctx)
	if err != nil {
		return nil, err
	}

	p, err := s.gateway.GetPresentation(ctx, token, presentationID)
	if err != nil {
		return nil, err
	}

	if _, err := s.decks.DeleteSlidesByDeck(ctx, deckID); err != nil {
		return nil, err
	}

	result := &SyncResult{
		SlideCount:        len(p.Slides),
		PresentationTitle: p.Title,
		SlideIDs:          make([]string, 0, len(p.Slides)),
	}
	for i, page := range p.Slides {
		text := PageText(page)
		title := truncate(text, titleLimit)
		if title == "" {
			title = fmt.Sprintf("Slide %d", i+1)
		}
		content := truncate(text, contentLimit)

		input := deck.CreateSlideInput{
			Index:   i,
			Title:   &title,
			Content: &content,
		}
		if page.ObjectId != "" {
			input.ExternalID = model.String(page.ObjectId)
		}

		created, err := s.decks.CreateSlide(ctx, deckID, input)
		if err != nil {
			return nil, fmt.Errorf("sync stopped at slide %d: %w", i, err)
		}
		result.SlideIDs = append(result.SlideIDs, created.ID)
	}

	s.logger.Info("deck synced",
		slog.String("deck_id", deckID),
		slog.String("presentation_id", presentationID),
		slog.Int("slides", result.SlideCount),
	)
	return result, nil
}

// LinkPresentation attaches an existing presentation to a deck, renames the
// deck after the presentation and syncs its slides. The deck is not touched
// unless the caller has a valid credential and access to the presentation.
func (s *Syncer) LinkPresentation(ctx context.Context, deckID, input string) (*LinkResult, error) {
	presentationID, ok := gateway.ExtractPresentationID(input)
	if !ok {
		return nil, errs.ErrInvalidPresentationID
	}
	if _, err := s.decks.GetDeck(ctx, deckID); err != nil {
		return nil, err
	}

	token, err := s.accessToken(ctx)
	if err != nil {
		return nil, err
	}
	p, err := s.gateway.LinkExisting(ctx, token, presentationID)
	if err != nil {
		return nil, err
	}

	patch := model.DeckPatch{PresentationID: &presentationID}
	if strings.TrimSpace(p.Title) != "" {
		patch.Name = model.String(p.Title)
	}
	d, err := s.decks.UpdateDeck(ctx, deckID, patch)
	if err != nil {
		return nil, err
	}

	result, err := s.SyncSlides(ctx, deckID, presentationID)
	if err != nil {
		return nil, err
	}
	return &LinkResult{Deck: d, Sync: result}, nil
}

// ImportPresentation creates a new deck linked to an existing presentation
// and syncs its slides.
func (s *Syncer) ImportPresentation(ctx context.Context, input string) (*LinkResult, error) {
	presentationID, ok := gateway.ExtractPresentationID(input)
	if !ok {
		return nil, errs.ErrInvalidPresentationID
	}

	token, err := s.accessToken(ctx)
	if err != nil {
		return nil, err
	}
	p, err := s.gateway.LinkExisting(ctx, token, presentationID)
	if err != nil {
		return nil, err
	}

	name := p.Title
	if strings.TrimSpace(name) == "" {
		name = ImportedDeckName
	}
	d, err := s.decks.CreateDeck(ctx, deck.CreateDeckInput{
		Name:           name,
		PresentationID: &presentationID,
	})
	if err != nil {
		return nil, err
	}

	result, err := s.SyncSlides(ctx, d.ID, presentationID)
	if err != nil {
		return nil, err
	}
	return &LinkResult{Deck: d, Sync: result}, nil
}

// ConnectDeck creates a new presentation named after the deck and links it.
func (s *Syncer) ConnectDeck(ctx context.Context, deckID string) (*model.Deck, error) {
	d, err := s.decks.GetDeck(ctx, deckID)
	if err != nil {
		return nil, err
	}
	if d.Connected() {
		return nil, fmt.Errorf("%w: deck is already connected to %s", errs.ErrInvalidArgument, *d.PresentationID)
	}

	token, err := s.accessToken(ctx)
	if err != nil {
		return nil, err
	}
	p, err := s.gateway.CreatePresentation(ctx, token, d.Name)
	if err != nil {
		return nil, err
	}

	return s.decks.UpdateDeck(ctx, deckID, model.DeckPatch{PresentationID: model.String(p.PresentationID)})
}

// CreatePresentation creates a presentation for the caller.
func (s *Syncer) CreatePresentation(ctx context.Context, title string) (*gateway.Presentation, error) {
	token, err := s.accessToken(ctx)
	if err != nil {
		return nil, err
	}
	return s.gateway.CreatePresentation(ctx, token, title)
}

// GetPresentation fetches a presentation the caller can read.
func (s *Syncer) GetPresentation(ctx context.Context, presentationID string) (*gateway.Presentation, error) {
	token, err := s.accessToken(ctx)
	if err != nil {
		return nil, err
	}
	return s.gateway.GetPresentation(ctx, token, presentationID)
}

// LinkExisting only validates that the caller can open the presentation.
func (s *Syncer) LinkExisting(ctx context.Context, input string) (*gateway.Presentation, error) {
	presentationID, ok := gateway.ExtractPresentationID(input)
	if !ok {
		return nil, errs.ErrInvalidPresentationID
	}
	token, err := s.accessToken(ctx)
	if err != nil {
		return nil, err
	}
	return s.gateway.LinkExisting(ctx, token, presentationID)
}

// UpdateSlide forwards raw requests to the presentation. slideID is only
// logged; the requests themselves name their targets.
func (s *Syncer) UpdateSlide(ctx context.Context, presentationID, slideID string, requests []json.RawMessage) (*slides.BatchUpdatePresentationResponse, error) {
	token, err := s.accessToken(ctx)
	if err != nil {
		return nil, err
	}
	s.logger.Debug("forwarding slide update",
		slog.String("presentation_id", presentationID),
		slog.String("slide_id", slideID),
	)
	return s.gateway.BatchUpdate(ctx, token, presentationID, requests)
}

// AddSlide appends a blank slide, or inserts it at insertionIndex.
func (s *Syncer) AddSlide(ctx context.Context, presentationID string, insertionIndex *int64) (string, error) {
	if insertionIndex != nil && *insertionIndex < 0 {
		return "", fmt.Errorf("%w: insertion index must not be negative", errs.ErrInvalidArgument)
	}
	token, err := s.accessToken(ctx)
	if err != nil {
		return "", err
	}
	return s.gateway.AddSlide(ctx, token, presentationID, insertionIndex)
}

// Search lists the caller's presentations whose name contains query.
func (s *Syncer) Search(ctx context.Context, query string) ([]gateway.PresentationFile, error) {
	token, err := s.accessToken(ctx)
	if err != nil {
		return nil, err
	}
	return s.gateway.SearchPresentations(ctx, token, query)
}

// PageText concatenates the text runs of every shape on the page, in
// element order.
func PageText(page *slides.Page) string {
	var b strings.Builder
	for _, el := range page.PageElements {
		if el == nil || el.Shape == nil || el.Shape.Text == nil {
			continue
		}
		for _, te := range el.Shape.Text.TextElements {
			if te != nil && te.TextRun != nil {
				b.WriteString(te.TextRun.Content)
			}
		}
	}
	return b.String()
}

// truncate keeps the first n characters of s.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}
