// Package deck provides owner-scoped access to decks and their slides.
//
// The caller's identity always comes from the request context. Every deck
// and slide operation passes through one ownership guard, so a foreign
// record is rejected with errs.ErrUnauthorized on every path.
package deck

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/smorand/easy-deck/internal/errs"
	"github.com/smorand/easy-deck/internal/middleware"
	"github.com/smorand/easy-deck/internal/model"
	"github.com/smorand/easy-deck/internal/storage"
)

// Store is the persistence the repository needs.
type Store interface {
	storage.DeckStore
	storage.SlideStore
}

// Config holds configuration for the Repository.
type Config struct {
	Logger *slog.Logger
	Now    func() time.Time
}

// Repository is the owner-scoped deck and slide API.
type Repository struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

// NewRepository creates a Repository over store.
func NewRepository(store Store, config Config) *Repository {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	return &Repository{store: store, logger: config.Logger, now: config.Now}
}

// CreateDeckInput holds the fields of a new deck.
type CreateDeckInput struct {
	Name           string  `json:"name" validate:"required"`
	Description    *string `json:"description,omitempty"`
	PresentationID *string `json:"presentationId,omitempty"`
}

// CreateSlideInput holds the fields of a new slide.
type CreateSlideInput struct {
	Index      int     `json:"slideIndex" validate:"gte=0"`
	ExternalID *string `json:"googleSlideId,omitempty"`
	Title      *string `json:"title,omitempty"`
	Content    *string `json:"content,omitempty"`
}

func caller(ctx context.Context) (string, error) {
	userID := middleware.UserID(ctx)
	if userID == "" {
		return "", errs.ErrUnauthenticated
	}
	return userID, nil
}

// ownedDeck loads the deck and checks it belongs to the caller.
func (r *Repository) ownedDeck(ctx context.Context, deckID string) (*model.Deck, error) {
	userID, err := caller(ctx)
	if err != nil {
		return nil, err
	}

	d, err := r.store.GetDeck(ctx, deckID)
	if err != nil {
		return nil, err
	}
	if d.OwnerID != userID {
		r.logger.Warn("deck access denied",
			slog.String("deck_id", deckID),
			slog.String("user_id", userID),
		)
		return nil, fmt.Errorf("%w: deck %s", errs.ErrUnauthorized, deckID)
	}
	return d, nil
}

// ownedSlide loads the slide and checks its deck belongs to the caller.
func (r *Repository) ownedSlide(ctx context.Context, slideID string) (*model.Slide, error) {
	if _, err := caller(ctx); err != nil {
		return nil, err
	}

	s, err := r.store.GetSlide(ctx, slideID)
	if err != nil {
		return nil, err
	}
	if _, err := r.ownedDeck(ctx, s.DeckID); err != nil {
		return nil, err
	}
	return s, nil
}

func normalizeName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("%w: deck name must not be empty", errs.ErrInvalidArgument)
	}
	return name, nil
}

// CreateDeck creates a deck owned by the caller.
func (r *Repository) CreateDeck(ctx context.Context, input CreateDeckInput) (*model.Deck, error) {
	userID, err := caller(ctx)
	if err != nil {
		return nil, err
	}
	name, err := normalizeName(input.Name)
	if err != nil {
		return nil, err
	}

	d := &model.Deck{
		ID:             storage.NewID(),
		OwnerID:        userID,
		Name:           name,
		Description:    input.Description,
		PresentationID: input.PresentationID,
		UpdatedAt:      r.now(),
	}
	if err := r.store.CreateDeck(ctx, d); err != nil {
		return nil, err
	}

	r.logger.Info("deck created", slog.String("deck_id", d.ID), slog.String("user_id", userID))
	return d, nil
}

// GetDeck returns one of the caller's decks.
func (r *Repository) GetDeck(ctx context.Context, deckID string) (*model.Deck, error) {
	return r.ownedDeck(ctx, deckID)
}

// ListDecks returns the caller's decks, most recently updated first.
func (r *Repository) ListDecks(ctx context.Context) ([]*model.Deck, error) {
	userID, err := caller(ctx)
	if err != nil {
		return nil, err
	}
	return r.store.ListDecksByOwner(ctx, userID)
}

// UpdateDeck applies patch and stamps UpdatedAt, even for an empty patch.
func (r *Repository) UpdateDeck(ctx context.Context, deckID string, patch model.DeckPatch) (*model.Deck, error) {
	d, err := r.ownedDeck(ctx, deckID)
	if err != nil {
		return nil, err
	}
	if patch.Name != nil {
		name, err := normalizeName(*patch.Name)
		if err != nil {
			return nil, err
		}
		patch.Name = &name
	}

	patch.Apply(d)
	d.UpdatedAt = r.now()
	if err := r.store.UpdateDeck(ctx, d); err != nil {
		return nil, err
	}
	return d, nil
}

// DeleteDeck removes the deck and all of its slides.
func (r *Repository) DeleteDeck(ctx context.Context, deckID string) error {
	if _, err := r.ownedDeck(ctx, deckID); err != nil {
		return err
	}
	removed, err := r.deleteSlides(ctx, deckID)
	if err != nil {
		return err
	}
	if err := r.store.DeleteDeck(ctx, deckID); err != nil {
		return err
	}

	r.logger.Info("deck deleted", slog.String("deck_id", deckID), slog.Int("slides", removed))
	return nil
}

// CreateSlide adds a slide to one of the caller's decks.
func (r *Repository) CreateSlide(ctx context.Context, deckID string, input CreateSlideInput) (*model.Slide, error) {
	if _, err := r.ownedDeck(ctx, deckID); err != nil {
		return nil, err
	}
	if input.Index < 0 {
		return nil, fmt.Errorf("%w: slide index must not be negative", errs.ErrInvalidArgument)
	}

	s := &model.Slide{
		ID:         storage.NewID(),
		DeckID:     deckID,
		Index:      input.Index,
		ExternalID: input.ExternalID,
		Title:      input.Title,
		Content:    input.Content,
		UpdatedAt:  r.now(),
	}
	if err := r.store.CreateSlide(ctx, s); err != nil {
		return nil, err
	}
	return s, nil
}

// GetSlide returns a slide of one of the caller's decks.
func (r *Repository) GetSlide(ctx context.Context, slideID string) (*model.Slide, error) {
	return r.ownedSlide(ctx, slideID)
}

// ListSlides returns the deck's slides ordered by index.
func (r *Repository) ListSlides(ctx context.Context, deckID string) ([]*model.Slide, error) {
	if _, err := r.ownedDeck(ctx, deckID); err != nil {
		return nil, err
	}
	return r.store.ListSlidesByDeck(ctx, deckID)
}

// UpdateSlide applies patch and stamps UpdatedAt.
func (r *Repository) UpdateSlide(ctx context.Context, slideID string, patch model.SlidePatch) (*model.Slide, error) {
	s, err := r.ownedSlide(ctx, slideID)
	if err != nil {
		return nil, err
	}
	if patch.Index != nil && *patch.Index < 0 {
		return nil, fmt.Errorf("%w: slide index must not be negative", errs.ErrInvalidArgument)
	}

	patch.Apply(s)
	s.UpdatedAt = r.now()
	if err := r.store.UpdateSlide(ctx, s); err != nil {
		return nil, err
	}
	return s, nil
}

// DeleteSlide removes one slide.
func (r *Repository) DeleteSlide(ctx context.Context, slideID string) error {
	if _, err := r.ownedSlide(ctx, slideID); err != nil {
		return err
	}
	return r.store.DeleteSlide(ctx, slideID)
}

// DeleteSlidesByDeck removes every slide of the deck and returns how many
// were removed.
func (r *Repository) DeleteSlidesByDeck(ctx context.Context, deckID string) (int, error) {
	if _, err := r.ownedDeck(ctx, deckID); err != nil {
		return 0, err
	}
	return r.deleteSlides(ctx, deckID)
}

// CountSlides returns how many slides the caller has across all decks.
func (r *Repository) CountSlides(ctx context.Context) (int, error) {
	decks, err := r.ListDecks(ctx)
	if err != nil {
		return 0, err
	}
	total := 0
	for _, d := range decks {
		slides, err := r.store.ListSlidesByDeck(ctx, d.ID)
		if err != nil {
			return 0, err
		}
		total += len(slides)
	}
	return total, nil
}

func (r *Repository) deleteSlides(ctx context.Context, deckID string) (int, error) {
	slides, err := r.store.ListSlidesByDeck(ctx, deckID)
	if err != nil {
		return 0, err
	}
	for _, s := range slides {
		if err := r.store.DeleteSlide(ctx, s.ID); err != nil {
			return 0, err
		}
	}
	return len(slides), nil
}
