// Package chat answers chat messages about a deck and applies planned
// slide updates.
//
// Replies come from a Responder. The signals returned alongside the reply
// (NeedsGoogleAuth, CanExecute) and the separate ExecuteSlidesUpdate entry
// point do not depend on the Responder, so a smarter one can be dropped in.
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"google.golang.org/api/slides/v1"

	"github.com/smorand/easy-deck/internal/auth"
	"github.com/smorand/easy-deck/internal/deck"
	"github.com/smorand/easy-deck/internal/errs"
	"github.com/smorand/easy-deck/internal/gateway"
	"github.com/smorand/easy-deck/internal/middleware"
	"github.com/smorand/easy-deck/internal/model"
	"github.com/smorand/easy-deck/internal/storage"
)

// Tokens reads the caller's Google credential.
type Tokens interface {
	GetToken(ctx context.Context, ownerID string) (*model.Credential, error)
	ValidToken(ctx context.Context, ownerID string) (*model.Credential, error)
}

// Config holds configuration for the Orchestrator.
type Config struct {
	Responder Responder
	Logger    *slog.Logger
	Now       func() time.Time
}

// Orchestrator runs deck chats and the message log.
type Orchestrator struct {
	decks     *deck.Repository
	tokens    Tokens
	messages  storage.MessageStore
	gateway   *gateway.Gateway
	responder Responder
	renderer  *Renderer
	logger    *slog.Logger
	now       func() time.Time
}

// New creates an Orchestrator.
func New(config Config, decks *deck.Repository, tokens Tokens, messages storage.MessageStore, gw *gateway.Gateway) *Orchestrator {
	if config.Responder == nil {
		config.Responder = TemplateResponder{}
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	return &Orchestrator{
		decks:     decks,
		tokens:    tokens,
		messages:  messages,
		gateway:   gw,
		responder: config.Responder,
		renderer:  NewRenderer(),
		logger:    config.Logger,
		now:       config.Now,
	}
}

// ChatInput is one message about a deck, optionally scoped to a slide.
type ChatInput struct {
	Message string  `json:"message" validate:"required"`
	DeckID  string  `json:"deckId"`
	SlideID *string `json:"slideId,omitempty"`
}

// ChatOutput is the reply and the two execution signals.
type ChatOutput struct {
	Response        string `json:"response"`
	ResponseHTML    string `json:"responseHtml"`
	NeedsGoogleAuth bool   `json:"needsGoogleAuth"`
	CanExecute      bool   `json:"canExecute"`
}

// ConverseOutput is the reply to a message log entry.
type ConverseOutput struct {
	Response     string `json:"response"`
	ResponseHTML string `json:"responseHtml"`
}

func requireMessage(message string) (string, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return "", fmt.Errorf("%w: message must not be empty", errs.ErrInvalidArgument)
	}
	return message, nil
}

// Chat answers a message about one of the caller's decks.
func (o *Orchestrator) Chat(ctx context.Context, input ChatInput) (*ChatOutput, error) {
	userID := middleware.UserID(ctx)
	if userID == "" {
		return nil, errs.ErrUnauthenticated
	}
	message, err := requireMessage(input.Message)
	if err != nil {
		return nil, err
	}

	d, err := o.decks.GetDeck(ctx, input.DeckID)
	if err != nil {
		return nil, err
	}

	var slide *model.Slide
	if input.SlideID != nil && *input.SlideID != "" {
		slide, err = o.decks.GetSlide(ctx, *input.SlideID)
		if err != nil {
			return nil, err
		}
		if slide.DeckID != d.ID {
			return nil, fmt.Errorf("%w: slide %s is not part of deck %s", errs.ErrInvalidArgument, slide.ID, d.ID)
		}
	}

	connected, err := o.googleConnected(ctx, userID)
	if err != nil {
		return nil, err
	}

	slides, err := o.decks.ListSlides(ctx, d.ID)
	if err != nil {
		return nil, err
	}

	reply, err := o.respond(ctx, Turn{
		Message:         message,
		Deck:            d,
		Slide:           slide,
		SlideCount:      len(slides),
		GoogleConnected: connected,
	})
	if err != nil {
		return nil, err
	}

	needsAuth := !d.Connected()
	return &ChatOutput{
		Response:        reply.Response,
		ResponseHTML:    reply.ResponseHTML,
		NeedsGoogleAuth: needsAuth,
		CanExecute:      !needsAuth,
	}, nil
}

// googleConnected reports whether the caller holds an unexpired credential.
// A missing credential is not an error here.
func (o *Orchestrator) googleConnected(ctx context.Context, userID string) (bool, error) {
	cred, err := o.tokens.GetToken(ctx, userID)
	if errors.Is(err, errs.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return !auth.IsExpired(cred, o.now()), nil
}

func (o *Orchestrator) respond(ctx context.Context, turn Turn) (*ConverseOutput, error) {
	text, err := o.responder.Respond(ctx, turn)
	if err != nil {
		return nil, fmt.Errorf("compose reply: %w", err)
	}
	rendered, err := o.renderer.Render(text)
	if err != nil {
		return nil, fmt.Errorf("render reply: %w", err)
	}
	return &ConverseOutput{Response: text, ResponseHTML: rendered}, nil
}

// ExecuteSlidesUpdate forwards requests verbatim to the deck's presentation.
// The gateway only checks that each one is a JSON object.
func (o *Orchestrator) ExecuteSlidesUpdate(ctx context.Context, deckID string, requests []json.RawMessage) (*slides.BatchUpdatePresentationResponse, error) {
	d, err := o.decks.GetDeck(ctx, deckID)
	if err != nil {
		return nil, err
	}
	if !d.Connected() {
		return nil, errs.ErrDeckNotConnected
	}

	cred, err := o.tokens.ValidToken(ctx, d.OwnerID)
	if err != nil {
		return nil, err
	}

	resp, err := o.gateway.BatchUpdate(ctx, cred.AccessToken, *d.PresentationID, requests)
	if err != nil {
		return nil, err
	}

	o.logger.Info("slides update executed",
		slog.String("deck_id", deckID),
		slog.Int("requests", len(requests)),
	)
	return resp, nil
}

// Converse appends the caller's message to their log, answers it and
// appends the answer.
func (o *Orchestrator) Converse(ctx context.Context, message string) (*ConverseOutput, error) {
	userID := middleware.UserID(ctx)
	if userID == "" {
		return nil, errs.ErrUnauthenticated
	}
	message, err := requireMessage(message)
	if err != nil {
		return nil, err
	}

	count, err := o.decks.CountSlides(ctx)
	if err != nil {
		return nil, err
	}
	connected, err := o.googleConnected(ctx, userID)
	if err != nil {
		return nil, err
	}

	// The transcript only records turns that produced a reply.
	reply, err := o.respond(ctx, Turn{Message: message, SlideCount: count, GoogleConnected: connected})
	if err != nil {
		return nil, err
	}
	if err := o.append(ctx, userID, model.RoleUser, message); err != nil {
		return nil, err
	}
	if err := o.append(ctx, userID, model.RoleAssistant, reply.Response); err != nil {
		return nil, err
	}
	return reply, nil
}

func (o *Orchestrator) append(ctx context.Context, userID string, role model.Role, content string) error {
	return o.messages.AppendMessage(ctx, &model.Message{
		ID:        storage.NewMessageID(o.now()),
		OwnerID:   userID,
		Role:      role,
		Content:   content,
		CreatedAt: o.now(),
	})
}

// Messages returns the caller's latest messages, newest first.
func (o *Orchestrator) Messages(ctx context.Context) ([]*model.Message, error) {
	userID := middleware.UserID(ctx)
	if userID == "" {
		return nil, errs.ErrUnauthenticated
	}
	return o.messages.ListMessages(ctx, userID, storage.DefaultMessageLimit)
}

// ClearMessages deletes the caller's whole log and returns how many
// messages were removed.
func (o *Orchestrator) ClearMessages(ctx context.Context) (int, error) {
	userID := middleware.UserID(ctx)
	if userID == "" {
		return 0, errs.ErrUnauthenticated
	}
	n, err := o.messages.ClearMessages(ctx, userID)
	if err != nil {
		return 0, err
	}
	o.logger.Info("messages cleared", slog.String("user_id", userID), slog.Int("count", n))
	return n, nil
}
