// Package storage defines the persistence contract for decks, slides,
// credentials and chat messages, plus an in-memory backend.
//
// Backends return errs.ErrNotFound (wrapped) for missing records. Ownership is
// not checked here; that is the repository's job.
package storage

import (
	"context"
	"crypto/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"github.com/smorand/easy-deck/internal/model"
)

// DefaultMessageLimit is how many messages a transcript listing returns.
const DefaultMessageLimit = 100

// DeckStore persists decks. Decks are indexed by owner.
type DeckStore interface {
	CreateDeck(ctx context.Context, deck *model.Deck) error
	GetDeck(ctx context.Context, id string) (*model.Deck, error)
	ListDecksByOwner(ctx context.Context, ownerID string) ([]*model.Deck, error)
	UpdateDeck(ctx context.Context, deck *model.Deck) error
	DeleteDeck(ctx context.Context, id string) error
}

// SlideStore persists slides. Slides are indexed by deck and by (deck, index).
type SlideStore interface {
	CreateSlide(ctx context.Context, slide *model.Slide) error
	GetSlide(ctx context.Context, id string) (*model.Slide, error)
	// ListSlidesByDeck returns the deck's slides ordered by index.
	ListSlidesByDeck(ctx context.Context, deckID string) ([]*model.Slide, error)
	UpdateSlide(ctx context.Context, slide *model.Slide) error
	DeleteSlide(ctx context.Context, id string) error
}

// CredentialStore keeps at most one credential per owner.
type CredentialStore interface {
	// UpsertCredential overwrites the owner's credential if one exists and
	// returns the credential's identifier.
	UpsertCredential(ctx context.Context, cred *model.Credential) (string, error)
	GetCredential(ctx context.Context, ownerID string) (*model.Credential, error)
}

// MessageStore is an append-only transcript per owner.
type MessageStore interface {
	AppendMessage(ctx context.Context, msg *model.Message) error
	// ListMessages returns up to limit messages, newest first. A limit of
	// zero or less means DefaultMessageLimit.
	ListMessages(ctx context.Context, ownerID string, limit int) ([]*model.Message, error)
	ClearMessages(ctx context.Context, ownerID string) (int, error)
}

// Store is the full persistence surface used by the application.
type Store interface {
	DeckStore
	SlideStore
	CredentialStore
	MessageStore
	Close() error
}

// NewID returns a random identifier for decks and slides.
func NewID() string {
	return uuid.NewString()
}

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// NewMessageID returns a ULID so identifiers sort in creation order, including
// several IDs minted within the same millisecond.
func NewMessageID(t time.Time) string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}
