// Package firestore implements storage.Store on Cloud Firestore.
//
// Layout: decks, slides and credentials are top-level collections (credential
// document ID = owner ID); messages live under users/{owner}/messages with the
// ULID as document ID so ordering by document ID is chronological.
package firestore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/smorand/easy-deck/internal/errs"
	"github.com/smorand/easy-deck/internal/model"
	"github.com/smorand/easy-deck/internal/storage"
)

// Store is a Firestore-backed storage.Store.
type Store struct {
	client *firestore.Client
	prefix string
}

// New creates a Store with its own client.
func New(ctx context.Context, projectID, collectionPrefix string) (*Store, error) {
	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create firestore client: %w", err)
	}
	return NewWithClient(client, collectionPrefix), nil
}

// NewWithClient wraps an existing client. Collection names are prefixed so
// several environments can share a project.
func NewWithClient(client *firestore.Client, collectionPrefix string) *Store {
	return &Store{client: client, prefix: collectionPrefix}
}

// Close closes the Firestore client.
func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) decks() *firestore.CollectionRef {
	return s.client.Collection(s.prefix + "decks")
}

func (s *Store) slides() *firestore.CollectionRef {
	return s.client.Collection(s.prefix + "slides")
}

func (s *Store) credentials() *firestore.CollectionRef {
	return s.client.Collection(s.prefix + "credentials")
}

func (s *Store) messages(ownerID string) *firestore.CollectionRef {
	return s.client.Collection(s.prefix + "users").Doc(ownerID).Collection("messages")
}

func isNotFound(err error) bool {
	return status.Code(err) == codes.NotFound
}

// CreateDeck stores deck, assigning an ID when empty.
func (s *Store) CreateDeck(ctx context.Context, deck *model.Deck) error {
	if deck.ID == "" {
		deck.ID = storage.NewID()
	}
	if _, err := s.decks().Doc(deck.ID).Create(ctx, deck); err != nil {
		return fmt.Errorf("failed to create deck: %w", err)
	}
	return nil
}

// GetDeck loads one deck.
func (s *Store) GetDeck(ctx context.Context, id string) (*model.Deck, error) {
	doc, err := s.decks().Doc(id).Get(ctx)
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: deck %s", errs.ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to get deck: %w", err)
	}

	var deck model.Deck
	if err := doc.DataTo(&deck); err != nil {
		return nil, fmt.Errorf("failed to unmarshal deck: %w", err)
	}
	deck.ID = doc.Ref.ID
	return &deck, nil
}

// ListDecksByOwner returns the owner's decks, most recently updated first.
// Sorting happens client side to avoid a composite index.
func (s *Store) ListDecksByOwner(ctx context.Context, ownerID string) ([]*model.Deck, error) {
	docs, err := s.decks().Where("owner_id", "==", ownerID).Documents(ctx).GetAll()
	if err != nil {
		return nil, fmt.Errorf("failed to list decks: %w", err)
	}

	decks := make([]*model.Deck, 0, len(docs))
	for _, doc := range docs {
		var deck model.Deck
		if err := doc.DataTo(&deck); err != nil {
			return nil, fmt.Errorf("failed to unmarshal deck: %w", err)
		}
		deck.ID = doc.Ref.ID
		decks = append(decks, &deck)
	}
	sort.Slice(decks, func(i, j int) bool {
		if !decks[i].UpdatedAt.Equal(decks[j].UpdatedAt) {
			return decks[i].UpdatedAt.After(decks[j].UpdatedAt)
		}
		return decks[i].ID < decks[j].ID
	})
	return decks, nil
}

// UpdateDeck overwrites an existing deck document.
func (s *Store) UpdateDeck(ctx context.Context, deck *model.Deck) error {
	return s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref := s.decks().Doc(deck.ID)
		if _, err := tx.Get(ref); err != nil {
			if isNotFound(err) {
				return fmt.Errorf("%w: deck %s", errs.ErrNotFound, deck.ID)
			}
			return fmt.Errorf("failed to get deck: %w", err)
		}
		return tx.Set(ref, deck)
	})
}

// DeleteDeck removes the deck document only.
func (s *Store) DeleteDeck(ctx context.Context, id string) error {
	if _, err := s.decks().Doc(id).Delete(ctx); err != nil {
		return fmt.Errorf("failed to delete deck: %w", err)
	}
	return nil
}

// CreateSlide stores slide, assigning an ID when empty.
func (s *Store) CreateSlide(ctx context.Context, slide *model.Slide) error {
	if slide.ID == "" {
		slide.ID = storage.NewID()
	}
	if _, err := s.slides().Doc(slide.ID).Create(ctx, slide); err != nil {
		return fmt.Errorf("failed to create slide: %w", err)
	}
	return nil
}

// GetSlide loads one slide.
func (s *Store) GetSlide(ctx context.Context, id string) (*model.Slide, error) {
	doc, err := s.slides().Doc(id).Get(ctx)
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: slide %s", errs.ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to get slide: %w", err)
	}

	var slide model.Slide
	if err := doc.DataTo(&slide); err != nil {
		return nil, fmt.Errorf("failed to unmarshal slide: %w", err)
	}
	slide.ID = doc.Ref.ID
	return &slide, nil
}

// ListSlidesByDeck returns the deck's slides ordered by index.
func (s *Store) ListSlidesByDeck(ctx context.Context, deckID string) ([]*model.Slide, error) {
	docs, err := s.slides().Where("deck_id", "==", deckID).Documents(ctx).GetAll()
	if err != nil {
		return nil, fmt.Errorf("failed to list slides: %w", err)
	}

	slides := make([]*model.Slide, 0, len(docs))
	for _, doc := range docs {
		var slide model.Slide
		if err := doc.DataTo(&slide); err != nil {
			return nil, fmt.Errorf("failed to unmarshal slide: %w", err)
		}
		slide.ID = doc.Ref.ID
		slides = append(slides, &slide)
	}
	sort.Slice(slides, func(i, j int) bool {
		if slides[i].Index != slides[j].Index {
			return slides[i].Index < slides[j].Index
		}
		return slides[i].ID < slides[j].ID
	})
	return slides, nil
}

// UpdateSlide overwrites an existing slide document.
func (s *Store) UpdateSlide(ctx context.Context, slide *model.Slide) error {
	return s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref := s.slides().Doc(slide.ID)
		if _, err := tx.Get(ref); err != nil {
			if isNotFound(err) {
				return fmt.Errorf("%w: slide %s", errs.ErrNotFound, slide.ID)
			}
			return fmt.Errorf("failed to get slide: %w", err)
		}
		return tx.Set(ref, slide)
	})
}

// DeleteSlide removes one slide.
func (s *Store) DeleteSlide(ctx context.Context, id string) error {
	if _, err := s.slides().Doc(id).Delete(ctx); err != nil {
		return fmt.Errorf("failed to delete slide: %w", err)
	}
	return nil
}

// UpsertCredential writes the owner's credential. The document ID is the
// owner ID, so a second write replaces the first.
func (s *Store) UpsertCredential(ctx context.Context, cred *model.Credential) (string, error) {
	cred.ID = cred.OwnerID
	if _, err := s.credentials().Doc(cred.OwnerID).Set(ctx, cred); err != nil {
		return "", fmt.Errorf("failed to store credential: %w", err)
	}
	return cred.ID, nil
}

// GetCredential loads the owner's credential.
func (s *Store) GetCredential(ctx context.Context, ownerID string) (*model.Credential, error) {
	doc, err := s.credentials().Doc(ownerID).Get(ctx)
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: credential for %s", errs.ErrNotFound, ownerID)
		}
		return nil, fmt.Errorf("failed to get credential: %w", err)
	}

	var cred model.Credential
	if err := doc.DataTo(&cred); err != nil {
		return nil, fmt.Errorf("failed to unmarshal credential: %w", err)
	}
	cred.ID = doc.Ref.ID
	return &cred, nil
}

// AppendMessage adds one transcript entry.
func (s *Store) AppendMessage(ctx context.Context, msg *model.Message) error {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	if msg.ID == "" {
		msg.ID = storage.NewMessageID(msg.CreatedAt)
	}
	if _, err := s.messages(msg.OwnerID).Doc(msg.ID).Create(ctx, msg); err != nil {
		return fmt.Errorf("failed to append message: %w", err)
	}
	return nil
}

// ListMessages returns up to limit of the owner's messages, newest first.
func (s *Store) ListMessages(ctx context.Context, ownerID string, limit int) ([]*model.Message, error) {
	if limit <= 0 {
		limit = storage.DefaultMessageLimit
	}
	docs, err := s.messages(ownerID).
		OrderBy(firestore.DocumentID, firestore.Desc).
		Limit(limit).
		Documents(ctx).GetAll()
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}

	messages := make([]*model.Message, 0, len(docs))
	for _, doc := range docs {
		var msg model.Message
		if err := doc.DataTo(&msg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal message: %w", err)
		}
		msg.ID = doc.Ref.ID
		messages = append(messages, &msg)
	}
	return messages, nil
}

// ClearMessages deletes the owner's transcript.
func (s *Store) ClearMessages(ctx context.Context, ownerID string) (int, error) {
	bw := s.client.BulkWriter(ctx)
	count := 0

	iter := s.messages(ownerID).Documents(ctx)
	defer iter.Stop()
	for {
		doc, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			bw.End()
			return count, fmt.Errorf("failed to list messages: %w", err)
		}
		if _, err := bw.Delete(doc.Ref); err != nil {
			bw.End()
			return count, fmt.Errorf("failed to delete message: %w", err)
		}
		count++
	}
	bw.End()
	return count, nil
}

var _ storage.Store = (*Store)(nil)
