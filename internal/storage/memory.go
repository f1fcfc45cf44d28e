package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/smorand/easy-deck/internal/errs"
	"github.com/smorand/easy-deck/internal/model"
)

// Memory is an in-process Store. It backs the "memory" storage driver and
// the tests of every package above storage.
type Memory struct {
	mu          sync.RWMutex
	decks       map[string]model.Deck
	slides      map[string]model.Slide
	credentials map[string]model.Credential // keyed by owner
	messages    map[string]model.Message

	// Fail, when set, is consulted before every operation; a non-nil result
	// is returned instead of performing it. Ops are named after the methods.
	Fail func(op string) error

	// Calls counts invocations per operation.
	Calls map[string]int
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		decks:       make(map[string]model.Deck),
		slides:      make(map[string]model.Slide),
		credentials: make(map[string]model.Credential),
		messages:    make(map[string]model.Message),
		Calls:       make(map[string]int),
	}
}

func (m *Memory) enter(op string) error {
	m.Calls[op]++
	if m.Fail != nil {
		return m.Fail(op)
	}
	return nil
}

// CreateDeck stores a copy of deck, assigning an ID when empty.
func (m *Memory) CreateDeck(ctx context.Context, deck *model.Deck) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("CreateDeck"); err != nil {
		return err
	}

	if deck.ID == "" {
		deck.ID = NewID()
	}
	m.decks[deck.ID] = *deck
	return nil
}

// GetDeck returns a copy of the deck.
func (m *Memory) GetDeck(ctx context.Context, id string) (*model.Deck, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("GetDeck"); err != nil {
		return nil, err
	}

	deck, ok := m.decks[id]
	if !ok {
		return nil, fmt.Errorf("%w: deck %s", errs.ErrNotFound, id)
	}
	return &deck, nil
}

// ListDecksByOwner returns the owner's decks, most recently updated first.
func (m *Memory) ListDecksByOwner(ctx context.Context, ownerID string) ([]*model.Deck, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("ListDecksByOwner"); err != nil {
		return nil, err
	}

	decks := []*model.Deck{}
	for _, d := range m.decks {
		if d.OwnerID == ownerID {
			deck := d
			decks = append(decks, &deck)
		}
	}
	sort.Slice(decks, func(i, j int) bool {
		if !decks[i].UpdatedAt.Equal(decks[j].UpdatedAt) {
			return decks[i].UpdatedAt.After(decks[j].UpdatedAt)
		}
		return decks[i].ID < decks[j].ID
	})
	return decks, nil
}

// UpdateDeck replaces the stored deck.
func (m *Memory) UpdateDeck(ctx context.Context, deck *model.Deck) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("UpdateDeck"); err != nil {
		return err
	}

	if _, ok := m.decks[deck.ID]; !ok {
		return fmt.Errorf("%w: deck %s", errs.ErrNotFound, deck.ID)
	}
	m.decks[deck.ID] = *deck
	return nil
}

// DeleteDeck removes the deck. Slides are not touched.
func (m *Memory) DeleteDeck(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("DeleteDeck"); err != nil {
		return err
	}

	delete(m.decks, id)
	return nil
}

// CreateSlide stores a copy of slide, assigning an ID when empty.
func (m *Memory) CreateSlide(ctx context.Context, slide *model.Slide) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("CreateSlide"); err != nil {
		return err
	}

	if slide.ID == "" {
		slide.ID = NewID()
	}
	m.slides[slide.ID] = *slide
	return nil
}

// GetSlide returns a copy of the slide.
func (m *Memory) GetSlide(ctx context.Context, id string) (*model.Slide, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("GetSlide"); err != nil {
		return nil, err
	}

	slide, ok := m.slides[id]
	if !ok {
		return nil, fmt.Errorf("%w: slide %s", errs.ErrNotFound, id)
	}
	return &slide, nil
}

// ListSlidesByDeck returns the deck's slides ordered by index.
func (m *Memory) ListSlidesByDeck(ctx context.Context, deckID string) ([]*model.Slide, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("ListSlidesByDeck"); err != nil {
		return nil, err
	}

	slides := []*model.Slide{}
	for _, s := range m.slides {
		if s.DeckID == deckID {
			slide := s
			slides = append(slides, &slide)
		}
	}
	sort.Slice(slides, func(i, j int) bool {
		if slides[i].Index != slides[j].Index {
			return slides[i].Index < slides[j].Index
		}
		return slides[i].ID < slides[j].ID
	})
	return slides, nil
}

// UpdateSlide replaces the stored slide.
func (m *Memory) UpdateSlide(ctx context.Context, slide *model.Slide) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("UpdateSlide"); err != nil {
		return err
	}

	if _, ok := m.slides[slide.ID]; !ok {
		return fmt.Errorf("%w: slide %s", errs.ErrNotFound, slide.ID)
	}
	m.slides[slide.ID] = *slide
	return nil
}

// DeleteSlide removes the slide.
func (m *Memory) DeleteSlide(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("DeleteSlide"); err != nil {
		return err
	}

	delete(m.slides, id)
	return nil
}

// UpsertCredential overwrites the owner's credential.
func (m *Memory) UpsertCredential(ctx context.Context, cred *model.Credential) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("UpsertCredential"); err != nil {
		return "", err
	}

	if existing, ok := m.credentials[cred.OwnerID]; ok {
		cred.ID = existing.ID
	} else if cred.ID == "" {
		cred.ID = NewID()
	}
	m.credentials[cred.OwnerID] = *cred
	return cred.ID, nil
}

// GetCredential returns the owner's credential.
func (m *Memory) GetCredential(ctx context.Context, ownerID string) (*model.Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("GetCredential"); err != nil {
		return nil, err
	}

	cred, ok := m.credentials[ownerID]
	if !ok {
		return nil, fmt.Errorf("%w: credential for %s", errs.ErrNotFound, ownerID)
	}
	return &cred, nil
}

// AppendMessage adds msg to the owner's transcript.
func (m *Memory) AppendMessage(ctx context.Context, msg *model.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("AppendMessage"); err != nil {
		return err
	}

	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	if msg.ID == "" {
		msg.ID = NewMessageID(msg.CreatedAt)
	}
	m.messages[msg.ID] = *msg
	return nil
}

// ListMessages returns up to limit of the owner's messages, newest first.
func (m *Memory) ListMessages(ctx context.Context, ownerID string, limit int) ([]*model.Message, error) {
	if limit <= 0 {
		limit = DefaultMessageLimit
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("ListMessages"); err != nil {
		return nil, err
	}

	messages := []*model.Message{}
	for _, msg := range m.messages {
		if msg.OwnerID == ownerID {
			message := msg
			messages = append(messages, &message)
		}
	}
	sort.Slice(messages, func(i, j int) bool {
		return messages[i].ID > messages[j].ID
	})
	if len(messages) > limit {
		messages = messages[:limit]
	}
	return messages, nil
}

// ClearMessages deletes the owner's transcript and returns how many went.
func (m *Memory) ClearMessages(ctx context.Context, ownerID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("ClearMessages"); err != nil {
		return 0, err
	}

	count := 0
	for id, msg := range m.messages {
		if msg.OwnerID == ownerID {
			delete(m.messages, id)
			count++
		}
	}
	return count, nil
}

// Close is a no-op.
func (m *Memory) Close() error {
	return nil
}

// Ensure Memory implements Store.
var _ Store = (*Memory)(nil)
