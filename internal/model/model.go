// Package model defines the records persisted by Easy Deck.
package model

import "time"

// Deck is one presentation owned by exactly one user.
type Deck struct {
	ID             string    `json:"id" firestore:"-"`
	OwnerID        string    `json:"ownerId" firestore:"owner_id"`
	Name           string    `json:"name" firestore:"name"`
	Description    *string   `json:"description,omitempty" firestore:"description,omitempty"`
	PresentationID *string   `json:"presentationId,omitempty" firestore:"presentation_id,omitempty"`
	UpdatedAt      time.Time `json:"updatedAt" firestore:"updated_at"`
}

// Connected reports whether the deck is linked to an external presentation.
func (d *Deck) Connected() bool {
	return d.PresentationID != nil && *d.PresentationID != ""
}

// DeckPatch is a sparse update. Nil fields are left unchanged.
type DeckPatch struct {
	Name           *string `json:"name,omitempty"`
	Description    *string `json:"description,omitempty"`
	PresentationID *string `json:"presentationId,omitempty"`
}

// Apply copies the non-nil fields of p onto d.
func (p DeckPatch) Apply(d *Deck) {
	if p.Name != nil {
		d.Name = *p.Name
	}
	if p.Description != nil {
		d.Description = p.Description
	}
	if p.PresentationID != nil {
		d.PresentationID = p.PresentationID
	}
}

// Slide mirrors one slide of a deck's external presentation.
type Slide struct {
	ID         string    `json:"id" firestore:"-"`
	DeckID     string    `json:"deckId" firestore:"deck_id"`
	Index      int       `json:"slideIndex" firestore:"slide_index"`
	ExternalID *string   `json:"googleSlideId,omitempty" firestore:"google_slide_id,omitempty"`
	Title      *string   `json:"title,omitempty" firestore:"title,omitempty"`
	Content    *string   `json:"content,omitempty" firestore:"content,omitempty"`
	UpdatedAt  time.Time `json:"updatedAt" firestore:"updated_at"`
}

// SlidePatch is a sparse slide update.
type SlidePatch struct {
	Index      *int    `json:"slideIndex,omitempty"`
	ExternalID *string `json:"googleSlideId,omitempty"`
	Title      *string `json:"title,omitempty"`
	Content    *string `json:"content,omitempty"`
}

// Apply copies the non-nil fields of p onto s.
func (p SlidePatch) Apply(s *Slide) {
	if p.Index != nil {
		s.Index = *p.Index
	}
	if p.ExternalID != nil {
		s.ExternalID = p.ExternalID
	}
	if p.Title != nil {
		s.Title = p.Title
	}
	if p.Content != nil {
		s.Content = p.Content
	}
}

// Credential is the OAuth bearer token a user granted for Google Slides.
// ExpiresAt is in epoch milliseconds.
type Credential struct {
	ID           string  `json:"id" firestore:"-"`
	OwnerID      string  `json:"ownerId" firestore:"owner_id"`
	AccessToken  string  `json:"-" firestore:"access_token"`
	RefreshToken *string `json:"-" firestore:"refresh_token,omitempty"`
	ExpiresAt    int64   `json:"expiresAt" firestore:"expires_at"`
}

// Role is the author of a chat message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// Message is an append-only chat transcript entry.
type Message struct {
	ID        string    `json:"id" firestore:"-"`
	OwnerID   string    `json:"ownerId" firestore:"owner_id"`
	Role      Role      `json:"role" firestore:"role"`
	Content   string    `json:"content" firestore:"content"`
	CreatedAt time.Time `json:"createdAt" firestore:"created_at"`
}

// String returns a pointer to s. Handy for optional fields.
func String(s string) *string {
	return &s
}
