package integration

import (
	"testing"
	"time"

	"github.com/smorand/easy-deck/internal/auth"
	"github.com/smorand/easy-deck/internal/deck"
	"github.com/smorand/easy-deck/internal/middleware"
	"github.com/smorand/easy-deck/internal/storage"
	"github.com/smorand/easy-deck/internal/syncer"
)

func TestSyncer_LinkAndSync(t *testing.T) {
	SkipIfNoIntegration(t)
	fixtures := NewFixtures(t, LoadConfig(t))
	pres := fixtures.CreateTestPresentation("Integration Test - Sync")

	mem := storage.NewMemory()
	decks := deck.NewRepository(mem, deck.Config{})
	tokens := auth.NewTokenStore(auth.TokenStoreConfig{Store: mem})
	s := syncer.New(syncer.Config{}, decks, tokens, fixtures.Gateway())

	ctx, cancel := TestTimeout(t)
	defer cancel()
	ctx = middleware.WithUserID(ctx, "integration-user")

	expiry := fixtures.token.Expiry
	if expiry.IsZero() {
		expiry = time.Now().Add(time.Hour)
	}
	if _, err := tokens.StoreToken(ctx, "integration-user", fixtures.AccessToken(), nil, expiry.UnixMilli()); err != nil {
		t.Fatalf("Failed to store token: %v", err)
	}

	d, err := decks.CreateDeck(ctx, deck.CreateDeckInput{Name: "Local"})
	if err != nil {
		t.Fatalf("Failed to create deck: %v", err)
	}

	link, err := s.LinkPresentation(ctx, d.ID, "https://docs.google.com/presentation/d/"+pres.PresentationID+"/edit")
	if err != nil {
		t.Fatalf("Failed to link presentation: %v", err)
	}
	if link.Deck.Name != "Integration Test - Sync" {
		t.Errorf("Expected deck renamed to the presentation title, got %q", link.Deck.Name)
	}

	local, err := decks.ListSlides(ctx, d.ID)
	if err != nil {
		t.Fatalf("Failed to list slides: %v", err)
	}
	if len(local) != link.Sync.SlideCount {
		t.Errorf("Expected %d local slides, got %d", link.Sync.SlideCount, len(local))
	}
	for i, slide := range local {
		if slide.ID != link.Sync.SlideIDs[i] {
			t.Errorf("slide %d: expected id %s, got %s", i, link.Sync.SlideIDs[i], slide.ID)
		}
		if slide.ExternalID == nil || *slide.ExternalID == "" {
			t.Errorf("slide %d has no Google object id", i)
		}
	}
}
