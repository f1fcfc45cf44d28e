package integration

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"

	"github.com/smorand/easy-deck/internal/auth"
	"github.com/smorand/easy-deck/internal/gateway"
)

// Environment variable names for integration tests.
const (
	EnvIntegrationTest    = "INTEGRATION_TEST"
	EnvGoogleClientID     = "GOOGLE_CLIENT_ID"
	EnvGoogleClientSecret = "GOOGLE_CLIENT_SECRET"
	EnvGoogleRefreshToken = "GOOGLE_REFRESH_TOKEN"
)

// TestConfig holds configuration for integration tests.
type TestConfig struct {
	ClientID     string
	ClientSecret string
	RefreshToken string
}

// SkipIfNoIntegration skips the test if integration tests are not enabled.
func SkipIfNoIntegration(t *testing.T) {
	t.Helper()
	if os.Getenv(EnvIntegrationTest) != "1" {
		t.Skip("Integration tests are disabled. Set INTEGRATION_TEST=1 to enable.")
	}
}

// LoadConfig loads test configuration from environment variables.
func LoadConfig(t *testing.T) *TestConfig {
	t.Helper()

	config := &TestConfig{
		ClientID:     os.Getenv(EnvGoogleClientID),
		ClientSecret: os.Getenv(EnvGoogleClientSecret),
		RefreshToken: os.Getenv(EnvGoogleRefreshToken),
	}
	if config.ClientID == "" || config.ClientSecret == "" || config.RefreshToken == "" {
		t.Skipf("Missing required environment variables (%s, %s, %s)",
			EnvGoogleClientID, EnvGoogleClientSecret, EnvGoogleRefreshToken)
	}
	return config
}

// Fixtures holds a live access token and trashes created presentations on
// cleanup.
type Fixtures struct {
	t           *testing.T
	token       *oauth2.Token
	driveClient *drive.Service
	gateway     *gateway.Gateway

	mu            sync.Mutex
	presentations []string
}

// NewFixtures exchanges the refresh token for an access token.
func NewFixtures(t *testing.T, config *TestConfig) *Fixtures {
	t.Helper()

	oauthConfig := &oauth2.Config{
		ClientID:     config.ClientID,
		ClientSecret: config.ClientSecret,
		Endpoint:     google.Endpoint,
		Scopes:       append([]string{"https://www.googleapis.com/auth/drive"}, auth.DefaultScopes...),
	}

	ctx, cancel := TestTimeout(t)
	defer cancel()

	source := oauthConfig.TokenSource(ctx, &oauth2.Token{RefreshToken: config.RefreshToken})
	token, err := source.Token()
	if err != nil {
		t.Fatalf("Failed to obtain access token: %v", err)
	}

	driveClient, err := drive.NewService(context.Background(), option.WithTokenSource(oauth2.StaticTokenSource(token)))
	if err != nil {
		t.Fatalf("Failed to create Drive service: %v", err)
	}

	f := &Fixtures{
		t:           t,
		token:       token,
		driveClient: driveClient,
		gateway:     gateway.New(gateway.DefaultConfig(), nil, nil),
	}
	t.Cleanup(f.Cleanup)
	return f
}

// AccessToken returns the live bearer token.
func (f *Fixtures) AccessToken() string {
	return f.token.AccessToken
}

// Gateway returns a gateway backed by the real Google clients.
func (f *Fixtures) Gateway() *gateway.Gateway {
	return f.gateway
}

// CreateTestPresentation creates a presentation trashed after the test.
func (f *Fixtures) CreateTestPresentation(title string) *gateway.Presentation {
	f.t.Helper()

	ctx, cancel := TestTimeout(f.t)
	defer cancel()

	p, err := f.gateway.CreatePresentation(ctx, f.AccessToken(), title)
	if err != nil {
		f.t.Fatalf("Failed to create test presentation: %v", err)
	}
	f.TrackPresentation(p.PresentationID)

	f.t.Logf("Created test presentation: %s (ID: %s)", title, p.PresentationID)
	return p
}

// TrackPresentation adds a presentation ID to the cleanup list.
func (f *Fixtures) TrackPresentation(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.presentations = append(f.presentations, id)
}

// Cleanup trashes every tracked presentation.
func (f *Fixtures) Cleanup() {
	f.mu.Lock()
	defer f.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for _, id := range f.presentations {
		_, err := f.driveClient.Files.Update(id, &drive.File{Trashed: true}).Context(ctx).Do()
		if err != nil {
			f.t.Logf("Warning: failed to trash test presentation %s: %v", id, err)
			continue
		}
		f.t.Logf("Trashed test presentation: %s", id)
	}
	f.presentations = nil
}

// TestTimeout returns a context with a standard timeout for integration tests.
func TestTimeout(t *testing.T) (context.Context, context.CancelFunc) {
	t.Helper()
	return context.WithTimeout(context.Background(), 60*time.Second)
}
