package gateway

import (
	"context"
	"encoding/json"
	"sync"

	"golang.org/x/oauth2"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/slides/v1"
)

// MockSlidesService is a SlidesService for tests. Unset funcs return empty
// results. Every call records the bearer token it was created with.
type MockSlidesService struct {
	CreatePresentationFunc func(ctx context.Context, presentation *slides.Presentation) (*slides.Presentation, error)
	GetPresentationFunc    func(ctx context.Context, presentationID string) (*slides.Presentation, error)
	BatchUpdateFunc        func(ctx context.Context, presentationID string, requests []json.RawMessage) (*slides.BatchUpdatePresentationResponse, error)

	mu     sync.Mutex
	Tokens []string
	Calls  map[string]int
}

func (m *MockSlidesService) record(op string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Calls == nil {
		m.Calls = make(map[string]int)
	}
	m.Calls[op]++
}

// CallCount returns how many times op was invoked.
func (m *MockSlidesService) CallCount(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Calls[op]
}

func (m *MockSlidesService) CreatePresentation(ctx context.Context, presentation *slides.Presentation) (*slides.Presentation, error) {
	m.record("CreatePresentation")
	if m.CreatePresentationFunc != nil {
		return m.CreatePresentationFunc(ctx, presentation)
	}
	return &slides.Presentation{PresentationId: "mock-presentation", Title: presentation.Title}, nil
}

func (m *MockSlidesService) GetPresentation(ctx context.Context, presentationID string) (*slides.Presentation, error) {
	m.record("GetPresentation")
	if m.GetPresentationFunc != nil {
		return m.GetPresentationFunc(ctx, presentationID)
	}
	return &slides.Presentation{PresentationId: presentationID}, nil
}

func (m *MockSlidesService) BatchUpdate(ctx context.Context, presentationID string, requests []json.RawMessage) (*slides.BatchUpdatePresentationResponse, error) {
	m.record("BatchUpdate")
	if m.BatchUpdateFunc != nil {
		return m.BatchUpdateFunc(ctx, presentationID, requests)
	}
	return &slides.BatchUpdatePresentationResponse{PresentationId: presentationID}, nil
}

// Factory returns a SlidesServiceFactory that always yields m.
func (m *MockSlidesService) Factory() SlidesServiceFactory {
	return func(_ context.Context, ts oauth2.TokenSource) (SlidesService, error) {
		if tok, err := ts.Token(); err == nil {
			m.mu.Lock()
			m.Tokens = append(m.Tokens, tok.AccessToken)
			m.mu.Unlock()
		}
		return m, nil
	}
}

// MockDriveService is a DriveService for tests.
type MockDriveService struct {
	ListFilesFunc func(ctx context.Context, query string, pageSize int64) ([]*drive.File, error)
}

func (m *MockDriveService) ListFiles(ctx context.Context, query string, pageSize int64) ([]*drive.File, error) {
	if m.ListFilesFunc != nil {
		return m.ListFilesFunc(ctx, query, pageSize)
	}
	return nil, nil
}

// Factory returns a DriveServiceFactory that always yields m.
func (m *MockDriveService) Factory() DriveServiceFactory {
	return func(context.Context, oauth2.TokenSource) (DriveService, error) {
		return m, nil
	}
}

var (
	_ SlidesService = (*MockSlidesService)(nil)
	_ DriveService  = (*MockDriveService)(nil)
	_ SlidesService = (*realSlidesService)(nil)
	_ DriveService  = (*realDriveService)(nil)
)
