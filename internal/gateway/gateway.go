// Package gateway issues authenticated calls to the Google Slides and Drive
// APIs on behalf of one user. Every call is a single request: no retries,
// no backoff, no pagination.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/oauth2"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/slides/v1"
	htransport "google.golang.org/api/transport/http"

	"github.com/smorand/easy-deck/internal/errs"
)

// PresentationMimeType is the Drive mime type of Google Slides files.
const PresentationMimeType = "application/vnd.google-apps.presentation"

// SlidesService abstracts the Google Slides API for testing.
type SlidesService interface {
	CreatePresentation(ctx context.Context, presentation *slides.Presentation) (*slides.Presentation, error)
	GetPresentation(ctx context.Context, presentationID string) (*slides.Presentation, error)
	// BatchUpdate sends requests exactly as given. Fields set to their zero
	// value (false, 0, "") must reach the API unchanged.
	BatchUpdate(ctx context.Context, presentationID string, requests []json.RawMessage) (*slides.BatchUpdatePresentationResponse, error)
}

// SlidesServiceFactory creates a Slides service from a token source.
type SlidesServiceFactory func(ctx context.Context, tokenSource oauth2.TokenSource) (SlidesService, error)

// DriveService abstracts the Drive API for testing.
type DriveService interface {
	ListFiles(ctx context.Context, query string, pageSize int64) ([]*drive.File, error)
}

// DriveServiceFactory creates a Drive service from a token source.
type DriveServiceFactory func(ctx context.Context, tokenSource oauth2.TokenSource) (DriveService, error)

type realSlidesService struct {
	service *slides.Service
	// batchUpdate bypasses the typed client, whose structs drop zero values.
	client   *http.Client
	basePath string
}

func (s *realSlidesService) CreatePresentation(ctx context.Context, presentation *slides.Presentation) (*slides.Presentation, error) {
	return s.service.Presentations.Create(presentation).Context(ctx).Do()
}

func (s *realSlidesService) GetPresentation(ctx context.Context, presentationID string) (*slides.Presentation, error) {
	return s.service.Presentations.Get(presentationID).Context(ctx).Do()
}

func (s *realSlidesService) BatchUpdate(ctx context.Context, presentationID string, requests []json.RawMessage) (*slides.BatchUpdatePresentationResponse, error) {
	body, err := json.Marshal(struct {
		Requests []json.RawMessage `json:"requests"`
	}{Requests: requests})
	if err != nil {
		return nil, err
	}

	endpoint := strings.TrimSuffix(s.basePath, "/") + "/v1/presentations/" + url.PathEscape(presentationID) + ":batchUpdate"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer googleapi.CloseBody(res)
	if err := googleapi.CheckResponse(res); err != nil {
		return nil, err
	}

	var out slides.BatchUpdatePresentationResponse
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode batch update response: %w", err)
	}
	return &out, nil
}

// NewRealSlidesServiceFactory returns a factory that creates real Slides
// services. Extra options are applied after the token source, which lets
// tests point the client at a local server.
func NewRealSlidesServiceFactory(opts ...option.ClientOption) SlidesServiceFactory {
	return func(ctx context.Context, tokenSource oauth2.TokenSource) (SlidesService, error) {
		all := append([]option.ClientOption{option.WithTokenSource(tokenSource)}, opts...)
		service, err := slides.NewService(ctx, all...)
		if err != nil {
			return nil, fmt.Errorf("failed to create slides service: %w", err)
		}
		client, _, err := htransport.NewClient(ctx, all...)
		if err != nil {
			return nil, fmt.Errorf("failed to create slides http client: %w", err)
		}
		return &realSlidesService{service: service, client: client, basePath: service.BasePath}, nil
	}
}

type realDriveService struct {
	service *drive.Service
}

func (s *realDriveService) ListFiles(ctx context.Context, query string, pageSize int64) ([]*drive.File, error) {
	result, err := s.service.Files.List().
		Q(query).
		PageSize(pageSize).
		OrderBy("modifiedTime desc").
		Fields("files(id,name,modifiedTime,webViewLink)").
		Context(ctx).
		Do()
	if err != nil {
		return nil, err
	}
	return result.Files, nil
}

// NewRealDriveServiceFactory returns a factory that creates real Drive services.
func NewRealDriveServiceFactory(opts ...option.ClientOption) DriveServiceFactory {
	return func(ctx context.Context, tokenSource oauth2.TokenSource) (DriveService, error) {
		all := append([]option.ClientOption{option.WithTokenSource(tokenSource)}, opts...)
		service, err := drive.NewService(ctx, all...)
		if err != nil {
			return nil, fmt.Errorf("failed to create drive service: %w", err)
		}
		return &realDriveService{service: service}, nil
	}
}

// Config holds configuration for the Gateway.
type Config struct {
	// SearchPageSize bounds SearchPresentations results.
	SearchPageSize int64
	Logger         *slog.Logger
}

// DefaultConfig returns default configuration.
func DefaultConfig() Config {
	return Config{
		SearchPageSize: 25,
		Logger:         slog.Default(),
	}
}

// Gateway translates one intent into one authenticated Google API call.
type Gateway struct {
	config        Config
	slidesFactory SlidesServiceFactory
	driveFactory  DriveServiceFactory
}

// New creates a Gateway. Nil factories default to the real Google clients.
func New(config Config, slidesFactory SlidesServiceFactory, driveFactory DriveServiceFactory) *Gateway {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.SearchPageSize <= 0 {
		config.SearchPageSize = DefaultConfig().SearchPageSize
	}
	if slidesFactory == nil {
		slidesFactory = NewRealSlidesServiceFactory()
	}
	if driveFactory == nil {
		driveFactory = NewRealDriveServiceFactory()
	}

	return &Gateway{
		config:        config,
		slidesFactory: slidesFactory,
		driveFactory:  driveFactory,
	}
}

// Presentation is the subset of a Slides presentation callers use.
type Presentation struct {
	PresentationID string         `json:"presentationId"`
	Title          string         `json:"title"`
	Slides         []*slides.Page `json:"slides,omitempty"`
}

// PresentationFile is one Drive search hit.
type PresentationFile struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	ModifiedTime string `json:"modifiedTime,omitempty"`
	WebViewLink  string `json:"webViewLink,omitempty"`
}

func (g *Gateway) slidesService(ctx context.Context, token string) (SlidesService, error) {
	svc, err := g.slidesFactory(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token}))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrExternalAPI, err)
	}
	return svc, nil
}

// CreatePresentation creates an empty presentation titled title.
func (g *Gateway) CreatePresentation(ctx context.Context, token, title string) (*Presentation, error) {
	svc, err := g.slidesService(ctx, token)
	if err != nil {
		return nil, err
	}

	p, err := svc.CreatePresentation(ctx, &slides.Presentation{Title: title})
	if err != nil {
		return nil, classify("create presentation", err)
	}

	g.config.Logger.Info("presentation created",
		slog.String("presentation_id", p.PresentationId),
		slog.String("title", p.Title),
	)
	return toPresentation(p), nil
}

// GetPresentation fetches a presentation with its slides.
func (g *Gateway) GetPresentation(ctx context.Context, token, presentationID string) (*Presentation, error) {
	svc, err := g.slidesService(ctx, token)
	if err != nil {
		return nil, err
	}

	p, err := svc.GetPresentation(ctx, presentationID)
	if err != nil {
		return nil, classify("get presentation", err)
	}
	return toPresentation(p), nil
}

// LinkExisting checks that the user can open the presentation. A 403 is
// reported as errs.ErrAccessDenied and a 404 as errs.ErrPresentationNotFound.
func (g *Gateway) LinkExisting(ctx context.Context, token, presentationID string) (*Presentation, error) {
	svc, err := g.slidesService(ctx, token)
	if err != nil {
		return nil, err
	}

	p, err := svc.GetPresentation(ctx, presentationID)
	if err != nil {
		err = classify("access presentation", err)
		var apiErr *errs.ExternalAPIError
		if errors.As(err, &apiErr) {
			switch apiErr.StatusCode {
			case 403:
				return nil, fmt.Errorf("%w: %w", errs.ErrAccessDenied, apiErr)
			case 404:
				return nil, fmt.Errorf("%w: %w", errs.ErrPresentationNotFound, apiErr)
			}
		}
		return nil, err
	}
	return toPresentation(p), nil
}

// BatchUpdate forwards requests to presentations.batchUpdate byte for byte.
// Each element must be a JSON object; nothing else about the requests is
// checked, so validation of kinds and fields is left to the Slides API.
func (g *Gateway) BatchUpdate(ctx context.Context, token, presentationID string, requests []json.RawMessage) (*slides.BatchUpdatePresentationResponse, error) {
	if err := CheckRequests(requests); err != nil {
		return nil, err
	}

	svc, err := g.slidesService(ctx, token)
	if err != nil {
		return nil, err
	}

	resp, err := svc.BatchUpdate(ctx, presentationID, requests)
	if err != nil {
		return nil, classify("update slide", err)
	}

	g.config.Logger.Info("batch update applied",
		slog.String("presentation_id", presentationID),
		slog.Int("requests", len(requests)),
	)
	return resp, nil
}

// AddSlide inserts one blank slide, at insertionIndex when given or at the
// end otherwise, and returns the new slide's object ID.
func (g *Gateway) AddSlide(ctx context.Context, token, presentationID string, insertionIndex *int64) (string, error) {
	create := &slides.CreateSlideRequest{
		SlideLayoutReference: &slides.LayoutReference{PredefinedLayout: "BLANK"},
	}
	if insertionIndex != nil {
		create.InsertionIndex = *insertionIndex
		// Index 0 is a zero value and would otherwise be dropped.
		create.ForceSendFields = []string{"InsertionIndex"}
	}
	raw, err := json.Marshal(&slides.Request{CreateSlide: create})
	if err != nil {
		return "", fmt.Errorf("failed to encode create slide request: %w", err)
	}

	svc, err := g.slidesService(ctx, token)
	if err != nil {
		return "", err
	}

	resp, err := svc.BatchUpdate(ctx, presentationID, []json.RawMessage{raw})
	if err != nil {
		return "", classify("add slide", err)
	}

	var objectID string
	if len(resp.Replies) > 0 && resp.Replies[0].CreateSlide != nil {
		objectID = resp.Replies[0].CreateSlide.ObjectId
	}
	return objectID, nil
}

// SearchPresentations lists the user's Slides files whose name contains
// query, most recently modified first.
func (g *Gateway) SearchPresentations(ctx context.Context, token, query string) ([]PresentationFile, error) {
	svc, err := g.driveFactory(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token}))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrExternalAPI, err)
	}

	files, err := svc.ListFiles(ctx, driveQuery(query), g.config.SearchPageSize)
	if err != nil {
		return nil, classify("search presentations", err)
	}

	out := make([]PresentationFile, 0, len(files))
	for _, f := range files {
		out = append(out, PresentationFile{
			ID:           f.Id,
			Name:         f.Name,
			ModifiedTime: f.ModifiedTime,
			WebViewLink:  f.WebViewLink,
		})
	}
	return out, nil
}

func driveQuery(name string) string {
	q := fmt.Sprintf("mimeType='%s' and trashed=false", PresentationMimeType)
	name = strings.TrimSpace(name)
	if name == "" {
		return q
	}
	escaped := strings.NewReplacer(`\`, `\\`, `'`, `\'`).Replace(name)
	return q + fmt.Sprintf(" and name contains '%s'", escaped)
}

// CheckRequests verifies that raw is a non-empty list of well-formed JSON
// objects. Request kinds and their fields are not inspected.
func CheckRequests(raw []json.RawMessage) error {
	if len(raw) == 0 {
		return fmt.Errorf("%w: requests must not be empty", errs.ErrInvalidArgument)
	}

	for i, r := range raw {
		trimmed := bytes.TrimSpace(r)
		if len(trimmed) == 0 || trimmed[0] != '{' {
			return fmt.Errorf("%w: request %d is not an object", errs.ErrInvalidArgument, i)
		}
		if !json.Valid(trimmed) {
			return fmt.Errorf("%w: request %d is not valid JSON", errs.ErrInvalidArgument, i)
		}
	}
	return nil
}

// classify converts a client error into an *errs.ExternalAPIError carrying
// the HTTP status and the response body.
func classify(op string, err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		body := gerr.Body
		if body == "" {
			body = gerr.Message
		}
		return &errs.ExternalAPIError{Op: op, StatusCode: gerr.Code, Body: body}
	}
	return &errs.ExternalAPIError{Op: op, Body: err.Error()}
}

func toPresentation(p *slides.Presentation) *Presentation {
	return &Presentation{
		PresentationID: p.PresentationId,
		Title:          p.Title,
		Slides:         p.Slides,
	}
}
