package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/slides/v1"

	"github.com/smorand/easy-deck/internal/errs"
)

func newMockGateway(s *MockSlidesService, d *MockDriveService) *Gateway {
	if d == nil {
		d = &MockDriveService{}
	}
	return New(DefaultConfig(), s.Factory(), d.Factory())
}

func TestCreatePresentation(t *testing.T) {
	mock := &MockSlidesService{
		CreatePresentationFunc: func(ctx context.Context, p *slides.Presentation) (*slides.Presentation, error) {
			return &slides.Presentation{PresentationId: "pres-1", Title: p.Title}, nil
		},
	}
	gw := newMockGateway(mock, nil)

	p, err := gw.CreatePresentation(context.Background(), "tok", "Quarterly Review")
	require.NoError(t, err)
	assert.Equal(t, "pres-1", p.PresentationID)
	assert.Equal(t, "Quarterly Review", p.Title)
	assert.Equal(t, []string{"tok"}, mock.Tokens)
}

func TestGetPresentation_ExternalError(t *testing.T) {
	mock := &MockSlidesService{
		GetPresentationFunc: func(ctx context.Context, id string) (*slides.Presentation, error) {
			return nil, &googleapi.Error{Code: 500, Body: `{"error":"backend"}`}
		},
	}
	gw := newMockGateway(mock, nil)

	_, err := gw.GetPresentation(context.Background(), "tok", "pres-1")
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrExternalAPI)

	var apiErr *errs.ExternalAPIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, 500, apiErr.StatusCode)
	assert.Contains(t, err.Error(), "backend")
}

func TestLinkExisting_StatusMapping(t *testing.T) {
	tests := []struct {
		name    string
		code    int
		wantErr error
		notErr  error
	}{
		{"forbidden", 403, errs.ErrAccessDenied, errs.ErrPresentationNotFound},
		{"not found", 404, errs.ErrPresentationNotFound, errs.ErrAccessDenied},
		{"server error", 503, errs.ErrExternalAPI, errs.ErrAccessDenied},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := &MockSlidesService{
				GetPresentationFunc: func(ctx context.Context, id string) (*slides.Presentation, error) {
					return nil, &googleapi.Error{Code: tt.code, Message: "nope"}
				},
			}
			gw := newMockGateway(mock, nil)

			_, err := gw.LinkExisting(context.Background(), "tok", "pres-1")
			assert.ErrorIs(t, err, tt.wantErr)
			assert.ErrorIs(t, err, errs.ErrExternalAPI)
			assert.NotErrorIs(t, err, tt.notErr)
		})
	}
}

func TestLinkExisting_Success(t *testing.T) {
	mock := &MockSlidesService{
		GetPresentationFunc: func(ctx context.Context, id string) (*slides.Presentation, error) {
			return &slides.Presentation{PresentationId: id, Title: "Roadmap"}, nil
		},
	}
	gw := newMockGateway(mock, nil)

	p, err := gw.LinkExisting(context.Background(), "tok", "pres-9")
	require.NoError(t, err)
	assert.Equal(t, "Roadmap", p.Title)
}

func TestBatchUpdate_ForwardsRawRequests(t *testing.T) {
	var got []json.RawMessage
	mock := &MockSlidesService{
		BatchUpdateFunc: func(ctx context.Context, id string, requests []json.RawMessage) (*slides.BatchUpdatePresentationResponse, error) {
			got = requests
			return &slides.BatchUpdatePresentationResponse{PresentationId: id}, nil
		},
	}
	gw := newMockGateway(mock, nil)

	requests := []json.RawMessage{
		json.RawMessage(`{"insertText":{"objectId":"box","text":"Hello"}}`),
		json.RawMessage(`{"updateTextStyle":{"objectId":"box","style":{"bold":false},"fields":"bold"}}`),
		json.RawMessage(`{"someFutureRequest":{}}`),
	}
	resp, err := gw.BatchUpdate(context.Background(), "tok", "pres-1", requests)
	require.NoError(t, err)
	assert.Equal(t, "pres-1", resp.PresentationId)

	require.Len(t, got, 3)
	for i := range requests {
		assert.JSONEq(t, string(requests[i]), string(got[i]))
	}
}

func TestCheckRequests_Rejects(t *testing.T) {
	tests := []struct {
		name string
		raw  []json.RawMessage
	}{
		{"empty", nil},
		{"array element", []json.RawMessage{json.RawMessage(`[1,2]`)}},
		{"string element", []json.RawMessage{json.RawMessage(`"createSlide"`)}},
		{"malformed", []json.RawMessage{json.RawMessage(`{"createSlide":`)}},
		{"blank element", []json.RawMessage{json.RawMessage(`  `)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, CheckRequests(tt.raw), errs.ErrInvalidArgument)
		})
	}
}

func TestAddSlide(t *testing.T) {
	var captured json.RawMessage
	mock := &MockSlidesService{
		BatchUpdateFunc: func(ctx context.Context, id string, requests []json.RawMessage) (*slides.BatchUpdatePresentationResponse, error) {
			require.Len(t, requests, 1)
			captured = requests[0]
			return &slides.BatchUpdatePresentationResponse{
				Replies: []*slides.Response{{CreateSlide: &slides.CreateSlideResponse{ObjectId: "new-slide"}}},
			}, nil
		},
	}
	gw := newMockGateway(mock, nil)

	t.Run("appends without index", func(t *testing.T) {
		id, err := gw.AddSlide(context.Background(), "tok", "pres-1", nil)
		require.NoError(t, err)
		assert.Equal(t, "new-slide", id)
		assert.JSONEq(t, `{"createSlide":{"slideLayoutReference":{"predefinedLayout":"BLANK"}}}`, string(captured))
	})

	t.Run("index zero is sent", func(t *testing.T) {
		zero := int64(0)
		_, err := gw.AddSlide(context.Background(), "tok", "pres-1", &zero)
		require.NoError(t, err)
		assert.Contains(t, string(captured), `"insertionIndex":0`)
	})
}

func TestSearchPresentations(t *testing.T) {
	var gotQuery string
	var gotSize int64
	drv := &MockDriveService{
		ListFilesFunc: func(ctx context.Context, query string, pageSize int64) ([]*drive.File, error) {
			gotQuery = query
			gotSize = pageSize
			return []*drive.File{{Id: "f1", Name: "Bob's deck", WebViewLink: "https://docs.google.com/presentation/d/f1"}}, nil
		},
	}
	gw := newMockGateway(&MockSlidesService{}, drv)

	files, err := gw.SearchPresentations(context.Background(), "tok", "Bob's")
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "f1", files[0].ID)
	assert.Equal(t, int64(25), gotSize)
	assert.Contains(t, gotQuery, "mimeType='application/vnd.google-apps.presentation'")
	assert.Contains(t, gotQuery, `name contains 'Bob\'s'`)
}

func TestDriveQuery_NoName(t *testing.T) {
	assert.Equal(t, "mimeType='application/vnd.google-apps.presentation' and trashed=false", driveQuery("  "))
}

// The wire tests run the real client against a local server.
func TestRealSlidesService_Wire(t *testing.T) {
	var gotAuth, gotTitle string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")

		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/v1/presentations":
			body, _ := io.ReadAll(r.Body)
			var p slides.Presentation
			_ = json.Unmarshal(body, &p)
			gotTitle = p.Title
			_, _ = io.WriteString(w, `{"presentationId":"created-1","title":"`+p.Title+`"}`)
		case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/v1/presentations/locked"):
			w.WriteHeader(http.StatusForbidden)
			_, _ = io.WriteString(w, `{"error":{"code":403,"message":"The caller does not have permission","status":"PERMISSION_DENIED"}}`)
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `{"error":{"code":404,"message":"Requested entity was not found.","status":"NOT_FOUND"}}`)
		}
	}))
	defer srv.Close()

	factory := NewRealSlidesServiceFactory(option.WithEndpoint(srv.URL + "/"))
	gw := New(DefaultConfig(), factory, (&MockDriveService{}).Factory())
	ctx := context.Background()

	p, err := gw.CreatePresentation(ctx, "user-token", "Wire Test")
	require.NoError(t, err)
	assert.Equal(t, "created-1", p.PresentationID)
	assert.Equal(t, "Wire Test", gotTitle)
	assert.Equal(t, "Bearer user-token", gotAuth)

	_, err = gw.LinkExisting(ctx, "user-token", "locked")
	assert.ErrorIs(t, err, errs.ErrAccessDenied)
	assert.Contains(t, err.Error(), "PERMISSION_DENIED")

	_, err = gw.LinkExisting(ctx, "user-token", "missing")
	assert.ErrorIs(t, err, errs.ErrPresentationNotFound)
}

func TestRealSlidesService_BatchUpdateKeepsZeroValues(t *testing.T) {
	var gotPath, gotAuth, gotType string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.Method != http.MethodPost || !strings.HasSuffix(r.URL.Path, ":batchUpdate") {
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `{"error":{"code":404,"message":"not found","status":"NOT_FOUND"}}`)
			return
		}
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		gotType = r.Header.Get("Content-Type")
		gotBody, _ = io.ReadAll(r.Body)
		if strings.Contains(string(gotBody), "badRequest") {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = io.WriteString(w, `{"error":{"code":400,"message":"Invalid requests[0]","status":"INVALID_ARGUMENT"}}`)
			return
		}
		_, _ = io.WriteString(w, `{"presentationId":"pres-1","replies":[{"createSlide":{"objectId":"slide-new"}},{}]}`)
	}))
	defer srv.Close()

	factory := NewRealSlidesServiceFactory(option.WithEndpoint(srv.URL + "/"))
	gw := New(DefaultConfig(), factory, (&MockDriveService{}).Factory())
	ctx := context.Background()

	resp, err := gw.BatchUpdate(ctx, "user-token", "pres-1", []json.RawMessage{
		json.RawMessage(`{"createSlide":{"insertionIndex":0}}`),
		json.RawMessage(`{"updateTextStyle":{"objectId":"box","style":{"bold":false},"fields":"bold"}}`),
	})
	require.NoError(t, err)
	assert.Equal(t, "pres-1", resp.PresentationId)
	require.Len(t, resp.Replies, 2)
	assert.Equal(t, "slide-new", resp.Replies[0].CreateSlide.ObjectId)

	assert.Equal(t, "/v1/presentations/pres-1:batchUpdate", gotPath)
	assert.Equal(t, "Bearer user-token", gotAuth)
	assert.Equal(t, "application/json", gotType)
	assert.Contains(t, string(gotBody), `"insertionIndex":0`)
	assert.Contains(t, string(gotBody), `"bold":false`)
	assert.JSONEq(t, `{"requests":[
		{"createSlide":{"insertionIndex":0}},
		{"updateTextStyle":{"objectId":"box","style":{"bold":false},"fields":"bold"}}
	]}`, string(gotBody))

	zero := int64(0)
	id, err := gw.AddSlide(ctx, "user-token", "pres-1", &zero)
	require.NoError(t, err)
	assert.Equal(t, "slide-new", id)
	assert.Contains(t, string(gotBody), `"insertionIndex":0`)

	_, err = gw.BatchUpdate(ctx, "user-token", "pres-1", []json.RawMessage{json.RawMessage(`{"badRequest":{}}`)})
	require.Error(t, err)
	var apiErr *errs.ExternalAPIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Contains(t, err.Error(), "INVALID_ARGUMENT")
}
