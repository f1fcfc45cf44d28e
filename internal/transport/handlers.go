package transport

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/smorand/easy-deck/internal/auth"
	"github.com/smorand/easy-deck/internal/chat"
	"github.com/smorand/easy-deck/internal/deck"
	"github.com/smorand/easy-deck/internal/errs"
	"github.com/smorand/easy-deck/internal/middleware"
	"github.com/smorand/easy-deck/internal/model"
	"github.com/smorand/easy-deck/internal/syncer"
)

const maxBodyBytes = 1 << 20

// API holds the JSON handlers.
type API struct {
	decks    *deck.Repository
	syncer   *syncer.Syncer
	chat     *chat.Orchestrator
	tokens   *auth.TokenStore
	validate *validator.Validate
	logger   *slog.Logger
}

// NewAPI creates the handlers over the application services.
func NewAPI(decks *deck.Repository, sync *syncer.Syncer, orchestrator *chat.Orchestrator, tokens *auth.TokenStore, logger *slog.Logger) *API {
	if logger == nil {
		logger = slog.Default()
	}
	return &API{
		decks:    decks,
		syncer:   sync,
		chat:     orchestrator,
		tokens:   tokens,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logger,
	}
}

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// writeError maps err to its status and machine-readable code. Internal
// errors are logged and hidden from the caller.
func (a *API) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := errs.Status(err)
	code := errs.Code(err)
	message := err.Error()

	if status >= http.StatusInternalServerError && code != "EXTERNAL_API_ERROR" {
		a.logger.Error("request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Any("error", err),
		)
		message = "internal error"
	}
	writeJSON(w, status, errorBody{Error: message, Code: code})
}

// decode reads a JSON body into v and validates it. An empty body is
// accepted when optional is true.
func (a *API) decode(r *http.Request, v any, optional bool) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) && optional {
			return nil
		}
		return fmt.Errorf("%w: malformed request body: %v", errs.ErrInvalidArgument, err)
	}
	if err := a.validate.Struct(v); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
			}
			return fmt.Errorf("%w: %s", errs.ErrInvalidArgument, strings.Join(fields, ", "))
		}
		return fmt.Errorf("%w: %v", errs.ErrInvalidArgument, err)
	}
	return nil
}

func (a *API) listDecks(w http.ResponseWriter, r *http.Request) {
	decks, err := a.decks.ListDecks(r.Context())
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"decks": decks})
}

func (a *API) createDeck(w http.ResponseWriter, r *http.Request) {
	var input deck.CreateDeckInput
	if err := a.decode(r, &input, false); err != nil {
		a.writeError(w, r, err)
		return
	}
	d, err := a.decks.CreateDeck(r.Context(), input)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, d)
}

func (a *API) getDeck(w http.ResponseWriter, r *http.Request) {
	d, err := a.decks.GetDeck(r.Context(), r.PathValue("id"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (a *API) updateDeck(w http.ResponseWriter, r *http.Request) {
	var patch model.DeckPatch
	if err := a.decode(r, &patch, true); err != nil {
		a.writeError(w, r, err)
		return
	}
	d, err := a.decks.UpdateDeck(r.Context(), r.PathValue("id"), patch)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (a *API) deleteDeck(w http.ResponseWriter, r *http.Request) {
	if err := a.decks.DeleteDeck(r.Context(), r.PathValue("id")); err != nil {
		a.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) listSlides(w http.ResponseWriter, r *http.Request) {
	slides, err := a.decks.ListSlides(r.Context(), r.PathValue("id"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"slides": slides})
}

func (a *API) createSlide(w http.ResponseWriter, r *http.Request) {
	var input deck.CreateSlideInput
	if err := a.decode(r, &input, false); err != nil {
		a.writeError(w, r, err)
		return
	}
	s, err := a.decks.CreateSlide(r.Context(), r.PathValue("id"), input)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, s)
}

func (a *API) getSlide(w http.ResponseWriter, r *http.Request) {
	s, err := a.decks.GetSlide(r.Context(), r.PathValue("id"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (a *API) updateSlide(w http.ResponseWriter, r *http.Request) {
	var patch model.SlidePatch
	if err := a.decode(r, &patch, true); err != nil {
		a.writeError(w, r, err)
		return
	}
	s, err := a.decks.UpdateSlide(r.Context(), r.PathValue("id"), patch)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (a *API) deleteSlide(w http.ResponseWriter, r *http.Request) {
	if err := a.decks.DeleteSlide(r.Context(), r.PathValue("id")); err != nil {
		a.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type syncRequest struct {
	PresentationID string `json:"presentationId"`
}

func (a *API) syncDeck(w http.ResponseWriter, r *http.Request) {
	var req syncRequest
	if err := a.decode(r, &req, true); err != nil {
		a.writeError(w, r, err)
		return
	}
	result, err := a.syncer.SyncSlides(r.Context(), r.PathValue("id"), req.PresentationID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// presentationRequest names a presentation by URL or bare ID.
type presentationRequest struct {
	Presentation string `json:"presentation" validate:"required"`
}

func (a *API) linkDeck(w http.ResponseWriter, r *http.Request) {
	var req presentationRequest
	if err := a.decode(r, &req, false); err != nil {
		a.writeError(w, r, err)
		return
	}
	result, err := a.syncer.LinkPresentation(r.Context(), r.PathValue("id"), req.Presentation)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (a *API) importPresentation(w http.ResponseWriter, r *http.Request) {
	var req presentationRequest
	if err := a.decode(r, &req, false); err != nil {
		a.writeError(w, r, err)
		return
	}
	result, err := a.syncer.ImportPresentation(r.Context(), req.Presentation)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (a *API) connectDeck(w http.ResponseWriter, r *http.Request) {
	d, err := a.syncer.ConnectDeck(r.Context(), r.PathValue("id"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

type chatRequest struct {
	Message string  `json:"message" validate:"required"`
	SlideID *string `json:"slideId,omitempty"`
}

func (a *API) deckChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := a.decode(r, &req, false); err != nil {
		a.writeError(w, r, err)
		return
	}
	out, err := a.chat.Chat(r.Context(), chat.ChatInput{
		Message: req.Message,
		DeckID:  r.PathValue("id"),
		SlideID: req.SlideID,
	})
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

type updateRequest struct {
	SlideID  string            `json:"slideId,omitempty"`
	Requests []json.RawMessage `json:"requests" validate:"required,min=1"`
}

func (a *API) executeSlidesUpdate(w http.ResponseWriter, r *http.Request) {
	var req updateRequest
	if err := a.decode(r, &req, false); err != nil {
		a.writeError(w, r, err)
		return
	}
	resp, err := a.chat.ExecuteSlidesUpdate(r.Context(), r.PathValue("id"), req.Requests)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) searchPresentations(w http.ResponseWriter, r *http.Request) {
	files, err := a.syncer.Search(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"files": files})
}

type createPresentationRequest struct {
	Title string `json:"title" validate:"required"`
}

func (a *API) createPresentation(w http.ResponseWriter, r *http.Request) {
	var req createPresentationRequest
	if err := a.decode(r, &req, false); err != nil {
		a.writeError(w, r, err)
		return
	}
	p, err := a.syncer.CreatePresentation(r.Context(), req.Title)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (a *API) getPresentation(w http.ResponseWriter, r *http.Request) {
	p, err := a.syncer.GetPresentation(r.Context(), r.PathValue("pid"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

type addSlideRequest struct {
	InsertionIndex *int64 `json:"insertionIndex,omitempty"`
}

func (a *API) addSlide(w http.ResponseWriter, r *http.Request) {
	var req addSlideRequest
	if err := a.decode(r, &req, true); err != nil {
		a.writeError(w, r, err)
		return
	}
	objectID, err := a.syncer.AddSlide(r.Context(), r.PathValue("pid"), req.InsertionIndex)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"objectId": objectID})
}

func (a *API) batchUpdate(w http.ResponseWriter, r *http.Request) {
	var req updateRequest
	if err := a.decode(r, &req, false); err != nil {
		a.writeError(w, r, err)
		return
	}
	resp, err := a.syncer.UpdateSlide(r.Context(), r.PathValue("pid"), req.SlideID, req.Requests)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) linkExisting(w http.ResponseWriter, r *http.Request) {
	p, err := a.syncer.LinkExisting(r.Context(), r.PathValue("pid"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":        true,
		"presentationId": p.PresentationID,
		"title":          p.Title,
	})
}

func (a *API) listMessages(w http.ResponseWriter, r *http.Request) {
	msgs, err := a.chat.Messages(r.Context())
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": msgs})
}

type converseRequest struct {
	Message string `json:"message" validate:"required"`
}

func (a *API) converse(w http.ResponseWriter, r *http.Request) {
	var req converseRequest
	if err := a.decode(r, &req, false); err != nil {
		a.writeError(w, r, err)
		return
	}
	out, err := a.chat.Converse(r.Context(), req.Message)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) clearMessages(w http.ResponseWriter, r *http.Request) {
	n, err := a.chat.ClearMessages(r.Context())
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"deleted": n})
}

type storeTokenRequest struct {
	AccessToken  string  `json:"accessToken" validate:"required"`
	RefreshToken *string `json:"refreshToken,omitempty"`
	ExpiresAt    int64   `json:"expiresAt" validate:"required,gt=0"`
}

func (a *API) storeToken(w http.ResponseWriter, r *http.Request) {
	var req storeTokenRequest
	if err := a.decode(r, &req, false); err != nil {
		a.writeError(w, r, err)
		return
	}
	id, err := a.tokens.StoreToken(r.Context(), middleware.UserID(r.Context()), req.AccessToken, req.RefreshToken, req.ExpiresAt)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id})
}

func (a *API) tokenStatus(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserID(r.Context())
	if userID == "" {
		a.writeError(w, r, errs.ErrUnauthenticated)
		return
	}
	st, err := a.tokens.Status(r.Context(), userID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}
