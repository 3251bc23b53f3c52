package http

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/example/resource-reservations/internal/application"
	"github.com/example/resource-reservations/internal/persistence"
)

type waitlistService interface {
	Join(ctx context.Context, params application.JoinWaitlistParams) (persistence.WaitlistEntry, error)
	Leave(ctx context.Context, principal application.Principal, entryID string) error
	MyPositions(ctx context.Context, principal application.Principal) ([]persistence.WaitlistEntry, error)
}

type WaitlistHandler struct {
	service   waitlistService
	responder responder
	logger    *slog.Logger
}

func NewWaitlistHandler(service waitlistService, logger *slog.Logger) *WaitlistHandler {
	base := defaultLogger(logger)
	return &WaitlistHandler{service: service, responder: newResponder(base), logger: base}
}

func (h *WaitlistHandler) log(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return handlerLogger(ctx, h.logger, "WaitlistHandler", operation, attrs...)
}

type joinWaitlistRequest struct {
	ResourceID string `json:"resource_id"`
	Start      string `json:"start"`
	End        string `json:"end"`
	Zone       string `json:"zone"`
}

type waitlistEntryResponse struct {
	Entry waitlistEntryDTO `json:"entry"`
}

type waitlistListResponse struct {
	Entries []waitlistEntryDTO `json:"entries"`
}

func (h *WaitlistHandler) Join(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFromContext(r.Context())

	var req joinWaitlistRequest
	if err := decodeJSON(r, &req); err != nil {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errBadRequestBody)
		return
	}

	logger := h.log(r.Context(), "Join", "resource_id", req.ResourceID)
	entry, err := h.service.Join(r.Context(), application.JoinWaitlistParams{
		Principal:  principal,
		ResourceID: req.ResourceID,
		Start:      parseTimeInput(req.Start, req.Zone),
		End:        parseTimeInput(req.End, req.Zone),
	})
	if err != nil {
		logger.InfoContext(r.Context(), "waitlist join failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	logger.InfoContext(r.Context(), "waitlist joined", "entry_id", entry.ID, "position", entry.Position)
	h.responder.writeJSON(r.Context(), w, http.StatusCreated, waitlistEntryResponse{Entry: toWaitlistEntryDTO(entry)})
}

func (h *WaitlistHandler) Leave(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFromContext(r.Context())
	id := chi.URLParam(r, "id")
	logger := h.log(r.Context(), "Leave", "entry_id", id)

	if err := h.service.Leave(r.Context(), principal, id); err != nil {
		logger.InfoContext(r.Context(), "waitlist leave failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	logger.InfoContext(r.Context(), "waitlist left")
	h.responder.writeJSON(r.Context(), w, http.StatusNoContent, nil)
}

func (h *WaitlistHandler) Mine(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFromContext(r.Context())

	entries, err := h.service.MyPositions(r.Context(), principal)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	out := make([]waitlistEntryDTO, 0, len(entries))
	for _, entry := range entries {
		out = append(out, toWaitlistEntryDTO(entry))
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, waitlistListResponse{Entries: out})
}
