package http

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/example/resource-reservations/internal/application"
)

type priorityBooker interface {
	PriorityBook(ctx context.Context, params application.PriorityBookParams) (application.PriorityBookResult, error)
}

// AdminHandler serves administrator overrides.
type AdminHandler struct {
	service   priorityBooker
	responder responder
	logger    *slog.Logger
}

func NewAdminHandler(service priorityBooker, logger *slog.Logger) *AdminHandler {
	base := defaultLogger(logger)
	return &AdminHandler{service: service, responder: newResponder(base), logger: base}
}

type priorityReservationResponse struct {
	Reservation reservationDTO   `json:"reservation"`
	Displaced   []reservationDTO `json:"displaced"`
}

func (h *AdminHandler) PriorityBook(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFromContext(r.Context())

	var req createReservationRequest
	if err := decodeJSON(r, &req); err != nil {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errBadRequestBody)
		return
	}

	logger := handlerLogger(r.Context(), h.logger, "AdminHandler", "PriorityBook", "resource_id", req.ResourceID)
	result, err := h.service.PriorityBook(r.Context(), application.PriorityBookParams{
		Principal:           principal,
		ResourceID:          req.ResourceID,
		Start:               parseTimeInput(req.Start, req.Zone),
		End:                 parseTimeInput(req.End, req.Zone),
		Purpose:             req.Purpose,
		SpecialRequirements: req.SpecialRequirements,
	})
	if err != nil {
		logger.InfoContext(r.Context(), "priority booking failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	logger.InfoContext(r.Context(), "priority booking created", "reservation_id", result.Reservation.ID, "displaced", len(result.Displaced))
	h.responder.writeJSON(r.Context(), w, http.StatusCreated, priorityReservationResponse{
		Reservation: toReservationDTO(result.Reservation),
		Displaced:   toReservationDTOs(result.Displaced),
	})
}
