package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/example/resource-reservations/internal/application"
	"github.com/example/resource-reservations/internal/lifecycle"
	"github.com/example/resource-reservations/internal/persistence"
)

type reservationService interface {
	CreateReservation(ctx context.Context, params application.CreateReservationParams) (persistence.Reservation, error)
	ModifyReservation(ctx context.Context, params application.ModifyReservationParams) (persistence.Reservation, error)
	CancelReservation(ctx context.Context, principal application.Principal, reservationID, reason string) (persistence.Reservation, error)
	CheckIn(ctx context.Context, principal application.Principal, reservationID string) (persistence.Reservation, error)
	CheckOut(ctx context.Context, principal application.Principal, reservationID string) (persistence.Reservation, error)
	ApproveReservation(ctx context.Context, principal application.Principal, reservationID string) (persistence.Reservation, error)
	RejectReservation(ctx context.Context, principal application.Principal, reservationID, reason string) (persistence.Reservation, error)
	GetReservation(ctx context.Context, principal application.Principal, reservationID string) (persistence.Reservation, error)
	ListMyReservations(ctx context.Context, params application.ListReservationsParams) ([]persistence.Reservation, error)
	ListTransitions(ctx context.Context, principal application.Principal, reservationID string) ([]persistence.Transition, error)
}

type ReservationHandler struct {
	service   reservationService
	responder responder
	logger    *slog.Logger
}

func NewReservationHandler(service reservationService, logger *slog.Logger) *ReservationHandler {
	base := defaultLogger(logger)
	return &ReservationHandler{service: service, responder: newResponder(base), logger: base}
}

func (h *ReservationHandler) log(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	if h == nil {
		return slog.Default()
	}
	return handlerLogger(ctx, h.logger, "ReservationHandler", operation, attrs...)
}

type createReservationRequest struct {
	ResourceID          string  `json:"resource_id"`
	Start               string  `json:"start"`
	End                 string  `json:"end"`
	Zone                string  `json:"zone"`
	Purpose             string  `json:"purpose"`
	SpecialRequirements *string `json:"special_requirements"`
}

type modifyReservationRequest struct {
	Start               *string `json:"start"`
	End                 *string `json:"end"`
	Zone                string  `json:"zone"`
	Purpose             *string `json:"purpose"`
	SpecialRequirements *string `json:"special_requirements"`
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

type reservationResponse struct {
	Reservation reservationDTO `json:"reservation"`
}

type reservationListResponse struct {
	Reservations []reservationDTO `json:"reservations"`
}

type transitionListResponse struct {
	Transitions []transitionDTO `json:"transitions"`
}

func (h *ReservationHandler) Create(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFromContext(r.Context())

	var req createReservationRequest
	if err := decodeJSON(r, &req); err != nil {
		h.log(r.Context(), "Create", "error_kind", "bad_request").InfoContext(r.Context(), "failed to decode reservation request", "error", err)
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errBadRequestBody)
		return
	}

	logger := h.log(r.Context(), "Create", "resource_id", req.ResourceID)
	reservation, err := h.service.CreateReservation(r.Context(), application.CreateReservationParams{
		Principal:           principal,
		ResourceID:          req.ResourceID,
		Start:               parseTimeInput(req.Start, req.Zone),
		End:                 parseTimeInput(req.End, req.Zone),
		Purpose:             req.Purpose,
		SpecialRequirements: req.SpecialRequirements,
	})
	if err != nil {
		logger.InfoContext(r.Context(), "reservation creation failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	logger.With("reservation_id", reservation.ID).InfoContext(r.Context(), "reservation created")
	w.Header().Set("Location", "/reservations/"+reservation.ID)
	h.responder.writeJSON(r.Context(), w, http.StatusCreated, reservationResponse{Reservation: toReservationDTO(reservation)})
}

func (h *ReservationHandler) Modify(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFromContext(r.Context())
	id := chi.URLParam(r, "id")

	var req modifyReservationRequest
	if err := decodeJSON(r, &req); err != nil {
		h.log(r.Context(), "Modify", "reservation_id", id, "error_kind", "bad_request").InfoContext(r.Context(), "failed to decode reservation update", "error", err)
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errBadRequestBody)
		return
	}

	params := application.ModifyReservationParams{
		Principal:           principal,
		ReservationID:       id,
		Purpose:             req.Purpose,
		SpecialRequirements: req.SpecialRequirements,
	}
	if req.Start != nil {
		start := parseTimeInput(*req.Start, req.Zone)
		params.Start = &start
	}
	if req.End != nil {
		end := parseTimeInput(*req.End, req.Zone)
		params.End = &end
	}

	logger := h.log(r.Context(), "Modify", "reservation_id", id)
	reservation, err := h.service.ModifyReservation(r.Context(), params)
	if err != nil {
		logger.InfoContext(r.Context(), "reservation update failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	logger.InfoContext(r.Context(), "reservation updated")
	h.responder.writeJSON(r.Context(), w, http.StatusOK, reservationResponse{Reservation: toReservationDTO(reservation)})
}

// Cancel takes an optional reason from the "reason" query parameter.
func (h *ReservationHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFromContext(r.Context())
	id := chi.URLParam(r, "id")
	logger := h.log(r.Context(), "Cancel", "reservation_id", id)

	if _, err := h.service.CancelReservation(r.Context(), principal, id, r.URL.Query().Get("reason")); err != nil {
		logger.InfoContext(r.Context(), "reservation cancel failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	logger.InfoContext(r.Context(), "reservation cancelled")
	h.responder.writeJSON(r.Context(), w, http.StatusNoContent, nil)
}

func (h *ReservationHandler) Get(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFromContext(r.Context())
	id := chi.URLParam(r, "id")

	reservation, err := h.service.GetReservation(r.Context(), principal, id)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, reservationResponse{Reservation: toReservationDTO(reservation)})
}

// ListMine supports from, to (RFC 3339), status (comma separated) and limit.
func (h *ReservationHandler) ListMine(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFromContext(r.Context())
	query := r.URL.Query()
	params := application.ListReservationsParams{Principal: principal}

	for _, field := range []struct {
		name   string
		target **time.Time
	}{{"from", &params.From}, {"to", &params.To}} {
		value := strings.TrimSpace(query.Get(field.name))
		if value == "" {
			continue
		}
		parsed, err := time.Parse(time.RFC3339Nano, value)
		if err != nil {
			h.responder.writeError(r.Context(), w, http.StatusBadRequest, errInvalidQuery)
			return
		}
		*field.target = &parsed
	}
	if raw := strings.TrimSpace(query.Get("status")); raw != "" {
		for _, value := range strings.Split(raw, ",") {
			params.Statuses = append(params.Statuses, lifecycle.Status(strings.ToUpper(strings.TrimSpace(value))))
		}
	}
	if raw := strings.TrimSpace(query.Get("limit")); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			h.responder.writeError(r.Context(), w, http.StatusBadRequest, errInvalidQuery)
			return
		}
		params.Limit = limit
	}

	reservations, err := h.service.ListMyReservations(r.Context(), params)
	if err != nil {
		h.log(r.Context(), "ListMine").InfoContext(r.Context(), "reservation listing failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, reservationListResponse{Reservations: toReservationDTOs(reservations)})
}

func (h *ReservationHandler) Transitions(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFromContext(r.Context())
	id := chi.URLParam(r, "id")

	transitions, err := h.service.ListTransitions(r.Context(), principal, id)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	out := make([]transitionDTO, 0, len(transitions))
	for _, t := range transitions {
		out = append(out, toTransitionDTO(t))
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, transitionListResponse{Transitions: out})
}

func (h *ReservationHandler) CheckIn(w http.ResponseWriter, r *http.Request) {
	h.signal(w, r, "CheckIn", h.service.CheckIn)
}

func (h *ReservationHandler) CheckOut(w http.ResponseWriter, r *http.Request) {
	h.signal(w, r, "CheckOut", h.service.CheckOut)
}

func (h *ReservationHandler) Approve(w http.ResponseWriter, r *http.Request) {
	h.signal(w, r, "Approve", h.service.ApproveReservation)
}

func (h *ReservationHandler) Reject(w http.ResponseWriter, r *http.Request) {
	var req reasonRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errBadRequestBody)
		return
	}
	h.signal(w, r, "Reject", func(ctx context.Context, principal application.Principal, id string) (persistence.Reservation, error) {
		return h.service.RejectReservation(ctx, principal, id, req.Reason)
	})
}

func (h *ReservationHandler) signal(w http.ResponseWriter, r *http.Request, operation string,
	call func(context.Context, application.Principal, string) (persistence.Reservation, error)) {
	principal, _ := PrincipalFromContext(r.Context())
	id := chi.URLParam(r, "id")
	logger := h.log(r.Context(), operation, "reservation_id", id)

	reservation, err := call(r.Context(), principal, id)
	if err != nil {
		logger.InfoContext(r.Context(), "reservation transition failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	logger.InfoContext(r.Context(), "reservation transitioned", "status", reservation.Status)
	h.responder.writeJSON(r.Context(), w, http.StatusOK, reservationResponse{Reservation: toReservationDTO(reservation)})
}

// decodeJSON rejects unknown fields and trailing data.
func decodeJSON(r *http.Request, target any) error {
	decoder := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(target); err != nil {
		return err
	}
	if decoder.More() {
		return errBadRequestBody
	}
	return nil
}
