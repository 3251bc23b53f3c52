package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/example/resource-reservations/internal/application"
	"github.com/example/resource-reservations/internal/persistence"
)

type resourceService interface {
	ListResources(ctx context.Context) ([]persistence.Resource, error)
	CheckConflicts(ctx context.Context, principal application.Principal, resourceID string, start, end application.TimeInput, excludeID string) (application.ConflictReport, error)
	GetCalendar(ctx context.Context, principal application.Principal, resourceID string, from, to application.TimeInput) (application.Calendar, error)
}

type ResourceHandler struct {
	service   resourceService
	responder responder
	logger    *slog.Logger
}

func NewResourceHandler(service resourceService, logger *slog.Logger) *ResourceHandler {
	base := defaultLogger(logger)
	return &ResourceHandler{service: service, responder: newResponder(base), logger: base}
}

type resourceListResponse struct {
	Resources []resourceDTO `json:"resources"`
}

type conflictReportResponse struct {
	ResourceID   string      `json:"resource_id"`
	Requested    windowDTO   `json:"requested"`
	Available    bool        `json:"available"`
	Conflicts    []busyDTO   `json:"conflicts"`
	Alternatives []windowDTO `json:"alternatives"`
}

type calendarResponse struct {
	ResourceID string      `json:"resource_id"`
	TimeZone   string      `json:"time_zone"`
	From       time.Time   `json:"from"`
	To         time.Time   `json:"to"`
	Busy       []busyDTO   `json:"busy"`
	Free       []windowDTO `json:"free"`
}

func (h *ResourceHandler) List(w http.ResponseWriter, r *http.Request) {
	resources, err := h.service.ListResources(r.Context())
	if err != nil {
		handlerLogger(r.Context(), h.logger, "ResourceHandler", "List").ErrorContext(r.Context(), "resource listing failed", "error", err)
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	out := make([]resourceDTO, 0, len(resources))
	for _, resource := range resources {
		out = append(out, toResourceDTO(resource))
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, resourceListResponse{Resources: out})
}

// Conflicts answers GET /resources/{id}/conflicts?start&end&exclude&zone.
func (h *ResourceHandler) Conflicts(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFromContext(r.Context())
	query := r.URL.Query()
	zone := query.Get("zone")

	report, err := h.service.CheckConflicts(r.Context(), principal, chi.URLParam(r, "id"),
		parseTimeInput(query.Get("start"), zone), parseTimeInput(query.Get("end"), zone), query.Get("exclude"))
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, conflictReportResponse{
		ResourceID:   report.ResourceID,
		Requested:    toWindowDTO(report.Requested),
		Available:    report.Available,
		Conflicts:    toBusyDTOs(report.Conflicts),
		Alternatives: toWindowDTOs(report.Alternatives),
	})
}

// Availability answers GET /resources/{id}/availability?from&to&zone with the calendar.
func (h *ResourceHandler) Availability(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFromContext(r.Context())
	query := r.URL.Query()
	zone := query.Get("zone")

	calendar, err := h.service.GetCalendar(r.Context(), principal, chi.URLParam(r, "id"),
		parseTimeInput(query.Get("from"), zone), parseTimeInput(query.Get("to"), zone))
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	busy := make([]busyDTO, 0, len(calendar.Busy))
	for _, slot := range calendar.Busy {
		busy = append(busy, busyDTO{
			ReservationID: slot.ReservationID,
			Start:         slot.Window.Start,
			End:           slot.Window.End,
			Status:        string(slot.Status),
			Priority:      slot.Priority,
		})
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, calendarResponse{
		ResourceID: calendar.ResourceID,
		TimeZone:   calendar.TimeZone,
		From:       calendar.Range.Start,
		To:         calendar.Range.End,
		Busy:       busy,
		Free:       toWindowDTOs(calendar.Free),
	})
}
