// Package http exposes the reservation engine over a JSON API routed by chi.
//
// Every route except GET /healthz requires a principal, taken either from a
// bearer JWT (`Authorization: Bearer ...`, claims `sub` and `role`) or from a
// pre-shared device key (`X-API-Key: <name>.<secret>`).
//
//   - GET /resources: resource catalog.
//   - GET /resources/{id}/conflicts?start&end&exclude&zone: conflict check with alternatives.
//   - GET /resources/{id}/availability?from&to&zone: busy and free windows (calendar).
//   - POST /reservations, GET /reservations, GET|PATCH|DELETE /reservations/{id}.
//   - GET /reservations/{id}/transitions: audit trail.
//   - POST /reservations/{id}/check-in, /check-out: signal source (owner, admin or device).
//   - POST /reservations/{id}/approve, /reject: administrators, approval mode.
//   - POST /waitlist, DELETE /waitlist/{id}, GET /waitlist/mine.
//   - POST /admin/priority-reservations: administrator override booking.
//
// Times are RFC 3339 instants, or local wall times ("2024-06-04T10:00")
// interpreted in the resource's zone unless a zone is given. Request and
// response DTOs live next to their handlers.
package http
