// Package http exposes the coaching scheduler over JSON/HTTP.
//
// Every route except /healthz and /metrics requires the X-User-ID header (and
// optionally X-User-Admin) set by the upstream gateway. The router exposes:
//   - POST /meetings, GET|DELETE /meetings/{id}, POST /meetings/{id}/cancel:
//     meeting lifecycle. Creation responds with the meeting, the per guest
//     charges, advisory conflicts and collaborator warnings.
//   - POST /meetings/{id}/guests, DELETE /meetings/{id}/guests/{personID},
//     PUT /meetings/{id}/participants/{personID}/rsvp: guest list and RSVPs.
//   - POST /meetings/{id}/reschedule (200 when applied, 202 when a request is
//     opened), GET /meetings/{id}/reschedule-requests and
//     POST /reschedule-requests/{id}/{accept|reject|withdraw}.
//   - POST /overlap-checks and GET /coaches/{coachID}/meetings?year=&month=.
//   - GET|PUT /coaches/{coachID}/availability and
//     DELETE /coaches/{coachID}/availability/{groupKey}.
//   - GET|POST /coaches/{coachID}/clients/{clientID}/credits.
//   - PUT /people/{personID}/calendar-feed.
//
// Request/response DTOs live alongside their respective handlers so tests and
// documentation share the same ground truth.
package http
