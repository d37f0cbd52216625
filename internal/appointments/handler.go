package appointments

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/wolfman30/smart-care-platform/internal/calendar"
	"github.com/wolfman30/smart-care-platform/internal/http/middleware"
	"github.com/wolfman30/smart-care-platform/pkg/logging"
)

// Handler exposes the coordinator over HTTP. Every route expects middleware.UserJWT.
type Handler struct {
	coord    *Coordinator
	upgrader websocket.Upgrader
	logger   *logging.Logger
}

// NewHandler creates the HTTP handler. allowedOrigins restricts websocket upgrades;
// "*" allows any origin and an empty list allows same-origin only.
func NewHandler(coord *Coordinator, allowedOrigins []string, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{
		coord:    coord,
		upgrader: newUpgrader(allowedOrigins),
		logger:   logger,
	}
}

// Routes mounts the appointment and doctor endpoints.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/appointments", func(r chi.Router) {
		r.Post("/", h.Create)
		r.Get("/", h.List)
		r.Get("/counts", h.Counts)
		r.Get("/stream", h.Stream)
		r.Get("/{id}", h.Get)
		r.Patch("/{id}/status", h.UpdateStatus)
		r.Post("/{id}/reschedule", h.Reschedule)
		r.With(middleware.RequireRole(middleware.RoleDoctor)).Put("/{id}/summary", h.UpdateSummary)
	})
	r.Route("/doctors/{doctorID}", func(r chi.Router) {
		r.Get("/slots", h.Slots)
		r.Get("/availability", h.GetAvailability)
		r.Put("/availability", h.SetAvailability)
	})
}

// Create handles POST /appointments.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if claims.Role != middleware.RoleAdmin {
		// Callers book only their own side of the appointment.
		req.CreatedBy = claims.Subject
		switch claims.Role {
		case middleware.RolePatient:
			if (req.PatientID != "" && req.PatientID != claims.Subject) || req.DoctorID == claims.Subject {
				writeError(w, http.StatusForbidden, "patients may only book for themselves")
				return
			}
			req.PatientID = claims.Subject
		case middleware.RoleDoctor:
			if (req.DoctorID != "" && req.DoctorID != claims.Subject) || req.PatientID == claims.Subject {
				writeError(w, http.StatusForbidden, "doctors may only book into their own calendar")
				return
			}
			req.DoctorID = claims.Subject
		default:
			writeError(w, http.StatusForbidden, "forbidden")
			return
		}
	}

	id, err := h.coord.CreateAppointment(r.Context(), req)
	if err != nil {
		h.fail(w, err, "create appointment")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

// List handles GET /appointments. Admins pass ?userId= and ?role=.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	userID, role, ok := h.subject(w, r)
	if !ok {
		return
	}
	list, err := h.coord.ListUserAppointments(r.Context(), userID, role)
	if err != nil {
		h.fail(w, err, "list appointments")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"appointments": list, "count": len(list)})
}

// Counts handles GET /appointments/counts.
func (h *Handler) Counts(w http.ResponseWriter, r *http.Request) {
	userID, role, ok := h.subject(w, r)
	if !ok {
		return
	}
	counts, err := h.coord.GetAppointmentCounts(r.Context(), userID, role)
	if err != nil {
		h.fail(w, err, "count appointments")
		return
	}
	writeJSON(w, http.StatusOK, counts)
}

// Get handles GET /appointments/{id}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	a, ok := h.participantAppointment(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, a)
}

type statusRequest struct {
	Status Status `json:"status"`
	Note   string `json:"note,omitempty"`
}

// UpdateStatus handles PATCH /appointments/{id}/status. The caller's role is recorded
// as the actor.
func (h *Handler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	a, ok := h.participantAppointment(w, r)
	if !ok {
		return
	}
	var req statusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	claims, _ := middleware.ClaimsFromContext(r.Context())
	if claims.Role == middleware.RolePatient && req.Status != StatusCancelled {
		writeError(w, http.StatusForbidden, "patients can only cancel")
		return
	}
	updated, err := h.coord.UpdateAppointmentStatus(r.Context(), a.ID, req.Status, StatusChange{
		Note:        req.Note,
		CancelledBy: Role(claims.Role),
	})
	if err != nil {
		h.fail(w, err, "update appointment status")
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

type rescheduleBody struct {
	Date  string `json:"date"`
	Time  string `json:"time"`
	Notes string `json:"notes,omitempty"`
}

// Reschedule handles POST /appointments/{id}/reschedule.
func (h *Handler) Reschedule(w http.ResponseWriter, r *http.Request) {
	a, ok := h.participantAppointment(w, r)
	if !ok {
		return
	}
	var body rescheduleBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	claims, _ := middleware.ClaimsFromContext(r.Context())
	updated, err := h.coord.RescheduleAppointment(r.Context(), a.ID, RescheduleRequest{
		Date:  body.Date,
		Time:  body.Time,
		Notes: body.Notes,
		By:    Role(claims.Role),
		ByID:  claims.Subject,
	})
	if err != nil {
		h.fail(w, err, "reschedule appointment")
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// UpdateSummary handles PUT /appointments/{id}/summary. Only the appointment's doctor may write it.
func (h *Handler) UpdateSummary(w http.ResponseWriter, r *http.Request) {
	a, ok := h.participantAppointment(w, r)
	if !ok {
		return
	}
	claims, _ := middleware.ClaimsFromContext(r.Context())
	if claims.Subject != a.DoctorID {
		writeError(w, http.StatusForbidden, "only the appointment's doctor can write a summary")
		return
	}
	var summary Summary
	if err := json.NewDecoder(r.Body).Decode(&summary); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.coord.UpdateAppointmentSummary(r.Context(), a.ID, summary); err != nil {
		h.fail(w, err, "update appointment summary")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Slots handles GET /doctors/{doctorID}/slots?date=.
func (h *Handler) Slots(w http.ResponseWriter, r *http.Request) {
	availability, err := h.coord.GetAvailableTimeSlots(r.Context(), chi.URLParam(r, "doctorID"), r.URL.Query().Get("date"))
	if err != nil {
		h.fail(w, err, "compute available slots")
		return
	}
	writeJSON(w, http.StatusOK, availability)
}

// GetAvailability handles GET /doctors/{doctorID}/availability.
func (h *Handler) GetAvailability(w http.ResponseWriter, r *http.Request) {
	availability, err := h.coord.GetDoctorAvailability(r.Context(), chi.URLParam(r, "doctorID"))
	if err != nil {
		h.fail(w, err, "get doctor availability")
		return
	}
	writeJSON(w, http.StatusOK, availability)
}

type availabilityBody struct {
	UnavailableDates []string `json:"unavailableDates"`
}

// SetAvailability handles PUT /doctors/{doctorID}/availability for the doctor or an admin.
func (h *Handler) SetAvailability(w http.ResponseWriter, r *http.Request) {
	doctorID := chi.URLParam(r, "doctorID")
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if claims.Role != middleware.RoleAdmin && !(claims.Role == middleware.RoleDoctor && claims.Subject == doctorID) {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}
	var body availabilityBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	availability, err := h.coord.SetDoctorAvailability(r.Context(), doctorID, body.UnavailableDates)
	if err != nil {
		h.fail(w, err, "set doctor availability")
		return
	}
	writeJSON(w, http.StatusOK, availability)
}

// subject resolves whose appointments a read targets: the caller, or for admins the
// user named in the query string.
func (h *Handler) subject(w http.ResponseWriter, r *http.Request) (string, Role, bool) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return "", "", false
	}
	if claims.Role != middleware.RoleAdmin {
		return claims.Subject, Role(claims.Role), true
	}
	q := r.URL.Query()
	userID, role := q.Get("userId"), Role(q.Get("role"))
	if userID == "" || (role != RolePatient && role != RoleDoctor) {
		writeError(w, http.StatusBadRequest, "admins must pass userId and role")
		return "", "", false
	}
	return userID, role, true
}

// participantAppointment loads {id} and checks the caller takes part in it.
func (h *Handler) participantAppointment(w http.ResponseWriter, r *http.Request) (*Appointment, bool) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return nil, false
	}
	a, err := h.coord.GetAppointment(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, err, "load appointment")
		return nil, false
	}
	if claims.Role != middleware.RoleAdmin && a.RoleOf(claims.Subject) != Role(claims.Role) {
		writeError(w, http.StatusNotFound, "appointment not found")
		return nil, false
	}
	return a, true
}

// fail maps coordinator errors to status codes.
func (h *Handler) fail(w http.ResponseWriter, err error, op string) {
	switch {
	case errors.Is(err, ErrNotFound):
		writeError(w, http.StatusNotFound, "appointment not found")
	case errors.Is(err, ErrInvalidTransition):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, calendar.ErrInvalidDate),
		errors.Is(err, calendar.ErrInvalidSlot),
		errors.Is(err, ErrInvalidMode),
		errors.Is(err, ErrInvalidCreator),
		errors.Is(err, ErrInvalidStatus):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		h.logger.Error("appointments: request failed", "error", err, "op", op)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
