package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/gymops/gymbuddy/internal/models"
)

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]string{"status": "healthy"}))
}

func (s *Server) createClassHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	var params models.ClassParams
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		slog.Warn("Server.createClassHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}

	class, err := s.engine.CreateClass(r.Context(), params)
	if err != nil {
		if errors.Is(err, models.ErrEmptyClassName) || errors.Is(err, models.ErrInvalidCapacity) || errors.Is(err, models.ErrInvalidDuration) {
			writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
			return
		}
		slog.Error("Server.createClassHandler: failed to create class", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to create class"))
		return
	}

	slog.Info("Server.createClassHandler: class created", "classID", class.ID, "name", class.Name)
	writeJSONResponse(w, http.StatusCreated, models.Success(class))
}

func (s *Server) listClassesHandler(w http.ResponseWriter, r *http.Request) {
	days := queryInt(r, "days", 7)
	classType := r.URL.Query().Get("type")

	classes, err := s.engine.ListUpcoming(r.Context(), days, classType)
	if err != nil {
		slog.Error("Server.listClassesHandler: failed to list classes", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to list classes"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(classes))
}

func (s *Server) cancelClassHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	id := chi.URLParam(r, "id")

	var body struct {
		Reason string `json:"reason"`
	}
	// Body is optional; a missing reason is fine.
	_ = json.NewDecoder(r.Body).Decode(&body)

	res, err := s.engine.CancelClass(r.Context(), id, body.Reason)
	if err != nil {
		slog.Error("Server.cancelClassHandler: failed to cancel class", "error", err, "classID", id)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to cancel class"))
		return
	}
	if !res.Success {
		writeJSONResponse(w, statusForErrorKind(res.ErrorKind), models.Error(res.Message))
		return
	}

	slog.Info("Server.cancelClassHandler: class cancelled", "classID", id, "reason", body.Reason)
	writeJSONResponse(w, http.StatusOK, models.Success(res))
}

func (s *Server) attendanceHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	id := chi.URLParam(r, "id")

	var body struct {
		Attended *bool `json:"attended"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Attended == nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Body must include attended (true or false)"))
		return
	}

	res, err := s.engine.MarkAttendance(r.Context(), id, *body.Attended)
	if err != nil {
		slog.Error("Server.attendanceHandler: failed to mark attendance", "error", err, "bookingID", id)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to mark attendance"))
		return
	}
	if !res.Success {
		writeJSONResponse(w, statusForErrorKind(res.ErrorKind), models.Error(res.Message))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(res))
}

func (s *Server) memberBookingsHandler(w http.ResponseWriter, r *http.Request) {
	phone := chi.URLParam(r, "phone")

	member, err := s.st.GetMemberByPhone(phone)
	if err != nil {
		slog.Error("Server.memberBookingsHandler: failed to load member", "error", err, "phone", phone)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to load member"))
		return
	}
	if member == nil {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Member not found"))
		return
	}

	bookings, err := s.engine.ListMemberBookings(r.Context(), member.ID)
	if err != nil {
		slog.Error("Server.memberBookingsHandler: failed to list bookings", "error", err, "memberID", member.ID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to list bookings"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(bookings))
}

func (s *Server) utilizationHandler(w http.ResponseWriter, r *http.Request) {
	days := queryInt(r, "days", 30)

	stats, err := s.engine.UtilizationStats(r.Context(), days)
	if err != nil {
		slog.Error("Server.utilizationHandler: failed to compute stats", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to compute utilization"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(stats))
}

// simulateHandler drives the conversation orchestrator directly, bypassing
// the chat transport. Useful for local testing and demos.
func (s *Server) simulateHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	if s.responder == nil {
		writeJSONResponse(w, http.StatusServiceUnavailable, models.Error("Webhook simulation not available"))
		return
	}

	var body struct {
		Phone   string `json:"phone"`
		Content string `json:"content"`
		Name    string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if body.Phone == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("phone is required"))
		return
	}

	prompt, err := s.responder.Handle(r.Context(), body.Phone, body.Content, body.Name)
	if err != nil {
		slog.Error("Server.simulateHandler: responder failed", "error", err, "phone", body.Phone)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to process message"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(prompt))
}

// statusForErrorKind maps engine failure kinds to HTTP status codes.
func statusForErrorKind(kind models.ErrorKind) int {
	switch kind {
	case models.ErrKindNotFound:
		return http.StatusNotFound
	case models.ErrKindInvalidState, models.ErrKindConflict, models.ErrKindAlreadyBooked:
		return http.StatusConflict
	case models.ErrKindWindowViolation:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusBadRequest
	}
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		return def
	}
	return n
}
