package api

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"courtslot/internal/availability"
	"courtslot/internal/export"
	"courtslot/internal/models"
	"courtslot/internal/reservation"
	"courtslot/internal/session"
)

const probeTimeout = 2 * time.Second

type openRequest struct {
	Court models.Court `json:"court"`
	Date  string       `json:"date"`
}

type courtsRequest struct {
	CourtIDs []string `json:"courtIds"`
}

type dateRequest struct {
	Date string `json:"date"`
}

type toggleRequest struct {
	Key models.SlotKey `json:"key"`
}

// errorResponse carries the session state next to the error so clients can
// re-render after a failed operation.
type errorResponse struct {
	Error   string            `json:"error"`
	Field   string            `json:"field,omitempty"`
	Session *session.Snapshot `json:"session,omitempty"`
}

func (s *HTTPServer) handleOpen(w http.ResponseWriter, r *http.Request) {
	var body openRequest
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	sess, snap, err := s.sessions.Open(r.Context(), session.OpenRequest{
		Token: bearerToken(r),
		Seed:  body.Court,
		Date:  body.Date,
	})
	if err != nil {
		// the session survives a rejected initial date
		var current *session.Snapshot
		if sess != nil {
			cur := sess.Snapshot()
			current = &cur
		}
		s.writeSessionError(w, err, current)
		return
	}
	writeJSON(w, http.StatusCreated, snap)
}

func (s *HTTPServer) handleGet(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, sess.Snapshot())
}

func (s *HTTPServer) handleClose(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.session(w, r); !ok {
		return
	}
	s.sessions.Close(r.PathValue("id"))
	w.WriteHeader(http.StatusNoContent)
}

func (s *HTTPServer) handleSelectCourts(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var body courtsRequest
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	snap, err := sess.SelectCourts(r.Context(), body.CourtIDs)
	s.respond(w, snap, err)
}

func (s *HTTPServer) handleSelectDate(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var body dateRequest
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	snap, err := sess.SelectDate(r.Context(), body.Date)
	s.respond(w, snap, err)
}

func (s *HTTPServer) handleToggle(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var body toggleRequest
	if err := decodeJSON(r, &body); err != nil || body.Key == "" {
		writeError(w, http.StatusBadRequest, "key is required")
		return
	}
	snap, err := sess.ToggleSlot(body.Key)
	s.respond(w, snap, err)
}

func (s *HTTPServer) handleRefresh(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	snap, err := sess.Refresh(r.Context())
	s.respond(w, snap, err)
}

func (s *HTTPServer) handleSubmit(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	snap, err := sess.Submit(r.Context())
	if err != nil {
		s.writeSessionError(w, err, &snap)
		return
	}
	writeJSON(w, http.StatusOK, snap.HandOff)
}

func (s *HTTPServer) handleExport(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	snap := sess.Snapshot()
	if snap.Grid == nil {
		writeError(w, http.StatusConflict, "no grid computed yet; select a date first")
		return
	}

	var buf bytes.Buffer
	if err := export.WriteGridXLSX(&buf, snap.Grid, sess.Courts()); err != nil {
		s.log.Error().Err(err).Str("session_id", snap.ID).Msg("grid export failed")
		writeError(w, http.StatusInternalServerError, "export failed")
		return
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="`+export.FileName(snap.Grid)+`"`)
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func (s *HTTPServer) handleRecovery(w http.ResponseWriter, r *http.Request) {
	rec, err := s.sessions.Recover(r.Context(), r.PathValue("bookingId"))
	if err != nil {
		s.writeSessionError(w, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), probeTimeout)
	defer cancel()

	checks := make(map[string]string, len(s.probes))
	healthy := true
	for _, p := range s.probes {
		if err := p.check(ctx); err != nil {
			checks[p.name] = err.Error()
			healthy = false
			continue
		}
		checks[p.name] = "ok"
	}

	code := http.StatusOK
	statusText := "ok"
	if !healthy {
		code = http.StatusServiceUnavailable
		statusText = "degraded"
	}
	writeJSON(w, code, map[string]any{
		"status":   statusText,
		"sessions": s.sessions.Len(),
		"checks":   checks,
	})
}

func (s *HTTPServer) session(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	sess, err := s.sessions.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return nil, false
	}
	return sess, true
}

func (s *HTTPServer) respond(w http.ResponseWriter, snap session.Snapshot, err error) {
	if err != nil {
		s.writeSessionError(w, err, &snap)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *HTTPServer) writeSessionError(w http.ResponseWriter, err error, snap *session.Snapshot) {
	resp := errorResponse{Error: err.Error(), Session: snap}
	if snap != nil && snap.ID == "" {
		resp.Session = nil
	}

	var verr *reservation.ValidationError
	if errors.As(err, &verr) {
		resp.Field = verr.Field
	}

	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		s.log.Warn().Err(err).Int("status", code).Msg("request failed")
	}
	writeJSON(w, code, resp)
}

func statusFor(err error) int {
	switch {
	case reservation.IsValidation(err), errors.Is(err, availability.ErrNoCourts):
		return http.StatusUnprocessableEntity
	case reservation.IsConflict(err),
		errors.Is(err, reservation.ErrInFlight),
		errors.Is(err, session.ErrSlotUnavailable):
		return http.StatusConflict
	case errors.Is(err, reservation.ErrHoldDenied), errors.Is(err, reservation.ErrCheckFailed):
		return http.StatusBadGateway
	case errors.Is(err, session.ErrSessionNotFound), errors.Is(err, session.ErrRecordNotFound):
		return http.StatusNotFound
	case errors.Is(err, session.ErrRecordExpired):
		return http.StatusGone
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
