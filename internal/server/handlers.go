package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/zombor/vegan-scanner/internal/capture"
	"github.com/zombor/vegan-scanner/internal/classify"
	"github.com/zombor/vegan-scanner/internal/scan"
)

// sessionHeader selects the client session; the remote address is used when absent
const sessionHeader = "X-Scan-Session"

// maxSessionIDLen fits a UUID with room for short client prefixes
const maxSessionIDLen = 64

const (
	msgNoFile   = "Ingen bild skickades. Välj eller ta en bild och försök igen."
	msgTooLarge = "Bilden är för stor. Minska upplösningen och försök igen."
	msgBusy     = "En analys pågår redan. Vänta tills den är klar."
	msgSession  = "Ogiltig session. Ladda om sidan och försök igen."
	msgFull     = "Tjänsten har för många aktiva användare just nu. Försök igen om en stund."
)

type scanResponse struct {
	Session string            `json:"session"`
	Verdict *classify.Verdict `json:"verdict"`
}

type errorResponse struct {
	Error string     `json:"error"`
	Stage scan.Stage `json:"stage,omitempty"`
}

type phaseResponse struct {
	Session string     `json:"session"`
	Phase   scan.Phase `json:"phase"`
}

type quotaResponse struct {
	Used  int `json:"used"`
	Limit int `json:"limit"`
}

// writeJSON encodes v as the response body
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

// statusFor maps a failed stage to its HTTP status
func statusFor(stage scan.Stage) int {
	switch stage {
	case scan.StageCapture:
		return http.StatusBadRequest
	case scan.StageClassification:
		return http.StatusBadGateway
	default:
		return http.StatusUnprocessableEntity
	}
}

// sessionID returns the session the request belongs to. It reports false
// when the client sent a malformed session header.
func sessionID(r *http.Request) (string, bool) {
	if id := r.Header.Get(sessionHeader); id != "" {
		return id, validSessionID(id)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr, true
	}
	return host, true
}

// validSessionID accepts short ids of letters, digits and . _ : -
func validSessionID(id string) bool {
	if len(id) > maxSessionIDLen {
		return false
	}
	for _, c := range id {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case c == '-', c == '_', c == '.', c == ':':
		default:
			return false
		}
	}
	return true
}

// handleHealth reports liveness
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleScan runs one scan over the uploaded image
func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionID(r)
	if !ok {
		slog.Warn("Scan rejected, malformed session header", "length", len(id))
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: msgSession})
		return
	}

	// Leave headroom for the multipart envelope; the capturer enforces the image limit
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload+1<<20)
	if err := r.ParseMultipartForm(s.maxUpload); err != nil {
		slog.Error("Error parsing multipart form", "session", id, "error", err)
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: msgTooLarge, Stage: scan.StageCapture})
			return
		}
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: msgNoFile, Stage: scan.StageCapture})
		return
	}
	defer r.MultipartForm.RemoveAll()

	f, header, err := r.FormFile("file")
	if err != nil {
		slog.Error("Error getting file from form", "session", id, "error", err)
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: msgNoFile, Stage: scan.StageCapture})
		return
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, s.maxUpload+1))
	if err != nil {
		slog.Error("Error reading file data", "session", id, "error", err, "filename", header.Filename)
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: msgNoFile, Stage: scan.StageCapture})
		return
	}

	capturer := capture.NewSpoolCapturer(s.spool, capture.Upload{
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Data:        data,
	}, s.maxUpload)

	sess, err := s.sessions.acquire(id)
	if err != nil {
		slog.Warn("Scan rejected", "session", id, "error", err)
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: msgFull})
		return
	}
	outcome, err := sess.pipeline.Run(r.Context(), capturer)
	switch {
	case errors.Is(err, scan.ErrBusy):
		slog.Warn("Scan rejected, session busy", "session", id)
		writeJSON(w, http.StatusConflict, errorResponse{Error: msgBusy})
		return
	case errors.Is(err, scan.ErrCancelled):
		// The client is gone; nobody reads the response
		slog.Info("Scan cancelled by client", "session", id)
		return
	case err != nil:
		slog.Error("Error running scan", "session", id, "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	if !outcome.Succeeded() {
		writeJSON(w, statusFor(outcome.Err.Stage), errorResponse{
			Error: outcome.Err.Message,
			Stage: outcome.Err.Stage,
		})
		return
	}

	writeJSON(w, http.StatusOK, scanResponse{Session: id, Verdict: outcome.Verdict})
}

// handlePhase returns the current phase of a session
func (s *Server) handlePhase(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("session")
	phase, ok := s.sessions.Phase(id)
	if !ok {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "Session not found"})
		return
	}
	writeJSON(w, http.StatusOK, phaseResponse{Session: id, Phase: phase})
}

// handleQuota returns today's classification budget
func (s *Server) handleQuota(w http.ResponseWriter, r *http.Request) {
	if s.quota == nil {
		writeJSON(w, http.StatusOK, quotaResponse{})
		return
	}
	used, err := s.quota.Used(time.Now())
	if err != nil {
		slog.Error("Error reading quota", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, quotaResponse{Used: used, Limit: s.quota.Limit()})
}
