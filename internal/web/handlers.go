package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"provisiond/internal/importer"
	"provisiond/internal/logging"
	"provisiond/internal/roster"
	"provisiond/internal/store"
)

// handleImport accepts an uploaded roster and streams the job's progress
// events back over the same connection. Each event is one blank-line
// terminated "data: <json>" block; the stream ends with exactly one
// complete or error event.
//
// The client owns only the reporting channel: if it disconnects mid
// stream, the job still runs to completion server-side so that no account
// is left half-provisioned, and the final tallies land in the server log.
func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	maxSize := s.cfg.Server.MaxUploadSize
	r.Body = http.MaxBytesReader(w, r.Body, maxSize)
	if err := r.ParseMultipartForm(maxSize); err != nil {
		streamFatal(w, flusher, "file too large or invalid form")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		streamFatal(w, flusher, "no file provided")
		return
	}
	defer file.Close()

	rows, err := roster.Parse(file)
	if err != nil {
		streamFatal(w, flusher, err.Error())
		return
	}

	log.Info("import started", "file", header.Filename, "rows", len(rows))

	// The job gets its own context: client cancellation is advisory for
	// the reporting stream only, never for the work.
	rep := importer.NewReporter(0)
	go s.orch.Run(context.Background(), rows, rep)

	clientGone := r.Context().Done()
	gone := false
	for ev := range rep.Events() {
		if gone {
			// Keep draining so the queue empties; the job finishes on its own.
			continue
		}
		writeEvent(w, flusher, ev)
		select {
		case <-clientGone:
			gone = true
			log.Info("client disconnected, job continues", "file", header.Filename)
		default:
		}
	}
}

// streamFatal emits the single terminal error event for a job that failed
// its preconditions before the pipeline started.
func streamFatal(w http.ResponseWriter, flusher http.Flusher, message string) {
	writeEvent(w, flusher, importer.NewErrorEvent(message))
}

// writeEvent frames one progress event as a blank-line terminated block.
func writeEvent(w http.ResponseWriter, flusher http.Flusher, ev importer.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", data)
	flusher.Flush()
}

// resendResponse is the JSON body for a successful resend.
type resendResponse struct {
	Email    string `json:"email"`
	Status   string `json:"status"`
	Notified bool   `json:"notified"`
}

// handleResend re-delivers the provisioning email for an account that was
// created but never successfully notified, and activates it on success.
// This is the out-of-band recovery path for pending accounts; it reuses
// the stored token while valid and issues a fresh one otherwise.
func (s *Server) handleResend(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	if s.sender == nil {
		writeError(w, http.StatusServiceUnavailable, "mail transport is not configured")
		return
	}

	email := strings.ToLower(strings.TrimSpace(chi.URLParam(r, "email")))
	if email == "" {
		writeError(w, http.StatusBadRequest, "missing email")
		return
	}

	rec, err := s.accounts.GetByEmail(r.Context(), email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "account not found")
			return
		}
		log.Error("resend lookup failed", "email", email, "error", err)
		writeError(w, http.StatusInternalServerError, "account lookup failed")
		return
	}

	if rec.Status == store.StatusActive {
		writeError(w, http.StatusConflict, "account is already active")
		return
	}

	token := rec.Token
	if time.Now().After(rec.TokenExpiry) {
		token, err = importer.NewToken()
		if err != nil {
			log.Error("token generation failed", "email", email, "error", err)
			writeError(w, http.StatusInternalServerError, "token generation failed")
			return
		}
		expiry := time.Now().Add(s.cfg.Import.TokenTTL)
		if err := s.accounts.ReplaceToken(r.Context(), email, token, expiry); err != nil {
			log.Error("token replace failed", "email", email, "error", err)
			writeError(w, http.StatusInternalServerError, "token update failed")
			return
		}
	}

	setupURL := importer.SetupURL(s.cfg.Import.BaseURL, token)
	if err := s.sender.SendInvite(r.Context(), rec.Email, rec.Name, setupURL); err != nil {
		log.Warn("resend delivery failed", "email", email, "error", err)
		writeError(w, http.StatusBadGateway, "provisioning email could not be delivered")
		return
	}

	if err := s.accounts.Activate(r.Context(), email); err != nil {
		log.Error("activate after resend failed", "email", email, "error", err)
		writeError(w, http.StatusInternalServerError, "account activation failed")
		return
	}

	log.Info("provisioning email resent", "email", email)
	writeJSON(w, resendResponse{Email: email, Status: store.StatusActive, Notified: true})
}

// handleHealth reports service and database health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.accounts.Ping(ctx); err != nil {
		writeError(w, http.StatusServiceUnavailable, "database unreachable")
		return
	}
	writeJSON(w, map[string]string{"status": "ok"})
}
