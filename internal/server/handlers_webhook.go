package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/Lew-Ashby/Token-Flow-API/internal/tenant"
)

// handleWebhook receives marketplace lifecycle events. Order matters:
// content type, body, signature over the raw bytes, replay window, then
// the processor. Handler failures return 5xx so the marketplace retries.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if ct := r.Header.Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
		writeError(w, r, http.StatusBadRequest, codeInvalidRequest, "content type must be application/json")
		return
	}

	rawBody, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, codeInvalidRequest, "unreadable body")
		return
	}

	signature := r.Header.Get("x-webhook-signature")
	if !tenant.VerifySignature(s.cfg.Tenant.WebhookSecret, rawBody, signature) {
		s.logger.Warn("webhook signature rejected", "request_id", requestIDFrom(r.Context()))
		writeError(w, r, http.StatusUnauthorized, codeUnauthenticated, "invalid webhook signature")
		return
	}

	var event tenant.Event
	dec := json.NewDecoder(strings.NewReader(string(rawBody)))
	if err := dec.Decode(&event); err != nil || dec.More() {
		writeError(w, r, http.StatusBadRequest, codeInvalidRequest, "body is not a webhook event")
		return
	}

	if err := s.webhooks.CheckReplay(&event); err != nil {
		writeError(w, r, http.StatusBadRequest, codeInvalidRequest, err.Error())
		return
	}

	result, err := s.webhooks.Process(r.Context(), &event, rawBody)
	if err != nil {
		switch {
		case errors.Is(err, tenant.ErrUnknownEvent):
			writeError(w, r, http.StatusBadRequest, codeUnknownEvent, err.Error())
		case errors.Is(err, tenant.ErrUserNotFound):
			writeError(w, r, http.StatusNotFound, codeNotFound, "user not found")
		default:
			// Leaves processed=false on the audit row; the source retries.
			writeError(w, r, http.StatusInternalServerError, codeInternal, "webhook processing failed")
		}
		return
	}

	status := http.StatusOK
	if resp, ok := result.(*tenant.SubscribedResponse); ok && resp.Created {
		status = http.StatusCreated
	}
	writeJSON(w, status, result)
}
