// Package httpapi exposes the login correlation flow over HTTP: flow start,
// watch notification via server-sent events with a chunked JSON fallback,
// the remote node callback, and a health probe.
package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	apperrors "github.com/warrelis/loginrelay/internal/platform/errors"
	"github.com/warrelis/loginrelay/internal/platform/timeouts"
	"github.com/warrelis/loginrelay/internal/services/relay/domain"
	"github.com/warrelis/loginrelay/internal/services/relay/service"
	"github.com/warrelis/loginrelay/internal/services/relay/stream"
)

// SessionCookie carries the browser session marker between logins.
const SessionCookie = "relay_session"

const healthPath = "/healthz"

// Handler serves the relay HTTP surface.
type Handler struct {
	svc    *service.Correlation
	tracer trace.Tracer
}

// New builds the handler for a correlation service.
func New(svc *service.Correlation) *Handler {
	return &Handler{
		svc:    svc,
		tracer: otel.Tracer("loginrelay/httpapi"),
	}
}

// Routes registers the relay endpoints on a fresh mux.
func (h *Handler) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc(service.StartPath, h.handleStart)
	mux.HandleFunc(service.WatchPathPrefix, h.handleWatch)
	mux.HandleFunc(service.CallbackPathPrefix, h.handleCallback)
	mux.HandleFunc(healthPath, h.handleHealth)
	return mux
}

func (h *Handler) handleStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	ctx, span := h.tracer.Start(r.Context(), "relay.start")
	defer span.End()

	var req domain.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.Wrap(apperrors.CodeRedirectURIRequired, "decode login request", err))
		return
	}
	started, err := h.svc.StartFlow(ctx, req)
	if err != nil {
		writeError(w, err)
		return
	}
	span.SetAttributes(attribute.String("relay.token", string(started.Token)))
	writeJSON(w, http.StatusCreated, started)
}

func (h *Handler) handleWatch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	token, ok := pathToken(r.URL.Path, service.WatchPathPrefix)
	if !ok {
		writeError(w, apperrors.New(apperrors.CodeTokenRequired, "watch token is required"))
		return
	}
	ctx, span := h.tracer.Start(r.Context(), "relay.watch",
		trace.WithAttributes(attribute.String("relay.token", string(token))))
	defer span.End()

	outcome, err := h.svc.Watch(ctx, token, sessionMarker(r))
	if err != nil {
		writeError(w, err)
		return
	}

	sse := wantsEventStream(r)
	if outcome.Result != nil {
		// The session already carries a completed login; answer without
		// holding the connection open.
		data, err := json.Marshal(outcome.Result)
		if err != nil {
			writeError(w, fmt.Errorf("encode result: %w", err))
			return
		}
		ev := stream.Event{Name: domain.EventLoggedIn, Data: data}
		if sse {
			startEventStream(w)
			writeSSE(w, ev)
		} else {
			startChunked(w)
			writeChunk(w, ev)
		}
		return
	}

	defer h.svc.ReleaseWatch(token, outcome.Output)

	if sse {
		startEventStream(w)
	} else {
		startChunked(w)
	}

	select {
	case <-ctx.Done():
	case ev, open := <-outcome.Output.Events():
		if !open {
			return
		}
		if sse {
			writeSSE(w, ev)
		} else {
			writeChunk(w, ev)
		}
	}
}

func (h *Handler) handleCallback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	token, ok := pathToken(r.URL.Path, service.CallbackPathPrefix)
	if !ok {
		writeError(w, apperrors.New(apperrors.CodeTokenRequired, "callback token is required"))
		return
	}
	ctx, span := h.tracer.Start(r.Context(), "relay.callback",
		trace.WithAttributes(attribute.String("relay.token", string(token))))
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, timeouts.CallbackResolve)
	defer cancel()

	var assertion domain.Assertion
	if err := json.NewDecoder(r.Body).Decode(&assertion); err != nil {
		writeError(w, apperrors.Wrap(apperrors.CodeAssertionRequired, "decode assertion", err))
		return
	}
	if _, err := h.svc.HandleCallback(ctx, token, assertion); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !h.svc.Healthy() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// pathToken extracts the token segment after prefix. Nested paths are
// rejected so tokens cannot smuggle separators.
func pathToken(path, prefix string) (domain.Token, bool) {
	rest := strings.TrimPrefix(path, prefix)
	if rest == "" || rest == path || strings.Contains(rest, "/") {
		return "", false
	}
	return domain.Token(rest), true
}

func sessionMarker(r *http.Request) string {
	cookie, err := r.Cookie(SessionCookie)
	if err != nil || cookie == nil {
		return ""
	}
	return cookie.Value
}

func wantsEventStream(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "text/event-stream")
}

func startEventStream(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flush(w)
}

func startChunked(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flush(w)
}

func writeSSE(w http.ResponseWriter, ev stream.Event) {
	if ev.ID != "" {
		fmt.Fprintf(w, "id: %s\n", ev.ID)
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Name, ev.Data)
	flush(w)
}

// writeChunk emits one JSON line per event for clients that cannot consume
// server-sent events.
func writeChunk(w http.ResponseWriter, ev stream.Event) {
	payload := struct {
		Event string          `json:"event"`
		Data  json.RawMessage `json:"data"`
	}{Event: ev.Name, Data: ev.Data}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("write chunk: %v", err)
		return
	}
	flush(w)
}

func flush(w http.ResponseWriter) {
	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("write response: %v", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	code := apperrors.CodeOf(err)
	status := code.HTTPStatus()
	if status >= http.StatusInternalServerError {
		log.Printf("request failed: %v", err)
	}
	writeJSON(w, status, map[string]string{"error": wireCode(code)})
}

// wireCode maps internal error codes to the stable strings clients match on.
func wireCode(code apperrors.Code) string {
	switch code {
	case apperrors.CodeUnknownToken:
		return "unknown_token"
	case apperrors.CodeNoMatchingUser:
		return "no_matching_user"
	case apperrors.CodeAlreadyWatching:
		return "already_watching"
	case apperrors.CodeTokenRequired:
		return "token_required"
	case apperrors.CodeRedirectURIRequired:
		return "redirect_uri_required"
	case apperrors.CodeRedirectURIInvalid:
		return "redirect_uri_invalid"
	case apperrors.CodeAssertionRequired:
		return "assertion_required"
	case apperrors.CodeSecretRejected:
		return "secret_rejected"
	default:
		return "internal"
	}
}
