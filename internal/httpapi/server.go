package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"sessiongate.local/gateway/internal/journal"
	"sessiongate.local/gateway/internal/metrics"
	"sessiongate.local/gateway/internal/session"
	"sessiongate.local/gateway/internal/validate"
)

const (
	maxSendBodyBytes int64 = 64 << 10
	maxHistoryLimit        = 500
)

var knownRoutes = []string{
	"GET /healthz",
	"GET /metrics",
	"GET /sessions",
	"GET /session/{tenantId}/status",
	"GET /session/{tenantId}/qr",
	"GET /session/{tenantId}/info",
	"GET /session/{tenantId}/profile-pic",
	"GET /session/{tenantId}/history",
	"POST /session/{tenantId}/send",
	"POST /session/{tenantId}/reconnect",
	"DELETE /session/{tenantId}/logout",
}

type server struct {
	logger  zerolog.Logger
	manager *session.Manager
	history journal.Store
	metrics *metrics.Metrics
}

// NewServer builds the public HTTP server. history and mx may be nil.
func NewServer(logger zerolog.Logger, addr string, manager *session.Manager, history journal.Store, mx *metrics.Metrics) *http.Server {
	h := &server{
		logger:  logger.With().Str("component", "httpapi").Logger(),
		manager: manager,
		history: history,
		metrics: mx,
	}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", h.handleHealth)
	if mx != nil {
		mux.Handle("GET /metrics", mx.Handler())
	}
	mux.HandleFunc("GET /sessions", h.handleList)
	mux.HandleFunc("GET /session/{tenantId}/status", h.tenant(h.handleStatus))
	mux.HandleFunc("GET /session/{tenantId}/qr", h.tenant(h.handleQR))
	mux.HandleFunc("GET /session/{tenantId}/info", h.tenant(h.handleInfo))
	mux.HandleFunc("GET /session/{tenantId}/profile-pic", h.tenant(h.handleProfilePicture))
	mux.HandleFunc("GET /session/{tenantId}/history", h.tenant(h.handleHistory))
	mux.HandleFunc("POST /session/{tenantId}/send", h.tenant(h.handleSend))
	mux.HandleFunc("POST /session/{tenantId}/reconnect", h.tenant(h.handleReconnect))
	mux.HandleFunc("DELETE /session/{tenantId}/logout", h.tenant(h.handleLogout))
	mux.HandleFunc("/", h.handleNotFound)

	return &http.Server{
		Addr:              addr,
		Handler:           h.middleware(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}
}

func (s *server) middleware(next http.Handler) http.Handler {
	access := hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		hlog.FromRequest(r).Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Int("size", size).
			Dur("duration", duration).
			Msg("request")
	})
	return hlog.NewHandler(s.logger)(
		hlog.RequestIDHandler("request_id", "X-Request-Id")(
			access(s.recoverer(next)),
		),
	)
}

func (s *server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				hlog.FromRequest(r).Error().
					Interface("panic", rec).
					Str("path", r.URL.Path).
					Msg("handler panicked")
				writeError(w, http.StatusInternalServerError, "internal error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

type tenantHandler func(w http.ResponseWriter, r *http.Request, tenantID string)

// tenant rejects malformed tenant ids before the handler runs.
func (s *server) tenant(next tenantHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID := r.PathValue("tenantId")
		if err := validate.TenantID(tenantID); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		next(w, r, tenantID)
	}
}

func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	registry := s.manager.Registry()
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":            true,
		"live_sessions": registry.Len(),
		"capacity":      registry.Capacity(),
	})
}

func (s *server) handleList(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"sessions": s.manager.List()})
}

func (s *server) handleStatus(w http.ResponseWriter, _ *http.Request, tenantID string) {
	status, err := s.manager.Status(tenantID)
	if err != nil {
		s.writeManagerError(w, tenantID, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"tenant_id": tenantID,
		"status":    status,
	})
}

func (s *server) handleQR(w http.ResponseWriter, r *http.Request, tenantID string) {
	res, err := s.manager.QR(r.Context(), tenantID)
	if err != nil {
		if errors.Is(err, session.ErrResumeBackoff) {
			writeJSON(w, http.StatusAccepted, map[string]any{
				"tenant_id": tenantID,
				"status":    session.StatusInitializing,
				"message":   err.Error(),
			})
			return
		}
		s.writeManagerError(w, tenantID, err)
		return
	}

	switch res.State {
	case session.QRStateConnected:
		writeJSON(w, http.StatusOK, map[string]any{
			"tenant_id": tenantID,
			"status":    res.Status,
			"connected": true,
		})
	case session.QRStateAvailable:
		writeJSON(w, http.StatusOK, map[string]any{
			"tenant_id": tenantID,
			"status":    res.Status,
			"qr":        res.Payload,
		})
	default:
		body := map[string]any{
			"tenant_id": tenantID,
			"status":    res.Status,
			"message":   "authentication code not ready, poll again",
		}
		if res.Detail != "" {
			body["error"] = res.Detail
		}
		writeJSON(w, http.StatusAccepted, body)
	}
}

func (s *server) handleInfo(w http.ResponseWriter, r *http.Request, tenantID string) {
	info, err := s.manager.Info(r.Context(), tenantID)
	if err != nil {
		s.writeManagerError(w, tenantID, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"tenant_id": tenantID,
		"info":      info,
	})
}

func (s *server) handleProfilePicture(w http.ResponseWriter, r *http.Request, tenantID string) {
	url, err := s.manager.ProfilePicture(r.Context(), tenantID)
	if err != nil {
		s.writeManagerError(w, tenantID, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"tenant_id": tenantID,
		"url":       url,
	})
}

func (s *server) handleSend(w http.ResponseWriter, r *http.Request, tenantID string) {
	defer r.Body.Close()
	body, err := io.ReadAll(io.LimitReader(r.Body, maxSendBodyBytes+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "read body failed")
		return
	}
	if int64(len(body)) > maxSendBodyBytes {
		writeError(w, http.StatusBadRequest, "request body too large")
		return
	}

	req, err := decodeSendRequest(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := s.manager.Send(r.Context(), tenantID, req.Destination, req.Body)
	if err != nil {
		s.writeManagerError(w, tenantID, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"tenant_id":  tenantID,
		"message_id": res.MessageID,
		"sent":       true,
	})
}

func (s *server) handleReconnect(w http.ResponseWriter, r *http.Request, tenantID string) {
	rec, err := s.manager.Reconnect(r.Context(), tenantID)
	if err != nil {
		s.writeManagerError(w, tenantID, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"tenant_id": tenantID,
		"status":    rec.Status,
	})
}

func (s *server) handleLogout(w http.ResponseWriter, r *http.Request, tenantID string) {
	if err := s.manager.Logout(r.Context(), tenantID); err != nil {
		s.writeManagerError(w, tenantID, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"tenant_id": tenantID,
		"status":    session.StatusDisconnected,
	})
}

func (s *server) handleHistory(w http.ResponseWriter, r *http.Request, tenantID string) {
	if s.history == nil {
		writeError(w, http.StatusNotImplemented, "history not configured")
		return
	}
	limit := journal.DefaultLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > maxHistoryLimit {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("limit must be between 1 and %d", maxHistoryLimit))
			return
		}
		limit = parsed
	}

	items, err := s.history.Recent(r.Context(), tenantID, limit)
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Str("tenant_id", tenantID).Msg("load history failed")
		writeError(w, http.StatusInternalServerError, "load history failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"tenant_id":     tenantID,
		"notifications": items,
	})
}

func (s *server) handleNotFound(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusNotFound, map[string]any{
		"error":  "route not found",
		"routes": knownRoutes,
	})
}

func (s *server) writeManagerError(w http.ResponseWriter, tenantID string, err error) {
	status := statusForError(err)
	if status == http.StatusInternalServerError {
		s.logger.Error().Err(err).Str("tenant_id", tenantID).Msg("request failed")
	}
	writeError(w, status, err.Error())
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, session.ErrInvalidTenantID),
		errors.Is(err, validate.ErrInvalidTenantID),
		errors.Is(err, validate.ErrInvalidDest),
		errors.Is(err, validate.ErrInvalidBody),
		errors.Is(err, validate.ErrMissingField),
		errors.Is(err, validate.ErrFieldNotString):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrAtCapacity), errors.Is(err, session.ErrManagerClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, session.ErrNotReady):
		return http.StatusConflict
	case errors.Is(err, session.ErrInfoPending), errors.Is(err, session.ErrResumeBackoff):
		return http.StatusAccepted
	default:
		return http.StatusInternalServerError
	}
}

type sendRequest struct {
	Destination string
	Body        string
}

// decodeSendRequest requires destination and body to be present JSON strings.
func decodeSendRequest(raw []byte) (sendRequest, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return sendRequest{}, fmt.Errorf("invalid json: %v", err)
	}
	destination, err := stringField(fields, "destination")
	if err != nil {
		return sendRequest{}, err
	}
	body, err := stringField(fields, "body")
	if err != nil {
		return sendRequest{}, err
	}
	return sendRequest{Destination: destination, Body: body}, nil
}

func stringField(fields map[string]json.RawMessage, name string) (string, error) {
	raw, ok := fields[name]
	if !ok || string(raw) == "null" {
		return "", fmt.Errorf("%w: %s", validate.ErrMissingField, name)
	}
	var value string
	if err := json.Unmarshal(raw, &value); err != nil {
		return "", fmt.Errorf("%w: %s", validate.ErrFieldNotString, name)
	}
	return value, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": message})
}
