// Package api exposes the host event ingress and the operator flush command
// over HTTP.
package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/bryonbaker/playerstats/internal/flush"
	"github.com/bryonbaker/playerstats/internal/metrics"
	"github.com/bryonbaker/playerstats/internal/models"
)

// maxEventBytes bounds the size of a single event body.
const maxEventBytes = 64 << 10

// EventHandler consumes validated host events. *ingest.Ingestor satisfies
// this interface.
type EventHandler interface {
	Handle(ev models.Event) error
}

// FlushTrigger runs a manual flush. *scheduler.Scheduler satisfies this
// interface.
type FlushTrigger interface {
	Trigger(ctx context.Context) (models.FlushResult, error)
}

// EventsHandler accepts one JSON event per POST. At most maxInFlight
// requests are handled at once; the rest get 429.
type EventsHandler struct {
	handler EventHandler
	sem     *semaphore.Weighted
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewEventsHandler creates an EventsHandler.
func NewEventsHandler(h EventHandler, maxInFlight int, m *metrics.Metrics, logger *zap.Logger) *EventsHandler {
	if maxInFlight < 1 {
		maxInFlight = 1
	}
	return &EventsHandler{
		handler: h,
		sem:     semaphore.NewWeighted(int64(maxInFlight)),
		metrics: m,
		logger:  logger,
	}
}

func (h *EventsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	if !h.sem.TryAcquire(1) {
		h.metrics.RecordEventRejected("busy")
		writeError(w, http.StatusTooManyRequests, "too many events in flight")
		return
	}
	defer h.sem.Release(1)
	h.metrics.EventsInFlight.Inc()
	defer h.metrics.EventsInFlight.Dec()

	var ev models.Event
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxEventBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&ev); err != nil {
		h.metrics.RecordEventRejected("malformed")
		writeError(w, http.StatusBadRequest, "malformed event: "+err.Error())
		return
	}

	if err := h.handler.Handle(ev); err != nil {
		h.logger.Debug("event rejected", zap.String("type", string(ev.Type)), zap.Error(err))
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	w.WriteHeader(http.StatusAccepted)
}

// FlushHandler runs a manual flush for callers presenting the operator token
// as "Authorization: Bearer <token>". An empty configured token disables the
// command.
type FlushHandler struct {
	trigger FlushTrigger
	token   string
	logger  *zap.Logger
}

// NewFlushHandler creates a FlushHandler.
func NewFlushHandler(t FlushTrigger, token string, logger *zap.Logger) *FlushHandler {
	return &FlushHandler{
		trigger: t,
		token:   token,
		logger:  logger,
	}
}

func (h *FlushHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	presented, ok := bearerToken(r)
	if !ok {
		w.Header().Set("WWW-Authenticate", "Bearer")
		writeError(w, http.StatusUnauthorized, "missing operator token")
		return
	}
	if h.token == "" || subtle.ConstantTimeCompare([]byte(presented), []byte(h.token)) != 1 {
		h.logger.Warn("manual flush rejected", zap.String("remote_addr", r.RemoteAddr))
		writeError(w, http.StatusForbidden, "you do not have permission to flush stats")
		return
	}

	res, err := h.trigger.Trigger(r.Context())
	resp := models.FlushResponse{
		Status:  "ok",
		Players: res.Players,
		Columns: res.Columns,
		Failed:  res.Failed,
	}
	switch {
	case err == nil:
	case errors.Is(err, flush.ErrPartialFlush):
		resp.Status = "partial"
	default:
		h.logger.Error("manual flush failed", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}

	h.logger.Info("manual flush completed",
		zap.String("status", resp.Status),
		zap.Int("players", resp.Players),
		zap.Int("failed", resp.Failed),
	)
	writeJSON(w, http.StatusOK, resp)
}

// bearerToken extracts the token from an "Authorization: Bearer" header.
func bearerToken(r *http.Request) (string, bool) {
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(auth) <= len(prefix) || !strings.EqualFold(auth[:len(prefix)], prefix) {
		return "", false
	}
	return strings.TrimSpace(auth[len(prefix):]), true
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, models.ErrorResponse{Error: msg})
}
