// Package httpapi wires the occupation coordinator to its HTTP surface.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"pkt.systems/occupd/api"
	"pkt.systems/occupd/internal/bus"
	"pkt.systems/occupd/internal/clock"
	"pkt.systems/occupd/internal/core"
	"pkt.systems/occupd/internal/correlation"
	"pkt.systems/occupd/internal/svcfields"
	"pkt.systems/occupd/internal/uuidv7"
	"pkt.systems/pslog"
)

const headerCorrelationID = "X-Correlation-Id"

const defaultJSONMaxBytes = 1 << 20

// Handler wires HTTP endpoints to coordinator operations.
type Handler struct {
	core         *core.Service
	bus          bus.Bus
	logger       pslog.Logger
	clock        clock.Clock
	jsonMaxBytes int64
	heartbeat    time.Duration
	ready        func() bool
}

// Config configures a Handler.
type Config struct {
	Core   *core.Service
	Bus    bus.Bus
	Logger pslog.Logger
	Clock  clock.Clock
	// JSONMaxBytes caps request body size; defaults to 1 MiB.
	JSONMaxBytes int64
	// SSEHeartbeat is the keep-alive comment interval on /v1/events;
	// defaults to 15 seconds.
	SSEHeartbeat time.Duration
	// Ready gates /readyz; nil means always ready.
	Ready func() bool
}

// New builds the handler.
func New(cfg Config) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = pslog.NoopLogger()
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real{}
	}
	maxBytes := cfg.JSONMaxBytes
	if maxBytes <= 0 {
		maxBytes = defaultJSONMaxBytes
	}
	heartbeat := cfg.SSEHeartbeat
	if heartbeat <= 0 {
		heartbeat = 15 * time.Second
	}
	return &Handler{
		core:         cfg.Core,
		bus:          cfg.Bus,
		logger:       logger,
		clock:        clk,
		jsonMaxBytes: maxBytes,
		heartbeat:    heartbeat,
		ready:        cfg.Ready,
	}
}

// Routes registers all endpoints on mux.
func (h *Handler) Routes(mux *http.ServeMux) {
	mux.Handle("/v1/take", h.wrap("take", h.handleTake))
	mux.Handle("/v1/pause", h.wrap("pause", h.handlePause))
	mux.Handle("/v1/finish", h.wrap("finish", h.handleFinish))
	mux.Handle("/v1/inspection", h.wrap("inspection", h.handleInspection))
	mux.Handle("/v1/repair/start", h.wrap("repair.start", h.handleRepairStart))
	mux.Handle("/v1/repair/complete", h.wrap("repair.complete", h.handleRepairComplete))
	mux.Handle("/v1/unit", h.wrap("unit.get", h.handleGetUnit))
	mux.Handle("/v1/units", h.wrap("unit.list", h.handleListUnits))
	mux.Handle("/v1/resolve", h.wrap("unit.resolve", h.handleResolve))
	mux.Handle("/v1/events", h.wrap("events", h.handleEvents))
	mux.HandleFunc("/healthz", h.handleHealthz)
	mux.HandleFunc("/readyz", h.handleReadyz)
}

type handlerFunc func(http.ResponseWriter, *http.Request) error

func (h *Handler) wrap(operation string, fn handlerFunc) http.Handler {
	sys := svcfields.Subsystem("httpapi", operation)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ctx := r.Context()
		reqID := uuidv7.NewString()

		logger := svcfields.WithSubsystem(h.logger, sys).With(
			"req_id", reqID,
			"method", r.Method,
			"path", r.URL.Path,
		)
		if corr := strings.TrimSpace(r.Header.Get(headerCorrelationID)); corr != "" {
			if normalized, ok := correlation.Normalize(corr); ok {
				ctx = correlation.Set(ctx, normalized)
			}
		}
		if !correlation.Has(ctx) {
			ctx = correlation.Set(ctx, correlation.Generate())
		}
		logger = logger.With("correlation_id", correlation.ID(ctx))
		ctx = pslog.ContextWithLogger(ctx, logger)
		r = r.WithContext(ctx)

		w.Header().Set(headerCorrelationID, correlation.ID(ctx))

		if err := fn(w, r); err != nil {
			logger.Debug("http.request.error", "elapsed", time.Since(start), "error", err)
			h.handleError(ctx, w, err)
			return
		}
		logger.Debug("http.request.complete", "elapsed", time.Since(start))
	})
}

type httpError struct {
	Status     int
	Code       string
	Detail     string
	Version    int64
	RetryAfter int64
}

func (e httpError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Detail)
}

// convertCoreError maps transport-neutral core failures onto HTTP-aware
// errors.
func convertCoreError(err error) error {
	var failure core.Failure
	if errors.As(err, &failure) {
		status := failure.HTTPStatus
		if status == 0 {
			status = http.StatusInternalServerError
		}
		return httpError{
			Status:     status,
			Code:       failure.Code,
			Detail:     failure.Detail,
			Version:    failure.Version,
			RetryAfter: failure.RetryAfter,
		}
	}
	return err
}

func (h *Handler) handleError(ctx context.Context, w http.ResponseWriter, err error) {
	logger := pslog.LoggerFromContext(ctx)
	if logger == nil {
		logger = h.logger
	}
	var httpErr httpError
	if errors.As(err, &httpErr) {
		logger.Debug("http.request.failure",
			"status", httpErr.Status,
			"code", httpErr.Code,
			"detail", httpErr.Detail,
		)
		resp := api.ErrorResponse{
			ErrorCode:         httpErr.Code,
			Detail:            httpErr.Detail,
			CurrentVersion:    httpErr.Version,
			RetryAfterSeconds: httpErr.RetryAfter,
		}
		headers := map[string]string{}
		if httpErr.RetryAfter > 0 {
			headers["Retry-After"] = strconv.FormatInt(httpErr.RetryAfter, 10)
		}
		h.writeJSON(w, httpErr.Status, resp, headers)
		return
	}
	logger.Error("http.request.internal", "error", err)
	h.writeJSON(w, http.StatusInternalServerError, api.ErrorResponse{
		ErrorCode: "internal_error",
		Detail:    "internal server error",
	}, nil)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, payload any, headers map[string]string) {
	w.Header().Set("Content-Type", "application/json")
	for k, v := range headers {
		w.Header().Set(k, v)
	}
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Warn("http.response.encode_failed", "error", err)
	}
}

func (h *Handler) decodeJSON(r *http.Request, dst any) error {
	body := http.MaxBytesReader(nil, r.Body, h.jsonMaxBytes)
	defer func() {
		_, _ = io.Copy(io.Discard, body)
	}()
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return httpError{
			Status: http.StatusBadRequest,
			Code:   "invalid_json",
			Detail: err.Error(),
		}
	}
	return nil
}

func requirePost(r *http.Request) error {
	if r.Method != http.MethodPost {
		return httpError{
			Status: http.StatusMethodNotAllowed,
			Code:   "method_not_allowed",
			Detail: "supported methods: POST",
		}
	}
	return nil
}

func (h *Handler) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}` + "\n"))
}

func (h *Handler) handleReadyz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if h.ready != nil && !h.ready() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"status":"draining"}` + "\n"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ready"}` + "\n"))
}
