package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/oshokin/ucb-deployer/internal/domain/build"
	"github.com/oshokin/ucb-deployer/internal/logger"
	"github.com/oshokin/ucb-deployer/internal/metrics"
	"github.com/oshokin/ucb-deployer/internal/notification"
	"github.com/oshokin/ucb-deployer/internal/service/ingest"
	"github.com/oshokin/ucb-deployer/internal/signature"
)

// Request headers set by Unity Cloud Build.
const (
	SignatureHeader = "X-UnityCloudBuild-Signature"
	EventHeader     = "X-Unity-Event"
)

// DefaultMaxBodySize is 1 MiB; UCB payloads are a few kilobytes.
const DefaultMaxBodySize = 1 << 20

// Dispatcher accepts parsed events for asynchronous processing.
type Dispatcher interface {
	Dispatch(event build.Event) error
}

// Options configure the router.
type Options struct {
	// Path is the webhook route, "/" when empty.
	Path string
	// MaxBodySize caps request bodies.
	MaxBodySize int64
	// Verifier authenticates deliveries.
	Verifier *signature.Verifier
	// Dispatcher receives accepted events.
	Dispatcher Dispatcher
	// Metrics is optional.
	Metrics *metrics.Metrics
	// MetricsPath serves Metrics when both are set.
	MetricsPath string
}

// Response is the JSON body of webhook answers.
type Response struct {
	OK bool `json:"ok"`
}

type handler struct {
	ctx  context.Context //nolint:containedctx // Carries the base logger into requests.
	opts Options
}

// NewRouter builds the chi router. ctx supplies the base logger.
func NewRouter(ctx context.Context, opts Options) http.Handler {
	if opts.Path == "" {
		opts.Path = "/"
	}

	if opts.MaxBodySize <= 0 {
		opts.MaxBodySize = DefaultMaxBodySize
	}

	h := &handler{ctx: logger.WithName(ctx, "webhook"), opts: opts}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(h.logRequests)
	r.Use(middleware.Recoverer)

	r.Post(opts.Path, h.handleDelivery)

	if opts.Metrics != nil && opts.MetricsPath != "" {
		r.Method(http.MethodGet, opts.MetricsPath, opts.Metrics.Handler())
	}

	return r
}

// logRequests attaches a request-scoped logger and logs every answered request.
// Bodies are never logged.
func (h *handler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		ctx := logger.WithKV(h.ctx, "request_id", middleware.GetReqID(r.Context()))
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r.WithContext(logger.ToContext(r.Context(), logger.FromContext(ctx))))

		took := time.Since(started)
		h.opts.Metrics.ObserveRequest(ww.Status(), took)

		logger.InfoKV(ctx, "Webhook request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", took,
			"remote_addr", r.RemoteAddr)
	})
}

func (h *handler) handleDelivery(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	body, err := io.ReadAll(io.LimitReader(r.Body, h.opts.MaxBodySize+1))
	if err != nil {
		respondJSON(w, http.StatusBadRequest, Response{OK: false})

		return
	}

	if int64(len(body)) > h.opts.MaxBodySize {
		respondJSON(w, http.StatusRequestEntityTooLarge, Response{OK: false})

		return
	}

	if !h.opts.Verifier.Verify(body, r.Header.Get(SignatureHeader)) {
		logger.Warn(ctx, "Webhook signature verification failed")
		http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)

		return
	}

	event, err := notification.Parse(r.Header.Get(EventHeader), body)
	switch {
	case errors.Is(err, notification.ErrWrongEventType):
		logger.InfoKV(ctx, "Ignoring webhook event", "event", r.Header.Get(EventHeader))
		respondJSON(w, http.StatusOK, Response{OK: false})

		return
	case err != nil:
		logger.WarnKV(ctx, "Rejected webhook payload", "error", err)
		respondJSON(w, http.StatusBadRequest, Response{OK: false})

		return
	}

	if err = h.opts.Dispatcher.Dispatch(event); err != nil {
		reason := "busy"
		if errors.Is(err, ingest.ErrStopped) {
			reason = "stopping"
		}

		logger.WarnKV(ctx, "Could not accept build", "reason", reason, "error", err,
			"project", event.ProjectName, "target", event.TargetName)
		respondJSON(w, http.StatusServiceUnavailable, Response{OK: false})

		return
	}

	logger.InfoKV(ctx, "Build accepted", "project", event.ProjectName, "target", event.TargetName)
	respondJSON(w, http.StatusOK, Response{OK: true})
}

func respondJSON(w http.ResponseWriter, status int, body Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
