// Package proxy serves /api/complete: it forwards completion requests with
// the server-held key and enforces a per-IP quota.
package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"scribe/api/internal/completion"
	"scribe/api/internal/ratelimit"
	"scribe/api/internal/state"
)

const maxBodyBytes = 1 << 20

// ErrQuotaExceeded is returned when the caller has used up its quota.
var ErrQuotaExceeded = errors.New("completion quota exceeded")

// InvalidRequestError rejects a request body before it reaches the quota.
type InvalidRequestError struct {
	Message string
}

func (e *InvalidRequestError) Error() string {
	return "invalid completion request: " + e.Message
}

type Handler struct {
	limiter           ratelimit.Limiter
	upstream          Upstream
	logger            *zap.Logger
	trustProxyHeaders bool
	now               func() time.Time
}

func NewHandler(limiter ratelimit.Limiter, upstream Upstream, trustProxyHeaders bool, logger *zap.Logger) *Handler {
	if limiter == nil {
		limiter = ratelimit.Unlimited{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		limiter:           limiter,
		upstream:          upstream,
		logger:            logger,
		trustProxyHeaders: trustProxyHeaders,
		now:               time.Now,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Only POST is supported")
		return
	}

	var req completion.Request
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "Request body must be valid JSON")
		return
	}

	body, decision, err := h.Complete(r.Context(), ClientIP(r, h.trustProxyHeaders), req)
	decision.WriteHeaders(w.Header())
	if err != nil {
		var invalid *InvalidRequestError
		var upErr *UpstreamError
		switch {
		case errors.As(err, &invalid):
			writeError(w, http.StatusBadRequest, "invalid_body", invalid.Message)
		case errors.Is(err, ErrQuotaExceeded):
			w.Header().Set("Retry-After", strconv.Itoa(decision.RetryAfter(h.now())))
			writeError(w, http.StatusTooManyRequests, "rate_limited", "Too many requests")
		case errors.As(err, &upErr):
			writeError(w, upErr.StatusCode, "upstream_error", upErr.Message)
		default:
			writeError(w, http.StatusBadGateway, "upstream_unavailable", "Completion service unavailable")
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

// Complete validates req, counts it against the quota of ip and forwards it
// upstream. Invalid requests are rejected before they consume quota. The
// decision is returned even when the call fails so callers can report the
// remaining quota.
func (h *Handler) Complete(ctx context.Context, ip string, req completion.Request) (json.RawMessage, ratelimit.Decision, error) {
	noQuota := ratelimit.Decision{Limit: -1}
	if msg := validate(req); msg != "" {
		return nil, noQuota, &InvalidRequestError{Message: msg}
	}

	decision, err := h.limiter.Allow(ctx, ip)
	if err != nil {
		h.logger.Warn("rate limiter unavailable, allowing request", zap.String("ip", ip), zap.Error(err))
		decision = ratelimit.Decision{Allowed: true, Limit: -1}
	}
	if !decision.Allowed {
		h.logger.Info("completion quota exceeded", zap.String("ip", ip))
		return nil, decision, ErrQuotaExceeded
	}

	body, err := h.upstream.Complete(ctx, req)
	if err != nil {
		var upErr *UpstreamError
		if errors.As(err, &upErr) {
			h.logger.Warn("upstream rejected completion", zap.Int("status", upErr.StatusCode), zap.String("message", upErr.Message))
		} else {
			h.logger.Error("upstream call failed", zap.Error(err))
		}
		return nil, decision, err
	}
	return body, decision, nil
}

func validate(req completion.Request) string {
	switch {
	case strings.TrimSpace(req.Prompt) == "":
		return "prompt is required"
	case req.MaxTokens < 1 || req.MaxTokens > state.MaxTokensLimit:
		return "max_tokens must be between 1 and " + strconv.Itoa(state.MaxTokensLimit)
	case math.IsNaN(req.Temperature) || req.Temperature < 0 || req.Temperature > 1:
		return "temperature must be between 0 and 1"
	case req.BestOf < 0:
		return "best_of must not be negative"
	}
	return ""
}

// ClientIP picks the caller address. Forwarding headers are only honoured
// when the server sits behind a trusted proxy.
func ClientIP(r *http.Request, trustProxyHeaders bool) string {
	if trustProxyHeaders {
		if ip := strings.TrimSpace(r.Header.Get("CF-Connecting-IP")); ip != "" {
			return ip
		}
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			first, _, _ := strings.Cut(fwd, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
		if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"code":  code,
		"error": message,
	})
}
