// handlers_stream.go — the protected media delivery endpoint.
// GET /media/stream?media_src=...&expires=...&media_token=...[&ip=...][&device_id=...]
package mediagate

import (
	"net/http"
	"strconv"

	"github.com/adschi/mediagate/internal/auth"
	"github.com/adschi/mediagate/internal/gate"
	"github.com/adschi/mediagate/internal/link"
	"github.com/adschi/mediagate/internal/logger"
	"github.com/adschi/mediagate/internal/metrics"
	"github.com/adschi/mediagate/internal/ratelimit"
)

// handleStream validates the request against the access gate and, on allow,
// streams the resolved file honoring a single byte range.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()
	clientIP := ratelimit.ClientIP(r)
	deviceID := q.Get(link.ParamDevice)

	if ok, retry := s.limiter.CheckStream(ctx, deviceID, clientIP); !ok {
		w.Header().Set("Retry-After", strconv.Itoa(retry))
		writeError(w, http.StatusTooManyRequests, "rate_limited", "too many requests")
		return
	}

	req := gate.Request{
		Src:       q.Get(link.ParamSrc),
		Expires:   q.Get(link.ParamExpires),
		Token:     q.Get(link.ParamToken),
		IP:        q.Get(link.ParamIP),
		DeviceID:  deviceID,
		ClientIP:  clientIP,
		UserAgent: r.UserAgent(),
	}
	if sess := auth.SessionFromContext(ctx); sess != nil {
		req.Authenticated = true
		req.AccountID = sess.AccountID
	}

	decision := s.validator.Validate(ctx, req)
	if !decision.Allow {
		metrics.AccessDenied.WithLabelValues(decision.Reason).Inc()
		logger.FromContext(ctx).Warn("media request denied",
			"reason", decision.Reason,
			"status", decision.Status,
		)
		writeError(w, decision.Status, decision.Reason, denialMessage(decision.Reason))
		return
	}

	sw := &captureWriter{ResponseWriter: w, status: http.StatusOK}
	s.streamer.ServeFile(sw, r, decision.Path)
	if sw.status == http.StatusOK || sw.status == http.StatusPartialContent {
		metrics.StreamsServed.WithLabelValues(strconv.Itoa(sw.status)).Inc()
	}
}

// denialMessage maps a gate reason to a short client-facing message.
func denialMessage(reason string) string {
	switch reason {
	case gate.ReasonBadRequest:
		return "missing or malformed parameters"
	case gate.ReasonBlockedAgent:
		return "client not permitted"
	case gate.ReasonInvalidOrExpired:
		return "link is invalid or has expired"
	case gate.ReasonIPMismatch:
		return "link was issued for a different network"
	case gate.ReasonUnauthorized:
		return "sign in to access media"
	case gate.ReasonDeviceNotAuthorized:
		return "this device is not authorized for the account"
	case gate.ReasonNotFound:
		return "media not found"
	}
	return "access denied"
}

// captureWriter records the status code the streamer chose.
type captureWriter struct {
	http.ResponseWriter
	status int
}

func (c *captureWriter) WriteHeader(code int) {
	c.status = code
	c.ResponseWriter.WriteHeader(code)
}

// Flush passes stream flushes through to the underlying writer.
func (c *captureWriter) Flush() {
	if f, ok := c.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
