// handlers_auth.go — login gate and logout.
//
// Credentials live in the upstream identity system; by the time a login
// reaches this service the account is already verified. This endpoint is the
// device admission gate: it applies the device cap and mints the session the
// media endpoints accept.
package mediagate

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/adschi/mediagate/internal/auth"
	"github.com/adschi/mediagate/internal/devices"
	"github.com/adschi/mediagate/internal/logger"
	"github.com/adschi/mediagate/internal/metrics"
	"github.com/adschi/mediagate/internal/ratelimit"
	"github.com/adschi/mediagate/internal/validate"
	"github.com/adschi/mediagate/pkg/telemetry"
)

type loginRequest struct {
	AccountID   string `json:"account_id"`
	Fingerprint string `json:"fingerprint"`
}

type loginResponse struct {
	Token     string `json:"token"`
	ExpiresIn int    `json:"expires_in"`
}

// handleLogin admits the device and issues a session token.
// POST /auth/login
//
// 409 device_limit_reached (interactive policy only): the login is parked;
// the response lists the current devices so the caller can pick a victim for
// POST /devices/evict, then retry the login.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	clientIP := ratelimit.ClientIP(r)

	if ok, retry := s.limiter.CheckLogin(ctx, clientIP); !ok {
		w.Header().Set("Retry-After", strconv.Itoa(retry))
		writeError(w, http.StatusTooManyRequests, "rate_limited", "too many login attempts")
		return
	}

	var req loginRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	var errs validate.MultiError
	errs.Add(validate.IsUUID("account_id", req.AccountID))
	errs.Add(validate.NonEmptyString("fingerprint", req.Fingerprint))
	errs.Add(validate.MinLength("fingerprint", req.Fingerprint, 8))
	errs.Add(validate.MaxLength("fingerprint", req.Fingerprint, 256))
	if errs.HasErrors() {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":  "validation_failed",
			"fields": errs.Errors,
		})
		return
	}
	accountID, _ := uuid.Parse(req.AccountID)

	err := s.registry.RecordLogin(ctx, accountID, req.Fingerprint, clientIP, r.UserAgent(), nowUTC())
	if errors.Is(err, devices.ErrDeviceLimitReached) {
		metrics.AuthEvents.WithLabelValues("login", "device_limit").Inc()
		current, listErr := s.registry.List(ctx, accountID)
		if listErr != nil {
			current = nil
		}
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":   "device_limit_reached",
			"message": "evict a device via POST /devices/evict, then sign in again",
			"devices": deviceList(current),
		})
		return
	}
	if err != nil {
		telemetry.CaptureError(err, map[string]string{"operation": "record_login"})
		logger.FromContext(ctx).Error("record login failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "could not record login")
		return
	}

	telemetry.SetAccountContext(ctx, accountID.String())

	tok, err := s.sessions.Issue(ctx, accountID, req.Fingerprint)
	if err != nil {
		telemetry.CaptureError(err, map[string]string{"operation": "issue_session"})
		writeError(w, http.StatusInternalServerError, "internal_error", "could not issue session")
		return
	}

	if s.cfg.SingleSession {
		// Sessions, not devices: other devices stay registered, but their
		// sessions end the moment this login lands.
		if sess, verr := s.sessions.Validate(ctx, tok); verr == nil {
			if derr := s.sessions.DestroyOtherSessions(ctx, accountID, sess.SessionID); derr != nil {
				logger.FromContext(ctx).Warn("destroy other sessions failed", "error", derr)
			}
		}
	}

	s.limiter.ResetLogin(ctx, clientIP)
	s.updateDeviceGauge(ctx)
	metrics.AuthEvents.WithLabelValues("login", "ok").Inc()

	writeJSON(w, http.StatusOK, loginResponse{
		Token:     tok,
		ExpiresIn: int(s.cfg.SessionTTL.Seconds()),
	})
}

// handleLogout removes the session's device and destroys the session.
// POST /auth/logout
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sess := auth.SessionFromContext(ctx)

	if err := s.registry.RecordLogout(ctx, sess.AccountID, sess.Fingerprint); err != nil {
		telemetry.CaptureError(err, map[string]string{"operation": "record_logout"})
		writeError(w, http.StatusInternalServerError, "internal_error", "could not record logout")
		return
	}
	if err := s.sessions.Destroy(ctx, sess.AccountID, sess.SessionID); err != nil {
		logger.FromContext(ctx).Warn("session destroy failed", "error", err)
	}

	s.updateDeviceGauge(ctx)
	metrics.AuthEvents.WithLabelValues("logout", "ok").Inc()
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
