// handlers_devices.go — device management endpoints.
// Fingerprints in this API are the hashed form shown by GET /devices; the
// raw client fingerprint never leaves the login path.
package mediagate

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/adschi/mediagate/internal/auth"
	"github.com/adschi/mediagate/internal/devices"
	"github.com/adschi/mediagate/internal/validate"
	"github.com/adschi/mediagate/pkg/telemetry"
)

// deviceView is the wire form of one registered device.
type deviceView struct {
	Fingerprint string    `json:"fingerprint"`
	LastSeen    time.Time `json:"last_seen"`
	IP          string    `json:"ip_address"`
	UserAgent   string    `json:"user_agent"`
}

func deviceList(in []devices.Device) []deviceView {
	out := make([]deviceView, 0, len(in))
	for _, d := range in {
		out = append(out, deviceView{
			Fingerprint: d.Fingerprint,
			LastSeen:    d.LastSeen,
			IP:          d.IP,
			UserAgent:   d.UserAgent,
		})
	}
	return out
}

// handleListDevices returns the account's devices, newest last-seen first.
// GET /devices
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sess := auth.SessionFromContext(ctx)

	list, err := s.registry.List(ctx, sess.AccountID)
	if err != nil {
		telemetry.CaptureError(err, map[string]string{"operation": "list_devices"})
		writeError(w, http.StatusInternalServerError, "internal_error", "could not list devices")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"devices": deviceList(list)})
}

// handleRevokeDevice removes one device from the account.
// DELETE /devices/{fingerprint}
func (s *Server) handleRevokeDevice(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sess := auth.SessionFromContext(ctx)

	if ok, retry := s.limiter.CheckDevice(ctx, sess.AccountID.String()); !ok {
		w.Header().Set("Retry-After", strconv.Itoa(retry))
		writeError(w, http.StatusTooManyRequests, "rate_limited", "too many requests")
		return
	}

	fp := r.PathValue("fingerprint")
	var errs validate.MultiError
	errs.Add(validate.NonEmptyString("fingerprint", fp))
	errs.Add(validate.NoPathTraversal("fingerprint", fp))
	if errs.HasErrors() {
		writeError(w, http.StatusBadRequest, "validation_failed", errs.Error())
		return
	}

	err := s.registry.Revoke(ctx, sess.AccountID, fp)
	if errors.Is(err, devices.ErrUnknownDevice) {
		writeError(w, http.StatusNotFound, "device_not_found", "no such device on this account")
		return
	}
	if err != nil {
		telemetry.CaptureError(err, map[string]string{"operation": "revoke_device"})
		writeError(w, http.StatusInternalServerError, "internal_error", "could not revoke device")
		return
	}

	s.updateDeviceGauge(ctx)
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

type evictRequest struct {
	// EvictFingerprint names the device to remove (hashed form, as listed by
	// GET /devices). Empty accepts automatic eviction of the oldest device.
	EvictFingerprint string `json:"evict_fingerprint"`
}

// handleEvict resolves a login parked by the interactive eviction policy.
// POST /devices/evict
//
// On success the parked device is registered; the caller signs in again to
// obtain its session.
func (s *Server) handleEvict(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sess := auth.SessionFromContext(ctx)

	if ok, retry := s.limiter.CheckDevice(ctx, sess.AccountID.String()); !ok {
		w.Header().Set("Retry-After", strconv.Itoa(retry))
		writeError(w, http.StatusTooManyRequests, "rate_limited", "too many requests")
		return
	}

	var req evictRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := validate.NoPathTraversal("evict_fingerprint", req.EvictFingerprint); err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return
	}

	err := s.registry.ResolvePending(ctx, sess.AccountID, req.EvictFingerprint)
	switch {
	case errors.Is(err, devices.ErrNoPendingLogin):
		writeError(w, http.StatusNotFound, "no_pending_login", "no login is waiting on an eviction")
		return
	case errors.Is(err, devices.ErrUnknownDevice):
		writeError(w, http.StatusNotFound, "device_not_found", "no such device on this account")
		return
	case err != nil:
		telemetry.CaptureError(err, map[string]string{"operation": "resolve_pending"})
		writeError(w, http.StatusInternalServerError, "internal_error", "could not resolve pending login")
		return
	}

	s.updateDeviceGauge(ctx)
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":      true,
		"message": "device admitted; sign in again to obtain a session",
	})
}
