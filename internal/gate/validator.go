// Package gate decides whether an inbound media request may be served.
// It combines user-agent screening, token verification, IP-binding recheck,
// device-membership lookup, and storage-root path resolution into a single
// allow/deny decision carrying the HTTP status and denial reason.
package gate

import (
	"context"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/adschi/mediagate/internal/devices"
	"github.com/adschi/mediagate/internal/token"
)

// Denial reasons, surfaced in responses and metrics labels.
const (
	ReasonBadRequest          = "bad_request"
	ReasonBlockedAgent        = "blocked_agent"
	ReasonInvalidOrExpired    = "invalid_or_expired"
	ReasonIPMismatch          = "ip_mismatch"
	ReasonUnauthorized        = "unauthorized"
	ReasonDeviceNotAuthorized = "device_not_authorized"
	ReasonNotFound            = "not_found"
)

// Decision is the outcome of validating one media request. On Allow, Path is
// the resolved local file path under the storage root; otherwise Status and
// Reason describe the denial.
type Decision struct {
	Allow  bool
	Status int
	Reason string
	Path   string
}

// Request carries the fields the validator inspects, extracted from the
// inbound HTTP request by the handler layer.
type Request struct {
	Src      string // media_src query parameter, already URL-decoded
	Expires  string // expires query parameter, unix seconds
	Token    string // media_token query parameter
	IP       string // ip query parameter (present when issued with IP binding)
	DeviceID string // device_id query parameter (raw client fingerprint)

	ClientIP  string // observed remote address
	UserAgent string

	Authenticated bool
	AccountID     uuid.UUID
}

// Validator evaluates media requests. Construct once at startup; safe for
// concurrent use.
type Validator struct {
	codec         *token.Codec
	registry      *devices.Registry
	storageRoot   string
	bindIP        bool
	deviceLimit   bool
	blockedAgents []string
	now           func() time.Time
}

// Options configures a Validator.
type Options struct {
	StorageRoot   string   // absolute directory all served files must live under
	BindIP        bool     // tokens were issued over the client IP
	DeviceLimit   bool     // device membership is enforced
	BlockedAgents []string // lowercase substrings matched against User-Agent
}

// NewValidator creates a Validator. registry may be nil when device limiting
// is disabled.
func NewValidator(codec *token.Codec, registry *devices.Registry, opts Options) *Validator {
	return &Validator{
		codec:         codec,
		registry:      registry,
		storageRoot:   filepath.Clean(opts.StorageRoot),
		bindIP:        opts.BindIP,
		deviceLimit:   opts.DeviceLimit,
		blockedAgents: opts.BlockedAgents,
		now:           time.Now,
	}
}

// Validate runs the decision chain for one request. Checks are ordered
// cheapest-first; the first failing check determines the denial reason.
func (v *Validator) Validate(ctx context.Context, req Request) Decision {
	if v.agentBlocked(req.UserAgent) {
		return deny(http.StatusForbidden, ReasonBlockedAgent)
	}

	if req.Src == "" || req.Expires == "" || req.Token == "" {
		return deny(http.StatusBadRequest, ReasonBadRequest)
	}
	expires, err := strconv.ParseInt(req.Expires, 10, 64)
	if err != nil {
		return deny(http.StatusBadRequest, ReasonBadRequest)
	}

	if !v.codec.Verify(req.Src, expires, req.Token, req.IP, v.now()) {
		return deny(http.StatusForbidden, ReasonInvalidOrExpired)
	}

	// The token covers the ip parameter; a forged parameter fails above.
	// What remains is confirming the request actually comes from that IP.
	if v.bindIP && req.IP != req.ClientIP {
		return deny(http.StatusForbidden, ReasonIPMismatch)
	}

	if v.deviceLimit {
		if !req.Authenticated {
			return deny(http.StatusUnauthorized, ReasonUnauthorized)
		}
		ok, err := v.registry.IsMember(ctx, req.AccountID, req.DeviceID)
		if err != nil || !ok {
			return deny(http.StatusForbidden, ReasonDeviceNotAuthorized)
		}
	}

	path, ok := v.resolve(req.Src)
	if !ok {
		return deny(http.StatusBadRequest, ReasonBadRequest)
	}
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return deny(http.StatusNotFound, ReasonNotFound)
	}

	return Decision{Allow: true, Status: http.StatusOK, Path: path}
}

// resolve maps a raw media source to a local path under the storage root.
// Sources may be bare paths or full URLs; only the path component matters.
// Anything escaping the root after cleaning is rejected.
func (v *Validator) resolve(src string) (string, bool) {
	p := src
	if u, err := url.Parse(src); err == nil && u.Path != "" {
		p = u.Path
	}

	// Join cleans ".." segments against the root; anything that climbs out
	// loses the root prefix and is rejected, as is the bare root itself.
	resolved := filepath.Join(v.storageRoot, filepath.FromSlash(p))
	if resolved == v.storageRoot || !strings.HasPrefix(resolved, v.storageRoot+string(filepath.Separator)) {
		return "", false
	}
	return resolved, true
}

func (v *Validator) agentBlocked(ua string) bool {
	if ua == "" {
		return false
	}
	lower := strings.ToLower(ua)
	for _, frag := range v.blockedAgents {
		if frag != "" && strings.Contains(lower, frag) {
			return true
		}
	}
	return false
}

func deny(status int, reason string) Decision {
	return Decision{Allow: false, Status: status, Reason: reason}
}
