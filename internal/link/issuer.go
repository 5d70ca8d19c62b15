// Package link builds protected media URLs. The content-rendering pipeline
// calls Protect once per media element; the output points at the service's
// /media/stream endpoint with the resource, deadline, and token as query
// parameters.
package link

import (
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/adschi/mediagate/internal/token"
)

// Query parameter names on the media delivery endpoint.
const (
	ParamSrc     = "media_src"
	ParamExpires = "expires"
	ParamToken   = "media_token"
	ParamIP      = "ip"
	ParamDevice  = "device_id"
)

// DevicePlaceholder is emitted in place of a concrete device id. Only the
// client knows its own fingerprint; it substitutes the marker before
// requesting the stream. The server tolerates either form at issue time.
const DevicePlaceholder = "{device_id}"

// StreamPath is the delivery endpoint path protected links point at.
const StreamPath = "/media/stream"

// Issuer turns raw media sources into protected URLs.
// Construct once at startup; safe for concurrent use.
type Issuer struct {
	codec       *token.Codec
	baseURL     string
	ttl         time.Duration
	enabled     bool
	bindIP      bool
	deviceLimit bool
	now         func() time.Time
}

// Options configures an Issuer.
type Options struct {
	BaseURL     string        // serving origin, e.g. "https://media.example.com"
	TTL         time.Duration // link lifetime; 0 falls back to one hour
	Enabled     bool          // protection off: Protect is the identity function
	BindIP      bool          // include the caller's IP in the token input
	DeviceLimit bool          // attach the device placeholder parameter
}

// NewIssuer creates an Issuer backed by the given token codec.
func NewIssuer(codec *token.Codec, opts Options) *Issuer {
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Issuer{
		codec:       codec,
		baseURL:     strings.TrimRight(opts.BaseURL, "/"),
		ttl:         ttl,
		enabled:     opts.Enabled,
		bindIP:      opts.BindIP,
		deviceLimit: opts.DeviceLimit,
		now:         time.Now,
	}
}

// Protect returns the protected URL for rawSrc, or rawSrc unchanged when
// protection is disabled, rawSrc is empty, or rawSrc already carries a token
// parameter. Re-protecting a protected URL is always a no-op.
func (i *Issuer) Protect(rawSrc, clientIP string) string {
	if !i.enabled || rawSrc == "" || IsProtected(rawSrc) {
		return rawSrc
	}

	expires := i.now().Add(i.ttl).Unix()
	ip := ""
	if i.bindIP {
		ip = clientIP
	}
	tok := i.codec.Issue(rawSrc, expires, ip)

	q := url.Values{}
	q.Set(ParamSrc, rawSrc)
	q.Set(ParamExpires, strconv.FormatInt(expires, 10))
	q.Set(ParamToken, tok)
	if i.bindIP {
		q.Set(ParamIP, clientIP)
	}

	out := i.baseURL + StreamPath + "?" + q.Encode()
	if i.deviceLimit {
		// Appended raw so the braces survive for client-side substitution.
		out += "&" + ParamDevice + "=" + DevicePlaceholder
	}
	return out
}

// IsProtected reports whether rawSrc already carries a media token parameter.
func IsProtected(rawSrc string) bool {
	u, err := url.Parse(rawSrc)
	if err != nil {
		// Unparseable input still counts as protected when the parameter name
		// appears; issuing a token over it would double-protect garbage.
		return strings.Contains(rawSrc, ParamToken+"=")
	}
	return u.Query().Get(ParamToken) != ""
}
