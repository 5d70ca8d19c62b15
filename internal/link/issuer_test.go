// issuer_test.go — Unit tests for protected link issuance: parameter shape,
// idempotent re-protection, and feature-toggle behavior.
package link_test

import (
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/adschi/mediagate/internal/link"
	"github.com/adschi/mediagate/internal/token"
)

const testSecret = "unit-test-master-secret-at-least-32-bytes"

func testIssuer(t *testing.T, opts link.Options) (*link.Issuer, *token.Codec) {
	t.Helper()
	key, err := token.DeriveSigningKey(testSecret)
	if err != nil {
		t.Fatalf("DeriveSigningKey failed: %v", err)
	}
	codec := token.NewCodec(key, opts.BindIP)
	return link.NewIssuer(codec, opts), codec
}

func TestProtect_ParameterShape(t *testing.T) {
	iss, codec := testIssuer(t, link.Options{
		BaseURL: "https://media.example.com",
		TTL:     time.Hour,
		Enabled: true,
	})

	out := iss.Protect("uploads/2026/clip.mp4", "")
	u, err := url.Parse(out)
	if err != nil {
		t.Fatalf("protected URL is not parseable: %v", err)
	}
	if u.Host != "media.example.com" || u.Path != link.StreamPath {
		t.Errorf("unexpected origin/path: %s", out)
	}

	q := u.Query()
	if q.Get(link.ParamSrc) != "uploads/2026/clip.mp4" {
		t.Errorf("media_src mismatch: %q", q.Get(link.ParamSrc))
	}
	expires, err := strconv.ParseInt(q.Get(link.ParamExpires), 10, 64)
	if err != nil {
		t.Fatalf("expires is not an integer: %q", q.Get(link.ParamExpires))
	}
	if remaining := time.Until(time.Unix(expires, 0)); remaining < 59*time.Minute || remaining > 61*time.Minute {
		t.Errorf("expiry not ~1h out: %v remaining", remaining)
	}

	// The attached token must verify against the same codec.
	if !codec.Verify(q.Get(link.ParamSrc), expires, q.Get(link.ParamToken), "", time.Now()) {
		t.Error("issued link carries a token that does not verify")
	}
}

func TestProtect_IdempotentReProtection(t *testing.T) {
	iss, _ := testIssuer(t, link.Options{
		BaseURL: "https://media.example.com",
		Enabled: true,
	})

	once := iss.Protect("uploads/clip.mp4", "")
	twice := iss.Protect(once, "")
	if once != twice {
		t.Errorf("re-protection changed the URL:\n  once:  %s\n  twice: %s", once, twice)
	}
}

func TestProtect_NoOps(t *testing.T) {
	disabled, _ := testIssuer(t, link.Options{BaseURL: "https://m.example.com", Enabled: false})
	if got := disabled.Protect("uploads/clip.mp4", ""); got != "uploads/clip.mp4" {
		t.Errorf("disabled issuer rewrote the source: %q", got)
	}

	enabled, _ := testIssuer(t, link.Options{BaseURL: "https://m.example.com", Enabled: true})
	if got := enabled.Protect("", ""); got != "" {
		t.Errorf("empty source produced output: %q", got)
	}
}

func TestProtect_IPBindingAttachesIP(t *testing.T) {
	iss, codec := testIssuer(t, link.Options{
		BaseURL: "https://m.example.com",
		Enabled: true,
		BindIP:  true,
	})

	out := iss.Protect("clip.mp4", "203.0.113.9")
	u, _ := url.Parse(out)
	q := u.Query()
	if q.Get(link.ParamIP) != "203.0.113.9" {
		t.Errorf("ip param missing or wrong: %q", q.Get(link.ParamIP))
	}

	expires, _ := strconv.ParseInt(q.Get(link.ParamExpires), 10, 64)
	if !codec.Verify(q.Get(link.ParamSrc), expires, q.Get(link.ParamToken), "203.0.113.9", time.Now()) {
		t.Error("IP-bound link token does not verify with the issuing IP")
	}
	if codec.Verify(q.Get(link.ParamSrc), expires, q.Get(link.ParamToken), "198.51.100.1", time.Now()) {
		t.Error("IP-bound link token verifies with a different IP")
	}
}

func TestProtect_DevicePlaceholder(t *testing.T) {
	iss, _ := testIssuer(t, link.Options{
		BaseURL:     "https://m.example.com",
		Enabled:     true,
		DeviceLimit: true,
	})

	out := iss.Protect("clip.mp4", "")
	if !strings.HasSuffix(out, "&"+link.ParamDevice+"="+link.DevicePlaceholder) {
		t.Errorf("device placeholder not appended: %s", out)
	}
	// The placeholder braces must survive unencoded for the client script.
	if strings.Contains(out, "%7B") {
		t.Errorf("device placeholder was percent-encoded: %s", out)
	}
}

func TestIsProtected(t *testing.T) {
	cases := []struct {
		in   string
		want bool
	}{
		{"https://m.example.com/media/stream?media_src=x&media_token=abc", true},
		{"https://m.example.com/video.mp4", false},
		{"video.mp4", false},
		{"", false},
	}
	for _, tc := range cases {
		if got := link.IsProtected(tc.in); got != tc.want {
			t.Errorf("IsProtected(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}
