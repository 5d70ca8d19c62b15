package mediagate_test

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/adschi/mediagate"
	"github.com/adschi/mediagate/internal/config"
	"github.com/adschi/mediagate/internal/link"
	"github.com/adschi/mediagate/internal/testutil"
)

const testBase = "http://media.test"

// newTestServer builds a server over a temp storage root containing one
// media file. mutate may adjust the config before construction.
func newTestServer(t *testing.T, mutate func(*config.Config)) (*mediagate.Server, http.Handler) {
	t.Helper()
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "videos"), 0o755); err != nil {
		t.Fatal(err)
	}
	content := make([]byte, 200)
	for i := range content {
		content[i] = byte('a' + i%26)
	}
	if err := os.WriteFile(filepath.Join(root, "videos", "lesson.mp4"), content, 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := &config.Config{
		Port:              "0",
		BaseURL:           testBase,
		StorageRoot:       root,
		LinkTTL:           time.Hour,
		SecretKey:         "service-test-master-secret-32-bytes!",
		ProtectionEnabled: true,
		DeviceLimit:       2,
		EvictionPolicy:    config.EvictAutomatic,
		BlockedAgents:     []string{"wget", "jdownloader"},
		SessionSecret:     "service-test-session-secret-32-byte",
		SessionTTL:        time.Hour,
		LogLevel:          "error",
		LogFormat:         "json",
	}
	if mutate != nil {
		mutate(cfg)
	}

	srv, err := mediagate.NewServer(cfg, mediagate.Options{})
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}
	return srv, srv.Handler()
}

// login posts a login for the account/fingerprint and returns the session token.
func login(t *testing.T, h http.Handler, accountID uuid.UUID, fingerprint string) string {
	t.Helper()
	rr := testutil.PostJSON(t, h, "/auth/login", map[string]string{
		"account_id":  accountID.String(),
		"fingerprint": fingerprint,
	})
	testutil.AssertStatus(t, rr, http.StatusOK)

	var resp struct {
		Token string `json:"token"`
	}
	testutil.DecodeJSON(t, rr, &resp)
	if resp.Token == "" {
		t.Fatal("login returned empty token")
	}
	return resp.Token
}

// protectedTarget issues a protected link and rewrites it into a request
// target, substituting the device placeholder with the raw fingerprint.
func protectedTarget(t *testing.T, srv *mediagate.Server, src, fingerprint string) string {
	t.Helper()
	u := srv.ProtectLink(src, "")
	if u == src {
		t.Fatalf("ProtectLink did not protect %q", src)
	}
	u = strings.TrimPrefix(u, testBase)
	if fingerprint != "" {
		u = strings.Replace(u, link.DevicePlaceholder, fingerprint, 1)
	}
	return u
}

func streamRequest(t *testing.T, h http.Handler, target, bearer, rangeHeader string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	req.RemoteAddr = "203.0.113.9:40000"
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	if rangeHeader != "" {
		req.Header.Set("Range", rangeHeader)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestHealth(t *testing.T) {
	_, h := newTestServer(t, nil)
	rr := testutil.GetJSON(t, h, "/health")
	testutil.AssertStatus(t, rr, http.StatusOK)

	var body map[string]string
	testutil.DecodeJSON(t, rr, &body)
	if body["service"] != "mediagate" {
		t.Errorf("service = %q, want mediagate", body["service"])
	}
}

func TestLoginStreamFlow(t *testing.T) {
	srv, h := newTestServer(t, nil)
	acct := uuid.New()

	tok := login(t, h, acct, "device-alpha")

	// The device shows up on the management endpoint.
	rr := testutil.GetJSONWithAuth(t, h, "/devices", tok)
	testutil.AssertStatus(t, rr, http.StatusOK)
	var listing struct {
		Devices []struct {
			Fingerprint string `json:"fingerprint"`
		} `json:"devices"`
	}
	testutil.DecodeJSON(t, rr, &listing)
	if len(listing.Devices) != 1 {
		t.Fatalf("devices = %d, want 1", len(listing.Devices))
	}

	// Full body.
	target := protectedTarget(t, srv, "/videos/lesson.mp4", "device-alpha")
	rr = streamRequest(t, h, target, tok, "")
	testutil.AssertStatus(t, rr, http.StatusOK)
	if rr.Body.Len() != 200 {
		t.Errorf("body length = %d, want 200", rr.Body.Len())
	}

	// Byte range.
	rr = streamRequest(t, h, target, tok, "bytes=0-49")
	testutil.AssertStatus(t, rr, http.StatusPartialContent)
	if got := rr.Header().Get("Content-Range"); got != "bytes 0-49/200" {
		t.Errorf("Content-Range = %q", got)
	}
	if rr.Body.Len() != 50 {
		t.Errorf("range body length = %d, want 50", rr.Body.Len())
	}
}

func TestStream_TamperedExpiryDenied(t *testing.T) {
	srv, h := newTestServer(t, nil)
	acct := uuid.New()
	tok := login(t, h, acct, "device-alpha")

	target := protectedTarget(t, srv, "/videos/lesson.mp4", "device-alpha")
	target = strings.Replace(target, "expires=", "expires=9", 1) // extend the deadline

	rr := streamRequest(t, h, target, tok, "")
	testutil.AssertStatus(t, rr, http.StatusForbidden)
	var body map[string]string
	testutil.DecodeJSON(t, rr, &body)
	if body["error"] != "invalid_or_expired" {
		t.Errorf("error = %q, want invalid_or_expired", body["error"])
	}
}

func TestStream_UnauthenticatedDenied(t *testing.T) {
	srv, h := newTestServer(t, nil)

	target := protectedTarget(t, srv, "/videos/lesson.mp4", "device-alpha")
	rr := streamRequest(t, h, target, "", "")
	testutil.AssertStatus(t, rr, http.StatusUnauthorized)
}

func TestStream_DeviceLimitDisabled(t *testing.T) {
	srv, h := newTestServer(t, func(c *config.Config) { c.DeviceLimit = 0 })

	// No session, no device parameter: the gate has nothing to enforce.
	target := protectedTarget(t, srv, "/videos/lesson.mp4", "")
	rr := streamRequest(t, h, target, "", "")
	testutil.AssertStatus(t, rr, http.StatusOK)
}

func TestStream_BlockedAgent(t *testing.T) {
	srv, h := newTestServer(t, nil)

	target := protectedTarget(t, srv, "/videos/lesson.mp4", "device-alpha")
	req := httptest.NewRequest(http.MethodGet, target, nil)
	req.Header.Set("User-Agent", "Wget/1.21.4 (linux-gnu)")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	testutil.AssertStatus(t, rr, http.StatusForbidden)
	var body map[string]string
	testutil.DecodeJSON(t, rr, &body)
	if body["error"] != "blocked_agent" {
		t.Errorf("error = %q, want blocked_agent", body["error"])
	}
}

func TestRevokeDevice_CutsStreamAccess(t *testing.T) {
	srv, h := newTestServer(t, nil)
	acct := uuid.New()
	tok := login(t, h, acct, "device-alpha")

	rr := testutil.GetJSONWithAuth(t, h, "/devices", tok)
	var listing struct {
		Devices []struct {
			Fingerprint string `json:"fingerprint"`
		} `json:"devices"`
	}
	testutil.DecodeJSON(t, rr, &listing)
	hashed := listing.Devices[0].Fingerprint

	rr = testutil.DeleteWithAuth(t, h, "/devices/"+hashed, tok)
	testutil.AssertStatus(t, rr, http.StatusOK)

	// Revoking an unknown device 404s.
	rr = testutil.DeleteWithAuth(t, h, "/devices/"+hashed, tok)
	testutil.AssertStatus(t, rr, http.StatusNotFound)

	// The evicted device's streams stop immediately.
	target := protectedTarget(t, srv, "/videos/lesson.mp4", "device-alpha")
	rr = streamRequest(t, h, target, tok, "")
	testutil.AssertStatus(t, rr, http.StatusForbidden)
	var body map[string]string
	testutil.DecodeJSON(t, rr, &body)
	if body["error"] != "device_not_authorized" {
		t.Errorf("error = %q, want device_not_authorized", body["error"])
	}
}

func TestInteractiveEviction(t *testing.T) {
	_, h := newTestServer(t, func(c *config.Config) {
		c.DeviceLimit = 1
		c.EvictionPolicy = config.EvictInteractive
	})
	acct := uuid.New()

	tokA := login(t, h, acct, "device-alpha")

	// A second device hits the cap and gets parked.
	rr := testutil.PostJSON(t, h, "/auth/login", map[string]string{
		"account_id":  acct.String(),
		"fingerprint": "device-beta",
	})
	testutil.AssertStatus(t, rr, http.StatusConflict)
	var conflict struct {
		Error   string `json:"error"`
		Devices []struct {
			Fingerprint string `json:"fingerprint"`
		} `json:"devices"`
	}
	testutil.DecodeJSON(t, rr, &conflict)
	if conflict.Error != "device_limit_reached" {
		t.Fatalf("error = %q, want device_limit_reached", conflict.Error)
	}
	if len(conflict.Devices) != 1 {
		t.Fatalf("conflict listed %d devices, want 1", len(conflict.Devices))
	}

	// The signed-in device accepts automatic eviction of the oldest.
	rr = testutil.PostJSONWithAuth(t, h, "/devices/evict", map[string]string{}, tokA)
	testutil.AssertStatus(t, rr, http.StatusOK)

	// No second pending login exists.
	rr = testutil.PostJSONWithAuth(t, h, "/devices/evict", map[string]string{}, tokA)
	testutil.AssertStatus(t, rr, http.StatusNotFound)

	// The parked device is admitted now; its login refreshes in place.
	login(t, h, acct, "device-beta")
}

func TestLogout_DestroysSession(t *testing.T) {
	_, h := newTestServer(t, nil)
	acct := uuid.New()
	tok := login(t, h, acct, "device-alpha")

	rr := testutil.PostJSONWithAuth(t, h, "/auth/logout", map[string]string{}, tok)
	testutil.AssertStatus(t, rr, http.StatusOK)

	rr = testutil.GetJSONWithAuth(t, h, "/devices", tok)
	testutil.AssertStatus(t, rr, http.StatusUnauthorized)
}

func TestLogin_ValidationFailures(t *testing.T) {
	_, h := newTestServer(t, nil)

	rr := testutil.PostJSON(t, h, "/auth/login", map[string]string{
		"account_id":  "not-a-uuid",
		"fingerprint": "device-alpha",
	})
	testutil.AssertStatus(t, rr, http.StatusBadRequest)

	rr = testutil.PostJSON(t, h, "/auth/login", map[string]string{
		"account_id":  uuid.NewString(),
		"fingerprint": "",
	})
	testutil.AssertStatus(t, rr, http.StatusBadRequest)

	// Fingerprints shorter than the minimum are rejected too.
	rr = testutil.PostJSON(t, h, "/auth/login", map[string]string{
		"account_id":  uuid.NewString(),
		"fingerprint": "short",
	})
	testutil.AssertStatus(t, rr, http.StatusBadRequest)
}

func TestDeviceEndpoints_RejectTraversalFingerprints(t *testing.T) {
	_, h := newTestServer(t, func(c *config.Config) {
		c.EvictionPolicy = config.EvictInteractive
	})
	acct := uuid.New()
	tok := login(t, h, acct, "device-alpha")

	rr := testutil.DeleteWithAuth(t, h, "/devices/fp..fp", tok)
	testutil.AssertStatus(t, rr, http.StatusBadRequest)

	rr = testutil.PostJSONWithAuth(t, h, "/devices/evict", map[string]string{
		"evict_fingerprint": "../../etc/passwd",
	}, tok)
	testutil.AssertStatus(t, rr, http.StatusBadRequest)
}

func TestSingleSession_SecondLoginRevokesFirst(t *testing.T) {
	_, h := newTestServer(t, func(c *config.Config) { c.SingleSession = true })
	acct := uuid.New()

	tokA := login(t, h, acct, "device-alpha")
	_ = login(t, h, acct, "device-beta")

	rr := testutil.GetJSONWithAuth(t, h, "/devices", tokA)
	testutil.AssertStatus(t, rr, http.StatusUnauthorized)
}
