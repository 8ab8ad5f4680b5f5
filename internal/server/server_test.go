package server

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/84hero/lockhook/pkg/hub"
	"github.com/84hero/lockhook/pkg/processor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const lockAddr = "0xAb185Ef45Ad1cbcD0C1e67a9f4eA1D52f3Bf1Aa0"

type fakeProcessor struct {
	result processor.Result
	bodies [][]byte
}

func (f *fakeProcessor) Handle(ctx context.Context, body []byte) processor.Result {
	f.bodies = append(f.bodies, body)
	return f.result
}

type fakeCreds struct{ has bool }

func (f fakeCreds) HasCredential() bool { return f.has }

func newTestServer(t *testing.T, p Processor, hubURL string) *httptest.Server {
	cfg := Config{
		ListenAddr:  ":0",
		Network:     137,
		LockAddress: lockAddr,
		CallbackURL: "https://relay.example.com/callback",
		HubSecret:   "shh",
	}
	hc := hub.NewController(hub.Config{
		HubURL:      hubURL,
		Network:     cfg.Network,
		LockAddress: cfg.LockAddress,
		CallbackURL: cfg.CallbackURL,
		Secret:      cfg.HubSecret,
	})
	s := NewServer(cfg, hc, p, fakeCreds{has: true})
	ts := httptest.NewServer(s.setupRoutes())
	t.Cleanup(ts.Close)
	return ts
}

func TestVerification(t *testing.T) {
	ts := newTestServer(t, &fakeProcessor{}, "http://hub.test")

	// Valid handshake echoes the challenge exactly
	resp, err := http.Get(ts.URL + "/callback?hub.challenge=abc-123&hub.secret=shh&hub.mode=subscribe")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "abc-123", string(body))

	// Wrong secret is a 400
	resp, err = http.Get(ts.URL + "/callback?hub.challenge=abc&hub.secret=nope&hub.mode=subscribe")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// Unknown mode is a 400 even with the right secret
	resp, err = http.Get(ts.URL + "/callback?hub.challenge=abc&hub.secret=shh&hub.mode=publish")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestDelivery_Processed(t *testing.T) {
	fp := &fakeProcessor{result: processor.Result{Status: processor.StatusProcessed, Notified: 2}}
	ts := newTestServer(t, fp, "http://hub.test")

	resp, err := http.Post(ts.URL+"/callback", "application/json", strings.NewReader(`{"lock":"0xaa","data":[]}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var out map[string]any
	assert.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, "processed", out["status"])
	assert.Equal(t, float64(2), out["notified"])
	assert.Len(t, fp.bodies, 1)
}

func TestDelivery_Ignored(t *testing.T) {
	fp := &fakeProcessor{result: processor.Result{Status: processor.StatusIgnored}}
	ts := newTestServer(t, fp, "http://hub.test")

	resp, err := http.Post(ts.URL+"/callback", "application/json", strings.NewReader(`{}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var out map[string]any
	assert.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, "ignored", out["status"])
}

func TestDelivery_InternalError(t *testing.T) {
	fp := &fakeProcessor{result: processor.Result{Status: processor.StatusError}}
	ts := newTestServer(t, fp, "http://hub.test")

	resp, err := http.Post(ts.URL+"/callback", "application/json", strings.NewReader(`{}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

func TestDelivery_SignatureCheck(t *testing.T) {
	fp := &fakeProcessor{result: processor.Result{Status: processor.StatusProcessed}}
	ts := newTestServer(t, fp, "http://hub.test")

	payload := `{"lock":"0xaa"}`

	// Bad signature rejected
	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/callback", strings.NewReader(payload))
	req.Header.Set("X-Hub-Signature", "sha256=deadbeef")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Empty(t, fp.bodies)

	// Good signature accepted
	h := hmac.New(sha256.New, []byte("shh"))
	h.Write([]byte(payload))
	req, _ = http.NewRequest(http.MethodPost, ts.URL+"/callback", strings.NewReader(payload))
	req.Header.Set("X-Hub-Signature", "sha256="+hex.EncodeToString(h.Sum(nil)))
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, fp.bodies, 1)
}

func TestManualSubscribe(t *testing.T) {
	hubSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		assert.Equal(t, "subscribe", r.PostForm.Get("hub.mode"))
		w.WriteHeader(http.StatusOK)
	}))
	defer hubSrv.Close()

	ts := newTestServer(t, &fakeProcessor{}, hubSrv.URL)

	resp, err := http.Post(ts.URL+"/subscribe", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var out map[string]any
	assert.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, "subscribed", out["status"])
	assert.Contains(t, out["topic"], "/137/locks/")
}

func TestManualSubscribe_HubRejection(t *testing.T) {
	hubSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer hubSrv.Close()

	ts := newTestServer(t, &fakeProcessor{}, hubSrv.URL)

	resp, err := http.Post(ts.URL+"/unsubscribe", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	var out map[string]any
	assert.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, "error", out["status"])
}

func TestManualSubscribe_MethodNotAllowed(t *testing.T) {
	ts := newTestServer(t, &fakeProcessor{}, "http://hub.test")

	resp, err := http.Get(ts.URL + "/subscribe")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, &fakeProcessor{}, "http://hub.test")

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var out map[string]any
	assert.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, float64(137), out["network"])
	assert.Equal(t, lockAddr, out["lock"])
	assert.Equal(t, "https://relay.example.com/callback", out["callback"])
	assert.Equal(t, true, out["credential"])
}

func TestRateLimit(t *testing.T) {
	cfg := Config{Network: 1, LockAddress: lockAddr, HubSecret: "s", RateLimit: 1, RateBurst: 1}
	hc := hub.NewController(hub.Config{HubURL: "http://hub.test", Network: 1, LockAddress: lockAddr, Secret: "s"})
	s := NewServer(cfg, hc, &fakeProcessor{}, fakeCreds{})
	ts := httptest.NewServer(s.setupRoutes())
	defer ts.Close()

	// Burst of 1: first request passes, immediate second is limited
	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
}
