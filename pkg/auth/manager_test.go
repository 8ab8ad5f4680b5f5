package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Well-known test key, never used on a real network.
const testKey = "fad9c8855b740a0b7ed4c221dbad0f33a83a49cad6b3fe8d5817ac83d38b6a19"

func newLoginServer(t *testing.T, logins *int64) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(logins, 1)

		var req loginRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.NotEmpty(t, req.Message)
		assert.True(t, strings.HasPrefix(req.Signature, "0x"))

		// The signature must recover to the signer of the message
		sig, err := hexutil.Decode(req.Signature)
		require.NoError(t, err)
		sig[64] -= 27
		pub, err := crypto.SigToPub(accounts.TextHash([]byte(req.Message)), sig)
		require.NoError(t, err)
		assert.Contains(t, req.Message, crypto.PubkeyToAddress(*pub).Hex())

		json.NewEncoder(w).Encode(map[string]string{"accessToken": "tok-1"})
	}))
}

func TestAccessToken_CachesCredential(t *testing.T) {
	var logins int64
	ts := newLoginServer(t, &logins)
	defer ts.Close()

	m, err := NewManager(Config{
		Endpoint:  ts.URL,
		SignerKey: testKey,
		ChainID:   1,
		Origin:    "https://relay.example.com/callback",
	})
	require.NoError(t, err)

	tok, err := m.AccessToken(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, "tok-1", tok)
	assert.True(t, m.HasCredential())

	// Second call reuses the cache: still exactly one exchange
	tok, err = m.AccessToken(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, "tok-1", tok)
	assert.Equal(t, int64(1), atomic.LoadInt64(&logins))
}

func TestAccessToken_RefreshesAfterExpiry(t *testing.T) {
	var logins int64
	ts := newLoginServer(t, &logins)
	defer ts.Close()

	m, err := NewManager(Config{Endpoint: ts.URL, SignerKey: testKey, ChainID: 1, Origin: "https://x.test"})
	require.NoError(t, err)

	now := time.Now()
	m.now = func() time.Time { return now }

	_, err = m.AccessToken(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, int64(1), atomic.LoadInt64(&logins))

	// 24h TTL is cached for 23h; jump past it
	now = now.Add(23*time.Hour + time.Minute)
	assert.False(t, m.HasCredential())

	_, err = m.AccessToken(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, int64(2), atomic.LoadInt64(&logins))
}

func TestAccessToken_Concurrent_SingleFlight(t *testing.T) {
	var logins int64
	ts := newLoginServer(t, &logins)
	defer ts.Close()

	m, err := NewManager(Config{Endpoint: ts.URL, SignerKey: testKey, ChainID: 1, Origin: "https://x.test"})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tok, err := m.AccessToken(context.Background())
			assert.NoError(t, err)
			assert.Equal(t, "tok-1", tok)
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), atomic.LoadInt64(&logins))
}

func TestAccessToken_NoSigningKey(t *testing.T) {
	m, err := NewManager(Config{Endpoint: "http://localhost:0"})
	require.NoError(t, err)

	_, err = m.AccessToken(context.Background())
	assert.ErrorIs(t, err, ErrNoSigningKey)
	assert.False(t, m.HasCredential())
}

func TestAccessToken_ServerRejection(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer ts.Close()

	m, err := NewManager(Config{Endpoint: ts.URL, SignerKey: testKey})
	require.NoError(t, err)

	_, err = m.AccessToken(context.Background())
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "status 401")
}

func TestNewManager_InvalidKey(t *testing.T) {
	_, err := NewManager(Config{SignerKey: "not-hex"})
	assert.Error(t, err)
}

func TestSignInMessage_Shape(t *testing.T) {
	issued := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	msg := SignInMessage("https://relay.example.com/callback", "0xAbC", 137, "deadbeef01020304", issued)

	assert.True(t, strings.HasPrefix(msg, "relay.example.com wants you to sign in with your Ethereum account:\n0xAbC\n"))
	assert.Contains(t, msg, "URI: https://relay.example.com/callback")
	assert.Contains(t, msg, "Chain ID: 137")
	assert.Contains(t, msg, "Nonce: deadbeef01020304")
	assert.Contains(t, msg, "Issued At: 2026-05-01T12:00:00Z")
}
