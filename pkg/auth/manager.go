package auth

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/log"
	"golang.org/x/sync/singleflight"
)

// Error definitions
var (
	ErrNoSigningKey = errors.New("no signing key configured")
)

// clockSkewMargin is subtracted from the server token lifetime so a cached
// credential is never presented past its real expiry.
const clockSkewMargin = 1 * time.Hour

// Config holds configuration for the credential manager.
type Config struct {
	Endpoint  string        // Login endpoint, e.g. https://locksmith.example.com/v2/auth/login
	SignerKey string        // Hex-encoded secp256k1 private key, may be empty
	ChainID   int           // Network the sign-in message targets
	Origin    string        // Our public URL, used as the sign-in domain/URI
	TokenTTL  time.Duration // Server-side token lifetime (default 24h)
	Timeout   time.Duration
}

type credential struct {
	token     string
	expiresAt time.Time
}

func (c credential) valid(now time.Time) bool {
	return c.token != "" && now.Before(c.expiresAt)
}

// Manager owns the process-lifetime bearer credential for the metadata
// service. Concurrent refreshes collapse into a single login exchange.
type Manager struct {
	cfg        Config
	key        *ecdsa.PrivateKey
	httpClient *http.Client

	group singleflight.Group
	mu    sync.RWMutex
	cache credential

	now func() time.Time
}

// NewManager initializes a credential manager. A missing signer key is not an
// error here; AccessToken reports ErrNoSigningKey when the key is needed.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = 24 * time.Hour
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	m := &Manager{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		now:        time.Now,
	}

	if cfg.SignerKey != "" {
		key, err := crypto.HexToECDSA(cfg.SignerKey)
		if err != nil {
			return nil, fmt.Errorf("invalid signer key: %w", err)
		}
		m.key = key
	}

	return m, nil
}

// HasCredential reports whether a live token is currently cached.
func (m *Manager) HasCredential() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cache.valid(m.now())
}

// AccessToken returns a valid bearer token, refreshing via the sign-in
// exchange when the cache is absent or expired.
func (m *Manager) AccessToken(ctx context.Context) (string, error) {
	m.mu.RLock()
	cached := m.cache
	m.mu.RUnlock()

	if cached.valid(m.now()) {
		return cached.token, nil
	}

	// Collapse concurrent refreshes into one exchange; every waiter gets
	// the same fresh token.
	tok, err, _ := m.group.Do("login", func() (interface{}, error) {
		m.mu.RLock()
		cached := m.cache
		m.mu.RUnlock()
		if cached.valid(m.now()) {
			return cached.token, nil
		}
		return m.login(ctx)
	})
	if err != nil {
		return "", err
	}
	return tok.(string), nil
}

type loginRequest struct {
	Message   string `json:"message"`
	Signature string `json:"signature"`
}

type loginResponse struct {
	AccessToken string `json:"accessToken"`
}

func (m *Manager) login(ctx context.Context) (string, error) {
	if m.key == nil {
		return "", ErrNoSigningKey
	}

	nonce, err := newNonce()
	if err != nil {
		return "", fmt.Errorf("nonce generation failed: %w", err)
	}

	issuedAt := m.now().UTC()
	message := SignInMessage(m.cfg.Origin, crypto.PubkeyToAddress(m.key.PublicKey).Hex(), m.cfg.ChainID, nonce, issuedAt)

	sig, err := signPersonal(message, m.key)
	if err != nil {
		return "", fmt.Errorf("message signing failed: %w", err)
	}

	body, err := json.Marshal(loginRequest{Message: message, Signature: sig})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("login request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("login rejected: status %d", resp.StatusCode)
	}

	var lr loginResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return "", fmt.Errorf("login response malformed: %w", err)
	}
	if lr.AccessToken == "" {
		return "", errors.New("login response missing access token")
	}

	expiresAt := m.now().Add(m.cfg.TokenTTL - clockSkewMargin)
	m.mu.Lock()
	m.cache = credential{token: lr.AccessToken, expiresAt: expiresAt}
	m.mu.Unlock()

	log.Debug("Credential refreshed", "expires_at", expiresAt)
	return lr.AccessToken, nil
}

// SignInMessage builds the structured sign-in-with-Ethereum message the
// locksmith expects for the challenge/response exchange.
func SignInMessage(origin, address string, chainID int, nonce string, issuedAt time.Time) string {
	domain := origin
	if u, err := url.Parse(origin); err == nil && u.Host != "" {
		domain = u.Host
	}
	return fmt.Sprintf(
		"%s wants you to sign in with your Ethereum account:\n%s\n\n\nURI: %s\nVersion: 1\nChain ID: %d\nNonce: %s\nIssued At: %s",
		domain, address, origin, chainID, nonce, issuedAt.Format(time.RFC3339),
	)
}

// signPersonal computes an EIP-191 personal signature over the message.
func signPersonal(message string, key *ecdsa.PrivateKey) (string, error) {
	hash := accounts.TextHash([]byte(message))
	sig, err := crypto.Sign(hash, key)
	if err != nil {
		return "", err
	}
	// Shift recovery id to the 27/28 convention wallets use
	sig[64] += 27
	return hexutil.Encode(sig), nil
}

func newNonce() (string, error) {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
