package hub

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/log"
)

// Subscription modes per the WebSub handshake.
const (
	ModeSubscribe   = "subscribe"
	ModeUnsubscribe = "unsubscribe"
)

// Error definitions
var (
	ErrNotConfigured = errors.New("lock address or callback url not configured")
)

// Config holds configuration for the subscription controller.
type Config struct {
	HubURL      string // Hub base URL; the lock topic lives under /{network}/locks/{lock}
	Network     int
	LockAddress string
	CallbackURL string
	Secret      string // Shared secret echoed back during intent verification
	Timeout     time.Duration
}

// Controller performs the subscribe/unsubscribe handshake against the hub
// and validates inbound verification challenges.
type Controller struct {
	cfg        Config
	topic      string
	endpoint   string
	httpClient *http.Client
}

// NewController initializes a subscription controller.
func NewController(cfg Config) *Controller {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	base := strings.TrimRight(cfg.HubURL, "/")
	return &Controller{
		cfg:        cfg,
		endpoint:   fmt.Sprintf("%s/%d/locks/%s", base, cfg.Network, cfg.LockAddress),
		topic:      fmt.Sprintf("%s/%d/locks/%s", base, cfg.Network, cfg.LockAddress),
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

// Topic returns the hub topic this controller subscribes to.
func (c *Controller) Topic() string {
	return c.topic
}

// Subscribe registers the callback with the hub. Fire-and-forget at the hub:
// success means the hub accepted the request, the intent verification arrives
// later on our GET endpoint.
func (c *Controller) Subscribe(ctx context.Context) error {
	return c.post(ctx, ModeSubscribe)
}

// Unsubscribe removes the callback registration from the hub.
func (c *Controller) Unsubscribe(ctx context.Context) error {
	return c.post(ctx, ModeUnsubscribe)
}

func (c *Controller) post(ctx context.Context, mode string) error {
	if c.cfg.LockAddress == "" || c.cfg.CallbackURL == "" {
		return ErrNotConfigured
	}

	form := url.Values{}
	form.Set("hub.topic", c.topic)
	form.Set("hub.callback", c.cfg.CallbackURL)
	form.Set("hub.mode", mode)
	form.Set("hub.secret", c.cfg.Secret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("hub request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("hub rejected %s: status %d", mode, resp.StatusCode)
	}

	log.Info("Hub request accepted", "mode", mode, "topic", c.topic)
	return nil
}

// VerifyChallenge validates an intent-verification request from the hub.
// The body to echo is returned with ok=true only when the secret matches
// exactly and the mode is a recognized handshake mode; everything else is
// rejected.
func (c *Controller) VerifyChallenge(secret, mode, challenge string) (string, bool) {
	if secret != c.cfg.Secret {
		return "", false
	}
	switch mode {
	case ModeSubscribe, ModeUnsubscribe:
		return challenge, true
	default:
		return "", false
	}
}
