package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// ListClient enrolls contacts into a mailing list.
type ListClient interface {
	Enroll(ctx context.Context, email, firstName string) error
}

// MailingListConfig holds configuration for the mailing-list API client.
type MailingListConfig struct {
	BaseURL string
	APIKey  string
	ListID  string
	Timeout time.Duration
}

// MailingListClient posts new contacts to the mailing-list service.
type MailingListClient struct {
	cfg        MailingListConfig
	httpClient *http.Client
}

func NewMailingListClient(cfg MailingListConfig) *MailingListClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &MailingListClient{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

type enrollRequest struct {
	Email     string   `json:"email"`
	Lists     []string `json:"lists"`
	FirstName string   `json:"first_name,omitempty"`
}

// Enroll adds a contact to the configured list. No retries; a failed call is
// terminal for the current delivery.
func (c *MailingListClient) Enroll(ctx context.Context, email, firstName string) error {
	if c.cfg.BaseURL == "" || c.cfg.ListID == "" {
		return fmt.Errorf("mailing list not configured")
	}

	body, err := json.Marshal(enrollRequest{
		Email:     email,
		Lists:     []string{c.cfg.ListID},
		FirstName: firstName,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/contacts", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Api-Key", c.cfg.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("mailing list request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("mailing list rejected contact: status %d", resp.StatusCode)
	}
	return nil
}
