package locksmith

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/log"
)

// TokenSource supplies bearer tokens for metadata lookups. Satisfied by
// *auth.Manager.
type TokenSource interface {
	AccessToken(ctx context.Context) (string, error)
}

// EventDetails is the optional ticketing block attached to key metadata.
type EventDetails struct {
	Name      string `json:"name"`
	StartDate string `json:"startDate"`
	EndDate   string `json:"endDate"`
	Timezone  string `json:"timezone"`
	Address   string `json:"address"`
	InPerson  bool   `json:"inPerson"`
}

// BuyerRecord is the resolved identity bundle for one purchased key.
// Identity fields stay empty when resolution fails; callers treat an
// identity-empty record as "nothing to notify".
type BuyerRecord struct {
	Email           string
	FullName        string
	NewsletterOptIn bool
	Owner           string
	TokenID         string
	Lock            string
	Network         int
	Event           *EventDetails
	Raw             json.RawMessage
}

// HasIdentity reports whether the record carries anything worth notifying about.
func (b BuyerRecord) HasIdentity() bool {
	return b.Email != "" || b.FullName != ""
}

// Resolver fetches buyer metadata for keys of one lock.
type Resolver struct {
	creds      TokenSource
	baseURL    string
	network    int
	lock       string
	httpClient *http.Client
}

// NewResolver initializes a resolver for the given lock.
func NewResolver(creds TokenSource, baseURL string, network int, lock string, timeout time.Duration) *Resolver {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Resolver{
		creds:      creds,
		baseURL:    strings.TrimRight(baseURL, "/"),
		network:    network,
		lock:       lock,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Resolve looks up the buyer behind a token id. It never returns an error:
// any failure yields an identity-empty record, so one bad lookup cannot fail
// the webhook delivery it belongs to.
func (r *Resolver) Resolve(ctx context.Context, tokenID string) BuyerRecord {
	rec := BuyerRecord{
		TokenID: tokenID,
		Lock:    r.lock,
		Network: r.network,
	}

	token, err := r.creds.AccessToken(ctx)
	if err != nil {
		log.Warn("Metadata lookup skipped, no credential", "token_id", tokenID, "err", err)
		return rec
	}

	endpoint := fmt.Sprintf("%s/v2/api/metadata/%d/locks/%s/keys/%s", r.baseURL, r.network, r.lock, tokenID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		log.Warn("Metadata request build failed", "token_id", tokenID, "err", err)
		return rec
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := r.httpClient.Do(req)
	if err != nil {
		log.Warn("Metadata lookup failed", "token_id", tokenID, "err", err)
		return rec
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		log.Warn("Metadata lookup rejected", "token_id", tokenID, "status", resp.StatusCode)
		return rec
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		log.Warn("Metadata read failed", "token_id", tokenID, "err", err)
		return rec
	}

	var meta keyMetadata
	if err := json.Unmarshal(body, &meta); err != nil {
		log.Warn("Metadata body malformed", "token_id", tokenID, "err", err)
		return rec
	}

	rec.Raw = body
	rec.Owner = meta.Owner
	rec.Email = firstNonEmpty(meta.UserMetadata.Protected.Email, meta.UserMetadata.Public.Email)
	rec.FullName = firstNonEmpty(meta.UserMetadata.Protected.FullName, meta.UserMetadata.Public.FullName)
	rec.NewsletterOptIn = bool(meta.UserMetadata.Protected.OptInNewsletter) || bool(meta.UserMetadata.Public.OptInNewsletter)
	rec.Event = meta.EventData

	return rec
}

type keyMetadata struct {
	Owner        string `json:"owner"`
	UserMetadata struct {
		Protected metadataFields `json:"protected"`
		Public    metadataFields `json:"public"`
	} `json:"userMetadata"`
	EventData *EventDetails `json:"eventData"`
}

type metadataFields struct {
	Email           string  `json:"email"`
	FullName        string  `json:"fullname"`
	OptInNewsletter optBool `json:"optInNewsletter"`
}

// optBool tolerates the loose encodings buyers' wallets produce for the
// newsletter flag: true, "true", "yes", "1".
type optBool bool

func (o *optBool) UnmarshalJSON(data []byte) error {
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		*o = optBool(b)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		switch strings.ToLower(strings.TrimSpace(s)) {
		case "true", "yes", "1":
			*o = true
		default:
			*o = false
		}
		return nil
	}
	// Unknown shape, treat as unset
	*o = false
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
