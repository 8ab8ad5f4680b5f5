package processor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/84hero/lockhook/pkg/locksmith"
	"github.com/84hero/lockhook/pkg/notify"
	"github.com/84hero/lockhook/pkg/sink"
	"github.com/84hero/lockhook/pkg/storage"
	"github.com/ethereum/go-ethereum/log"
)

// Status classifies the overall outcome of one webhook delivery.
type Status int

const (
	// StatusIgnored: resource mismatch, malformed payload or nothing to do.
	StatusIgnored Status = iota
	// StatusProcessed: the item loop ran; Notified holds the action count.
	StatusProcessed
	// StatusError: an unexpected internal failure outside per-item handling.
	StatusError
)

// Result aggregates the per-item outcomes of one delivery.
type Result struct {
	Status   Status
	Notified int
	Items    []sink.Receipt
}

// Resolver yields a buyer record for a token id, never failing outward.
type Resolver interface {
	Resolve(ctx context.Context, tokenID string) locksmith.BuyerRecord
}

// Notifier fans a resolved buyer out to the notification channels.
type Notifier interface {
	Notify(ctx context.Context, rec locksmith.BuyerRecord, txRef string) notify.Outcome
}

// delivery is the wire shape of one hub POST.
type delivery struct {
	Lock string     `json:"lock"`
	Data []purchase `json:"data"`
}

type purchase struct {
	TokenID         tokenID  `json:"tokenId"`
	TransactionHash []string `json:"transactionHash"`
}

// tokenID tolerates hubs that serialize ids as JSON numbers.
type tokenID string

func (t *tokenID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*t = tokenID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err == nil {
		*t = tokenID(n.String())
		return nil
	}
	return fmt.Errorf("token id is neither string nor number")
}

// Processor turns raw webhook deliveries into notification actions.
type Processor struct {
	network  int
	lock     string
	resolver Resolver
	notifier Notifier
	seen     storage.SeenCache
	outputs  []sink.Output
}

// New initializes a processor for one configured lock.
func New(network int, lock string, resolver Resolver, notifier Notifier, seen storage.SeenCache, outputs []sink.Output) *Processor {
	if seen == nil {
		seen = storage.NewMemorySeen("")
	}
	return &Processor{
		network:  network,
		lock:     lock,
		resolver: resolver,
		notifier: notifier,
		seen:     seen,
		outputs:  outputs,
	}
}

// Handle processes one delivery body. It never panics outward: per-item
// failures are absorbed by the resolver and notifier contracts, and anything
// unexpected is converted to StatusError instead of escaping.
func (p *Processor) Handle(ctx context.Context, body []byte) (result Result) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("Delivery processing panicked", "err", r)
			result = Result{Status: StatusError}
		}
	}()

	var d delivery
	if err := json.Unmarshal(body, &d); err != nil {
		log.Debug("Ignoring malformed delivery", "err", err)
		return Result{Status: StatusIgnored}
	}

	// Events for other locks are not ours to process. Addresses compare
	// case-insensitively: checksummed and lowercased forms are the same lock.
	if d.Lock != "" && !strings.EqualFold(d.Lock, p.lock) {
		log.Debug("Ignoring delivery for foreign lock", "lock", d.Lock)
		return Result{Status: StatusIgnored}
	}

	if len(d.Data) == 0 {
		return Result{Status: StatusIgnored}
	}

	result.Status = StatusProcessed
	for _, item := range d.Data {
		id := string(item.TokenID)
		if id == "" {
			continue
		}

		// Only the first tx ref is authoritative; batched purchases have
		// not been observed to carry meaningful extras.
		var txRef string
		if len(item.TransactionHash) > 0 {
			txRef = item.TransactionHash[0]
		}

		receipt := sink.Receipt{
			Network:   p.network,
			Lock:      p.lock,
			TokenID:   id,
			TxHash:    txRef,
			Timestamp: time.Now().Unix(),
		}

		dedupKey := fmt.Sprintf("%s:%s:%s", strings.ToLower(p.lock), id, strings.ToLower(txRef))
		if p.seen.Seen(dedupKey) {
			receipt.Skipped = "duplicate"
			result.Items = append(result.Items, receipt)
			continue
		}

		rec := p.resolver.Resolve(ctx, id)
		if !rec.HasIdentity() {
			// Not marked as seen: a redelivery may find metadata the buyer
			// filled in after checkout.
			receipt.Skipped = "no identity"
			result.Items = append(result.Items, receipt)
			continue
		}

		out := p.notifier.Notify(ctx, rec, txRef)
		receipt.Notified = out.EmailSent
		receipt.Enrolled = out.Enrolled
		result.Items = append(result.Items, receipt)
		result.Notified++
		p.seen.Mark(dedupKey)

		log.Info("Purchase handled", "token_id", id, "tx", txRef, "email_sent", out.EmailSent, "enrolled", out.Enrolled)
	}

	p.emit(ctx, result.Items)
	return result
}

// emit forwards receipts to every configured output. Best-effort: sink
// failures are logged and do not affect the delivery outcome.
func (p *Processor) emit(ctx context.Context, receipts []sink.Receipt) {
	if len(receipts) == 0 || len(p.outputs) == 0 {
		return
	}

	var wg sync.WaitGroup
	for _, out := range p.outputs {
		wg.Add(1)
		go func(o sink.Output) {
			defer wg.Done()
			if err := o.Send(ctx, receipts); err != nil {
				log.Warn("Receipt sink failed", "sink", o.Name(), "err", err)
			}
		}(out)
	}
	wg.Wait()
}
