package notify

import (
	"bytes"
	"context"
	"fmt"
	"text/template"

	"github.com/84hero/lockhook/internal/mailer"
	"github.com/84hero/lockhook/pkg/chain"
	"github.com/84hero/lockhook/pkg/locksmith"
	"github.com/ethereum/go-ethereum/log"
)

// Outcome reports what the fan-out managed to do for one buyer. Failures are
// absorbed here; the processor only aggregates outcomes.
type Outcome struct {
	EmailSent bool
	Enrolled  bool
}

const messageTemplate = `A new key was purchased.

Buyer:    {{if .Rec.FullName}}{{.Rec.FullName}}{{else}}(no name){{end}}
Email:    {{if .Rec.Email}}{{.Rec.Email}}{{else}}(no email){{end}}
Owner:    {{.Rec.Owner}}
Key:      #{{.Rec.TokenID}}
Lock:     {{.Rec.Lock}}
Network:  {{.NetworkName}} ({{.Rec.Network}})
{{if .TxURL}}Tx:       {{.TxURL}}
{{end}}{{if .Rec.Event}}
Event: {{.Rec.Event.Name}}
Starts: {{.Rec.Event.StartDate}} ({{.Rec.Event.Timezone}})
Ends:   {{.Rec.Event.EndDate}} ({{.Rec.Event.Timezone}})
{{if .Rec.Event.InPerson}}Location: {{.Rec.Event.Address}}
{{else}}This is a virtual event; the join link is in the ticket.
{{end}}{{end}}`

var tmpl = template.Must(template.New("notification").Parse(messageTemplate))

// Notifier renders and dispatches the per-buyer notification email and,
// when the buyer left an email, the mailing-list enrollment.
type Notifier struct {
	mailer mailer.Mailer
	list   ListClient
	to     string // notification destination address
}

func NewNotifier(m mailer.Mailer, list ListClient, to string) *Notifier {
	return &Notifier{mailer: m, list: list, to: to}
}

// Notify dispatches the fan-out for one resolved buyer. Best-effort: mail and
// list failures are logged and reflected in the Outcome, never raised.
func (n *Notifier) Notify(ctx context.Context, rec locksmith.BuyerRecord, txRef string) Outcome {
	var out Outcome

	msg := mailer.Message{
		To:      n.to,
		Subject: fmt.Sprintf("New key #%s purchased on lock %s", rec.TokenID, rec.Lock),
		Body:    Render(rec, txRef),
	}
	if err := n.mailer.Send(ctx, msg); err != nil {
		log.Warn("Notification email failed", "token_id", rec.TokenID, "err", err)
	} else {
		out.EmailSent = true
	}

	// No email means no enrollment; that is normal, not an error.
	if rec.Email == "" || n.list == nil {
		return out
	}

	if err := n.list.Enroll(ctx, rec.Email, rec.FullName); err != nil {
		log.Warn("Mailing list enrollment failed", "token_id", rec.TokenID, "err", err)
	} else {
		out.Enrolled = true
	}

	return out
}

// Render produces the plain-text notification body for one buyer.
func Render(rec locksmith.BuyerRecord, txRef string) string {
	networkName := fmt.Sprintf("chain %d", rec.Network)
	if p, ok := chain.Get(rec.Network); ok {
		networkName = p.Name
	}

	var txURL string
	if txRef != "" {
		txURL = chain.ExplorerTxURL(rec.Network, txRef)
	}

	var buf bytes.Buffer
	err := tmpl.Execute(&buf, struct {
		Rec         locksmith.BuyerRecord
		NetworkName string
		TxURL       string
	}{rec, networkName, txURL})
	if err != nil {
		// Template and data are both under our control; keep a readable
		// fallback anyway.
		return fmt.Sprintf("A new key was purchased: key #%s on lock %s", rec.TokenID, rec.Lock)
	}
	return buf.String()
}
