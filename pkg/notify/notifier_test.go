package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/84hero/lockhook/internal/mailer"
	"github.com/84hero/lockhook/pkg/locksmith"
	"github.com/stretchr/testify/assert"
)

type fakeMailer struct {
	sent []mailer.Message
	err  error
}

func (f *fakeMailer) Send(ctx context.Context, msg mailer.Message) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, msg)
	return nil
}

type fakeList struct {
	enrolled []string
	err      error
}

func (f *fakeList) Enroll(ctx context.Context, email, firstName string) error {
	if f.err != nil {
		return f.err
	}
	f.enrolled = append(f.enrolled, email)
	return nil
}

func buyer() locksmith.BuyerRecord {
	return locksmith.BuyerRecord{
		Email:    "a@b.com",
		FullName: "A B",
		Owner:    "0x1234",
		TokenID:  "5",
		Lock:     "0xAA",
		Network:  137,
	}
}

func TestNotify(t *testing.T) {
	fm := &fakeMailer{}
	fl := &fakeList{}
	n := NewNotifier(fm, fl, "owner@example.com")

	out := n.Notify(context.Background(), buyer(), "0xTX1")
	assert.True(t, out.EmailSent)
	assert.True(t, out.Enrolled)

	assert.Len(t, fm.sent, 1)
	assert.Equal(t, "owner@example.com", fm.sent[0].To)
	assert.Contains(t, fm.sent[0].Subject, "#5")
	assert.Contains(t, fm.sent[0].Body, "A B")
	assert.Contains(t, fm.sent[0].Body, "https://polygonscan.com/tx/0xTX1")

	assert.Equal(t, []string{"a@b.com"}, fl.enrolled)
}

func TestNotify_NoEmail_SkipsEnrollment(t *testing.T) {
	fm := &fakeMailer{}
	fl := &fakeList{}
	n := NewNotifier(fm, fl, "owner@example.com")

	rec := buyer()
	rec.Email = ""
	out := n.Notify(context.Background(), rec, "0xTX1")

	// Email still goes out when a name is present, enrollment does not
	assert.True(t, out.EmailSent)
	assert.False(t, out.Enrolled)
	assert.Empty(t, fl.enrolled)
}

func TestNotify_MailFailure_Absorbed(t *testing.T) {
	fm := &fakeMailer{err: errors.New("smtp down")}
	fl := &fakeList{}
	n := NewNotifier(fm, fl, "owner@example.com")

	out := n.Notify(context.Background(), buyer(), "0xTX1")
	assert.False(t, out.EmailSent)
	// List enrollment still attempted
	assert.True(t, out.Enrolled)
}

func TestNotify_ListFailure_Absorbed(t *testing.T) {
	fm := &fakeMailer{}
	fl := &fakeList{err: errors.New("api down")}
	n := NewNotifier(fm, fl, "owner@example.com")

	out := n.Notify(context.Background(), buyer(), "0xTX1")
	assert.True(t, out.EmailSent)
	assert.False(t, out.Enrolled)
}

func TestRender_EventBlock(t *testing.T) {
	rec := buyer()
	rec.Event = &locksmith.EventDetails{
		Name:      "DevConf",
		StartDate: "2026-06-01T18:00",
		EndDate:   "2026-06-01T21:00",
		Timezone:  "Europe/Lisbon",
		Address:   "Rua A 1, Lisboa",
		InPerson:  true,
	}

	body := Render(rec, "")
	assert.Contains(t, body, "Event: DevConf")
	assert.Contains(t, body, "2026-06-01T18:00 (Europe/Lisbon)")
	assert.Contains(t, body, "Location: Rua A 1, Lisboa")
	assert.NotContains(t, body, "virtual event")
	// No tx ref, no explorer line
	assert.NotContains(t, body, "Tx:")
}

func TestRender_VirtualEvent(t *testing.T) {
	rec := buyer()
	rec.Event = &locksmith.EventDetails{Name: "OnlineConf", InPerson: false}

	body := Render(rec, "0xTX")
	assert.Contains(t, body, "virtual event")
	assert.NotContains(t, body, "Location:")
}

func TestMailingListClient_Enroll(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/contacts", r.URL.Path)
		assert.Equal(t, "key-1", r.Header.Get("X-Api-Key"))

		var req enrollRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "a@b.com", req.Email)
		assert.Equal(t, []string{"list-9"}, req.Lists)
		assert.Equal(t, "A B", req.FirstName)

		w.WriteHeader(http.StatusCreated)
	}))
	defer ts.Close()

	c := NewMailingListClient(MailingListConfig{BaseURL: ts.URL, APIKey: "key-1", ListID: "list-9"})
	assert.NoError(t, c.Enroll(context.Background(), "a@b.com", "A B"))
}

func TestMailingListClient_Rejection(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	}))
	defer ts.Close()

	c := NewMailingListClient(MailingListConfig{BaseURL: ts.URL, ListID: "list-9"})
	err := c.Enroll(context.Background(), "a@b.com", "")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "status 409")
}

func TestMailingListClient_NotConfigured(t *testing.T) {
	c := NewMailingListClient(MailingListConfig{})
	err := c.Enroll(context.Background(), "a@b.com", "")
	assert.Error(t, err)
}
