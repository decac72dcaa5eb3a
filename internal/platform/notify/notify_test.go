package notify

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newTestDispatcher(email *MockEmailSender, sms *MockSMSSender) *Dispatcher {
	return NewDispatcher(email, sms, NewTemplateEngine(), zerolog.Nop())
}

func TestTemplateEngine_RenderSessionReady(t *testing.T) {
	e := NewTemplateEngine()

	subject, body, err := e.Render(TemplateSessionReady, map[string]string{
		"patient_name":  "Jordan",
		"provider_name": "Dr. Chen",
		"join_link":     "https://visit.example.com/abc",
	})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if !strings.Contains(subject, "Dr. Chen") {
		t.Errorf("subject missing provider name: %s", subject)
	}
	if !strings.Contains(body, "https://visit.example.com/abc") {
		t.Errorf("body missing join link: %s", body)
	}
}

func TestTemplateEngine_UnknownTemplate(t *testing.T) {
	e := NewTemplateEngine()
	if _, _, err := e.Render("no-such-template", nil); err == nil {
		t.Error("expected error for unknown template")
	}
}

func TestTemplateEngine_MissingKeysLeftAsIs(t *testing.T) {
	e := NewTemplateEngine()
	_, body, err := e.Render(TemplateSessionEnded, map[string]string{
		"patient_name": "Jordan",
	})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if !strings.Contains(body, "{{duration}}") {
		t.Errorf("expected unfilled placeholder preserved, got %s", body)
	}
}

func TestDispatcher_SendEmail(t *testing.T) {
	email := &MockEmailSender{}
	d := newTestDispatcher(email, &MockSMSSender{})

	n := &Notification{
		Channel:   ChannelEmail,
		Recipient: "patient@example.com",
		Subject:   "hello",
		Body:      "body",
	}
	if err := d.Send(context.Background(), n); err != nil {
		t.Fatalf("send: %v", err)
	}

	if n.Status != "sent" || n.SentAt == nil {
		t.Errorf("expected sent status, got %+v", n)
	}
	if len(email.Calls()) != 1 {
		t.Fatalf("expected 1 email call, got %d", len(email.Calls()))
	}
}

func TestDispatcher_SendFailureRecordedAndRetryable(t *testing.T) {
	email := &MockEmailSender{ShouldFail: true, FailError: "smtp down"}
	d := newTestDispatcher(email, &MockSMSSender{})

	n := &Notification{
		Channel:   ChannelEmail,
		Recipient: "patient@example.com",
		Body:      "body",
	}
	if err := d.Send(context.Background(), n); err == nil {
		t.Fatal("expected send error")
	}
	if n.Status != "failed" || n.Error != "smtp down" {
		t.Errorf("expected failed record, got %+v", n)
	}

	email.ShouldFail = false
	if err := d.Retry(context.Background(), n.ID); err != nil {
		t.Fatalf("retry: %v", err)
	}

	got, err := d.Get(n.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != "sent" || got.Error != "" {
		t.Errorf("expected sent after retry, got %+v", got)
	}
}

func TestDispatcher_RetryRejectsNonFailed(t *testing.T) {
	d := newTestDispatcher(&MockEmailSender{}, &MockSMSSender{})

	n := &Notification{Channel: ChannelEmail, Recipient: "x@example.com", Body: "b"}
	if err := d.Send(context.Background(), n); err != nil {
		t.Fatalf("send: %v", err)
	}
	if err := d.Retry(context.Background(), n.ID); err == nil {
		t.Error("expected retry of sent notification to fail")
	}
}

func TestDispatcher_SendFromTemplate(t *testing.T) {
	email := &MockEmailSender{}
	d := newTestDispatcher(email, &MockSMSSender{})

	n, err := d.SendFromTemplate(context.Background(), TemplateSessionEnded, map[string]string{
		"patient_name":  "Jordan",
		"provider_name": "Dr. Chen",
		"date":          "2026-08-29",
		"duration":      "23",
	}, "patient@example.com")
	if err != nil {
		t.Fatalf("send from template: %v", err)
	}

	if n.Channel != ChannelEmail || n.TemplateID != TemplateSessionEnded {
		t.Errorf("unexpected notification: %+v", n)
	}
	calls := email.Calls()
	if len(calls) != 1 || !strings.Contains(calls[0].Body, "23 minutes") {
		t.Errorf("unexpected email calls: %+v", calls)
	}
}

func TestDispatcher_SendAsyncDoesNotBlock(t *testing.T) {
	email := &MockEmailSender{}
	d := newTestDispatcher(email, &MockSMSSender{})

	d.SendAsync(TemplateSessionReady, map[string]string{
		"patient_name":  "Jordan",
		"provider_name": "Dr. Chen",
		"join_link":     "https://visit.example.com/abc",
	}, "patient@example.com")

	deadline := time.Now().Add(time.Second)
	for len(email.Calls()) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if len(email.Calls()) != 1 {
		t.Fatalf("expected async send to land, got %d calls", len(email.Calls()))
	}
}

func TestDispatcher_Stats(t *testing.T) {
	email := &MockEmailSender{}
	sms := &MockSMSSender{ShouldFail: true, FailError: "gateway error"}
	d := newTestDispatcher(email, sms)

	_ = d.Send(context.Background(), &Notification{Channel: ChannelEmail, Recipient: "a@example.com", Body: "b"})
	_ = d.Send(context.Background(), &Notification{Channel: ChannelSMS, Recipient: "+15550100", Body: "b"})

	stats := d.Stats()
	if stats["sent"] != 1 || stats["failed"] != 1 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}
