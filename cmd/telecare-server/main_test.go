package main

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/telecare/telecare/internal/domain/session"
	"github.com/telecare/telecare/internal/platform/notify"
)

func newTestNotifier() (*sessionNotifier, *notify.MockEmailSender) {
	email := &notify.MockEmailSender{}
	d := notify.NewDispatcher(email, &notify.MockSMSSender{}, notify.NewTemplateEngine(), zerolog.Nop())
	return &sessionNotifier{dispatcher: d}, email
}

func waitForCalls(t *testing.T, email *notify.MockEmailSender, n int) []notify.EmailCall {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if calls := email.Calls(); len(calls) >= n {
			return calls
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected %d email call(s), got %d", n, len(email.Calls()))
	return nil
}

func TestSessionNotifier_SessionEnded(t *testing.T) {
	notifier, email := newTestNotifier()
	patientID := uuid.New()
	endTime := time.Date(2026, 3, 14, 15, 0, 0, 0, time.UTC)
	sess := &session.VideoSession{
		ID:         uuid.New(),
		ProviderID: uuid.New(),
		PatientID:  &patientID,
		EndTime:    &endTime,
	}

	notifier.SessionEnded(sess, 600)

	calls := waitForCalls(t, email, 1)
	if calls[0].To != patientID.String() {
		t.Errorf("expected recipient %s, got %s", patientID, calls[0].To)
	}
	if !strings.Contains(calls[0].Body, "10 minutes") {
		t.Errorf("expected duration in minutes in body, got %q", calls[0].Body)
	}
	if !strings.Contains(calls[0].Body, "2026-03-14") {
		t.Errorf("expected end date in body, got %q", calls[0].Body)
	}
}

func TestSessionNotifier_SessionReady(t *testing.T) {
	notifier, email := newTestNotifier()
	patientID := uuid.New()
	sess := &session.VideoSession{
		ID:         uuid.New(),
		ProviderID: uuid.New(),
		PatientID:  &patientID,
	}

	notifier.SessionReady(sess)

	calls := waitForCalls(t, email, 1)
	if !strings.Contains(calls[0].Body, "/sessions/"+sess.ID.String()) {
		t.Errorf("expected join link in body, got %q", calls[0].Body)
	}
}

func TestSessionNotifier_NoPatientIsNoOp(t *testing.T) {
	notifier, email := newTestNotifier()
	sess := &session.VideoSession{ID: uuid.New(), ProviderID: uuid.New()}

	notifier.SessionReady(sess)
	notifier.SessionEnded(sess, 60)

	time.Sleep(50 * time.Millisecond)
	if calls := email.Calls(); len(calls) != 0 {
		t.Errorf("expected no notifications without a patient, got %d", len(calls))
	}
}

func TestCommandTree(t *testing.T) {
	for _, c := range []interface{ Name() string }{serveCmd(), migrateCmd(), tenantCmd()} {
		if c.Name() == "" {
			t.Error("expected named command")
		}
	}
}
