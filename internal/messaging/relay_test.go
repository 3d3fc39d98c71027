package messaging

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/BTreeMap/TutorPipe/internal/models"
	"github.com/BTreeMap/TutorPipe/internal/store"
	"github.com/BTreeMap/TutorPipe/internal/testutil"
	"github.com/BTreeMap/TutorPipe/internal/tutor"
	"github.com/BTreeMap/TutorPipe/internal/twiliowhatsapp"
)

const relayMistake = "MISTAKE_DETECTED: You meant: 'I went to the park yesterday'. We use past tense. Can you try saying it again? RUSSIAN_EXPLANATION: Прошедшее время."

func newRelayFixture(t *testing.T, responses ...string) (*Relay, *twiliowhatsapp.MockClient, *tutor.Manager, *testutil.FakeLanguageService) {
	t.Helper()
	lang := testutil.NewFakeLanguageService(responses...)
	manager := tutor.NewManager(tutor.Deps{Language: lang, Store: store.NewInMemoryStore()})
	mock := twiliowhatsapp.NewMockClient()
	return NewRelay(NewTwilioService(mock), manager), mock, manager, lang
}

func lastSent(t *testing.T, mock *twiliowhatsapp.MockClient) twiliowhatsapp.SentMessage {
	t.Helper()
	sent := mock.Sent()
	if len(sent) == 0 {
		t.Fatal("nothing sent")
	}
	return sent[len(sent)-1]
}

func TestRelaySubmitsAndFormatsCorrection(t *testing.T) {
	relay, mock, manager, _ := newRelayFixture(t, relayMistake)
	ctx := context.Background()

	err := relay.Handle(ctx, models.Response{From: "whatsapp:+15551234567", Body: "I go to park yesterday"})
	if err != nil {
		t.Fatalf("Handle error: %v", err)
	}
	msg := lastSent(t, mock)
	if msg.To != "15551234567" {
		t.Errorf("reply sent to %q", msg.To)
	}
	if !strings.Contains(msg.Body, `You mean: "I went to the park yesterday"`) {
		t.Errorf("reply = %q", msg.Body)
	}

	session, ok := manager.Lookup("wa:+15551234567")
	if !ok {
		t.Fatal("session not created")
	}
	if session.Phase() != models.PhaseAwaitingRetry {
		t.Errorf("phase = %s", session.Phase())
	}
}

func TestRelayCommands(t *testing.T) {
	relay, mock, manager, lang := newRelayFixture(t, relayMistake)
	ctx := context.Background()
	from := "+15551234567"

	if err := relay.Handle(ctx, models.Response{From: from, Body: "/grammar"}); err != nil {
		t.Fatal(err)
	}
	if got := lastSent(t, mock).Body; !strings.HasPrefix(got, "Switched to Grammar.") {
		t.Errorf("switch reply = %q", got)
	}
	session, _ := manager.Lookup("wa:+15551234567")
	if session.Feature() != models.FeatureGrammar {
		t.Errorf("feature = %s", session.Feature())
	}

	relay.Handle(ctx, models.Response{From: from, Body: "/explain"})
	if got := lastSent(t, mock).Body; got != noMistakeReply {
		t.Errorf("explain without mistake = %q", got)
	}

	relay.Handle(ctx, models.Response{From: from, Body: "I go to park yesterday"})
	relay.Handle(ctx, models.Response{From: from, Body: "/explain"})
	if got := lastSent(t, mock).Body; got != "Прошедшее время." {
		t.Errorf("explain = %q", got)
	}

	relay.Handle(ctx, models.Response{From: from, Body: "/unknown"})
	if got := lastSent(t, mock).Body; got != helpReply {
		t.Errorf("unknown command reply = %q", got)
	}
	if lang.Calls() != 1 {
		t.Errorf("language calls = %d, want 1", lang.Calls())
	}
}

func TestRelayIgnoresBlankAndRejectsBadSender(t *testing.T) {
	relay, mock, _, _ := newRelayFixture(t, "NO_MISTAKE: Nice.")
	ctx := context.Background()
	if err := relay.Handle(ctx, models.Response{From: "+15551234567", Body: "   "}); err != nil {
		t.Fatal(err)
	}
	if len(mock.Sent()) != 0 {
		t.Error("blank message should not produce a reply")
	}
	if err := relay.Handle(ctx, models.Response{From: "nobody", Body: "hi"}); err == nil {
		t.Error("expected error for invalid sender")
	}
}

func TestRelayRunDrainsChannel(t *testing.T) {
	mock := twiliowhatsapp.NewMockClient()
	svc := NewTwilioService(mock)
	manager := tutor.NewManager(tutor.Deps{Language: testutil.NewFakeLanguageService("NO_MISTAKE: Nice.")})
	relay := NewRelay(svc, manager, WithTurnTimeout(time.Second))

	done := make(chan struct{})
	go func() {
		relay.Run(context.Background())
		close(done)
	}()
	svc.responses <- models.Response{From: "+15551234567", Body: "Hello"}
	testutil.WaitFor(t, time.Second, func() bool { return len(mock.Sent()) == 1 }, "relayed reply")
	svc.Stop()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after Stop")
	}
	if got := mock.Sent()[0].Body; got != "Nice." {
		t.Errorf("reply = %q", got)
	}
}

func TestFormatForText(t *testing.T) {
	plain := models.Message{Sender: models.SenderTutor, Text: " Nice work! "}
	if got := FormatForText(plain); got != "Nice work!" {
		t.Errorf("FormatForText(plain) = %q", got)
	}
	long := models.Message{Text: "Try again.", Mistake: &models.MistakeRecord{OriginalText: "I go", CorrectedText: "Yesterday I went to the park"}}
	if got := FormatForText(long); got != "Try again.\n\nYou should say: \"Yesterday I went to the park\"" {
		t.Errorf("FormatForText(long) = %q", got)
	}
}
