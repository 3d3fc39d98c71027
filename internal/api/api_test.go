package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/BTreeMap/TutorPipe/internal/messaging"
	"github.com/BTreeMap/TutorPipe/internal/models"
	"github.com/BTreeMap/TutorPipe/internal/prompt"
	"github.com/BTreeMap/TutorPipe/internal/store"
	"github.com/BTreeMap/TutorPipe/internal/testutil"
	"github.com/BTreeMap/TutorPipe/internal/tutor"
	"github.com/BTreeMap/TutorPipe/internal/twiliowhatsapp"
)

const mistakeReply = "MISTAKE_DETECTED: You meant: 'I went to the park yesterday'. We use past tense. Can you try saying it again? RUSSIAN_EXPLANATION: Используйте прошедшее время."

type envelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"`
}

func newTestServer(t *testing.T, lang *testutil.FakeLanguageService) (*Server, *tutor.Manager) {
	t.Helper()
	manager := tutor.NewManager(tutor.Deps{Language: lang, Store: store.NewInMemoryStore()})
	return NewServer(manager), manager
}

func do(t *testing.T, srv *Server, method, path string, body interface{}) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	req := testutil.CreateHTTPRequest(t, method, path, body)
	rr := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rr, req)
	var env envelope
	if strings.HasPrefix(rr.Header().Get("Content-Type"), "application/json") {
		testutil.MustUnmarshalJSON(t, rr.Body.Bytes(), &env)
	}
	return rr, env
}

func TestHealthAndFeatures(t *testing.T) {
	srv, _ := newTestServer(t, testutil.NewFakeLanguageService())

	rr, _ := do(t, srv, http.MethodGet, "/health", nil)
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "health")

	rr, env := do(t, srv, http.MethodGet, "/api/features", nil)
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "features")
	var features []prompt.FeatureInfo
	testutil.MustUnmarshalJSON(t, env.Result, &features)
	if len(features) != 4 || features[0].ID != models.FeatureFreeTalk || features[2].Name != "Grammar" || features[0].Description == "" {
		t.Errorf("unexpected features %+v", features)
	}
}

func TestSessionStartsWithGreeting(t *testing.T) {
	srv, _ := newTestServer(t, testutil.NewFakeLanguageService())

	rr, env := do(t, srv, http.MethodGet, "/api/users/u1/session", nil)
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "session")
	var view sessionView
	testutil.MustUnmarshalJSON(t, env.Result, &view)
	if view.Phase != models.PhaseIdle || view.Feature != models.FeatureFreeTalk {
		t.Errorf("phase = %s feature = %s", view.Phase, view.Feature)
	}
	if len(view.Messages) != 1 || view.Messages[0].Text != prompt.Greeting {
		t.Fatalf("expected greeting only, got %+v", view.Messages)
	}
	if view.Placeholder != prompt.Describe(models.FeatureFreeTalk).Placeholder {
		t.Errorf("placeholder = %q", view.Placeholder)
	}
}

func TestSubmitRendersMarkdown(t *testing.T) {
	srv, _ := newTestServer(t, testutil.NewFakeLanguageService("NO_MISTAKE: **Great** job!"))

	rr, env := do(t, srv, http.MethodPost, "/api/users/u1/messages", map[string]string{"text": "I like tea"})
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "submit")
	var msg messageView
	testutil.MustUnmarshalJSON(t, env.Result, &msg)
	if msg.Text != "**Great** job!" || msg.HTML != "<strong>Great</strong> job!" {
		t.Errorf("text = %q html = %q", msg.Text, msg.HTML)
	}
	if msg.Mistake != nil {
		t.Errorf("unexpected mistake %+v", msg.Mistake)
	}
}

func TestSubmitMistakeAndExplain(t *testing.T) {
	lang := testutil.NewFakeLanguageService(mistakeReply)
	srv, _ := newTestServer(t, lang)

	rr, env := do(t, srv, http.MethodPost, "/api/users/u1/messages", map[string]string{"text": "I go to park yesterday"})
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "submit")
	var msg messageView
	testutil.MustUnmarshalJSON(t, env.Result, &msg)
	if msg.Mistake == nil || msg.Mistake.CorrectedText != "I went to the park yesterday" || !msg.Mistake.AwaitingRetry {
		t.Fatalf("unexpected mistake %+v", msg.Mistake)
	}
	if msg.CorrectivePhrase != "You mean" {
		t.Errorf("corrective phrase = %q", msg.CorrectivePhrase)
	}

	rr, env = do(t, srv, http.MethodGet, "/api/users/u1/session", nil)
	var view sessionView
	testutil.MustUnmarshalJSON(t, env.Result, &view)
	if view.Phase != models.PhaseAwaitingRetry || view.RetryPendingID != msg.Mistake.ID || view.Placeholder != prompt.RetryHint {
		t.Errorf("phase = %s pending = %q placeholder = %q", view.Phase, view.RetryPendingID, view.Placeholder)
	}

	rr, env = do(t, srv, http.MethodPost, "/api/users/u1/mistakes/"+msg.Mistake.ID+"/explanation", nil)
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "explain")
	var exp explanationResponse
	testutil.MustUnmarshalJSON(t, env.Result, &exp)
	if exp.Explanation != "Используйте прошедшее время." {
		t.Errorf("explanation = %q", exp.Explanation)
	}
	if lang.Calls() != 1 {
		t.Errorf("language calls = %d, want 1", lang.Calls())
	}

	rr, env = do(t, srv, http.MethodPost, "/api/users/u1/mistakes/nope/explanation", nil)
	testutil.AssertHTTPStatus(t, http.StatusNotFound, rr.Code, "unknown mistake")
	if env.Status != string(models.APIStatusError) {
		t.Errorf("status = %q", env.Status)
	}
}

func TestSubmitErrors(t *testing.T) {
	lang := testutil.NewFakeLanguageService("NO_MISTAKE: ok")
	lang.FailWith(&models.LanguageServiceError{StatusCode: 503, Message: "overloaded"})
	srv, _ := newTestServer(t, lang)

	rr, _ := do(t, srv, http.MethodPost, "/api/users/u1/messages", map[string]string{"text": "   "})
	testutil.AssertHTTPStatus(t, http.StatusBadRequest, rr.Code, "blank")

	req := httptest.NewRequest(http.MethodPost, "/api/users/u1/messages", strings.NewReader("{"))
	rr = httptest.NewRecorder()
	srv.Routes().ServeHTTP(rr, req)
	testutil.AssertHTTPStatus(t, http.StatusBadRequest, rr.Code, "invalid json")

	rr, env := do(t, srv, http.MethodPost, "/api/users/u1/messages", map[string]string{"text": "hello"})
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "language failure")
	var msg messageView
	testutil.MustUnmarshalJSON(t, env.Result, &msg)
	if !msg.IsNotice || !strings.HasPrefix(msg.Text, "Error: ") || env.Message == "" {
		t.Errorf("expected notice, got %+v (message %q)", msg, env.Message)
	}
}

func TestSubmitWhileBusy(t *testing.T) {
	lang := testutil.NewFakeLanguageService("NO_MISTAKE: ok")
	lang.Gate = make(chan struct{})
	srv, manager := newTestServer(t, lang)

	done := make(chan int, 1)
	go func() {
		rr, _ := do(t, srv, http.MethodPost, "/api/users/u1/messages", map[string]string{"text": "first"})
		done <- rr.Code
	}()
	testutil.WaitFor(t, time.Second, func() bool {
		s, ok := manager.Lookup("u1")
		return ok && s.Phase() == models.PhaseAwaitingResponse
	}, "first submit in flight")

	rr, _ := do(t, srv, http.MethodPost, "/api/users/u1/messages", map[string]string{"text": "second"})
	testutil.AssertHTTPStatus(t, http.StatusConflict, rr.Code, "busy")

	close(lang.Gate)
	select {
	case code := <-done:
		testutil.AssertHTTPStatus(t, http.StatusOK, code, "first")
	case <-time.After(time.Second):
		t.Fatal("first submit did not finish")
	}
}

func TestSwitchFeature(t *testing.T) {
	srv, _ := newTestServer(t, testutil.NewFakeLanguageService())

	rr, env := do(t, srv, http.MethodPut, "/api/users/u1/feature", map[string]string{"feature": "grammar"})
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "switch")
	var view sessionView
	testutil.MustUnmarshalJSON(t, env.Result, &view)
	if view.Feature != models.FeatureGrammar || len(view.Messages) != 1 {
		t.Errorf("feature = %s messages = %d", view.Feature, len(view.Messages))
	}

	rr, _ = do(t, srv, http.MethodPut, "/api/users/u1/feature", map[string]string{"feature": "poetry"})
	testutil.AssertHTTPStatus(t, http.StatusBadRequest, rr.Code, "unknown feature")

	rr, _ = do(t, srv, http.MethodPost, "/api/users/u1/feature", map[string]string{"feature": "grammar"})
	testutil.AssertHTTPStatus(t, http.StatusMethodNotAllowed, rr.Code, "wrong method")
}

func TestTwilioWebhookRoute(t *testing.T) {
	srv, _ := newTestServer(t, testutil.NewFakeLanguageService())
	rr, _ := do(t, srv, http.MethodPost, "/webhooks/twilio", nil)
	testutil.AssertHTTPStatus(t, http.StatusNotFound, rr.Code, "webhook without twilio")

	srv.twilio = messaging.NewTwilioService(twiliowhatsapp.NewMockClient())
	form := url.Values{"From": {"whatsapp:+15551234567"}, "Body": {"hello"}}
	req := httptest.NewRequest(http.MethodPost, "/webhooks/twilio", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rr = httptest.NewRecorder()
	srv.Routes().ServeHTTP(rr, req)
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "webhook")
	if resp := <-srv.twilio.Responses(); resp.Body != "hello" {
		t.Errorf("queued body = %q", resp.Body)
	}
}
