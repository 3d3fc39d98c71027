// Package testutil provides common test utilities and helpers for TutorPipe tests.
package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/BTreeMap/TutorPipe/internal/models"
)

// FakeLanguageService is a scripted LanguageService. Responses are returned in order; once
// they run out the last one repeats. A non-nil Gate blocks every call until it is closed
// or receives a value.
type FakeLanguageService struct {
	mu        sync.Mutex
	responses []string
	errs      []error
	requests  []models.GenerationRequest
	Gate      chan struct{}
}

// NewFakeLanguageService returns a fake that replies with responses in order.
func NewFakeLanguageService(responses ...string) *FakeLanguageService {
	return &FakeLanguageService{responses: responses}
}

// FailWith makes the next calls return err, in order, before any scripted response.
func (f *FakeLanguageService) FailWith(errs ...error) *FakeLanguageService {
	f.mu.Lock()
	f.errs = append(f.errs, errs...)
	f.mu.Unlock()
	return f
}

// Generate implements genai.LanguageService.
func (f *FakeLanguageService) Generate(ctx context.Context, req models.GenerationRequest) (string, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	gate := f.Gate
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		return "", err
	}
	if len(f.responses) == 0 {
		return "", models.ErrEmptyGenerationResult
	}
	resp := f.responses[0]
	if len(f.responses) > 1 {
		f.responses = f.responses[1:]
	}
	return resp, nil
}

// Requests returns every request received so far.
func (f *FakeLanguageService) Requests() []models.GenerationRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.GenerationRequest, len(f.requests))
	copy(out, f.requests)
	return out
}

// Calls returns the number of Generate calls.
func (f *FakeLanguageService) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

// WaitFor polls cond until it holds or the timeout passes.
func WaitFor(t testing.TB, timeout time.Duration, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// AssertHTTPStatus checks the HTTP status code and fails the test if it doesn't match.
func AssertHTTPStatus(t testing.TB, expected, actual int, context string) {
	t.Helper()
	if actual != expected {
		t.Errorf("%s: expected status %d, got %d", context, expected, actual)
	}
}

// AssertJSONResponse decodes JSON response and validates the status field.
func AssertJSONResponse(t testing.TB, rr *httptest.ResponseRecorder, expectedStatus string) map[string]interface{} {
	t.Helper()
	var response map[string]interface{}
	if err := json.NewDecoder(rr.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode JSON response: %v", err)
	}

	if status, ok := response["status"].(string); ok {
		if status != expectedStatus {
			t.Errorf("expected status '%s', got '%s'", expectedStatus, status)
		}
	} else {
		t.Error("response missing or invalid 'status' field")
	}

	return response
}

// CreateHTTPRequest creates an HTTP request with optional JSON body for testing.
func CreateHTTPRequest(t testing.TB, method, url string, body interface{}) *http.Request {
	t.Helper()
	reqBody := bytes.NewBuffer(nil)
	if body != nil {
		reqBody = bytes.NewBuffer(MustMarshalJSON(t, body))
	}

	req, err := http.NewRequest(method, url, reqBody)
	if err != nil {
		t.Fatalf("failed to create HTTP request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req
}

// MustMarshalJSON marshals an object to JSON and fails test on error.
func MustMarshalJSON(t testing.TB, v interface{}) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("failed to marshal JSON: %v", err)
	}
	return data
}

// MustUnmarshalJSON unmarshals JSON data into target and fails test on error.
func MustUnmarshalJSON(t testing.TB, data []byte, target interface{}) {
	t.Helper()
	if err := json.Unmarshal(data, target); err != nil {
		t.Fatalf("failed to unmarshal JSON: %v", err)
	}
}
