package printer

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"connect-agent/internal/health"
	"connect-agent/pkg/models"
)

func TestRegisterQueuesPoll(t *testing.T) {
	t.Parallel()

	var body map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/p/register" {
			t.Errorf("Unexpected request %s %s", r.Method, r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&body)
		w.Header().Set("Temporary-Code", "CODE42")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	p, _ := newTestPrinter(t, server.URL)
	p.SetFirmware("3.9.0")

	code, err := p.Register()
	if err != nil {
		t.Fatal(err)
	}
	if code != "CODE42" {
		t.Errorf("Register returned code %q", code)
	}
	if body["sn"] != "SN123456" || body["fingerprint"] != "fp-test" {
		t.Errorf("Registration body missing identity: %v", body)
	}
	if body["firmware"] != "3.9.0" {
		t.Errorf("Registration body missing firmware: %v", body)
	}

	item, ok := p.queue.Pop(10 * time.Millisecond)
	if !ok {
		t.Fatal("Register must queue a poll")
	}
	poll, ok := item.(models.RegistrationPoll)
	if !ok || poll.Code != "CODE42" {
		t.Fatalf("Queued item %#v, want a poll for CODE42", item)
	}
	window := time.Until(poll.Deadline)
	if window < 29*time.Minute || window > 31*time.Minute {
		t.Errorf("Poll deadline %v from now, want ~30 minutes", window)
	}
}

func TestRegisterWithoutServer(t *testing.T) {
	t.Parallel()

	p, _ := newTestPrinter(t, "")
	if _, err := p.Register(); !errors.Is(err, ErrServerNotSet) {
		t.Errorf("Register without server returned %v", err)
	}
}

func TestPollSuccessSetsToken(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Temporary-Code") != "CODE42" {
			t.Errorf("Poll without the temporary code: %v", r.Header)
		}
		w.Header().Set("Token", "fresh-token")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	p, registry := newTestPrinter(t, server.URL)
	var callbackToken string
	p.RegisterHandler = func(token string) { callbackToken = token }

	p.queue.Push(models.NewRegistrationPoll("CODE42"))
	dispatchNext(t, p)

	if got := p.conn.Token(); got != "fresh-token" {
		t.Errorf("Token = %q", got)
	}
	if !registry.Get(health.Token) {
		t.Error("TOKEN flag must be healthy after registration")
	}
	if callbackToken != "fresh-token" {
		t.Error("Registration callback did not run")
	}
}

func TestPendingPollRequeuedOnce(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	p, _ := newTestPrinter(t, server.URL)
	p.queue.Push(models.NewRegistrationPoll("CODE42"))
	dispatchNext(t, p)

	if got := p.queue.Len(); got != 1 {
		t.Errorf("Pending poll re-queued %d times, want exactly 1", got)
	}
}

func TestExpiredPollDropped(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	p, _ := newTestPrinter(t, server.URL)
	p.queue.Push(models.RegistrationPoll{
		Code:     "OLD",
		Deadline: time.Now().Add(-time.Minute),
	})
	dispatchNext(t, p)

	if got := p.queue.Len(); got != 0 {
		t.Errorf("Expired poll was re-queued, queue len %d", got)
	}
}
