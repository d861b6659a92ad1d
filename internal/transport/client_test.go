package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"chatwidget/internal/domain"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := NewClient(ClientConfig{
		APIBase:   srv.URL,
		WidgetID:  "w-1",
		CompanyID: "acme",
		APIKey:    "tok",
		Retries:   2,
		RetryBase: time.Millisecond,
		Logger:    testLogger(),
	})
	return c, srv
}

func TestClient_CreateSession(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/v1/widgets/w-1/sessions" {
			t.Fatalf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("X-Company-ID") != "acme" {
			t.Fatalf("missing company header")
		}
		if r.Header.Get("Authorization") != "Bearer tok" {
			t.Fatalf("missing auth header")
		}

		var req createSessionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("bad body: %v", err)
		}
		if req.VisitorID != "v-1" || req.Name != "Ana" {
			t.Fatalf("unexpected payload: %+v", req)
		}

		json.NewEncoder(w).Encode(domain.ChatSession{ID: "s-1", Status: domain.StatusWaiting})
	}))

	sess, err := c.CreateSession(context.Background(), "v-1", domain.VisitorProfile{Name: "Ana"}, "hello")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if sess.ID != "s-1" || sess.Status != domain.StatusWaiting {
		t.Fatalf("unexpected session: %+v", sess)
	}
}

func TestClient_CreateSession_AnonymousGetsPlaceholderName(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req createSessionRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.Name != domain.DefaultVisitorName {
			t.Fatalf("expected placeholder name, got %q", req.Name)
		}
		json.NewEncoder(w).Encode(domain.ChatSession{ID: "s-1"})
	}))

	sess, err := c.CreateSession(context.Background(), "v-1", domain.VisitorProfile{}, "")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	// Missing status falls back to waiting rather than empty.
	if sess.Status != domain.StatusWaiting {
		t.Fatalf("expected waiting fallback, got %q", sess.Status)
	}
}

func TestClient_FetchMessages_SinceParam(t *testing.T) {
	since := time.Unix(100, 0).UTC()
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/widgets/w-1/sessions/s-1/messages" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		got := r.URL.Query().Get("since")
		if got != since.Format(time.RFC3339Nano) {
			t.Fatalf("unexpected since param: %q", got)
		}
		json.NewEncoder(w).Encode([]domain.ChatMessage{{ID: "m1", Text: "hi"}})
	}))

	msgs, err := c.FetchMessages(context.Background(), "s-1", since)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(msgs) != 1 || msgs[0].ID != "m1" {
		t.Fatalf("unexpected messages: %+v", msgs)
	}
}

func TestClient_RetriesTransientServerError(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(map[string]bool{"online": true})
	}))

	online, err := c.Availability(context.Background())
	if err != nil {
		t.Fatalf("availability: %v", err)
	}
	if !online {
		t.Fatal("expected online=true after retry")
	}
	if calls.Load() != 2 {
		t.Fatalf("expected exactly one retry, got %d calls", calls.Load())
	}
}

func TestClient_GivesUpAfterRetryBudget(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "still down", http.StatusServiceUnavailable)
	}))

	if _, err := c.Availability(context.Background()); err == nil {
		t.Fatal("expected error once the retry budget is spent")
	}
	// First try plus the two configured retries.
	if calls.Load() != 3 {
		t.Fatalf("expected 3 calls, got %d", calls.Load())
	}
}

func TestRetryPolicy_DelayDoubles(t *testing.T) {
	p := retryPolicy{retries: 3, base: 100 * time.Millisecond}
	for attempt, floor := range map[int]time.Duration{
		1: 100 * time.Millisecond,
		2: 200 * time.Millisecond,
		3: 400 * time.Millisecond,
	} {
		d := p.delay(attempt)
		// Jitter adds at most half the step on top of the floor.
		if d < floor || d > floor+floor/2 {
			t.Fatalf("delay(%d) = %v, want within [%v, %v]", attempt, d, floor, floor+floor/2)
		}
	}
}

func TestClient_NonRetryableStatusFailsFast(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.NotFound(w, r)
	}))

	if _, err := c.CheckTargeting(context.Background(), "https://x.test", "desktop"); err == nil {
		t.Fatal("expected error for 404")
	}
	if calls.Load() != 1 {
		t.Fatalf("404 must not be retried, got %d calls", calls.Load())
	}
}

func TestClient_SubmitSurvey(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/widgets/w-1/sessions/s-1/survey" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		var req surveyRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.Rating != 5 || req.Feedback != "great" {
			t.Fatalf("unexpected survey payload: %+v", req)
		}
		w.WriteHeader(http.StatusNoContent)
	}))

	if err := c.SubmitSurvey(context.Background(), "s-1", 5, "great"); err != nil {
		t.Fatalf("submit survey: %v", err)
	}
}

func TestClient_CheckTargeting(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/widgets/w-1/targeting" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("url") != "https://x.test/pricing" || q.Get("device") != "mobile" {
			t.Fatalf("unexpected query: %v", q)
		}
		json.NewEncoder(w).Encode(domain.TargetingResult{Show: false, Reason: "country"})
	}))

	res, err := c.CheckTargeting(context.Background(), "https://x.test/pricing", "mobile")
	if err != nil {
		t.Fatalf("targeting: %v", err)
	}
	if res.Show || res.Reason != "country" {
		t.Fatalf("unexpected result: %+v", res)
	}
}
