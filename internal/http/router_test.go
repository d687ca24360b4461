package httpx

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/splax/tweetwatch/internal/domain"
	"github.com/splax/tweetwatch/internal/service/schedule"
	"github.com/splax/tweetwatch/internal/service/watch"
	"github.com/splax/tweetwatch/internal/ws"
)

type stubWatch struct {
	subscribed map[string]int64
	tweets     []domain.Tweet
	lastFilter domain.TweetFilter
	refreshErr error
	refreshed  []string
}

func newStubWatch() *stubWatch {
	return &stubWatch{subscribed: map[string]int64{}}
}

func (s *stubWatch) Subscribe(ctx context.Context, username string) (*domain.Account, error) {
	if _, ok := s.subscribed[username]; ok {
		return nil, watch.ErrAlreadySubscribed
	}
	id := int64(len(s.subscribed) + 1)
	s.subscribed[username] = id
	return &domain.Account{ID: id, Username: username}, nil
}

func (s *stubWatch) Unsubscribe(ctx context.Context, username string) error {
	if _, ok := s.subscribed[username]; !ok {
		return watch.ErrAccountNotFound
	}
	delete(s.subscribed, username)
	return nil
}

func (s *stubWatch) Accounts(ctx context.Context) ([]string, error) {
	names := make([]string, 0, len(s.subscribed))
	for name := range s.subscribed {
		names = append(names, name)
	}
	return names, nil
}

func (s *stubWatch) Refresh(ctx context.Context, username string) (string, error) {
	if _, ok := s.subscribed[username]; !ok {
		return "", watch.ErrNotSubscribed
	}
	if s.refreshErr != nil {
		return "", s.refreshErr
	}
	s.refreshed = append(s.refreshed, username)
	return "job-42", nil
}

func (s *stubWatch) Tweets(ctx context.Context, filter domain.TweetFilter) ([]domain.Tweet, error) {
	s.lastFilter = filter
	return s.tweets, nil
}

func (s *stubWatch) MarkRead(ctx context.Context, id int64) (*domain.Tweet, error) {
	return s.setRead(id, true)
}

func (s *stubWatch) MarkUnread(ctx context.Context, id int64) (*domain.Tweet, error) {
	return s.setRead(id, false)
}

func (s *stubWatch) setRead(id int64, read bool) (*domain.Tweet, error) {
	for i := range s.tweets {
		if s.tweets[i].ID == id {
			s.tweets[i].Read = read
			return &s.tweets[i], nil
		}
	}
	return nil, watch.ErrTweetNotFound
}

func newTestRouter(t *testing.T, svc WatchService, refreshLimit int) (*Router, *ws.Hub) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	hub := ws.NewHub(logger)
	router := NewRouter(logger, svc, hub, NewMemoryRateLimiter(), refreshLimit, func(context.Context) error { return nil })
	t.Cleanup(func() {
		router.Close()
		hub.Close()
	})
	return router, hub
}

func do(t *testing.T, h http.Handler, method, target string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	var body map[string]any
	if strings.HasPrefix(strings.TrimSpace(rec.Body.String()), "{") {
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatalf("decode %s %s: %v", method, target, err)
		}
	}
	return rec, body
}

func TestSubscribeFlow(t *testing.T) {
	svc := newStubWatch()
	router, _ := newTestRouter(t, svc, 0)

	rec, body := do(t, router, http.MethodPost, "/subscribe/QuakesToday")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rec.Code)
	}
	if body["message"] != "Subscribed to QuakesToday" {
		t.Fatalf("unexpected message %v", body["message"])
	}
	account, ok := body["account"].(map[string]any)
	if !ok || account["username"] != "QuakesToday" || account["id"] != float64(1) {
		t.Fatalf("unexpected account %v", body["account"])
	}

	rec, body = do(t, router, http.MethodPost, "/subscribe/QuakesToday")
	if rec.Code != http.StatusBadRequest || body["error"] != "Account already subscribed" {
		t.Fatalf("expected duplicate rejection, got %d %v", rec.Code, body)
	}

	rec, _ = do(t, router, http.MethodGet, "/subscribe/QuakesToday")
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405 got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/accounts", nil))
	var names []string
	if err := json.Unmarshal(rec.Body.Bytes(), &names); err != nil || len(names) != 1 || names[0] != "QuakesToday" {
		t.Fatalf("unexpected accounts %s (%v)", rec.Body.String(), err)
	}

	rec, body = do(t, router, http.MethodDelete, "/unsubscribe/QuakesToday")
	if rec.Code != http.StatusOK || body["message"] != "Unsubscribed from QuakesToday" {
		t.Fatalf("unexpected unsubscribe %d %v", rec.Code, body)
	}
	rec, body = do(t, router, http.MethodDelete, "/unsubscribe/QuakesToday")
	if rec.Code != http.StatusNotFound || body["error"] != "Account not found" {
		t.Fatalf("unexpected second unsubscribe %d %v", rec.Code, body)
	}
}

func TestRefresh(t *testing.T) {
	svc := newStubWatch()
	router, _ := newTestRouter(t, svc, 0)

	rec, body := do(t, router, http.MethodPost, "/refresh/nasa")
	if rec.Code != http.StatusNotFound || body["error"] != "Account not subscribed" {
		t.Fatalf("expected 404 for unknown account, got %d %v", rec.Code, body)
	}

	svc.subscribed["nasa"] = 1
	rec, body = do(t, router, http.MethodPost, "/refresh/nasa")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rec.Code)
	}
	if body["message"] != "Started tweet scraping for nasa in background" || body["job_id"] != "job-42" {
		t.Fatalf("unexpected body %v", body)
	}

	svc.refreshErr = schedule.ErrQueueFull
	rec, _ = do(t, router, http.MethodPost, "/refresh/nasa")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 when queue is full, got %d", rec.Code)
	}
}

func TestRefreshRateLimited(t *testing.T) {
	svc := newStubWatch()
	svc.subscribed["nasa"] = 1
	router, _ := newTestRouter(t, svc, 2)

	for i := 0; i < 2; i++ {
		rec, _ := do(t, router, http.MethodPost, "/refresh/nasa")
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200 got %d", i, rec.Code)
		}
		if rec.Header().Get("X-RateLimit-Limit") != "2" {
			t.Fatalf("expected rate limit headers")
		}
	}
	rec, body := do(t, router, http.MethodPost, "/refresh/nasa")
	if rec.Code != http.StatusTooManyRequests || body["error"] != "rate limit exceeded" {
		t.Fatalf("expected 429, got %d %v", rec.Code, body)
	}
	if rec.Header().Get("X-RateLimit-Remaining") != "0" {
		t.Fatalf("expected no remaining requests")
	}
}

func TestTweetsFilterParsing(t *testing.T) {
	svc := newStubWatch()
	svc.tweets = []domain.Tweet{{ID: 3, Account: "nasa", Content: "Launch", Timestamp: time.Date(2025, time.June, 1, 12, 0, 0, 0, time.UTC)}}
	router, _ := newTestRouter(t, svc, 0)

	cases := []struct {
		query   string
		account *string
		read    *bool
	}{
		{query: "", account: nil, read: nil},
		{query: "?account=nasa", account: strPtr("nasa"), read: nil},
		{query: "?read=TRUE", read: boolPtr(true)},
		{query: "?read=yes", read: boolPtr(false)},
		{query: "?read=", read: boolPtr(false)},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/tweets"+tc.query, nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("%q: expected 200 got %d", tc.query, rec.Code)
		}
		got := svc.lastFilter
		if (got.Account == nil) != (tc.account == nil) || (got.Account != nil && *got.Account != *tc.account) {
			t.Fatalf("%q: unexpected account filter %v", tc.query, got.Account)
		}
		if (got.Read == nil) != (tc.read == nil) || (got.Read != nil && *got.Read != *tc.read) {
			t.Fatalf("%q: unexpected read filter %v", tc.query, got.Read)
		}
	}

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/tweets", nil))
	var tweets []map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &tweets); err != nil {
		t.Fatalf("decode tweets: %v", err)
	}
	if len(tweets) != 1 {
		t.Fatalf("expected one tweet")
	}
	for _, key := range []string{"id", "account", "content", "timestamp", "read"} {
		if _, ok := tweets[0][key]; !ok {
			t.Fatalf("missing %s in %v", key, tweets[0])
		}
	}
	if _, ok := tweets[0]["AccountID"]; ok {
		t.Fatalf("internal account id leaked")
	}
}

func TestTweetReadState(t *testing.T) {
	svc := newStubWatch()
	svc.tweets = []domain.Tweet{{ID: 5, Account: "nasa", Content: "Launch"}}
	router, _ := newTestRouter(t, svc, 0)

	rec, body := do(t, router, http.MethodPatch, "/tweet/5/read")
	if rec.Code != http.StatusOK || body["message"] != "Tweet marked as read" || !svc.tweets[0].Read {
		t.Fatalf("unexpected read response %d %v", rec.Code, body)
	}
	rec, body = do(t, router, http.MethodPatch, "/tweet/5/unread")
	if rec.Code != http.StatusOK || body["message"] != "Tweet marked as unread" || svc.tweets[0].Read {
		t.Fatalf("unexpected unread response %d %v", rec.Code, body)
	}
	rec, body = do(t, router, http.MethodPatch, "/tweet/99/read")
	if rec.Code != http.StatusNotFound || body["error"] != "Tweet not found" {
		t.Fatalf("expected 404 got %d %v", rec.Code, body)
	}
	rec, _ = do(t, router, http.MethodPatch, "/tweet/abc/read")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for non-numeric id, got %d", rec.Code)
	}
	rec, _ = do(t, router, http.MethodGet, "/tweet/5/read")
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405 got %d", rec.Code)
	}
}

func TestHealthzReportsDatabase(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	router := NewRouter(logger, newStubWatch(), nil, nil, 0, func(context.Context) error { return errors.New("disk I/O error") })
	defer router.Close()

	rec, body := do(t, router, http.MethodGet, "/healthz")
	if rec.Code != http.StatusServiceUnavailable || body["status"] != "degraded" {
		t.Fatalf("expected degraded health, got %d %v", rec.Code, body)
	}
}

func TestCORSAllowsAnyOrigin(t *testing.T) {
	router, _ := newTestRouter(t, newStubWatch(), 0)

	req := httptest.NewRequest(http.MethodGet, "/accounts", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("expected wildcard origin, got %q", got)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	router, _ := newTestRouter(t, newStubWatch(), 0)
	do(t, router, http.MethodGet, "/healthz")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "tweetwatch_http_requests_total") {
		t.Fatalf("expected request counter in exposition")
	}
}

func TestTweetsWebsocketReceivesStoredTweets(t *testing.T) {
	router, hub := newTestRouter(t, newStubWatch(), 0)
	srv := httptest.NewServer(router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/tweets?account=nasa"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.Subscribers() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	hub.TweetsStored(context.Background(), "nasa", []domain.Tweet{{ID: 1, Account: "nasa", Content: "Launch window opens"}})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var event ws.Event
	if err := conn.ReadJSON(&event); err != nil {
		t.Fatalf("read: %v", err)
	}
	if event.Account != "nasa" || len(event.Tweets) != 1 || event.Tweets[0].Content != "Launch window opens" {
		t.Fatalf("unexpected event %+v", event)
	}
}

func TestTweetsStreamFiltersByAccount(t *testing.T) {
	router, hub := newTestRouter(t, newStubWatch(), 0)
	srv := httptest.NewServer(router)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/stream/tweets?account=nasa")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK || resp.Header.Get("Content-Type") != "text/event-stream" {
		t.Fatalf("unexpected response %d %q", resp.StatusCode, resp.Header.Get("Content-Type"))
	}

	deadline := time.Now().Add(2 * time.Second)
	for hub.Subscribers() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	hub.TweetsStored(context.Background(), "esa", []domain.Tweet{{ID: 1, Account: "esa", Content: "Ariane update"}})
	hub.TweetsStored(context.Background(), "nasa", []domain.Tweet{{ID: 2, Account: "nasa", Content: "Launch window opens"}})

	lines := make(chan string, 64)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	var event ws.Event
	timeout := time.After(2 * time.Second)
	for event.Account == "" {
		select {
		case line, ok := <-lines:
			if !ok {
				t.Fatalf("stream ended before an event arrived")
			}
			data, found := strings.CutPrefix(line, "data: ")
			if !found {
				continue
			}
			if err := json.Unmarshal([]byte(data), &event); err != nil {
				t.Fatalf("decode event: %v", err)
			}
		case <-timeout:
			t.Fatalf("timed out waiting for event")
		}
	}
	if event.Account != "nasa" || len(event.Tweets) != 1 || event.Tweets[0].Content != "Launch window opens" {
		t.Fatalf("expected only the nasa event, got %+v", event)
	}

	hub.Close()
	for {
		select {
		case _, ok := <-lines:
			if !ok {
				return
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("stream stayed open after the hub closed")
		}
	}
}

func strPtr(s string) *string { return &s }
func boolPtr(b bool) *bool    { return &b }
