package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/splax/tweetwatch/internal/domain"
)

func TestSendSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer secret" {
			t.Errorf("unexpected authorization header %q", auth)
		}
		var payload Payload
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		if payload.Event != "tweets.stored" || payload.Account != "nasa" || payload.Count != 1 {
			t.Errorf("unexpected payload %+v", payload)
		}
		if payload.SentAt != "2025-06-01T12:00:00Z" {
			t.Errorf("unexpected sent_at %q", payload.SentAt)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	hook, err := NewWebhook(srv.URL, " secret ", nil, nil)
	if err != nil {
		t.Fatalf("new webhook: %v", err)
	}
	hook.now = func() time.Time { return time.Date(2025, time.June, 1, 12, 0, 0, 0, time.UTC) }
	tweets := []domain.Tweet{{ID: 7, Account: "nasa", Content: "Launch window opens"}}
	if err := hook.Send(context.Background(), "nasa", tweets); err != nil {
		t.Fatalf("send: %v", err)
	}
}

func TestSendMapsStatusErrors(t *testing.T) {
	cases := []struct {
		status int
		want   error
	}{
		{http.StatusUnauthorized, ErrUnauthorized},
		{http.StatusForbidden, ErrUnauthorized},
		{http.StatusBadRequest, ErrInvalidArgument},
		{http.StatusNotFound, ErrNotFound},
	}
	for _, tc := range cases {
		t.Run(http.StatusText(tc.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "nope", tc.status)
			}))
			defer srv.Close()

			hook, err := NewWebhook(srv.URL, "", nil, nil)
			if err != nil {
				t.Fatalf("new webhook: %v", err)
			}
			if err := hook.Send(context.Background(), "nasa", nil); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestSendServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	hook, _ := NewWebhook(srv.URL, "", nil, nil)
	err := hook.Send(context.Background(), "nasa", nil)
	if err == nil || errors.Is(err, ErrNotFound) {
		t.Fatalf("expected generic failure, got %v", err)
	}
}

func TestNewWebhookRequiresURL(t *testing.T) {
	if _, err := NewWebhook("  ", "", nil, nil); err == nil {
		t.Fatalf("expected error for empty url")
	}
}
