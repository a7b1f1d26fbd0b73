package driver

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/otaviosnow/clipeiroai-sub000/internal/platform"
	"github.com/otaviosnow/clipeiroai-sub000/internal/session"
	"golang.org/x/oauth2"
)

func TestFlow_ForwardOnly(t *testing.T) {
	f := NewFlow()
	for _, s := range []State{Navigated, FormFilled, Submitted, Confirmed} {
		if err := f.Advance(s); err != nil {
			t.Fatalf("advance to %s: %v", s, err)
		}
	}
	if got := len(f.Transitions()); got != 4 {
		t.Fatalf("expected 4 transitions, got %d", got)
	}

	g := NewFlow()
	if err := g.Advance(Submitted); err == nil {
		t.Fatalf("skipping states must be rejected")
	}
	if g.State() != NotStarted {
		t.Fatalf("rejected transition changed state to %s", g.State())
	}
}

func TestFlow_FailClassifiesTimeouts(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want State
	}{
		{"upload timeout", platform.ErrUploadTimeout, TimedOut},
		{"publish timeout", platform.ErrPublishTimeout, TimedOut},
		{"rejected", platform.Errorf(platform.KindFailed, "op", "bad request"), Failed},
		{"login", platform.ErrLoginFailed, Failed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := NewFlow()
			f.Advance(Navigated)
			if err := f.Fail(tt.err); err != tt.err {
				t.Fatalf("Fail must return its argument")
			}
			if f.State() != tt.want {
				t.Fatalf("expected %s, got %s", tt.want, f.State())
			}
			if f.Fail(errors.New("again")); f.State() != tt.want {
				t.Fatalf("terminal state must not change")
			}
		})
	}
}

func TestWaitFor_Outcomes(t *testing.T) {
	calls := 0
	err := WaitFor(context.Background(), time.Second, time.Millisecond, platform.KindUploadTimeout, "test", func(context.Context) (bool, error) {
		calls++
		return calls == 3, nil
	})
	if err != nil || calls != 3 {
		t.Fatalf("expected success after 3 polls, got err=%v calls=%d", err, calls)
	}

	err = WaitFor(context.Background(), 20*time.Millisecond, 5*time.Millisecond, platform.KindPublishTimeout, "test", func(context.Context) (bool, error) {
		return false, nil
	})
	if !errors.Is(err, platform.ErrPublishTimeout) {
		t.Fatalf("expected PublishTimeout, got %v", err)
	}

	boom := platform.Errorf(platform.KindFailed, "test", "processing error")
	err = WaitFor(context.Background(), time.Second, time.Millisecond, platform.KindPublishTimeout, "test", func(context.Context) (bool, error) {
		return false, boom
	})
	if err != boom {
		t.Fatalf("expected check error to propagate, got %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = WaitFor(ctx, time.Second, time.Millisecond, platform.KindPublishTimeout, "test", func(context.Context) (bool, error) {
		return false, nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestCheck_ClassifiesStatus(t *testing.T) {
	status := http.StatusOK
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		w.Write([]byte(`{"error":"x"}`))
	}))
	defer srv.Close()

	client := NewHTTPClient(nil, Options{})
	tests := []struct {
		status int
		want   platform.Kind
	}{
		{http.StatusOK, ""},
		{http.StatusBadRequest, platform.KindFailed},
		{http.StatusUnauthorized, platform.KindLoginFailed},
		{http.StatusTooManyRequests, platform.KindUploadTimeout},
		{http.StatusBadGateway, platform.KindUploadTimeout},
	}
	for _, tt := range tests {
		status = tt.status
		resp, err := client.R().Get(srv.URL)
		got := Check(context.Background(), resp, err, "upload", platform.KindUploadTimeout)
		if platform.KindOf(got) != tt.want {
			t.Fatalf("status %d: expected kind %q, got %v", tt.status, tt.want, got)
		}
		if tt.want != "" && Diagnostics(got) != `{"error":"x"}` {
			t.Fatalf("status %d: diagnostics not captured: %q", tt.status, Diagnostics(got))
		}
	}
}

func TestTokenValid(t *testing.T) {
	now := time.Now()
	if TokenValid(&session.Target{}, now) {
		t.Fatalf("empty target must not be authenticated")
	}
	target := &session.Target{Token: &oauth2.Token{AccessToken: "a", Expiry: now.Add(30 * time.Second)}}
	if TokenValid(target, now) {
		t.Fatalf("token expiring within a minute must not count")
	}
	target.Token.Expiry = now.Add(time.Hour)
	if !TokenValid(target, now) {
		t.Fatalf("fresh token should count")
	}
}

func TestIsPermanentRefreshError(t *testing.T) {
	tests := []struct {
		errText   string
		permanent bool
	}{
		{"oauth2: cannot fetch token: 400 Bad Request {\"error\":\"invalid_grant\"}", true},
		{"token has been expired or revoked", true},
		{"context deadline exceeded", false},
		{"temporarily_unavailable", false},
	}
	for _, tt := range tests {
		if got := IsPermanentRefreshError(errors.New(tt.errText)); got != tt.permanent {
			t.Fatalf("%q: expected %v, got %v", tt.errText, tt.permanent, got)
		}
	}
}
