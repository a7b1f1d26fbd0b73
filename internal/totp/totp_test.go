package totp

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/otaviosnow/clipeiroai-sub000/internal/platform"
)

// base32 of the ASCII key "12345678901234567890" from RFC 6238 Appendix B.
const rfcSecret = "GEZDGNBVGY3TQOJQGEZDGNBVGY3TQOJQ"

func TestCodeAt_RFC6238Vectors(t *testing.T) {
	// The RFC publishes 8-digit SHA1 values; the 6-digit code is the low six.
	tests := []struct {
		unix int64
		want string
	}{
		{59, "287082"},
		{1111111109, "081804"},
		{1111111111, "050471"},
		{1234567890, "005924"},
		{2000000000, "279037"},
		{20000000000, "353130"},
	}

	for _, tt := range tests {
		got, err := CodeAt(rfcSecret, time.Unix(tt.unix, 0).UTC())
		if err != nil {
			t.Fatalf("CodeAt(%d): %v", tt.unix, err)
		}
		if got != tt.want {
			t.Fatalf("CodeAt(%d) = %s, want %s", tt.unix, got, tt.want)
		}
	}
}

func TestCodeAt_AcceptsHumanFormattedSecret(t *testing.T) {
	got, err := CodeAt("gezd gnbv gy3t qojq gezd gnbv gy3t qojq", time.Unix(59, 0))
	if err != nil {
		t.Fatalf("CodeAt: %v", err)
	}
	if got != "287082" {
		t.Fatalf("expected 287082, got %s", got)
	}
}

func TestGetCode_InvalidSecret(t *testing.T) {
	r := NewResolver()
	for _, secret := range []string{"", "   ", "not-base32!!", "18"} {
		_, err := r.GetCode(context.Background(), secret)
		if !errors.Is(err, platform.ErrInvalidSecret) {
			t.Fatalf("secret %q: expected InvalidSecret, got %v", secret, err)
		}
	}
}

func TestGetCode_RecomputesEveryCall(t *testing.T) {
	now := time.Unix(59, 0)
	r := &Resolver{Now: func() time.Time { return now }}

	first, err := r.GetCode(context.Background(), rfcSecret)
	if err != nil {
		t.Fatalf("GetCode: %v", err)
	}
	now = time.Unix(1111111109, 0)
	second, err := r.GetCode(context.Background(), rfcSecret)
	if err != nil {
		t.Fatalf("GetCode: %v", err)
	}
	if first != "287082" || second != "081804" {
		t.Fatalf("codes not recomputed from clock: %s then %s", first, second)
	}
}

type stubRemote struct {
	code  string
	err   error
	calls int
}

func (s *stubRemote) Code(context.Context, string) (string, error) {
	s.calls++
	return s.code, s.err
}

func TestGetCode_RemoteThenFallback(t *testing.T) {
	clock := func() time.Time { return time.Unix(59, 0) }

	ok := &stubRemote{code: "123456"}
	r := &Resolver{Remote: ok, Now: clock}
	if got, _ := r.GetCode(context.Background(), rfcSecret); got != "123456" {
		t.Fatalf("expected remote code, got %s", got)
	}

	for _, remote := range []*stubRemote{
		{err: errors.New("connection refused")},
		{code: "abc"},
	} {
		r := &Resolver{Remote: remote, Now: clock}
		got, err := r.GetCode(context.Background(), rfcSecret)
		if err != nil {
			t.Fatalf("GetCode: %v", err)
		}
		if got != "287082" {
			t.Fatalf("expected local fallback 287082, got %s", got)
		}
	}

	bad := &stubRemote{code: "123456"}
	r = &Resolver{Remote: bad, Now: clock}
	if _, err := r.GetCode(context.Background(), "!!"); !errors.Is(err, platform.ErrInvalidSecret) {
		t.Fatalf("expected InvalidSecret, got %v", err)
	}
	if bad.calls != 0 {
		t.Fatalf("malformed secret must not reach the remote")
	}
}

func TestHTTPRemote_Code(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/"+rfcSecret {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"token":"654321"}`))
	}))
	defer srv.Close()

	remote := NewHTTPRemote(srv.URL, time.Second)
	got, err := remote.Code(context.Background(), rfcSecret)
	if err != nil {
		t.Fatalf("Code: %v", err)
	}
	if got != "654321" {
		t.Fatalf("expected 654321, got %s", got)
	}
}
