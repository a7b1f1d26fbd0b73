package instagram

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/otaviosnow/clipeiroai-sub000/internal/driver"
	"github.com/otaviosnow/clipeiroai-sub000/internal/platform"
	"github.com/otaviosnow/clipeiroai-sub000/internal/session"
	"golang.org/x/oauth2"
)

type fakeGraph struct {
	srv           *httptest.Server
	readyAfter    int32
	polls         int32
	ingestStatus  string
	publishStatus int
	caption       string
}

func newFakeGraph(t *testing.T) *fakeGraph {
	t.Helper()
	f := &fakeGraph{readyAfter: 2, ingestStatus: "FINISHED", publishStatus: http.StatusOK}
	mux := http.NewServeMux()
	mux.HandleFunc("/refresh_access_token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Query().Get("access_token") == "revoked" {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error":{"message":"Error validating access token","type":"OAuthException","code":190}}`))
			return
		}
		w.Write([]byte(`{"access_token":"long-lived-2","token_type":"bearer","expires_in":5184000}`))
	})
	mux.HandleFunc("/me", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"user_id":"17841400000000001","username":"alice_fit"}`))
	})
	mux.HandleFunc("/17841400000000001/media", func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		f.caption = r.PostForm.Get("caption")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"container-1"}`))
	})
	mux.HandleFunc("/container-1", func(w http.ResponseWriter, r *http.Request) {
		status := "IN_PROGRESS"
		if atomic.AddInt32(&f.polls, 1) >= f.readyAfter {
			status = f.ingestStatus
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status_code":"` + status + `"}`))
	})
	mux.HandleFunc("/17841400000000001/media_publish", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(f.publishStatus)
		w.Write([]byte(`{"id":"media-9"}`))
	})
	mux.HandleFunc("/media-9", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"permalink":"https://www.instagram.com/reel/abc/"}`))
	})
	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeGraph) driver() *Driver {
	return New(Config{
		AppID:       "app",
		AppSecret:   "secret",
		GraphBase:   f.srv.URL,
		AuthBase:    f.srv.URL,
		RefreshBase: f.srv.URL,
	}, driver.Options{
		LoginTimeout:   time.Second,
		UploadTimeout:  200 * time.Millisecond,
		PublishTimeout: 200 * time.Millisecond,
		PollInterval:   5 * time.Millisecond,
	}, f.srv.Client())
}

var alice = platform.Account{Platform: platform.Instagram, Username: "alice_fit"}

func authedTarget() *session.Target {
	target := session.NewTarget(alice)
	target.Token = &oauth2.Token{AccessToken: "long-lived-1", Expiry: time.Now().Add(24 * time.Hour)}
	target.Extras[ExtraUserID] = "17841400000000001"
	return target
}

func TestLogin_RefreshesLongLivedToken(t *testing.T) {
	d := newFakeGraph(t).driver()

	a, err := d.Login(context.Background(), authedTarget(), alice)
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if a.Token.AccessToken != "long-lived-2" || a.Extra(ExtraUserID) != "17841400000000001" {
		t.Fatalf("unexpected artifact: %+v", a)
	}
	if time.Until(a.Token.Expiry) < 59*24*time.Hour {
		t.Fatalf("expiry not derived from expires_in: %v", a.Token.Expiry)
	}
}

func TestLogin_RevokedToken(t *testing.T) {
	d := newFakeGraph(t).driver()
	target := authedTarget()
	target.Token.AccessToken = "revoked"

	if _, err := d.Login(context.Background(), target, alice); !errors.Is(err, platform.ErrLoginFailed) {
		t.Fatalf("expected LoginFailed, got %v", err)
	}
}

func TestPublish_Confirmed(t *testing.T) {
	f := newFakeGraph(t)
	d := f.driver()

	out, err := d.Publish(context.Background(), authedTarget(), platform.Content{
		MediaURL: "https://cdn.example.com/clip.mp4",
		Caption:  "Coach tips",
		Hashtags: []string{"fitness"},
	})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if out.State != driver.Confirmed || out.URL != "https://www.instagram.com/reel/abc/" || out.ContentID != "media-9" {
		t.Fatalf("unexpected outcome: %+v", out)
	}
	if f.caption != "Coach tips #fitness" {
		t.Fatalf("unexpected caption %q", f.caption)
	}
}

func TestPublish_IngestTimeout(t *testing.T) {
	f := newFakeGraph(t)
	f.readyAfter = 1 << 30
	d := f.driver()

	out, err := d.Publish(context.Background(), authedTarget(), platform.Content{MediaURL: "https://cdn.example.com/clip.mp4"})
	if !errors.Is(err, platform.ErrUploadTimeout) {
		t.Fatalf("expected UploadTimeout, got %v", err)
	}
	if out.State != driver.TimedOut {
		t.Fatalf("expected TimedOut, got %s", out.State)
	}
}

func TestPublish_IngestError(t *testing.T) {
	f := newFakeGraph(t)
	f.ingestStatus = "ERROR"
	d := f.driver()

	out, err := d.Publish(context.Background(), authedTarget(), platform.Content{MediaURL: "https://cdn.example.com/clip.mp4"})
	if !errors.Is(err, platform.ErrFailed) || out.State != driver.Failed {
		t.Fatalf("expected Failed, got %v (%s)", err, out.State)
	}
}

func TestPublish_TransientPublishErrorIsTimeoutClass(t *testing.T) {
	f := newFakeGraph(t)
	f.publishStatus = http.StatusServiceUnavailable
	d := f.driver()

	_, err := d.Publish(context.Background(), authedTarget(), platform.Content{MediaURL: "https://cdn.example.com/clip.mp4"})
	if !errors.Is(err, platform.ErrPublishTimeout) {
		t.Fatalf("expected PublishTimeout, got %v", err)
	}
}

func TestPublish_RequiresMediaURL(t *testing.T) {
	d := newFakeGraph(t).driver()
	if _, err := d.Publish(context.Background(), authedTarget(), platform.Content{MediaPath: "/tmp/clip.mp4"}); !errors.Is(err, platform.ErrFailed) {
		t.Fatalf("expected Failed without media_url, got %v", err)
	}
}
