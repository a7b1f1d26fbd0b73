package tiktok

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/otaviosnow/clipeiroai-sub000/internal/driver"
	"github.com/otaviosnow/clipeiroai-sub000/internal/platform"
	"github.com/otaviosnow/clipeiroai-sub000/internal/session"
	"golang.org/x/oauth2"
)

type fakeTikTok struct {
	srv         *httptest.Server
	completeAt  int32
	polls       int32
	finalStatus string
	uploadRange string
	uploaded    []byte
	initBody    map[string]any
	tokenGrant  string
}

func newFakeTikTok(t *testing.T) *fakeTikTok {
	t.Helper()
	f := &fakeTikTok{completeAt: 2, finalStatus: "PUBLISH_COMPLETE"}
	mux := http.NewServeMux()
	mux.HandleFunc("/v2/oauth/token/", func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		f.tokenGrant = r.PostForm.Get("grant_type")
		w.Header().Set("Content-Type", "application/json")
		if r.PostForm.Get("refresh_token") == "expired" {
			w.Write([]byte(`{"error":"invalid_grant","error_description":"Refresh token is invalid or expired."}`))
			return
		}
		w.Write([]byte(`{"access_token":"act.new","expires_in":86400,"refresh_token":"rft.new","open_id":"open-1","token_type":"Bearer"}`))
	})
	mux.HandleFunc("/v2/post/publish/creator_info/query/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data":{"creator_username":"alice_fit","privacy_level_options":["FOLLOWER_OF_CREATOR","PUBLIC_TO_EVERYONE","SELF_ONLY"]},"error":{"code":"ok"}}`))
	})
	mux.HandleFunc("/v2/post/publish/video/init/", func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&f.initBody)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data":{"publish_id":"v_pub_1","upload_url":"` + f.srv.URL + `/upload"},"error":{"code":"ok"}}`))
	})
	mux.HandleFunc("/upload", func(w http.ResponseWriter, r *http.Request) {
		f.uploadRange = r.Header.Get("Content-Range")
		f.uploaded, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusCreated)
	})
	mux.HandleFunc("/v2/post/publish/status/fetch/", func(w http.ResponseWriter, r *http.Request) {
		status := "PROCESSING_UPLOAD"
		if atomic.AddInt32(&f.polls, 1) >= f.completeAt {
			status = f.finalStatus
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data":{"status":"` + status + `","fail_reason":"file_format_check_failed","publicaly_available_post_id":["7300000000000000001"]},"error":{"code":"ok"}}`))
	})
	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeTikTok) driver() *Driver {
	return New(Config{ClientKey: "key", ClientSecret: "secret", APIBase: f.srv.URL}, driver.Options{
		LoginTimeout:   time.Second,
		UploadTimeout:  time.Second,
		PublishTimeout: 200 * time.Millisecond,
		PollInterval:   5 * time.Millisecond,
	}, f.srv.Client())
}

var alice = platform.Account{Platform: platform.TikTok, Username: "alice_fit"}

func authedTarget() *session.Target {
	target := session.NewTarget(alice)
	target.Token = &oauth2.Token{AccessToken: "act.1", RefreshToken: "rft.1", Expiry: time.Now().Add(time.Hour)}
	return target
}

func writeClip(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "clip.mp4")
	if err := os.WriteFile(path, []byte("0123456789"), 0o644); err != nil {
		t.Fatalf("write clip: %v", err)
	}
	return path
}

func TestLogin_RefreshToken(t *testing.T) {
	f := newFakeTikTok(t)
	a, err := f.driver().Login(context.Background(), authedTarget(), alice)
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if f.tokenGrant != "refresh_token" {
		t.Fatalf("expected refresh grant, got %s", f.tokenGrant)
	}
	if a.Token.AccessToken != "act.new" || a.Token.RefreshToken != "rft.new" {
		t.Fatalf("unexpected token: %+v", a.Token)
	}
	if a.Extra(ExtraOpenID) != "open-1" || a.Extra(ExtraUsername) != "alice_fit" {
		t.Fatalf("unexpected extras: %+v", a.Extras)
	}
}

func TestLogin_AuthCodeAndExpiredRefresh(t *testing.T) {
	f := newFakeTikTok(t)
	d := f.driver()

	withCode := alice
	withCode.AuthCode = "code-1"
	if _, err := d.Login(context.Background(), session.NewTarget(alice), withCode); err != nil {
		t.Fatalf("code login: %v", err)
	}
	if f.tokenGrant != "authorization_code" {
		t.Fatalf("expected authorization_code grant, got %s", f.tokenGrant)
	}

	target := authedTarget()
	target.Token.RefreshToken = "expired"
	if _, err := d.Login(context.Background(), target, alice); !errors.Is(err, platform.ErrLoginFailed) {
		t.Fatalf("expected LoginFailed, got %v", err)
	}
}

func TestPublish_Confirmed(t *testing.T) {
	f := newFakeTikTok(t)
	out, err := f.driver().Publish(context.Background(), authedTarget(), platform.Content{
		MediaPath: writeClip(t),
		Caption:   "Coach 💪",
		Hashtags:  []string{"fitness"},
	})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if out.State != driver.Confirmed {
		t.Fatalf("expected Confirmed, got %s", out.State)
	}
	if out.URL != "https://www.tiktok.com/@alice_fit/video/7300000000000000001" {
		t.Fatalf("unexpected url %q", out.URL)
	}
	if f.uploadRange != "bytes 0-9/10" || string(f.uploaded) != "0123456789" {
		t.Fatalf("unexpected upload: range=%q body=%q", f.uploadRange, f.uploaded)
	}
	postInfo := f.initBody["post_info"].(map[string]any)
	if postInfo["title"] != "Coach 💪 #fitness" || postInfo["privacy_level"] != "PUBLIC_TO_EVERYONE" {
		t.Fatalf("unexpected post_info: %v", postInfo)
	}
}

func TestPublish_StatusTimeoutAndFailure(t *testing.T) {
	f := newFakeTikTok(t)
	f.completeAt = 1 << 30
	out, err := f.driver().Publish(context.Background(), authedTarget(), platform.Content{MediaPath: writeClip(t)})
	if !errors.Is(err, platform.ErrPublishTimeout) || out.State != driver.TimedOut {
		t.Fatalf("expected PublishTimeout, got %v (%s)", err, out.State)
	}

	g := newFakeTikTok(t)
	g.finalStatus = "FAILED"
	out, err = g.driver().Publish(context.Background(), authedTarget(), platform.Content{MediaPath: writeClip(t)})
	if !errors.Is(err, platform.ErrFailed) || out.State != driver.Failed {
		t.Fatalf("expected Failed, got %v (%s)", err, out.State)
	}
}

func TestChunkPlan(t *testing.T) {
	tests := []struct {
		size  int64
		chunk int64
		count int
	}{
		{10, 10, 1},
		{64 << 20, 64 << 20, 1},
		{(64 << 20) + 1, 10 << 20, 6},
		{105 << 20, 10 << 20, 10},
	}
	for _, tt := range tests {
		chunk, count := ChunkPlan(tt.size)
		if chunk != tt.chunk || count != tt.count {
			t.Fatalf("ChunkPlan(%d) = (%d, %d), want (%d, %d)", tt.size, chunk, count, tt.chunk, tt.count)
		}
	}
}

func TestPickPrivacy(t *testing.T) {
	if got := PickPrivacy([]string{"SELF_ONLY", "PUBLIC_TO_EVERYONE"}); got != "PUBLIC_TO_EVERYONE" {
		t.Fatalf("got %s", got)
	}
	if got := PickPrivacy([]string{"FOLLOWER_OF_CREATOR"}); got != "FOLLOWER_OF_CREATOR" {
		t.Fatalf("got %s", got)
	}
	if got := PickPrivacy(nil); got != "SELF_ONLY" {
		t.Fatalf("got %s", got)
	}
}
