// Package tiktok publishes videos through the TikTok Content Posting API
// (direct post, file upload).
package tiktok

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/otaviosnow/clipeiroai-sub000/internal/driver"
	"github.com/otaviosnow/clipeiroai-sub000/internal/logging"
	"github.com/otaviosnow/clipeiroai-sub000/internal/platform"
	"github.com/otaviosnow/clipeiroai-sub000/internal/session"
	"golang.org/x/oauth2"
)

const (
	DefaultAPIBase  = "https://open.tiktokapis.com"
	DefaultAuthBase = "https://www.tiktok.com"

	ExtraOpenID   = "open_id"
	ExtraUsername = "username"

	// Upload chunking limits from the Content Posting API.
	maxSingleChunk = 64 << 20
	chunkSize      = 10 << 20
)

// Config holds the app credentials and endpoints.
type Config struct {
	ClientKey    string `yaml:"client_key"`
	ClientSecret string `yaml:"client_secret"`

	APIBase  string `yaml:"-"`
	AuthBase string `yaml:"-"`
}

type Driver struct {
	cfg  Config
	opts driver.Options
	http *resty.Client
	now  func() time.Time
}

func New(cfg Config, opts driver.Options, hc *http.Client) *Driver {
	if cfg.APIBase == "" {
		cfg.APIBase = DefaultAPIBase
	}
	if cfg.AuthBase == "" {
		cfg.AuthBase = DefaultAuthBase
	}
	opts = opts.WithDefaults()
	return &Driver{cfg: cfg, opts: opts, http: driver.NewHTTPClient(hc, opts), now: time.Now}
}

func (d *Driver) Platform() platform.Platform { return platform.TikTok }

// AuthCodeURL is the consent page for TikTok Login Kit.
func (d *Driver) AuthCodeURL(redirectURL, state string) string {
	q := url.Values{}
	q.Set("client_key", d.cfg.ClientKey)
	q.Set("redirect_uri", redirectURL)
	q.Set("response_type", "code")
	q.Set("scope", "user.info.basic,video.publish")
	q.Set("state", state)
	return d.cfg.AuthBase + "/v2/auth/authorize/?" + q.Encode()
}

func (d *Driver) IsAuthenticated(_ context.Context, target *session.Target) bool {
	return driver.TokenValid(target, d.now())
}

// apiError is the envelope every Content Posting API response carries.
type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	LogID   string `json:"log_id"`
}

func (e apiError) check(op string, transient platform.Kind) error {
	switch e.Code {
	case "", "ok":
		return nil
	case "rate_limit_exceeded", "internal_error":
		return platform.Errorf(transient, op, "%s: %s (log %s)", e.Code, e.Message, e.LogID)
	case "access_token_invalid", "scope_not_authorized":
		return platform.Errorf(platform.KindLoginFailed, op, "%s: %s", e.Code, e.Message)
	}
	return platform.Errorf(platform.KindFailed, op, "%s: %s (log %s)", e.Code, e.Message, e.LogID)
}

func (d *Driver) Login(ctx context.Context, target *session.Target, account platform.Account) (session.Artifact, error) {
	const op = "tiktok.login"

	form := map[string]string{
		"client_key":    d.cfg.ClientKey,
		"client_secret": d.cfg.ClientSecret,
	}
	switch {
	case account.AuthCode != "":
		form["grant_type"] = "authorization_code"
		form["code"] = account.AuthCode
		form["redirect_uri"] = account.RedirectURL
	case target.Token != nil && target.Token.RefreshToken != "":
		form["grant_type"] = "refresh_token"
		form["refresh_token"] = target.Token.RefreshToken
	default:
		return session.Artifact{}, platform.Errorf(platform.KindLoginFailed, op, "no authorization code or refresh token for %s", target.AccountKey)
	}

	var out struct {
		AccessToken      string `json:"access_token"`
		ExpiresIn        int64  `json:"expires_in"`
		RefreshToken     string `json:"refresh_token"`
		OpenID           string `json:"open_id"`
		TokenType        string `json:"token_type"`
		Error            string `json:"error"`
		ErrorDescription string `json:"error_description"`
	}
	err := driver.Bounded(ctx, d.opts.LoginTimeout, platform.KindLoginFailed, op, func(ctx context.Context) error {
		resp, err := d.http.R().
			SetContext(ctx).
			SetFormData(form).
			SetResult(&out).
			SetError(&out).
			Post(d.cfg.APIBase + "/v2/oauth/token/")
		if err := driver.Check(ctx, resp, err, op, platform.KindLoginFailed); err != nil {
			return platform.NewError(platform.KindLoginFailed, op, err)
		}
		if out.Error != "" || out.AccessToken == "" {
			return platform.Errorf(platform.KindLoginFailed, op, "%s: %s", out.Error, out.ErrorDescription)
		}
		return nil
	})
	if err != nil {
		return session.Artifact{}, err
	}

	username, err := d.username(ctx, out.AccessToken)
	if err != nil {
		return session.Artifact{}, err
	}
	log.Printf("%s✅ TikTok login for %s (@%s)", logging.Prefix(ctx), target.AccountKey, username)

	return session.Artifact{
		AccountKey: target.AccountKey,
		Platform:   platform.TikTok,
		Token: &oauth2.Token{
			AccessToken:  out.AccessToken,
			RefreshToken: out.RefreshToken,
			TokenType:    "Bearer",
			Expiry:       d.now().Add(time.Duration(out.ExpiresIn) * time.Second),
		},
		Extras:     map[string]string{ExtraOpenID: out.OpenID, ExtraUsername: username},
		CapturedAt: d.now(),
	}, nil
}

// creatorInfo is the post-login marker and supplies the allowed privacy
// levels for direct posts.
type creatorInfo struct {
	Username      string   `json:"creator_username"`
	PrivacyLevels []string `json:"privacy_level_options"`
}

func (d *Driver) queryCreator(ctx context.Context, token string, transient platform.Kind) (creatorInfo, error) {
	const op = "tiktok.creator_info"
	var out struct {
		Data  creatorInfo `json:"data"`
		Error apiError    `json:"error"`
	}
	resp, err := d.http.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetHeader("Content-Type", "application/json; charset=UTF-8").
		SetResult(&out).
		SetError(&out).
		Post(d.cfg.APIBase + "/v2/post/publish/creator_info/query/")
	if err := driver.Check(ctx, resp, err, op, transient); err != nil {
		return creatorInfo{}, err
	}
	if err := out.Error.check(op, transient); err != nil {
		return creatorInfo{}, err
	}
	return out.Data, nil
}

func (d *Driver) username(ctx context.Context, token string) (string, error) {
	var info creatorInfo
	err := driver.Bounded(ctx, d.opts.LoginTimeout, platform.KindLoginFailed, "tiktok.creator_info", func(ctx context.Context) error {
		var err error
		info, err = d.queryCreator(ctx, token, platform.KindLoginFailed)
		return err
	})
	if err != nil {
		if platform.KindOf(err) != platform.KindCancelled {
			return "", platform.NewError(platform.KindLoginFailed, "tiktok.login", err)
		}
		return "", err
	}
	return info.Username, nil
}

func (d *Driver) Publish(ctx context.Context, target *session.Target, content platform.Content) (driver.PublishOutcome, error) {
	flow := driver.NewFlow()
	if !driver.TokenValid(target, d.now()) {
		return flow.Outcome("", ""), flow.Fail(platform.Errorf(platform.KindLoginFailed, "tiktok.publish", "session is not authenticated"))
	}
	token := target.Token.AccessToken

	file, err := os.Open(content.MediaPath)
	if err != nil {
		return flow.Outcome("", ""), flow.Fail(platform.NewError(platform.KindFailed, "tiktok.publish", err))
	}
	defer file.Close()
	info, err := file.Stat()
	if err != nil {
		return flow.Outcome("", ""), flow.Fail(platform.NewError(platform.KindFailed, "tiktok.publish", err))
	}
	size := info.Size()
	if size == 0 {
		return flow.Outcome("", ""), flow.Fail(platform.Errorf(platform.KindFailed, "tiktok.publish", "%s is empty", content.MediaPath))
	}
	chunk, count := ChunkPlan(size)

	var publishID, uploadURL, username string
	err = driver.Bounded(ctx, d.opts.UploadTimeout, platform.KindUploadTimeout, "tiktok.init", func(ctx context.Context) error {
		creator, err := d.queryCreator(ctx, token, platform.KindUploadTimeout)
		if err != nil {
			return err
		}
		username = creator.Username

		var out struct {
			Data struct {
				PublishID string `json:"publish_id"`
				UploadURL string `json:"upload_url"`
			} `json:"data"`
			Error apiError `json:"error"`
		}
		resp, err := d.http.R().
			SetContext(ctx).
			SetAuthToken(token).
			SetBody(map[string]any{
				"post_info": map[string]any{
					"title":         content.FullCaption(),
					"privacy_level": PickPrivacy(creator.PrivacyLevels),
				},
				"source_info": map[string]any{
					"source":            "FILE_UPLOAD",
					"video_size":        size,
					"chunk_size":        chunk,
					"total_chunk_count": count,
				},
			}).
			SetResult(&out).
			SetError(&out).
			Post(d.cfg.APIBase + "/v2/post/publish/video/init/")
		if err := driver.Check(ctx, resp, err, "tiktok.init", platform.KindUploadTimeout); err != nil {
			return err
		}
		if err := out.Error.check("tiktok.init", platform.KindUploadTimeout); err != nil {
			return err
		}
		publishID, uploadURL = out.Data.PublishID, out.Data.UploadURL
		if publishID == "" || uploadURL == "" {
			return platform.Errorf(platform.KindFailed, "tiktok.init", "init returned no publish id or upload url")
		}
		return nil
	})
	if err != nil {
		return flow.Outcome("", ""), flow.Fail(err)
	}
	flow.Advance(driver.Navigated)

	err = driver.Bounded(ctx, d.opts.UploadTimeout, platform.KindUploadTimeout, "tiktok.upload", func(ctx context.Context) error {
		return d.upload(ctx, file, uploadURL, size, chunk, count)
	})
	if err != nil {
		return flow.Outcome(publishID, ""), flow.Fail(err)
	}
	flow.Advance(driver.FormFilled)
	// Direct post submits automatically once the last chunk lands.
	flow.Advance(driver.Submitted)

	var postID string
	err = driver.WaitFor(ctx, d.opts.PublishTimeout, d.opts.PollInterval, platform.KindPublishTimeout, "tiktok.status", func(ctx context.Context) (bool, error) {
		done, id, err := d.status(ctx, token, publishID)
		postID = id
		return done, err
	})
	if err != nil {
		return flow.Outcome(publishID, ""), flow.Fail(err)
	}
	flow.Advance(driver.Confirmed)

	link := ""
	if postID != "" && username != "" {
		link = fmt.Sprintf("https://www.tiktok.com/@%s/video/%s", username, postID)
	}
	log.Printf("%s🎵 Published %s to TikTok (publish_id %s) %s", logging.Prefix(ctx), target.AccountKey, publishID, link)
	return flow.Outcome(publishID, link), nil
}

func (d *Driver) upload(ctx context.Context, file *os.File, uploadURL string, size, chunk int64, count int) error {
	for i := 0; i < count; i++ {
		start := int64(i) * chunk
		end := start + chunk - 1
		if i == count-1 {
			end = size - 1
		}
		buf := make([]byte, end-start+1)
		if _, err := file.ReadAt(buf, start); err != nil {
			return platform.NewError(platform.KindFailed, "tiktok.upload", err)
		}

		resp, err := d.http.R().
			SetContext(ctx).
			SetHeader("Content-Type", "video/mp4").
			SetHeader("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, size)).
			SetBody(buf).
			Put(uploadURL)
		if err := driver.Check(ctx, resp, err, "tiktok.upload", platform.KindUploadTimeout); err != nil {
			return err
		}
	}
	return nil
}

func (d *Driver) status(ctx context.Context, token, publishID string) (bool, string, error) {
	const op = "tiktok.status"
	var out struct {
		Data struct {
			Status     string   `json:"status"`
			FailReason string   `json:"fail_reason"`
			PostIDs    []string `json:"publicaly_available_post_id"`
		} `json:"data"`
		Error apiError `json:"error"`
	}
	resp, err := d.http.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetBody(map[string]string{"publish_id": publishID}).
		SetResult(&out).
		SetError(&out).
		Post(d.cfg.APIBase + "/v2/post/publish/status/fetch/")
	if err := driver.Check(ctx, resp, err, op, platform.KindPublishTimeout); err != nil {
		if platform.IsRetryable(err) {
			return false, "", nil
		}
		return false, "", err
	}
	if err := out.Error.check(op, platform.KindPublishTimeout); err != nil {
		if platform.IsRetryable(err) {
			return false, "", nil
		}
		return false, "", err
	}

	switch out.Data.Status {
	case "PUBLISH_COMPLETE":
		id := ""
		if len(out.Data.PostIDs) > 0 {
			id = out.Data.PostIDs[0]
		}
		return true, id, nil
	case "FAILED":
		return false, "", platform.Errorf(platform.KindFailed, op, "publish failed: %s", out.Data.FailReason)
	}
	return false, "", nil
}

// ChunkPlan splits size bytes the way the upload API requires: files up to
// 64MB go in one chunk, larger files in 10MB chunks with the remainder
// folded into the last one.
func ChunkPlan(size int64) (chunk int64, count int) {
	if size <= maxSingleChunk {
		return size, 1
	}
	return chunkSize, int(size / chunkSize)
}

// PickPrivacy prefers a public post when the creator allows it.
func PickPrivacy(options []string) string {
	for _, o := range options {
		if o == "PUBLIC_TO_EVERYONE" {
			return o
		}
	}
	if len(options) > 0 {
		return options[0]
	}
	return "SELF_ONLY"
}
