// Package instagram publishes Reels through the Instagram Graph API content
// publishing endpoints.
package instagram

import (
	"context"
	"log"
	"net/http"
	"net/url"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/otaviosnow/clipeiroai-sub000/internal/driver"
	"github.com/otaviosnow/clipeiroai-sub000/internal/logging"
	"github.com/otaviosnow/clipeiroai-sub000/internal/platform"
	"github.com/otaviosnow/clipeiroai-sub000/internal/session"
	"golang.org/x/oauth2"
)

const (
	DefaultGraphBase = "https://graph.instagram.com/v21.0"
	DefaultAuthBase  = "https://api.instagram.com"
	// DefaultRefreshBase serves the unversioned token endpoints.
	DefaultRefreshBase = "https://graph.instagram.com"

	// ExtraUserID is the professional account id used in publish paths.
	ExtraUserID = "ig_user_id"
)

// Config holds the app credentials and endpoints.
type Config struct {
	AppID     string `yaml:"app_id"`
	AppSecret string `yaml:"app_secret"`

	GraphBase   string `yaml:"-"`
	AuthBase    string `yaml:"-"`
	RefreshBase string `yaml:"-"`
}

type Driver struct {
	cfg  Config
	opts driver.Options
	http *resty.Client
	now  func() time.Time
}

func New(cfg Config, opts driver.Options, hc *http.Client) *Driver {
	if cfg.GraphBase == "" {
		cfg.GraphBase = DefaultGraphBase
	}
	if cfg.AuthBase == "" {
		cfg.AuthBase = DefaultAuthBase
	}
	if cfg.RefreshBase == "" {
		cfg.RefreshBase = DefaultRefreshBase
	}
	opts = opts.WithDefaults()
	return &Driver{cfg: cfg, opts: opts, http: driver.NewHTTPClient(hc, opts), now: time.Now}
}

func (d *Driver) Platform() platform.Platform { return platform.Instagram }

// AuthCodeURL is the consent page for Instagram business login.
func (d *Driver) AuthCodeURL(redirectURL, state string) string {
	q := url.Values{}
	q.Set("client_id", d.cfg.AppID)
	q.Set("redirect_uri", redirectURL)
	q.Set("response_type", "code")
	q.Set("scope", "instagram_business_basic,instagram_business_content_publish")
	q.Set("state", state)
	return d.cfg.AuthBase + "/oauth/authorize?" + q.Encode()
}

func (d *Driver) IsAuthenticated(_ context.Context, target *session.Target) bool {
	return driver.TokenValid(target, d.now()) && target.Extras[ExtraUserID] != ""
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

// Login trades an authorization code for a long-lived token, or refreshes
// the existing long-lived token. Instagram issues no separate refresh token.
func (d *Driver) Login(ctx context.Context, target *session.Target, account platform.Account) (session.Artifact, error) {
	const op = "instagram.login"

	var tok tokenResponse
	err := driver.Bounded(ctx, d.opts.LoginTimeout, platform.KindLoginFailed, op, func(ctx context.Context) error {
		switch {
		case account.AuthCode != "":
			short, err := d.exchangeCode(ctx, account)
			if err != nil {
				return err
			}
			return d.tokenCall(ctx, "/access_token", map[string]string{
				"grant_type":    "ig_exchange_token",
				"client_secret": d.cfg.AppSecret,
				"access_token":  short,
			}, &tok)
		case target.Token != nil && target.Token.AccessToken != "":
			return d.tokenCall(ctx, "/refresh_access_token", map[string]string{
				"grant_type":   "ig_refresh_token",
				"access_token": target.Token.AccessToken,
			}, &tok)
		}
		return platform.Errorf(platform.KindLoginFailed, op, "no authorization code or token for %s", target.AccountKey)
	})
	if err != nil {
		return session.Artifact{}, err
	}

	userID, err := d.userID(ctx, tok.AccessToken)
	if err != nil {
		return session.Artifact{}, err
	}
	log.Printf("%s✅ Instagram login for %s (user %s)", logging.Prefix(ctx), target.AccountKey, userID)

	return session.Artifact{
		AccountKey: target.AccountKey,
		Platform:   platform.Instagram,
		Token: &oauth2.Token{
			AccessToken: tok.AccessToken,
			TokenType:   "Bearer",
			Expiry:      d.now().Add(time.Duration(tok.ExpiresIn) * time.Second),
		},
		Extras:     map[string]string{ExtraUserID: userID},
		CapturedAt: d.now(),
	}, nil
}

func (d *Driver) exchangeCode(ctx context.Context, account platform.Account) (string, error) {
	const op = "instagram.exchange"
	var out struct {
		AccessToken string `json:"access_token"`
	}
	resp, err := d.http.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"client_id":     d.cfg.AppID,
			"client_secret": d.cfg.AppSecret,
			"grant_type":    "authorization_code",
			"redirect_uri":  account.RedirectURL,
			"code":          account.AuthCode,
		}).
		SetResult(&out).
		Post(d.cfg.AuthBase + "/oauth/access_token")
	if err := driver.Check(ctx, resp, err, op, platform.KindLoginFailed); err != nil {
		return "", platform.NewError(platform.KindLoginFailed, op, err)
	}
	if out.AccessToken == "" {
		return "", platform.Errorf(platform.KindLoginFailed, op, "no access token in response")
	}
	return out.AccessToken, nil
}

func (d *Driver) tokenCall(ctx context.Context, path string, params map[string]string, out *tokenResponse) error {
	const op = "instagram.token"
	resp, err := d.http.R().
		SetContext(ctx).
		SetQueryParams(params).
		SetResult(out).
		Get(d.cfg.RefreshBase + path)
	if err := driver.Check(ctx, resp, err, op, platform.KindLoginFailed); err != nil {
		return platform.NewError(platform.KindLoginFailed, op, err)
	}
	if out.AccessToken == "" {
		return platform.Errorf(platform.KindLoginFailed, op, "no access token in response")
	}
	return nil
}

func (d *Driver) userID(ctx context.Context, accessToken string) (string, error) {
	const op = "instagram.me"
	var out struct {
		UserID string `json:"user_id"`
		ID     string `json:"id"`
	}
	err := driver.Bounded(ctx, d.opts.LoginTimeout, platform.KindLoginFailed, op, func(ctx context.Context) error {
		resp, err := d.http.R().
			SetContext(ctx).
			SetQueryParams(map[string]string{"fields": "user_id,username", "access_token": accessToken}).
			SetResult(&out).
			Get(d.cfg.GraphBase + "/me")
		return driver.Check(ctx, resp, err, op, platform.KindLoginFailed)
	})
	if err != nil {
		return "", err
	}
	if out.UserID != "" {
		return out.UserID, nil
	}
	if out.ID != "" {
		return out.ID, nil
	}
	return "", platform.Errorf(platform.KindLoginFailed, op, "profile has no user id")
}

// Publish creates a REELS container from the public media URL, waits for
// Instagram to finish ingesting it, then publishes it.
func (d *Driver) Publish(ctx context.Context, target *session.Target, content platform.Content) (driver.PublishOutcome, error) {
	flow := driver.NewFlow()
	if !d.IsAuthenticated(ctx, target) {
		return flow.Outcome("", ""), flow.Fail(platform.Errorf(platform.KindLoginFailed, "instagram.publish", "session is not authenticated"))
	}
	if content.MediaURL == "" {
		return flow.Outcome("", ""), flow.Fail(platform.Errorf(platform.KindFailed, "instagram.publish", "instagram needs a public media_url"))
	}
	token := target.Token.AccessToken
	userID := target.Extras[ExtraUserID]

	var containerID string
	err := driver.Bounded(ctx, d.opts.UploadTimeout, platform.KindUploadTimeout, "instagram.container", func(ctx context.Context) error {
		var out struct {
			ID string `json:"id"`
		}
		resp, err := d.http.R().
			SetContext(ctx).
			SetFormData(map[string]string{
				"media_type":   "REELS",
				"video_url":    content.MediaURL,
				"caption":      content.FullCaption(),
				"access_token": token,
			}).
			SetResult(&out).
			Post(d.cfg.GraphBase + "/" + userID + "/media")
		if err := driver.Check(ctx, resp, err, "instagram.container", platform.KindUploadTimeout); err != nil {
			return err
		}
		containerID = out.ID
		if containerID == "" {
			return platform.Errorf(platform.KindFailed, "instagram.container", "no container id returned")
		}
		return nil
	})
	if err != nil {
		return flow.Outcome("", ""), flow.Fail(err)
	}
	flow.Advance(driver.Navigated)

	err = driver.WaitFor(ctx, d.opts.UploadTimeout, d.opts.PollInterval, platform.KindUploadTimeout, "instagram.ingest", func(ctx context.Context) (bool, error) {
		return d.containerReady(ctx, token, containerID)
	})
	if err != nil {
		return flow.Outcome(containerID, ""), flow.Fail(err)
	}
	flow.Advance(driver.FormFilled)

	var mediaID string
	err = driver.Bounded(ctx, d.opts.PublishTimeout, platform.KindPublishTimeout, "instagram.publish", func(ctx context.Context) error {
		var out struct {
			ID string `json:"id"`
		}
		resp, err := d.http.R().
			SetContext(ctx).
			SetFormData(map[string]string{"creation_id": containerID, "access_token": token}).
			SetResult(&out).
			Post(d.cfg.GraphBase + "/" + userID + "/media_publish")
		if err := driver.Check(ctx, resp, err, "instagram.publish", platform.KindPublishTimeout); err != nil {
			return err
		}
		mediaID = out.ID
		return nil
	})
	if err != nil {
		return flow.Outcome(containerID, ""), flow.Fail(err)
	}
	flow.Advance(driver.Submitted)
	if mediaID == "" {
		return flow.Outcome(containerID, ""), flow.Fail(platform.Errorf(platform.KindPublishTimeout, "instagram.publish", "publish returned no media id"))
	}
	flow.Advance(driver.Confirmed)

	link := d.permalink(ctx, token, mediaID)
	log.Printf("%s📸 Published %s to Instagram: %s", logging.Prefix(ctx), target.AccountKey, orNone(link))
	return flow.Outcome(mediaID, link), nil
}

func (d *Driver) containerReady(ctx context.Context, token, containerID string) (bool, error) {
	const op = "instagram.ingest"
	var out struct {
		StatusCode string `json:"status_code"`
		Status     string `json:"status"`
	}
	resp, err := d.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{"fields": "status_code,status", "access_token": token}).
		SetResult(&out).
		Get(d.cfg.GraphBase + "/" + containerID)
	if err := driver.Check(ctx, resp, err, op, platform.KindUploadTimeout); err != nil {
		if platform.IsRetryable(err) {
			return false, nil
		}
		return false, err
	}
	switch out.StatusCode {
	case "FINISHED", "PUBLISHED":
		return true, nil
	case "ERROR", "EXPIRED":
		return false, platform.Errorf(platform.KindFailed, op, "container %s: %s %s", containerID, out.StatusCode, out.Status)
	}
	return false, nil
}

// permalink is best-effort: the media is already live when this runs.
func (d *Driver) permalink(ctx context.Context, token, mediaID string) string {
	var out struct {
		Permalink string `json:"permalink"`
	}
	resp, err := d.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{"fields": "permalink", "access_token": token}).
		SetResult(&out).
		Get(d.cfg.GraphBase + "/" + mediaID)
	if err != nil || resp.IsError() {
		log.Printf("%s⚠️ Could not read permalink for media %s", logging.Prefix(ctx), mediaID)
		return ""
	}
	return out.Permalink
}

func orNone(s string) string {
	if s == "" {
		return "(no url)"
	}
	return s
}
