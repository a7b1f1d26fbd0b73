// Package youtube publishes Shorts through the YouTube Data API v3 using a
// resumable upload.
package youtube

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/otaviosnow/clipeiroai-sub000/internal/driver"
	"github.com/otaviosnow/clipeiroai-sub000/internal/logging"
	"github.com/otaviosnow/clipeiroai-sub000/internal/platform"
	"github.com/otaviosnow/clipeiroai-sub000/internal/session"
	"golang.org/x/oauth2"
	googleOAuth "golang.org/x/oauth2/google"
)

const (
	DefaultAPIBase    = "https://www.googleapis.com/youtube/v3"
	DefaultUploadBase = "https://www.googleapis.com/upload/youtube/v3"

	// ExtraChannelID holds the authenticated channel in session extras.
	ExtraChannelID = "channel_id"
)

// Scopes needed to upload and read back video status.
var Scopes = []string{
	"https://www.googleapis.com/auth/youtube.upload",
	"https://www.googleapis.com/auth/youtube.readonly",
}

// Config holds the OAuth client and endpoints.
type Config struct {
	ClientID      string `yaml:"client_id"`
	ClientSecret  string `yaml:"client_secret"`
	PrivacyStatus string `yaml:"privacy_status"`

	APIBase    string          `yaml:"-"`
	UploadBase string          `yaml:"-"`
	Endpoint   oauth2.Endpoint `yaml:"-"`
}

// Driver implements driver.Driver for YouTube.
type Driver struct {
	cfg  Config
	opts driver.Options
	http *resty.Client
	hc   *http.Client
	now  func() time.Time
}

// New creates a YouTube driver. hc may be nil.
func New(cfg Config, opts driver.Options, hc *http.Client) *Driver {
	if cfg.APIBase == "" {
		cfg.APIBase = DefaultAPIBase
	}
	if cfg.UploadBase == "" {
		cfg.UploadBase = DefaultUploadBase
	}
	if cfg.Endpoint.TokenURL == "" {
		cfg.Endpoint = googleOAuth.Endpoint
	}
	if cfg.PrivacyStatus == "" {
		cfg.PrivacyStatus = "public"
	}
	if hc == nil {
		hc = http.DefaultClient
	}
	opts = opts.WithDefaults()
	return &Driver{
		cfg:  cfg,
		opts: opts,
		http: driver.NewHTTPClient(hc, opts),
		hc:   hc,
		now:  time.Now,
	}
}

func (d *Driver) Platform() platform.Platform { return platform.YouTube }

// OAuthConfig returns the client config for redirectURL.
func (d *Driver) OAuthConfig(redirectURL string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     d.cfg.ClientID,
		ClientSecret: d.cfg.ClientSecret,
		RedirectURL:  redirectURL,
		Scopes:       Scopes,
		Endpoint:     d.cfg.Endpoint,
	}
}

// AuthCodeURL is the consent page the operator opens to connect a channel.
func (d *Driver) AuthCodeURL(redirectURL, state string) string {
	return d.OAuthConfig(redirectURL).AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

func (d *Driver) IsAuthenticated(_ context.Context, target *session.Target) bool {
	return driver.TokenValid(target, d.now())
}

func (d *Driver) Login(ctx context.Context, target *session.Target, account platform.Account) (session.Artifact, error) {
	const op = "youtube.login"

	var tok *oauth2.Token
	err := driver.Bounded(ctx, d.opts.LoginTimeout, platform.KindLoginFailed, op, func(ctx context.Context) error {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, d.hc)
		cfg := d.OAuthConfig(account.RedirectURL)

		var err error
		switch {
		case account.AuthCode != "":
			tok, err = cfg.Exchange(ctx, account.AuthCode)
		case target.Token != nil && target.Token.RefreshToken != "":
			tok, err = cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: target.Token.RefreshToken}).Token()
		default:
			return platform.Errorf(platform.KindLoginFailed, op, "no authorization code or refresh token for %s", target.AccountKey)
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if driver.IsPermanentRefreshError(err) {
				return platform.NewError(platform.KindLoginFailed, op, err)
			}
			return platform.NewError(platform.KindLoginFailed, op, fmt.Errorf("token endpoint: %w", err))
		}
		return nil
	})
	if err != nil {
		return session.Artifact{}, err
	}
	if tok.RefreshToken == "" && target.Token != nil {
		tok.RefreshToken = target.Token.RefreshToken
	}

	channelID, err := d.channelID(ctx, tok.AccessToken)
	if err != nil {
		return session.Artifact{}, err
	}
	log.Printf("%s✅ YouTube login for %s (channel %s)", logging.Prefix(ctx), target.AccountKey, channelID)

	return session.Artifact{
		AccountKey: target.AccountKey,
		Platform:   platform.YouTube,
		Token:      tok,
		Extras:     map[string]string{ExtraChannelID: channelID},
		CapturedAt: d.now(),
	}, nil
}

func (d *Driver) channelID(ctx context.Context, accessToken string) (string, error) {
	const op = "youtube.channel"
	var out struct {
		Items []struct {
			ID string `json:"id"`
		} `json:"items"`
	}
	err := driver.Bounded(ctx, d.opts.LoginTimeout, platform.KindLoginFailed, op, func(ctx context.Context) error {
		resp, err := d.http.R().
			SetContext(ctx).
			SetAuthToken(accessToken).
			SetQueryParams(map[string]string{"part": "id", "mine": "true"}).
			SetResult(&out).
			Get(d.cfg.APIBase + "/channels")
		return driver.Check(ctx, resp, err, op, platform.KindLoginFailed)
	})
	if err != nil {
		return "", err
	}
	if len(out.Items) == 0 || out.Items[0].ID == "" {
		return "", platform.Errorf(platform.KindLoginFailed, op, "account has no YouTube channel")
	}
	return out.Items[0].ID, nil
}

func (d *Driver) Publish(ctx context.Context, target *session.Target, content platform.Content) (driver.PublishOutcome, error) {
	flow := driver.NewFlow()
	if !driver.TokenValid(target, d.now()) {
		return flow.Outcome("", ""), flow.Fail(platform.Errorf(platform.KindLoginFailed, "youtube.publish", "session is not authenticated"))
	}
	token := target.Token.AccessToken

	media, err := os.ReadFile(content.MediaPath)
	if err != nil {
		return flow.Outcome("", ""), flow.Fail(platform.NewError(platform.KindFailed, "youtube.publish", err))
	}

	uploadURL, err := d.startUpload(ctx, token, content, int64(len(media)))
	if err != nil {
		return flow.Outcome("", ""), flow.Fail(err)
	}
	flow.Advance(driver.Navigated)

	var videoID string
	err = driver.Bounded(ctx, d.opts.UploadTimeout, platform.KindUploadTimeout, "youtube.upload", func(ctx context.Context) error {
		var out struct {
			ID string `json:"id"`
		}
		resp, err := d.http.R().
			SetContext(ctx).
			SetAuthToken(token).
			SetHeader("Content-Type", "video/*").
			SetBody(media).
			SetResult(&out).
			Put(uploadURL)
		if err := driver.Check(ctx, resp, err, "youtube.upload", platform.KindUploadTimeout); err != nil {
			return err
		}
		if out.ID == "" {
			return platform.Errorf(platform.KindFailed, "youtube.upload", "upload finished without a video id")
		}
		videoID = out.ID
		return nil
	})
	if err != nil {
		return flow.Outcome("", ""), flow.Fail(err)
	}
	flow.Advance(driver.FormFilled)
	// The video is published as soon as its upload completes.
	flow.Advance(driver.Submitted)

	err = driver.WaitFor(ctx, d.opts.PublishTimeout, d.opts.PollInterval, platform.KindPublishTimeout, "youtube.status", func(ctx context.Context) (bool, error) {
		return d.processed(ctx, token, videoID)
	})
	if err != nil {
		return flow.Outcome(videoID, ""), flow.Fail(err)
	}
	flow.Advance(driver.Confirmed)

	url := "https://youtu.be/" + videoID
	log.Printf("%s🎬 Published %s to YouTube: %s", logging.Prefix(ctx), target.AccountKey, url)
	return flow.Outcome(videoID, url), nil
}

func (d *Driver) startUpload(ctx context.Context, token string, content platform.Content, size int64) (string, error) {
	const op = "youtube.init"

	tags := make([]string, 0, len(content.Hashtags))
	for _, h := range content.Hashtags {
		if h = strings.TrimPrefix(strings.TrimSpace(h), "#"); h != "" {
			tags = append(tags, h)
		}
	}
	body := map[string]any{
		"snippet": map[string]any{
			"title":       Title(content),
			"description": content.FullCaption(),
			"tags":        tags,
		},
		"status": map[string]any{
			"privacyStatus":           d.cfg.PrivacyStatus,
			"selfDeclaredMadeForKids": false,
		},
	}

	var location string
	err := driver.Bounded(ctx, d.opts.UploadTimeout, platform.KindUploadTimeout, op, func(ctx context.Context) error {
		resp, err := d.http.R().
			SetContext(ctx).
			SetAuthToken(token).
			SetQueryParams(map[string]string{"uploadType": "resumable", "part": "snippet,status"}).
			SetHeader("X-Upload-Content-Type", "video/*").
			SetHeader("X-Upload-Content-Length", fmt.Sprint(size)).
			SetBody(body).
			Post(d.cfg.UploadBase + "/videos")
		if err := driver.Check(ctx, resp, err, op, platform.KindUploadTimeout); err != nil {
			return err
		}
		location = resp.Header().Get("Location")
		if location == "" {
			return platform.Errorf(platform.KindFailed, op, "no resumable session location returned")
		}
		return nil
	})
	return location, err
}

func (d *Driver) processed(ctx context.Context, token, videoID string) (bool, error) {
	const op = "youtube.status"
	var out struct {
		Items []struct {
			Status struct {
				UploadStatus    string `json:"uploadStatus"`
				FailureReason   string `json:"failureReason"`
				RejectionReason string `json:"rejectionReason"`
			} `json:"status"`
		} `json:"items"`
	}
	resp, err := d.http.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetQueryParams(map[string]string{"part": "status,processingDetails", "id": videoID}).
		SetResult(&out).
		Get(d.cfg.APIBase + "/videos")
	if err := driver.Check(ctx, resp, err, op, platform.KindPublishTimeout); err != nil {
		if platform.IsRetryable(err) {
			return false, nil
		}
		return false, err
	}
	if len(out.Items) == 0 {
		return false, nil
	}

	st := out.Items[0].Status
	switch st.UploadStatus {
	case "processed":
		return true, nil
	case "failed":
		return false, platform.Errorf(platform.KindFailed, op, "processing failed: %s", st.FailureReason)
	case "rejected", "deleted":
		return false, platform.Errorf(platform.KindFailed, op, "video %s: %s", st.UploadStatus, st.RejectionReason)
	}
	return false, nil
}

// Title picks the explicit title or the first caption line, capped at the
// API's 100 character limit.
func Title(content platform.Content) string {
	title := strings.TrimSpace(content.Title)
	if title == "" {
		title = strings.TrimSpace(strings.SplitN(content.Caption, "\n", 2)[0])
	}
	if title == "" {
		title = "Untitled"
	}
	if r := []rune(title); len(r) > 100 {
		title = string(r[:100])
	}
	if !strings.Contains(strings.ToLower(title), "#shorts") && len([]rune(title)) <= 92 {
		title += " #Shorts"
	}
	return title
}
