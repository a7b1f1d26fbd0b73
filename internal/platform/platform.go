// Package platform holds the types shared by drivers, the session store and
// the orchestrator: target platforms, accounts, content payloads and the
// error taxonomy.
package platform

import (
	"fmt"
	"strings"
)

// Platform identifies a publishing target.
type Platform string

const (
	Instagram Platform = "instagram"
	TikTok    Platform = "tiktok"
	YouTube   Platform = "youtube"
)

// All lists every supported platform in a stable order.
var All = []Platform{Instagram, TikTok, YouTube}

// Parse converts a user-supplied name into a Platform.
func Parse(s string) (Platform, error) {
	switch p := Platform(strings.ToLower(strings.TrimSpace(s))); p {
	case Instagram, TikTok, YouTube:
		return p, nil
	default:
		return "", fmt.Errorf("unknown platform %q", s)
	}
}

func (p Platform) String() string { return string(p) }

// UnmarshalText lets platforms be read straight from YAML and flags.
func (p *Platform) UnmarshalText(b []byte) error {
	parsed, err := Parse(string(b))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// Account is one operator-owned platform identity. It lives only for the
// duration of a task; durable state goes to the session store.
type Account struct {
	Platform Platform `yaml:"platform"`
	Username string   `yaml:"username"`
	IsMain   bool     `yaml:"is_main"`

	// RequiresTwoFactor marks accounts whose consent screen asks for a TOTP
	// code. TOTPSecret is never logged.
	RequiresTwoFactor bool   `yaml:"requires_two_factor"`
	TOTPSecret        string `yaml:"totp_secret"`

	// AuthCode is a one-shot OAuth authorization code consumed by connect.
	AuthCode    string `yaml:"auth_code"`
	RedirectURL string `yaml:"redirect_url"`
}

// Key is the session store key for the account.
func (a Account) Key() string {
	return AccountKey(a.Platform, a.Username)
}

// AccountKey builds the canonical "platform:username" key.
func AccountKey(p Platform, username string) string {
	return strings.ToLower(string(p) + ":" + strings.TrimPrefix(strings.TrimSpace(username), "@"))
}

// Content is the publish payload.
type Content struct {
	// MediaPath is a local file, used by upload-based APIs.
	MediaPath string `yaml:"media_path"`
	// MediaURL is a publicly reachable copy, required by pull-based APIs.
	MediaURL string   `yaml:"media_url"`
	Title    string   `yaml:"title"`
	Caption  string   `yaml:"caption"`
	Hashtags []string `yaml:"hashtags"`
}

// FullCaption joins the caption and hashtags with single spaces, prefixing
// each hashtag with '#' when missing.
func (c Content) FullCaption() string {
	parts := make([]string, 0, len(c.Hashtags)+1)
	if s := strings.TrimSpace(c.Caption); s != "" {
		parts = append(parts, s)
	}
	for _, tag := range c.Hashtags {
		tag = strings.TrimSpace(tag)
		if tag == "" || tag == "#" {
			continue
		}
		if !strings.HasPrefix(tag, "#") {
			tag = "#" + tag
		}
		parts = append(parts, tag)
	}
	return strings.Join(parts, " ")
}
