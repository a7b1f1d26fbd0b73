// Package config loads clipeiro.yaml and applies environment overrides.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/otaviosnow/clipeiroai-sub000/internal/driver"
	"github.com/otaviosnow/clipeiroai-sub000/internal/driver/instagram"
	"github.com/otaviosnow/clipeiroai-sub000/internal/driver/tiktok"
	"github.com/otaviosnow/clipeiroai-sub000/internal/driver/youtube"
	"github.com/otaviosnow/clipeiroai-sub000/internal/orchestrator"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultPath is read when no -config flag is given. It may be absent.
	DefaultPath = "clipeiro.yaml"
	// DefaultCallbackPort is where `clipeiro connect` listens for the
	// OAuth redirect.
	DefaultCallbackPort = 51121
)

// Config is the full runtime configuration.
type Config struct {
	DBPath        string `yaml:"db_path"`
	CallbackPort  int    `yaml:"callback_port"`
	TOTPRemoteURL string `yaml:"totp_remote_url"`

	Orchestrator orchestrator.Config `yaml:"orchestrator"`
	Driver       driver.Options      `yaml:"driver"`

	YouTube   youtube.Config   `yaml:"youtube"`
	Instagram instagram.Config `yaml:"instagram"`
	TikTok    tiktok.Config    `yaml:"tiktok"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		DBPath:       "clipeiro.db",
		CallbackPort: DefaultCallbackPort,
		Orchestrator: orchestrator.DefaultConfig(),
		Driver:       driver.DefaultOptions(),
	}
}

// Load reads path over the defaults and then applies environment
// overrides. A missing file is only an error when it was asked for
// explicitly, i.e. when path is not DefaultPath.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		path = DefaultPath
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", path, err)
		}
	case errors.Is(err, fs.ErrNotExist) && path == DefaultPath:
	default:
		return Config{}, fmt.Errorf("read %s: %w", path, err)
	}

	if err := cfg.applyEnv(os.Getenv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(getenv func(string) string) error {
	str := func(name string, dst *string) {
		if v := strings.TrimSpace(getenv(name)); v != "" {
			*dst = v
		}
	}
	num := func(name string, dst *int) error {
		v := strings.TrimSpace(getenv(name))
		if v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		*dst = n
		return nil
	}

	str("CLIPEIRO_DB_PATH", &c.DBPath)
	str("CLIPEIRO_TOTP_REMOTE_URL", &c.TOTPRemoteURL)
	if err := num("CLIPEIRO_CONCURRENCY", &c.Orchestrator.Concurrency); err != nil {
		return err
	}
	if err := num("CLIPEIRO_CALLBACK_PORT", &c.CallbackPort); err != nil {
		return err
	}

	str("YOUTUBE_CLIENT_ID", &c.YouTube.ClientID)
	str("YOUTUBE_CLIENT_SECRET", &c.YouTube.ClientSecret)
	str("INSTAGRAM_APP_ID", &c.Instagram.AppID)
	str("INSTAGRAM_APP_SECRET", &c.Instagram.AppSecret)
	str("TIKTOK_CLIENT_KEY", &c.TikTok.ClientKey)
	str("TIKTOK_CLIENT_SECRET", &c.TikTok.ClientSecret)
	return nil
}

// Validate rejects values the orchestrator cannot run with.
func (c Config) Validate() error {
	if c.DBPath == "" {
		return errors.New("db_path must not be empty")
	}
	if c.Orchestrator.Concurrency < 0 {
		return fmt.Errorf("orchestrator.concurrency must be positive, got %d", c.Orchestrator.Concurrency)
	}
	if c.CallbackPort < 0 || c.CallbackPort > 65535 {
		return fmt.Errorf("callback_port out of range: %d", c.CallbackPort)
	}
	for name, w := range map[string]struct{ min, max int64 }{
		"connect_pacing": {int64(c.Orchestrator.ConnectPacing.Min), int64(c.Orchestrator.ConnectPacing.Max)},
		"publish_pacing": {int64(c.Orchestrator.PublishPacing.Min), int64(c.Orchestrator.PublishPacing.Max)},
	} {
		if w.min < 0 || w.max < w.min {
			return fmt.Errorf("orchestrator.%s: max must be >= min >= 0", name)
		}
	}
	return nil
}

// Enabled reports whether credentials are configured for each platform.
func (c Config) Enabled() (youtube, instagram, tiktok bool) {
	return c.YouTube.ClientID != "" && c.YouTube.ClientSecret != "",
		c.Instagram.AppID != "" && c.Instagram.AppSecret != "",
		c.TikTok.ClientKey != "" && c.TikTok.ClientSecret != ""
}
