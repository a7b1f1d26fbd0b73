package totp

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// HTTPRemote asks a helper service for the current code. The endpoint must
// be configured explicitly; there is no built-in default.
type HTTPRemote struct {
	client *resty.Client
}

// NewHTTPRemote creates a remote that calls GET {baseURL}/{secret} and reads
// a JSON body of the form {"token":"123456"}.
func NewHTTPRemote(baseURL string, timeout time.Duration) *HTTPRemote {
	return &HTTPRemote{
		client: resty.New().
			SetBaseURL(strings.TrimRight(baseURL, "/")).
			SetTimeout(timeout),
	}
}

func (h *HTTPRemote) Code(ctx context.Context, secret string) (string, error) {
	var out struct {
		Token string `json:"token"`
	}
	resp, err := h.client.R().
		SetContext(ctx).
		SetResult(&out).
		Get("/" + url.PathEscape(strings.TrimRight(secret, "=")))
	if err != nil {
		return "", fmt.Errorf("totp remote: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("totp remote: status %d", resp.StatusCode())
	}
	return out.Token, nil
}
