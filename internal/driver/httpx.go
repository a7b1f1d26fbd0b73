package driver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-resty/resty/v2"
	"github.com/otaviosnow/clipeiroai-sub000/internal/platform"
	"github.com/otaviosnow/clipeiroai-sub000/internal/util"
)

// APIError is a non-2xx response from a platform API.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("status %d: %s", e.Status, util.TruncateLog(e.Body, 256))
}

// Diagnostics returns the truncated API response body carried by err, if any.
func Diagnostics(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return util.TruncateLog(apiErr.Body, util.DefaultLogMaxLen)
	}
	return ""
}

// Check classifies a resty call result.
//   - transport errors, 5xx and 429 are transient and get transientKind
//   - 401 means the credentials no longer work: LoginFailed
//   - any other 4xx is Failed
//
// Context cancellation is passed through untouched.
func Check(ctx context.Context, resp *resty.Response, err error, op string, transientKind platform.Kind) error {
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return platform.NewError(transientKind, op, err)
	}
	if resp == nil {
		return platform.Errorf(platform.KindFailed, op, "no response")
	}
	if !resp.IsError() {
		return nil
	}

	apiErr := &APIError{Status: resp.StatusCode(), Body: strings.TrimSpace(resp.String())}
	switch {
	case resp.StatusCode() >= 500, resp.StatusCode() == http.StatusTooManyRequests:
		return platform.NewError(transientKind, op, apiErr)
	case resp.StatusCode() == http.StatusUnauthorized:
		return platform.NewError(platform.KindLoginFailed, op, apiErr)
	default:
		return platform.NewError(platform.KindFailed, op, apiErr)
	}
}

// IsPermanentRefreshError reports whether a token endpoint rejected the
// grant for good, as opposed to a transient outage.
func IsPermanentRefreshError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	permanentMarkers := []string{
		"invalid_grant",
		"invalid_client",
		"unauthorized_client",
		"token has been expired or revoked",
		"revoked",
		"access_token_invalid",
	}
	for _, marker := range permanentMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
