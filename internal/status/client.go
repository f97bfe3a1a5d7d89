package status

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/goodtune/mivoportal/internal/units"
	"github.com/rs/zerolog"
	"github.com/spf13/cast"
)

// SessionHeader carries the router session name on status requests.
const SessionHeader = "X-Mivo-Session"

// ErrMissingData is wrapped by FetchError when a 2xx body has no data object.
var ErrMissingData = errors.New("response has no data")

var plainInteger = regexp.MustCompile(`^\s*\d+\s*$`)

// RemoteStatus holds the fields of a remote status response that take part
// in reconciliation.
type RemoteStatus struct {
	LimitQuota  int64  `json:"limit_quota"`
	LimitUptime string `json:"limit_uptime"`
	// DataLeft is only meaningful when DataLeftKnown is set; formatted
	// remainders such as "1.2 GB" are not converted.
	DataLeft      int64  `json:"data_left"`
	DataLeftKnown bool   `json:"data_left_known"`
	TimeLeft      string `json:"time_left"`
}

// Fetcher retrieves the remote status for a username.
type Fetcher interface {
	FetchStatus(ctx context.Context, username string) (*RemoteStatus, error)
}

// FetchError describes a failed remote status fetch.
type FetchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("status fetch %s: unexpected HTTP status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("status fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Client fetches remote status from the MIVO API.
type Client struct {
	baseURL string
	session string
	client  *http.Client
	logger  zerolog.Logger
}

// NewClient creates a status client for cfg.APIBaseURL.
func NewClient(cfg PageConfig, timeout time.Duration, logger zerolog.Logger) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.APIBaseURL, "/"),
		session: cfg.APISession,
		client:  &http.Client{Timeout: timeout},
		logger:  logger.With().Str("component", "status-client").Logger(),
	}
}

type statusResponse struct {
	Data map[string]any `json:"data"`
}

// FetchStatus issues GET {base}/api/voucher/check/{username}.
func (c *Client) FetchStatus(ctx context.Context, username string) (*RemoteStatus, error) {
	endpoint := fmt.Sprintf("%s/api/voucher/check/%s", c.baseURL, url.PathEscape(username))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, &FetchError{URL: endpoint, Err: err}
	}
	req.Header.Set(SessionHeader, c.session)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &FetchError{URL: endpoint, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, &FetchError{URL: endpoint, StatusCode: resp.StatusCode}
	}

	var body statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, &FetchError{URL: endpoint, Err: fmt.Errorf("decode response: %w", err)}
	}
	if body.Data == nil {
		return nil, &FetchError{URL: endpoint, Err: ErrMissingData}
	}

	remote := DecodeRemote(body.Data)
	c.logger.Debug().
		Str("username", username).
		Int64("limit_quota", remote.LimitQuota).
		Str("limit_uptime", remote.LimitUptime).
		Msg("Remote status fetched")

	return remote, nil
}

// DecodeRemote coerces the loosely typed data object of a status response.
func DecodeRemote(data map[string]any) *RemoteStatus {
	remote := &RemoteStatus{
		LimitQuota:  coerceBytes(data["limit_quota"]),
		LimitUptime: units.Clean(cast.ToString(data["limit_uptime"])),
		TimeLeft:    units.Clean(cast.ToString(data["time_left"])),
	}

	switch v := data["data_left"].(type) {
	case float64, int, int64, json.Number:
		if n, err := cast.ToInt64E(v); err == nil {
			remote.DataLeft, remote.DataLeftKnown = n, true
		}
	case string:
		if plainInteger.MatchString(v) {
			if n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
				remote.DataLeft, remote.DataLeftKnown = n, true
			}
		}
	}

	return remote
}

// coerceBytes accepts JSON numbers and plain integer strings. Formatted
// sizes such as "1.5 GB" are not guessed at and yield 0.
func coerceBytes(v any) int64 {
	switch val := v.(type) {
	case float64, int, int64, json.Number:
		n, err := cast.ToInt64E(val)
		if err != nil || n < 0 {
			return 0
		}
		return n
	case string:
		if !plainInteger.MatchString(val) {
			return 0
		}
		return units.ParseBytes(val)
	default:
		return 0
	}
}
