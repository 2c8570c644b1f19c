// client/client.go
package client

import (
	"bytes"
	"context"
	"encoding/base64"
	stderrors "errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"themesync/internal/errors"
	"themesync/internal/rate"

	"github.com/gabriel-vasile/mimetype"
	"github.com/goccy/go-json"
	"go.uber.org/zap"
)

// HeaderCallLimit carries the call budget as "current/max".
const HeaderCallLimit = "X-Shopify-Shop-Api-Call-Limit"

// DefaultTimeout bounds every remote call.
const DefaultTimeout = 120 * time.Second

// Theme is a remote theme as listed by the API.
type Theme struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Role string `json:"role"`
}

// IDString returns the theme id in the form used in URLs and config.
func (t Theme) IDString() string {
	return strconv.FormatInt(t.ID, 10)
}

// Asset is the wire form of an asset update. Exactly one of Value or Attachment
// is set, so an empty text file still sends "value":"".
type Asset struct {
	Key        string  `json:"key"`
	Value      *string `json:"value,omitempty"`
	Attachment *string `json:"attachment,omitempty"`
}

// API is the remote asset surface the sync pipeline talks to.
type API interface {
	UpdateAsset(ctx context.Context, themeID, key string, payload []byte) (rate.Budget, error)
	DeleteAsset(ctx context.Context, themeID, key string) (rate.Budget, error)
	CurrentBudget() (rate.Budget, bool)
}

type Options struct {
	BaseURL    string
	Key        string
	Pass       string
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *zap.Logger
}

type Client struct {
	baseURL    string
	key        string
	pass       string
	httpClient *http.Client
	logger     *zap.Logger

	mu        sync.RWMutex
	budget    rate.Budget
	hasBudget bool
}

// BaseURL returns the admin API root for a shop host.
func BaseURL(host string) string {
	return "https://" + host + "/admin"
}

func New(opts Options) (*Client, error) {
	if opts.Key == "" {
		return nil, errors.Configuration("API key does not exist")
	}
	if opts.Pass == "" {
		return nil, errors.Configuration("password does not exist")
	}
	if opts.BaseURL == "" {
		return nil, errors.Configuration("host does not exist")
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		key:        opts.Key,
		pass:       opts.Pass,
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

// requestConfig describes a single API call.
type requestConfig struct {
	method string
	path   string
	query  string
	body   any
}

// Theme operations
func (c *Client) ListThemes(ctx context.Context) ([]Theme, error) {
	var result struct {
		Themes []Theme `json:"themes"`
	}
	if err := c.do(ctx, requestConfig{method: http.MethodGet, path: "/themes.json"}, &result); err != nil {
		return nil, err
	}
	return result.Themes, nil
}

// Asset operations
func (c *Client) UpdateAsset(ctx context.Context, themeID, key string, payload []byte) (rate.Budget, error) {
	body := struct {
		Asset Asset `json:"asset"`
	}{Asset: EncodeAsset(key, payload)}

	err := c.do(ctx, requestConfig{
		method: http.MethodPut,
		path:   fmt.Sprintf("/themes/%s/assets.json", url.PathEscape(themeID)),
		body:   body,
	}, nil)
	if err != nil {
		return rate.Budget{}, err
	}

	budget, _ := c.CurrentBudget()
	return budget, nil
}

func (c *Client) DeleteAsset(ctx context.Context, themeID, key string) (rate.Budget, error) {
	err := c.do(ctx, requestConfig{
		method: http.MethodDelete,
		path:   fmt.Sprintf("/themes/%s/assets.json", url.PathEscape(themeID)),
		query:  url.Values{"asset[key]": []string{key}}.Encode(),
	}, nil)
	if err != nil {
		return rate.Budget{}, err
	}

	budget, _ := c.CurrentBudget()
	return budget, nil
}

// CurrentBudget returns the budget reported by the most recent response that carried one.
func (c *Client) CurrentBudget() (rate.Budget, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.budget, c.hasBudget
}

// EncodeAsset picks the text or base64 form for payload.
func EncodeAsset(key string, payload []byte) Asset {
	if IsText(payload) {
		value := string(payload)
		return Asset{Key: key, Value: &value}
	}
	attachment := base64.StdEncoding.EncodeToString(payload)
	return Asset{Key: key, Attachment: &attachment}
}

// IsText reports whether payload can travel as a JSON string unchanged.
// The sniffer only reads a prefix, so the whole payload must also be NUL-free UTF-8.
func IsText(payload []byte) bool {
	if len(payload) == 0 {
		return true
	}
	if !utf8.Valid(payload) || bytes.IndexByte(payload, 0) >= 0 {
		return false
	}
	for m := mimetype.Detect(payload); m != nil; m = m.Parent() {
		if m.Is("text/plain") {
			return true
		}
	}
	return false
}

func (c *Client) do(ctx context.Context, cfg requestConfig, result any) error {
	reqURL := c.baseURL + cfg.path
	if cfg.query != "" {
		reqURL += "?" + cfg.query
	}

	var body io.Reader = http.NoBody
	if cfg.body != nil {
		data, err := json.Marshal(cfg.body)
		if err != nil {
			return errors.Remote(errors.ErrorTypeInvalidRequest, "encoding request", 0, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, cfg.method, reqURL, body)
	if err != nil {
		return errors.Remote(errors.ErrorTypeInvalidRequest, "creating request", 0, err)
	}
	req.SetBasicAuth(c.key, c.pass)
	req.Header.Set("Accept", "application/json")
	if cfg.body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return classifyTransportError(err)
	}
	defer resp.Body.Close()

	c.recordBudget(resp.Header)

	c.logger.Debug("remote call",
		zap.String("method", cfg.method),
		zap.String("path", cfg.path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(start)),
	)

	if resp.StatusCode >= http.StatusBadRequest {
		return statusError(resp)
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return errors.Remote(errors.ErrorTypeUnknown, "decoding response", resp.StatusCode, err)
		}
	}
	return nil
}

func (c *Client) recordBudget(h http.Header) {
	budget, ok := ParseCallLimit(h.Get(HeaderCallLimit))
	if !ok {
		return
	}
	c.mu.Lock()
	c.budget = budget
	c.hasBudget = true
	c.mu.Unlock()
}

// ParseCallLimit parses a "current/max" header value.
func ParseCallLimit(v string) (rate.Budget, bool) {
	current, limit, found := strings.Cut(strings.TrimSpace(v), "/")
	if !found {
		return rate.Budget{}, false
	}
	cur, err := strconv.Atoi(strings.TrimSpace(current))
	if err != nil {
		return rate.Budget{}, false
	}
	m, err := strconv.Atoi(strings.TrimSpace(limit))
	if err != nil || m <= 0 {
		return rate.Budget{}, false
	}
	return rate.Budget{Current: cur, Max: m}, true
}

func classifyTransportError(err error) error {
	if stderrors.Is(err, context.DeadlineExceeded) {
		return errors.Remote(errors.ErrorTypeTimeout, "request timed out", 0, err)
	}
	var netErr net.Error
	if stderrors.As(err, &netErr) && netErr.Timeout() {
		return errors.Remote(errors.ErrorTypeTimeout, "request timed out", 0, err)
	}
	return errors.Remote(errors.ErrorTypeUnknown, "request failed", 0, err)
}

func statusError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))

	message := resp.Status
	var payload struct {
		Errors any `json:"errors"`
	}
	if err := json.Unmarshal(data, &payload); err == nil && payload.Errors != nil {
		message = fmt.Sprintf("%s: %v", resp.Status, payload.Errors)
	}

	kind := errors.ErrorTypeUnknown
	if resp.StatusCode < http.StatusInternalServerError && resp.StatusCode != http.StatusTooManyRequests {
		kind = errors.ErrorTypeInvalidRequest
	}
	return errors.Remote(kind, message, resp.StatusCode, nil)
}
