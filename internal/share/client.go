package share

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/proxy"
)

// DefaultEndpoint is the bandwidth share API.
const DefaultEndpoint = "https://api.openloop.so/bandwidth/share"

var (
	// ErrNoBalance means the response decoded but carried no data.balances.POINT.
	ErrNoBalance = errors.New("share: response has no balance")
	// ErrInvalidProxy wraps proxy strings that cannot be dialed.
	ErrInvalidProxy = errors.New("share: invalid proxy")
)

// StatusError is returned for non-2xx responses.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("share: unexpected status %d", e.StatusCode)
	}
	return fmt.Sprintf("share: unexpected status %d: %s", e.StatusCode, e.Body)
}

// Result is a decoded successful share.
type Result struct {
	Message string
	Balance float64
}

type shareRequest struct {
	Quality int `json:"quality"`
}

type shareResponse struct {
	Message *string `json:"message"`
	Data    *struct {
		Balances *struct {
			Point *float64 `json:"POINT"`
		} `json:"balances"`
	} `json:"data"`
}

func (r shareResponse) balance() (float64, bool) {
	if r.Data == nil || r.Data.Balances == nil || r.Data.Balances.Point == nil {
		return 0, false
	}
	return *r.Data.Balances.Point, true
}

// Client posts share requests. Each call dials through its own proxy; no
// connection is reused across accounts.
type Client struct {
	Endpoint    string
	DialTimeout time.Duration
	UserAgent   string
}

// Share posts quality for credential through proxyRaw.
func (c *Client) Share(ctx context.Context, credential, proxyRaw string, quality int) (Result, error) {
	pu, err := ParseProxy(proxyRaw)
	if err != nil {
		return Result{}, err
	}
	tr, err := c.transport(pu)
	if err != nil {
		return Result{}, err
	}
	defer tr.CloseIdleConnections()

	body, err := json.Marshal(shareRequest{Quality: quality})
	if err != nil {
		return Result{}, err
	}
	endpoint := c.Endpoint
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("Authorization", "Bearer "+credential)
	req.Header.Set("Content-Type", "application/json")
	if c.UserAgent != "" {
		req.Header.Set("User-Agent", c.UserAgent)
	}

	resp, err := (&http.Client{Transport: tr}).Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("share: request via %s: %w", pu.Redacted(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Result{}, &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}

	var out shareResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out); err != nil {
		return Result{}, fmt.Errorf("share: decode response: %w", err)
	}
	bal, ok := out.balance()
	if !ok {
		return Result{}, ErrNoBalance
	}
	res := Result{Balance: bal}
	if out.Message != nil {
		res.Message = *out.Message
	}
	return res, nil
}

func (c *Client) transport(pu *url.URL) (*http.Transport, error) {
	dt := c.DialTimeout
	if dt <= 0 {
		dt = 30 * time.Second
	}
	dialer := &net.Dialer{Timeout: dt, KeepAlive: 30 * time.Second}
	tr := &http.Transport{
		ForceAttemptHTTP2:     true,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
		MaxIdleConns:          1,
	}
	switch pu.Scheme {
	case "http", "https":
		tr.Proxy = http.ProxyURL(pu)
		tr.DialContext = dialer.DialContext
	case "socks5", "socks5h":
		d, err := proxy.FromURL(pu, dialer)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidProxy, err)
		}
		if cd, ok := d.(proxy.ContextDialer); ok {
			tr.DialContext = cd.DialContext
		} else {
			tr.DialContext = func(_ context.Context, network, addr string) (net.Conn, error) {
				return d.Dial(network, addr)
			}
		}
	}
	return tr, nil
}

// ParseProxy accepts http, https, socks5 and socks5h URLs. A bare
// host:port is taken as http.
func ParseProxy(raw string) (*url.URL, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidProxy)
	}
	if !strings.Contains(s, "://") {
		s = "http://" + s
	}
	u, err := url.Parse(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidProxy, err)
	}
	u.Scheme = strings.ToLower(u.Scheme)
	switch u.Scheme {
	case "http", "https", "socks5", "socks5h":
	default:
		return nil, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidProxy, u.Scheme)
	}
	if u.Hostname() == "" {
		return nil, fmt.Errorf("%w: missing host", ErrInvalidProxy)
	}
	return u, nil
}

// RedactProxy hides the proxy password for logs and reports.
func RedactProxy(raw string) string {
	u, err := ParseProxy(raw)
	if err != nil {
		return raw
	}
	if !strings.Contains(raw, "://") {
		return strings.TrimPrefix(u.Redacted(), "http://")
	}
	return u.Redacted()
}
