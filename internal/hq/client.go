// Package hq implements the outbound client for the HQ coordination
// endpoint: a hello handshake on startup, per-intrusion reports, and a
// periodic ping/check that returns cached reputation for an address.
package hq

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/adator85/interceptor/internal/errs"
	"github.com/adator85/interceptor/internal/logging"
)

const userAgent = "Interceptor Client"

// Config configures the HQ Client. A nil *Config, or one with Active
// false, turns every method into a silent no-op — the daemon must run
// with no HQ configured at all (spec §4.9, SUPPLEMENTED FEATURES #5).
type Config struct {
	Active         bool
	Report         bool
	URL            string
	APIKey         string
	TimeoutSeconds int
}

// Envelope is the response body shape HQ returns from every endpoint.
type Envelope struct {
	Error          bool   `json:"error"`
	Code           int    `json:"code"`
	Message        string `json:"message"`
	ABScore        int    `json:"ab_score"`
	HQTotalReports int    `json:"hq_totalReports"`
}

// Client talks to the HQ coordination endpoint over HTTP.
type Client struct {
	cfg    *Config
	http   *http.Client
	logger *logging.Logger
}

// New constructs a Client. cfg may be nil, meaning HQ is unconfigured.
func New(cfg *Config, logger *logging.Logger) *Client {
	if logger == nil {
		logger = logging.Default()
	}
	timeout := 5 * time.Second
	if cfg != nil && cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: timeout},
		logger: logger.WithComponent("hq"),
	}
}

// enabled reports whether the client should attempt any network call at
// all — absent config, inactive config, and the sentinel address all
// resolve to a silent no-op, matching the original's early returns.
func (c *Client) enabled(sentinelIPv4, ip string) bool {
	if c.cfg == nil || !c.cfg.Active || c.cfg.URL == "" {
		return false
	}
	if ip != "" && ip == sentinelIPv4 {
		return false
	}
	return true
}

func (c *Client) headers(req *http.Request) {
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("user-agent", userAgent)
	req.Header.Set("Key", c.cfg.APIKey)
}

// do issues the request and decodes an Envelope, distinguishing a
// transport-level failure (HQUnavailable) from an application-level
// rejection (HQRejected, envelope.Error true).
func (c *Client) do(req *http.Request) (*Envelope, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrHQUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusServiceUnavailable {
		return nil, fmt.Errorf("%w: status %d", errs.ErrHQUnavailable, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", errs.ErrHQUnavailable, err)
	}

	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", errs.ErrHQUnavailable, err)
	}

	if env.Error {
		return &env, fmt.Errorf("%w: %d %s", errs.ErrHQRejected, env.Code, env.Message)
	}
	return &env, nil
}

// Hello announces the daemon's version to HQ once at startup.
func (c *Client) Hello(ctx context.Context, version string) error {
	if c.cfg == nil || !c.cfg.Active || c.cfg.URL == "" {
		return nil
	}

	url := fmt.Sprintf("%shello/%s", c.cfg.URL, version)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("%w: build request: %v", errs.ErrHQUnavailable, err)
	}
	c.headers(req)

	env, err := c.do(req)
	if err != nil {
		c.logger.Warn("HQ hello failed", "error", err)
		return err
	}
	c.logger.Info("HQ hello", "code", env.Code, "message", env.Message)
	return nil
}

// Check queries HQ for cached reputation on ip_address. Returns nil,
// nil if HQ is unconfigured, inactive, or ip is the sentinel address.
func (c *Client) Check(ctx context.Context, sentinelIPv4, ip string) (*Envelope, error) {
	if !c.enabled(sentinelIPv4, ip) {
		return nil, nil
	}

	url := fmt.Sprintf("%scheck/%s", c.cfg.URL, ip)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", errs.ErrHQUnavailable, err)
	}
	c.headers(req)

	env, err := c.do(req)
	if err != nil {
		c.logger.Warn("HQ check failed", "ip", ip, "error", err)
		return nil, err
	}
	c.logger.Debug("HQ check", "ip", ip, "ab_score", env.ABScore, "total_reports", env.HQTotalReports)
	return env, nil
}

// Report payload mirrors one offense row.
type Report struct {
	IntrusionDatetime   string `json:"intrusion_datetime"`
	IntrusionDetail     string `json:"intrusion_detail"`
	IntrusionServiceID  string `json:"intrusion_service_id"`
	IPAddress           string `json:"ip_address"`
	ReportedHostname    string `json:"reported_hostname"`
	ModuleName          string `json:"module_name"`
	Keyword             string `json:"keyword"`
}

// Report sends one offense to HQ, returning the reputation envelope on
// success so the Heartbeat can upsert HQInfo. A no-op (nil, nil) if
// reporting is disabled or the address is the sentinel.
func (c *Client) Report(ctx context.Context, sentinelIPv4 string, r Report) (*Envelope, error) {
	if c.cfg == nil || !c.cfg.Active || !c.cfg.Report || c.cfg.URL == "" {
		return nil, nil
	}
	if r.IPAddress == sentinelIPv4 {
		return nil, nil
	}

	body, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("encode report: %w", err)
	}

	url := c.cfg.URL + "report_v2/"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", errs.ErrHQUnavailable, err)
	}
	c.headers(req)

	env, err := c.do(req)
	if err != nil {
		c.logger.Warn("HQ report failed", "ip", r.IPAddress, "error", err)
		return nil, err
	}
	c.logger.Debug("HQ reported", "ip", r.IPAddress, "code", env.Code)
	return env, nil
}

// Ping is a lightweight periodic liveness check, sent every
// hq_communication_frequency pulses by the Heartbeat.
func (c *Client) Ping(ctx context.Context) error {
	if c.cfg == nil || !c.cfg.Active || c.cfg.URL == "" {
		return nil
	}

	url := c.cfg.URL + "ping/"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("%w: build request: %v", errs.ErrHQUnavailable, err)
	}
	c.headers(req)

	_, err = c.do(req)
	if err != nil {
		c.logger.Warn("HQ ping failed", "error", err)
		return err
	}
	return nil
}
