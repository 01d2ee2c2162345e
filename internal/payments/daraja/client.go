// Package daraja is a client for the Safaricom Daraja M-Pesa Express
// (STK push) API.
package daraja

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/dvloznov/community-sacco/internal/payments"
	"github.com/rs/zerolog"
)

const (
	SandboxURL    = "https://sandbox.safaricom.co.ke"
	ProductionURL = "https://api.safaricom.co.ke"

	tokenPath = "/oauth/v1/generate?grant_type=client_credentials"
	pushPath  = "/mpesa/stkpush/v1/processrequest"

	timestampLayout = "20060102150405"
	defaultTimeout  = 30 * time.Second
	tokenLeeway     = time.Minute
)

// Config holds Daraja credentials.
type Config struct {
	// Environment is "sandbox" or "production". BaseURL overrides it.
	Environment    string
	BaseURL        string
	ConsumerKey    string
	ConsumerSecret string
	ShortCode      string
	Passkey        string
	Timeout        time.Duration
}

// Client calls Daraja. It caches the OAuth access token until shortly
// before it expires.
type Client struct {
	cfg     Config
	baseURL string
	http    *http.Client
	log     zerolog.Logger
	now     func() time.Time

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

var _ payments.Gateway = (*Client)(nil)

// NewClient creates a Daraja client.
func NewClient(cfg Config, log zerolog.Logger) (*Client, error) {
	if cfg.ConsumerKey == "" || cfg.ConsumerSecret == "" {
		return nil, fmt.Errorf("daraja: consumer key and secret are required")
	}
	if cfg.ShortCode == "" || cfg.Passkey == "" {
		return nil, fmt.Errorf("daraja: short code and passkey are required")
	}

	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		switch cfg.Environment {
		case "", "sandbox":
			base = SandboxURL
		case "production":
			base = ProductionURL
		default:
			return nil, fmt.Errorf("daraja: unknown environment %q", cfg.Environment)
		}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &Client{
		cfg:     cfg,
		baseURL: base,
		http:    &http.Client{Timeout: timeout},
		log:     log,
		now:     time.Now,
	}, nil
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   string `json:"expires_in"`
}

func (c *Client) accessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && c.now().Before(c.tokenExpiry) {
		return c.token, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+tokenPath, nil)
	if err != nil {
		return "", fmt.Errorf("accessToken: build request: %w", err)
	}
	req.SetBasicAuth(c.cfg.ConsumerKey, c.cfg.ConsumerSecret)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("accessToken: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("accessToken: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var tok tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return "", fmt.Errorf("accessToken: decode: %w", err)
	}
	if tok.AccessToken == "" {
		return "", fmt.Errorf("accessToken: empty token in response")
	}

	ttl := time.Hour
	if d, err := time.ParseDuration(tok.ExpiresIn + "s"); err == nil && d > tokenLeeway {
		ttl = d
	}
	c.token = tok.AccessToken
	c.tokenExpiry = c.now().Add(ttl - tokenLeeway)
	return c.token, nil
}

type pushBody struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	TransactionType   string `json:"TransactionType"`
	Amount            int64  `json:"Amount"`
	PartyA            string `json:"PartyA"`
	PartyB            string `json:"PartyB"`
	PhoneNumber       string `json:"PhoneNumber"`
	CallBackURL       string `json:"CallBackURL"`
	AccountReference  string `json:"AccountReference"`
	TransactionDesc   string `json:"TransactionDesc"`
}

// Password is base64(shortcode + passkey + timestamp).
func Password(shortCode, passkey, timestamp string) string {
	return base64.StdEncoding.EncodeToString([]byte(shortCode + passkey + timestamp))
}

// NormalizePhone rewrites local Kenyan numbers (07.., 7..) to the 2547..
// form Daraja expects and strips spaces and a leading plus.
func NormalizePhone(phone string) string {
	p := strings.NewReplacer(" ", "", "-", "").Replace(strings.TrimSpace(phone))
	p = strings.TrimPrefix(p, "+")
	switch {
	case strings.HasPrefix(p, "0") && len(p) == 10:
		return "254" + p[1:]
	case len(p) == 9 && (p[0] == '7' || p[0] == '1'):
		return "254" + p
	}
	return p
}

// PushPayment sends an STK push request. Daraja answers rejections with a
// JSON body and a 4xx/5xx status; that body is returned as the response so
// the caller can read the error code. Only transport failures and
// unreadable bodies are errors.
func (c *Client) PushPayment(ctx context.Context, req payments.PushRequest) (map[string]any, error) {
	if !req.Amount.IsInteger() {
		return nil, fmt.Errorf("PushPayment: amount %s is not a whole number", req.Amount.String())
	}

	token, err := c.accessToken(ctx)
	if err != nil {
		return nil, fmt.Errorf("PushPayment: %w", err)
	}

	ts := c.now().Format(timestampLayout)
	phone := NormalizePhone(req.PhoneNumber)
	body := pushBody{
		BusinessShortCode: c.cfg.ShortCode,
		Password:          Password(c.cfg.ShortCode, c.cfg.Passkey, ts),
		Timestamp:         ts,
		TransactionType:   "CustomerPayBillOnline",
		Amount:            req.Amount.IntPart(),
		PartyA:            phone,
		PartyB:            c.cfg.ShortCode,
		PhoneNumber:       phone,
		CallBackURL:       req.CallbackURL,
		AccountReference:  req.AccountReference,
		TransactionDesc:   req.Description,
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("PushPayment: encode: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+pushPath, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("PushPayment: build request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+token)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("PushPayment: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("PushPayment: read body: %w", err)
	}

	var out map[string]any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("PushPayment: status %d, undecodable body: %w", resp.StatusCode, err)
	}

	if resp.StatusCode == http.StatusUnauthorized {
		c.mu.Lock()
		c.token = ""
		c.mu.Unlock()
	}

	c.log.Debug().
		Int("status", resp.StatusCode).
		Str("phone", phone).
		Int64("amount", body.Amount).
		Msg("Daraja STK push response")

	return out, nil
}
