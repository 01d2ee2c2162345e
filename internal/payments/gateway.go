// Package payments initiates mobile-money (STK push) payments and
// reconciles the asynchronous gateway callbacks against the ledger.
package payments

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// SuccessCode is the gateway result code for an accepted request or a
// completed payment.
const SuccessCode = "0"

// CallbackPath is where the gateway delivers payment results.
const CallbackPath = "/payments/callback"

// DefaultFallbackCallbackURL is used when no usable callback URL can be
// configured or derived.
const DefaultFallbackCallbackURL = "https://api.darajambili.com/express-payment"

// PushRequest asks the gateway to prompt a payer's phone.
type PushRequest struct {
	PhoneNumber      string
	Amount           decimal.Decimal
	AccountReference string
	Description      string
	CallbackURL      string
}

// Gateway is the payment provider. PushPayment returns the provider's raw
// decoded response; an error means the provider could not be reached or
// answered with something unreadable.
type Gateway interface {
	PushPayment(ctx context.Context, req PushRequest) (map[string]any, error)
}

// GatewayResult is a provider response reduced to the fields the ledger uses.
type GatewayResult struct {
	ResultCode    string `json:"result_code"`
	Message       string `json:"message"`
	CorrelationID string `json:"correlation_id"`
}

// Accepted reports whether the provider accepted the push request.
func (r GatewayResult) Accepted() bool {
	return r.ResultCode == SuccessCode
}

var (
	correlationKeys = []string{"CheckoutRequestID", "checkout_request_id", "checkoutRequestID"}
	codeKeys        = []string{"ResponseCode", "response_code", "ResultCode", "errorCode"}
	messageKeys     = []string{"CustomerMessage", "ResponseDescription", "errorMessage", "ResultDesc"}
)

// NormalizeResponse maps any known provider response shape to a
// GatewayResult. Keys are tried in a fixed priority order.
func NormalizeResponse(raw map[string]any) GatewayResult {
	return GatewayResult{
		ResultCode:    firstString(raw, codeKeys),
		Message:       firstString(raw, messageKeys),
		CorrelationID: firstString(raw, correlationKeys),
	}
}

func firstString(raw map[string]any, keys []string) string {
	for _, k := range keys {
		if s := stringValue(raw[k]); s != "" {
			return s
		}
	}
	return ""
}

// stringValue renders scalar JSON values as text. Numbers come back as
// float64 or json.Number depending on the decoder.
func stringValue(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case nil:
		return ""
	default:
		return fmt.Sprint(t)
	}
}

// ResolveCallbackURL picks the callback URL for a push request: the
// configured URL if set, else origin + CallbackPath when origin is HTTPS on a
// non-loopback host, else fallback.
func ResolveCallbackURL(configured, origin, fallback string) string {
	if configured = strings.TrimSpace(configured); configured != "" {
		return configured
	}
	if fallback == "" {
		fallback = DefaultFallbackCallbackURL
	}

	u, err := url.Parse(strings.TrimSpace(origin))
	if err != nil || u.Scheme != "https" || u.Host == "" {
		return fallback
	}
	if isLoopback(u.Hostname()) {
		return fallback
	}
	return "https://" + u.Host + CallbackPath
}

func isLoopback(host string) bool {
	host = strings.ToLower(host)
	if host == "localhost" || strings.HasSuffix(host, ".localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && (ip.IsLoopback() || ip.IsUnspecified())
}
