// Package payment signs outbound payment requests and verifies gateway callbacks. Each gateway
// fixes its own signature scheme; the Gateway interface hides the differences from the booking
// core.
package payment

import (
	"context"
	"crypto/hmac"
	"encoding/hex"
	"hash"
	"net/url"
	"sort"
	"strings"
	"time"

	"cinema_booking/apperror"
	"cinema_booking/model"
)

// Outcome is a verified callback reduced to what settlement needs.
type Outcome struct {
	Method        model.PaymentMethod
	Reference     string
	BookingId     uint
	Amount        int64
	Success       bool
	RawCode       string
	TransactionId string
}

type Gateway interface {
	Method() model.PaymentMethod
	// NewReference returns the gateway reference stored on the booking before redirecting.
	NewReference(bookingId uint, now time.Time) string
	BuildPaymentRequest(ctx context.Context, req model.PaymentRequest) (string, error)
	// VerifyCallback must be called, and return true, before any other use of params.
	VerifyCallback(params url.Values) bool
	ResolveOutcome(params url.Values) (Outcome, error)
	ExtractBookingReference(params url.Values) (uint, error)
}

type Registry struct {
	gateways map[model.PaymentMethod]Gateway
}

func NewRegistry(gateways ...Gateway) *Registry {
	r := &Registry{gateways: make(map[model.PaymentMethod]Gateway, len(gateways))}
	for _, g := range gateways {
		r.gateways[g.Method()] = g
	}
	return r
}

func (r *Registry) Get(method model.PaymentMethod) (Gateway, error) {
	g, ok := r.gateways[method]
	if !ok {
		return nil, apperror.New(apperror.KindValidation, apperror.CodeUnknownGateway, "unsupported payment gateway "+string(method))
	}
	return g, nil
}

// EncodedQuery is the URL-encoded, key-sorted concatenation of params. Empty values and the
// excluded keys are left out.
func EncodedQuery(params url.Values, exclude ...string) string {
	filtered := url.Values{}
	for k, vs := range params {
		if contains(exclude, k) || len(vs) == 0 || vs[0] == "" {
			continue
		}
		filtered.Set(k, vs[0])
	}
	return filtered.Encode()
}

// RawQuery joins keys, sorted, as key=value pairs without escaping. Missing keys contribute an
// empty value.
func RawQuery(params url.Values, keys []string) string {
	sorted := append([]string(nil), keys...)
	sort.Strings(sorted)
	var sb strings.Builder
	for i, k := range sorted {
		if i > 0 {
			sb.WriteByte('&')
		}
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.WriteString(params.Get(k))
	}
	return sb.String()
}

// Sign returns the hex HMAC of data.
func Sign(newHash func() hash.Hash, secret, data string) string {
	mac := hmac.New(newHash, []byte(secret))
	mac.Write([]byte(data))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature compares a supplied hex signature against the expected one in constant time.
// Case of the hex digits is ignored; anything that is not hex fails.
func VerifySignature(newHash func() hash.Hash, secret, data, supplied string) bool {
	got, err := hex.DecodeString(strings.TrimSpace(supplied))
	if err != nil || len(got) == 0 {
		return false
	}
	mac := hmac.New(newHash, []byte(secret))
	mac.Write([]byte(data))
	return hmac.Equal(got, mac.Sum(nil))
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
