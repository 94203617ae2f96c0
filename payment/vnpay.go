package payment

import (
	"context"
	"crypto/sha512"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"cinema_booking/apperror"
	"cinema_booking/config"
	"cinema_booking/model"

	"github.com/jonboulle/clockwork"
)

const (
	vnpSecureHash     = "vnp_SecureHash"
	vnpSecureHashType = "vnp_SecureHashType"
	vnpDateLayout     = "20060102150405"
)

// VNPay expects timestamps in Vietnam time.
var vnZone = time.FixedZone("ICT", 7*3600)

type VNPay struct {
	cfg   config.VNPaySettings
	clock clockwork.Clock
}

func NewVNPay(cfg config.VNPaySettings, clock clockwork.Clock) *VNPay {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &VNPay{cfg: cfg, clock: clock}
}

func (v *VNPay) Method() model.PaymentMethod { return model.PaymentVNPay }

// NewReference builds vnp_TxnRef as "<bookingId>_<yyyyMMddHHmmss>".
func (v *VNPay) NewReference(bookingId uint, now time.Time) string {
	return fmt.Sprintf("%d_%s", bookingId, now.In(vnZone).Format(vnpDateLayout))
}

func (v *VNPay) BuildPaymentRequest(_ context.Context, req model.PaymentRequest) (string, error) {
	if req.Amount <= 0 {
		return "", apperror.Validation("amount must be positive")
	}
	if req.Reference == "" {
		return "", apperror.Validation("payment reference is required")
	}
	ip := req.IPAddr
	if ip == "" {
		ip = "127.0.0.1"
	}
	now := v.clock.Now().In(vnZone)

	params := url.Values{}
	params.Add("vnp_Version", "2.1.0")
	params.Add("vnp_Command", "pay")
	params.Add("vnp_TmnCode", v.cfg.TmnCode)
	params.Add("vnp_Amount", strconv.FormatInt(req.Amount*100, 10)) // VND * 100
	params.Add("vnp_CreateDate", now.Format(vnpDateLayout))
	params.Add("vnp_CurrCode", "VND")
	params.Add("vnp_IpAddr", ip)
	params.Add("vnp_Locale", "vn")
	params.Add("vnp_OrderInfo", req.OrderInfo)
	params.Add("vnp_OrderType", "other")
	params.Add("vnp_ReturnUrl", v.cfg.ReturnURL)
	params.Add("vnp_TxnRef", req.Reference)
	params.Add("vnp_ExpireDate", now.Add(15*time.Minute).Format(vnpDateLayout))

	query := EncodedQuery(params)
	hash := Sign(sha512.New, v.cfg.HashSecret, query)
	return v.cfg.BaseURL + "?" + query + "&" + vnpSecureHash + "=" + hash, nil
}

// VerifyCallback recomputes the signature over every other vnp_ parameter.
func (v *VNPay) VerifyCallback(params url.Values) bool {
	supplied := params.Get(vnpSecureHash)
	if supplied == "" {
		return false
	}
	signed := url.Values{}
	for k, vs := range params {
		if strings.HasPrefix(k, "vnp_") {
			signed[k] = vs
		}
	}
	data := EncodedQuery(signed, vnpSecureHash, vnpSecureHashType)
	return VerifySignature(sha512.New, v.cfg.HashSecret, data, supplied)
}

func (v *VNPay) ResolveOutcome(params url.Values) (Outcome, error) {
	bookingId, err := v.ExtractBookingReference(params)
	if err != nil {
		return Outcome{}, err
	}
	raw, err := strconv.ParseInt(params.Get("vnp_Amount"), 10, 64)
	if err != nil || raw < 0 || raw%100 != 0 {
		return Outcome{}, apperror.Validation("malformed vnp_Amount")
	}

	code := params.Get("vnp_ResponseCode")
	status := params.Get("vnp_TransactionStatus")
	return Outcome{
		Method:        model.PaymentVNPay,
		Reference:     params.Get("vnp_TxnRef"),
		BookingId:     bookingId,
		Amount:        raw / 100,
		Success:       code == "00" && (status == "" || status == "00"),
		RawCode:       code,
		TransactionId: params.Get("vnp_TransactionNo"),
	}, nil
}

func (v *VNPay) ExtractBookingReference(params url.Values) (uint, error) {
	ref := params.Get("vnp_TxnRef")
	head, _, _ := strings.Cut(ref, "_")
	id, err := strconv.ParseUint(head, 10, 64)
	if err != nil || id == 0 {
		return 0, apperror.Validation("malformed vnp_TxnRef")
	}
	return uint(id), nil
}
