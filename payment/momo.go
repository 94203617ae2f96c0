package payment

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"cinema_booking/apperror"
	"cinema_booking/config"
	"cinema_booking/model"

	"github.com/gofiber/fiber/v2"
)

// Field sets MoMo signs, in the order MoMo documents them (already alphabetical).
var (
	momoCreateFields   = []string{"accessKey", "amount", "extraData", "ipnUrl", "orderId", "orderInfo", "partnerCode", "redirectUrl", "requestId", "requestType"}
	momoCallbackFields = []string{"accessKey", "amount", "extraData", "message", "orderId", "orderInfo", "orderType", "partnerCode", "payType", "requestId", "responseTime", "resultCode", "transId"}
)

type momoExtra struct {
	BookingId uint `json:"bookingId"`
}

type MoMo struct {
	cfg     config.MoMoSettings
	timeout time.Duration
}

func NewMoMo(cfg config.MoMoSettings) *MoMo {
	return &MoMo{cfg: cfg, timeout: 10 * time.Second}
}

func (m *MoMo) Method() model.PaymentMethod { return model.PaymentMoMo }

// NewReference builds the MoMo orderId. The booking id travels separately in extraData.
func (m *MoMo) NewReference(bookingId uint, now time.Time) string {
	return fmt.Sprintf("%s%d%d", m.cfg.PartnerCode, bookingId, now.UnixMilli())
}

// BuildPaymentRequest registers the order with MoMo and returns the wallet payUrl.
func (m *MoMo) BuildPaymentRequest(_ context.Context, req model.PaymentRequest) (string, error) {
	if req.Amount <= 0 {
		return "", apperror.Validation("amount must be positive")
	}
	if req.Reference == "" || req.BookingId == 0 {
		return "", apperror.Validation("payment reference and booking id are required")
	}

	extra, err := EncodeMoMoExtra(req.BookingId)
	if err != nil {
		return "", err
	}
	body := model.MoMoCreateRequest{
		PartnerCode: m.cfg.PartnerCode,
		AccessKey:   m.cfg.AccessKey,
		RequestId:   req.Reference,
		Amount:      req.Amount,
		OrderId:     req.Reference,
		OrderInfo:   req.OrderInfo,
		RedirectUrl: m.cfg.RedirectURL,
		IpnUrl:      m.cfg.IPNURL,
		ExtraData:   extra,
		RequestType: "captureWallet",
		Lang:        "vi",
	}
	body.Signature = Sign(sha256.New, m.cfg.SecretKey, RawQuery(url.Values{
		"accessKey":   {body.AccessKey},
		"amount":      {strconv.FormatInt(body.Amount, 10)},
		"extraData":   {body.ExtraData},
		"ipnUrl":      {body.IpnUrl},
		"orderId":     {body.OrderId},
		"orderInfo":   {body.OrderInfo},
		"partnerCode": {body.PartnerCode},
		"redirectUrl": {body.RedirectUrl},
		"requestId":   {body.RequestId},
		"requestType": {body.RequestType},
	}, momoCreateFields))

	agent := fiber.Post(m.cfg.Endpoint)
	agent.JSON(body)
	agent.Timeout(m.timeout)
	if err := agent.Parse(); err != nil {
		return "", apperror.Wrap(apperror.KindTransient, apperror.CodeGatewayUnavailable, "momo endpoint", err)
	}

	var resp model.MoMoCreateResponse
	code, _, errs := agent.Struct(&resp)
	if len(errs) > 0 {
		return "", apperror.Wrap(apperror.KindTransient, apperror.CodeGatewayUnavailable, "momo create payment", errors.Join(errs...))
	}
	if code != fiber.StatusOK || resp.ResultCode != 0 || resp.PayUrl == "" {
		return "", apperror.New(apperror.KindTransient, apperror.CodeGatewayUnavailable,
			fmt.Sprintf("momo rejected payment (status %d, resultCode %d): %s", code, resp.ResultCode, resp.Message))
	}
	return resp.PayUrl, nil
}

func (m *MoMo) VerifyCallback(params url.Values) bool {
	supplied := params.Get("signature")
	if supplied == "" {
		return false
	}
	signed := url.Values{}
	for _, k := range momoCallbackFields {
		signed.Set(k, params.Get(k))
	}
	signed.Set("accessKey", m.cfg.AccessKey)
	return VerifySignature(sha256.New, m.cfg.SecretKey, RawQuery(signed, momoCallbackFields), supplied)
}

func (m *MoMo) ResolveOutcome(params url.Values) (Outcome, error) {
	bookingId, err := m.ExtractBookingReference(params)
	if err != nil {
		return Outcome{}, err
	}
	amount, err := strconv.ParseInt(params.Get("amount"), 10, 64)
	if err != nil || amount < 0 {
		return Outcome{}, apperror.Validation("malformed amount")
	}
	code := params.Get("resultCode")
	return Outcome{
		Method:        model.PaymentMoMo,
		Reference:     params.Get("orderId"),
		BookingId:     bookingId,
		Amount:        amount,
		Success:       code == "0",
		RawCode:       code,
		TransactionId: params.Get("transId"),
	}, nil
}

func (m *MoMo) ExtractBookingReference(params url.Values) (uint, error) {
	return DecodeMoMoExtra(params.Get("extraData"))
}

func EncodeMoMoExtra(bookingId uint) (string, error) {
	b, err := json.Marshal(momoExtra{BookingId: bookingId})
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

func DecodeMoMoExtra(extra string) (uint, error) {
	raw, err := base64.StdEncoding.DecodeString(extra)
	if err != nil {
		return 0, apperror.Validation("malformed extraData")
	}
	var e momoExtra
	if err := json.Unmarshal(raw, &e); err != nil || e.BookingId == 0 {
		return 0, apperror.Validation("extraData carries no booking id")
	}
	return e.BookingId, nil
}

// MoMoParams flattens an IPN body into the parameter form the gateway verifies.
func MoMoParams(p model.MoMoIPNPayload) url.Values {
	return url.Values{
		"partnerCode":  {p.PartnerCode},
		"orderId":      {p.OrderId},
		"requestId":    {p.RequestId},
		"amount":       {strconv.FormatInt(p.Amount, 10)},
		"orderInfo":    {p.OrderInfo},
		"orderType":    {p.OrderType},
		"transId":      {strconv.FormatInt(p.TransId, 10)},
		"resultCode":   {strconv.Itoa(p.ResultCode)},
		"message":      {p.Message},
		"payType":      {p.PayType},
		"responseTime": {strconv.FormatInt(p.ResponseTime, 10)},
		"extraData":    {p.ExtraData},
		"signature":    {p.Signature},
	}
}
