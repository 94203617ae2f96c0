package testutil

import (
	"crypto/sha256"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"cinema_booking/config"
	"cinema_booking/model"
	"cinema_booking/payment"

	"github.com/stretchr/testify/require"
)

// MoMoServer stands in for MoMo's create endpoint and accepts every order it is sent.
func MoMoServer(t testing.TB) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req model.MoMoCreateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(model.MoMoCreateResponse{
			PartnerCode: req.PartnerCode,
			OrderId:     req.OrderId,
			RequestId:   req.RequestId,
			Amount:      req.Amount,
			Message:     "Successful.",
			PayUrl:      "https://test-payment.momo.vn/pay/" + req.OrderId,
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

// MoMoIPN builds the notification MoMo sends for orderId, signed with cfg's secret.
func MoMoIPN(t testing.TB, cfg config.MoMoSettings, orderId string, bookingId uint, amount int64, resultCode int) model.MoMoIPNPayload {
	t.Helper()
	extra, err := payment.EncodeMoMoExtra(bookingId)
	require.NoError(t, err)
	p := model.MoMoIPNPayload{
		PartnerCode:  cfg.PartnerCode,
		OrderId:      orderId,
		RequestId:    orderId,
		Amount:       amount,
		OrderInfo:    "Thanh toan ve",
		OrderType:    "momo_wallet",
		TransId:      4088878653,
		ResultCode:   resultCode,
		Message:      "Successful.",
		PayType:      "qr",
		ResponseTime: 1740823260000,
		ExtraData:    extra,
	}
	signed := payment.MoMoParams(p)
	signed.Set("accessKey", cfg.AccessKey)
	p.Signature = payment.Sign(sha256.New, cfg.SecretKey, payment.RawQuery(signed, []string{
		"accessKey", "amount", "extraData", "message", "orderId", "orderInfo", "orderType",
		"partnerCode", "payType", "requestId", "responseTime", "resultCode", "transId",
	}))
	return p
}
