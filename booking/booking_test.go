package booking_test

import (
	"context"
	"crypto/sha512"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"cinema_booking/apperror"
	"cinema_booking/booking"
	"cinema_booking/config"
	"cinema_booking/events"
	"cinema_booking/ledger"
	"cinema_booking/loyalty"
	"cinema_booking/model"
	"cinema_booking/payment"
	"cinema_booking/realtime"
	"cinema_booking/seatlock"
	"cinema_booking/testutil"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const (
	showtime    = uint(7)
	room        = uint(3)
	price       = int64(75000)
	paymentHold = 15 * time.Minute
)

var vnpCfg = config.VNPaySettings{
	TmnCode:    "CINE0001",
	HashSecret: "VNPAYSECRETKEY",
	BaseURL:    "https://sandbox.vnpayment.vn/paymentv2/vpcpay.html",
	ReturnURL:  "http://localhost:8002/vnpay/return",
}

type eventLog struct {
	mu     sync.Mutex
	queues []string
}

func (e *eventLog) Publish(_ context.Context, queue string, _ any) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.queues = append(e.queues, queue)
	return nil
}

func (e *eventLog) Queues() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.queues...)
}

// downGateway stands in for a gateway whose create endpoint cannot be reached.
type downGateway struct{}

func (downGateway) Method() model.PaymentMethod { return model.PaymentMoMo }
func (downGateway) NewReference(bookingId uint, _ time.Time) string {
	return "DOWN" + strconv.FormatUint(uint64(bookingId), 10)
}
func (downGateway) BuildPaymentRequest(context.Context, model.PaymentRequest) (string, error) {
	return "", apperror.New(apperror.KindTransient, apperror.CodeGatewayUnavailable, "momo is down")
}
func (downGateway) VerifyCallback(url.Values) bool { return false }
func (downGateway) ResolveOutcome(url.Values) (payment.Outcome, error) {
	return payment.Outcome{}, nil
}
func (downGateway) ExtractBookingReference(url.Values) (uint, error) { return 0, nil }

type fixture struct {
	db      *gorm.DB
	clock   *clockwork.FakeClock
	seats   *testutil.Recorder
	events  *eventLog
	ledger  *ledger.Ledger
	locks   *seatlock.Manager
	loyalty *loyalty.Ledger
	svc     *booking.Service
}

func newFixture(t *testing.T, labels ...string) *fixture {
	t.Helper()
	db := testutil.NewDB(t)
	testutil.SeedSeats(t, db, showtime, room, price, labels...)

	clock := clockwork.NewFakeClockAt(time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC))
	rec := &testutil.Recorder{}
	ev := &eventLog{}
	led := ledger.New(db, rec, clock)
	locks := seatlock.NewManager(db, led, 10*time.Minute)
	loy := loyalty.New(db, clock)

	svc := booking.NewService(booking.Deps{
		DB:               db,
		Ledger:           led,
		Locks:            locks,
		Gateways:         payment.NewRegistry(payment.NewVNPay(vnpCfg, clock), downGateway{}),
		Loyalty:          loy,
		Events:           ev,
		PointsPerBooking: 10,
		PaymentHold:      paymentHold,
	})
	return &fixture{db: db, clock: clock, seats: rec, events: ev, ledger: led, locks: locks, loyalty: loy, svc: svc}
}

func (f *fixture) status(t *testing.T, seatId uint) model.ShowtimeSeat {
	t.Helper()
	s, err := f.ledger.Seat(context.Background(), showtime, seatId)
	require.NoError(t, err)
	return *s
}

func (f *fixture) lock(t *testing.T, holder string, seatIds ...uint) {
	t.Helper()
	for _, id := range seatIds {
		_, err := f.locks.Lock(context.Background(), showtime, room, id, holder)
		require.NoError(t, err)
	}
}

func (f *fixture) lockRows(t *testing.T) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.db.Model(&model.SeatLock{}).Count(&n).Error)
	return n
}

func request(method model.PaymentMethod, holder string, amount int64, seatIds ...uint) booking.CreateBookingRequest {
	return booking.CreateBookingRequest{
		ShowtimeId:    showtime,
		RoomId:        room,
		SeatIds:       seatIds,
		PaymentMethod: method,
		Amount:        amount,
		HolderId:      holder,
		ClientIP:      "10.0.0.8",
	}
}

// vnpCallback signs a VNPay return for ref the way the gateway does.
func vnpCallback(ref string, amount int64, code string) url.Values {
	params := url.Values{
		"vnp_Amount":            {strconv.FormatInt(amount*100, 10)},
		"vnp_BankCode":          {"NCB"},
		"vnp_OrderInfo":         {"Thanh toan ve"},
		"vnp_ResponseCode":      {code},
		"vnp_TmnCode":           {vnpCfg.TmnCode},
		"vnp_TransactionNo":     {"14226112"},
		"vnp_TransactionStatus": {code},
		"vnp_TxnRef":            {ref},
	}
	params.Set("vnp_SecureHash", payment.Sign(sha512.New, vnpCfg.HashSecret, params.Encode()))
	return params
}

func TestDecide(t *testing.T) {
	pending := &model.Booking{Status: model.BookingPending, Amount: 150000}
	cases := []struct {
		name    string
		booking *model.Booking
		outcome payment.Outcome
		want    booking.Decision
	}{
		{"success", pending, payment.Outcome{Amount: 150000, Success: true}, booking.Decision{Transition: booking.TransitionConfirm}},
		{"declined", pending, payment.Outcome{Amount: 150000}, booking.Decision{Transition: booking.TransitionFail, Reason: model.ReasonGatewayDeclined}},
		{"wrong amount wins over success", pending, payment.Outcome{Amount: 1000, Success: true}, booking.Decision{Transition: booking.TransitionFail, Reason: model.ReasonAmountMismatch}},
		{"already confirmed", &model.Booking{Status: model.BookingConfirmed, Amount: 150000}, payment.Outcome{Amount: 150000}, booking.Decision{Transition: booking.TransitionNone}},
		{"already failed", &model.Booking{Status: model.BookingPaymentFailed, Amount: 150000}, payment.Outcome{Amount: 150000, Success: true}, booking.Decision{Transition: booking.TransitionNone}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, booking.Decide(tc.booking, tc.outcome))
		})
	}
}

func TestCreateBookingValidation(t *testing.T) {
	f := newFixture(t, "A1", "A2")
	ctx := context.Background()

	cases := []struct {
		name string
		req  booking.CreateBookingRequest
	}{
		{"no seats", request(model.PaymentCash, "USER_1", 0)},
		{"duplicate seat", request(model.PaymentCash, "USER_1", 0, 1, 1)},
		{"no holder", request(model.PaymentCash, " ", 0, 1)},
		{"negative cash amount", request(model.PaymentCash, "USER_1", -1, 1)},
		{"zero gateway amount", request(model.PaymentVNPay, "USER_1", 0, 1)},
		{"unknown method", request("PAYPAL", "USER_1", 1000, 1)},
		{"negative concession", func() booking.CreateBookingRequest {
			r := request(model.PaymentCash, "USER_1", 0, 1)
			r.Concessions = []model.ConcessionInput{{ItemId: 1, Quantity: -2}}
			return r
		}()},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.CreateBooking(ctx, tc.req)
			assert.True(t, apperror.Is(err, apperror.KindValidation), "got %v", err)
		})
	}

	var n int64
	require.NoError(t, f.db.Model(&model.Booking{}).Count(&n).Error)
	assert.Zero(t, n)
}

func TestCreateBookingUnknownSeat(t *testing.T) {
	f := newFixture(t, "A1")
	_, err := f.svc.CreateBooking(context.Background(), request(model.PaymentCash, "USER_1", 0, 1, 9))
	assert.Equal(t, apperror.CodeSeatNotFound, apperror.CodeOf(err))
}

func TestCashBookingConfirmsAndCreditsLoyalty(t *testing.T) {
	f := newFixture(t, "A1", "A2", "A3")
	ctx := context.Background()
	c := testutil.SeedCustomer(t, f.db, "lan@example.com", 0)
	holder := model.HolderForCustomer(c.ID)
	f.lock(t, holder, 1, 2)

	req := request(model.PaymentCash, holder, 150000, 1, 2)
	req.CustomerId = &c.ID
	req.Concessions = []model.ConcessionInput{
		{ItemId: 4, Name: "Popcorn", Quantity: 2, UnitPrice: 45000},
		{ItemId: 5, Name: "Coke", Quantity: 0, UnitPrice: 20000},
	}
	res, err := f.svc.CreateBooking(ctx, req)
	require.NoError(t, err)
	assert.Empty(t, res.PaymentURL)

	b := res.Booking
	assert.Equal(t, model.BookingConfirmed, b.Status)
	assert.Equal(t, model.PaymentCompleted, b.PaymentStatus)
	require.NotNil(t, b.PaidAt)
	assert.True(t, strings.HasPrefix(b.PublicCode, "BK"))

	stored, err := f.svc.GetBooking(ctx, b.ID)
	require.NoError(t, err)
	require.Len(t, stored.Seats, 2)
	assert.Equal(t, "A", stored.Seats[0].Row)
	assert.Len(t, stored.Concessions, 1)

	for _, id := range []uint{1, 2} {
		seat := f.status(t, id)
		assert.Equal(t, model.SeatSold, seat.Status)
		require.NotNil(t, seat.BookingId)
		assert.Equal(t, b.ID, *seat.BookingId)
	}
	assert.Equal(t, model.SeatAvailable, f.status(t, 3).Status)
	assert.Zero(t, f.lockRows(t))

	balance, err := f.loyalty.Balance(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 10, balance)
	assert.Equal(t, []string{events.BookingConfirmedQueue}, f.events.Queues())
}

func TestCashBookingForGuestSkipsLoyalty(t *testing.T) {
	f := newFixture(t, "A1")
	res, err := f.svc.CreateBooking(context.Background(), request(model.PaymentCash, "guest-5f1c", 75000, 1))
	require.NoError(t, err)
	assert.Equal(t, model.BookingConfirmed, res.Booking.Status)

	var entries int64
	require.NoError(t, f.db.Model(&model.LoyaltyLedgerEntry{}).Count(&entries).Error)
	assert.Zero(t, entries)
}

func TestCashBookingUnknownCustomerStillConfirms(t *testing.T) {
	f := newFixture(t, "A1")
	ghost := uint(404)
	req := request(model.PaymentCash, model.HolderForCustomer(ghost), 75000, 1)
	req.CustomerId = &ghost

	res, err := f.svc.CreateBooking(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, model.BookingConfirmed, res.Booking.Status)
}

// Two customers race for the same seat: the loser of the lock cannot buy it either.
func TestLockRaceThenCash(t *testing.T) {
	f := newFixture(t, "C5")
	ctx := context.Background()

	f.lock(t, "USER_1", 1)
	_, err := f.locks.Lock(ctx, showtime, room, 1, "USER_2")
	assert.Equal(t, apperror.CodeSeatLockedByOther, apperror.CodeOf(err))

	_, err = f.svc.CreateBooking(ctx, request(model.PaymentCash, "USER_2", 75000, 1))
	assert.Equal(t, apperror.CodeSeatLockedByOther, apperror.CodeOf(err))

	res, err := f.svc.CreateBooking(ctx, request(model.PaymentCash, "USER_1", 75000, 1))
	require.NoError(t, err)
	assert.Equal(t, model.SeatSold, f.status(t, 1).Status)

	_, err = f.svc.CreateBooking(ctx, request(model.PaymentCash, "USER_2", 75000, 1))
	assert.Equal(t, apperror.CodeSeatAlreadySold, apperror.CodeOf(err))

	var bookings []model.Booking
	require.NoError(t, f.db.Find(&bookings).Error)
	require.Len(t, bookings, 1)
	assert.Equal(t, res.Booking.ID, bookings[0].ID)
}

func TestConcurrentCashBookingsSellOnce(t *testing.T) {
	f := newFixture(t, "D1", "D2")
	ctx := context.Background()

	const buyers = 8
	var wg sync.WaitGroup
	errs := make([]error, buyers)
	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.CreateBooking(ctx, request(model.PaymentCash, "USER_"+strconv.Itoa(i+1), 150000, 1, 2))
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
			continue
		}
		assert.True(t, apperror.Is(err, apperror.KindSeatConflict), "got %v", err)
	}
	assert.Equal(t, 1, wins)

	var confirmed int64
	require.NoError(t, f.db.Model(&model.Booking{}).Where("status = ?", model.BookingConfirmed).Count(&confirmed).Error)
	assert.Equal(t, int64(1), confirmed)
	assert.Equal(t, *f.status(t, 1).BookingId, *f.status(t, 2).BookingId)
}

func TestCashBookingIsAllOrNothing(t *testing.T) {
	f := newFixture(t, "E1", "E2")
	ctx := context.Background()
	f.lock(t, "USER_2", 2)

	_, err := f.svc.CreateBooking(ctx, request(model.PaymentCash, "USER_1", 150000, 1, 2))
	assert.Equal(t, apperror.CodeSeatLockedByOther, apperror.CodeOf(err))
	assert.Equal(t, model.SeatAvailable, f.status(t, 1).Status)

	var n int64
	require.NoError(t, f.db.Model(&model.Booking{}).Count(&n).Error)
	assert.Zero(t, n)
}

// A VNPay booking is confirmed by its IPN; the customer's return redirect then replays the same
// outcome and changes nothing.
func TestVNPayBookingSettlesOnce(t *testing.T) {
	f := newFixture(t, "F1", "F2")
	ctx := context.Background()
	c := testutil.SeedCustomer(t, f.db, "minh@example.com", 5)
	holder := model.HolderForCustomer(c.ID)
	f.lock(t, holder, 1, 2)

	req := request(model.PaymentVNPay, holder, 150000, 1, 2)
	req.CustomerId = &c.ID
	created, err := f.svc.CreateBooking(ctx, req)
	require.NoError(t, err)

	b := created.Booking
	assert.Equal(t, model.BookingPending, b.Status)
	require.NotNil(t, b.PaymentReference)
	assert.Equal(t, strconv.FormatUint(uint64(b.ID), 10)+"_20250301170000", *b.PaymentReference)
	assert.True(t, strings.HasPrefix(created.PaymentURL, vnpCfg.BaseURL+"?"))
	assert.Contains(t, created.PaymentURL, "vnp_Amount=15000000")
	assert.Equal(t, model.SeatLocked, f.status(t, 1).Status)

	f.seats.Reset()
	callback := vnpCallback(*b.PaymentReference, 150000, "00")
	res, err := f.svc.HandleCallback(ctx, model.PaymentVNPay, callback)
	require.NoError(t, err)
	assert.Equal(t, model.BookingConfirmed, res.Status)
	assert.False(t, res.Duplicate)
	assert.Equal(t, 10, res.Points)

	sold := 0
	for _, ch := range f.seats.Changes() {
		if ch.Status == model.SeatSold {
			sold++
		}
	}
	assert.Equal(t, 2, sold)
	assert.Zero(t, f.lockRows(t))

	again, err := f.svc.HandleCallback(ctx, model.PaymentVNPay, callback)
	require.NoError(t, err)
	assert.True(t, again.Duplicate)
	assert.Equal(t, model.BookingConfirmed, again.Status)

	balance, err := f.loyalty.Balance(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 15, balance)
	history, err := f.loyalty.History(ctx, c.ID)
	require.NoError(t, err)
	assert.Len(t, history, 1)

	stored, err := f.svc.GetBooking(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, "14226112", stored.TransactionId)
	assert.Equal(t, model.PaymentCompleted, stored.PaymentStatus)
	assert.Equal(t, []string{events.BookingConfirmedQueue}, f.events.Queues())
}

// A MoMo booking is created against the wallet's create endpoint and confirmed by its signed IPN.
// MoMo retries the IPN; the retry is answered from the booking's state.
func TestMoMoBookingSettlesOnce(t *testing.T) {
	f := newFixture(t, "W1", "W2")
	ctx := context.Background()
	momoCfg := config.MoMoSettings{
		PartnerCode: "MOMOCINE",
		AccessKey:   "F8BBA842ECF85",
		SecretKey:   "K951B6PE1waDMi640xX08PD3vg6EkVlz",
		Endpoint:    testutil.MoMoServer(t).URL,
		RedirectURL: "http://localhost:8002/momo/return",
		IPNURL:      "http://localhost:8002/momo/ipn",
	}
	svc := booking.NewService(booking.Deps{
		DB:               f.db,
		Ledger:           f.ledger,
		Locks:            f.locks,
		Gateways:         payment.NewRegistry(payment.NewMoMo(momoCfg)),
		Loyalty:          f.loyalty,
		Events:           f.events,
		PointsPerBooking: 10,
		PaymentHold:      paymentHold,
	})
	c := testutil.SeedCustomer(t, f.db, "thu@example.com", 0)
	holder := model.HolderForCustomer(c.ID)

	req := request(model.PaymentMoMo, holder, 150000, 1, 2)
	req.CustomerId = &c.ID
	created, err := svc.CreateBooking(ctx, req)
	require.NoError(t, err)
	b := created.Booking
	require.NotNil(t, b.PaymentReference)
	assert.Equal(t, "https://test-payment.momo.vn/pay/"+*b.PaymentReference, created.PaymentURL)
	assert.Equal(t, model.SeatLocked, f.status(t, 1).Status)

	ipn := testutil.MoMoIPN(t, momoCfg, *b.PaymentReference, b.ID, 150000, 0)
	res, err := svc.HandleCallback(ctx, model.PaymentMoMo, payment.MoMoParams(ipn))
	require.NoError(t, err)
	assert.Equal(t, model.BookingConfirmed, res.Status)
	assert.False(t, res.Duplicate)
	assert.Equal(t, 10, res.Points)
	assert.Equal(t, model.SeatSold, f.status(t, 2).Status)

	again, err := svc.HandleCallback(ctx, model.PaymentMoMo, payment.MoMoParams(ipn))
	require.NoError(t, err)
	assert.True(t, again.Duplicate)
	assert.Equal(t, model.BookingConfirmed, again.Status)

	balance, err := f.loyalty.Balance(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 10, balance)
	history, err := f.loyalty.History(ctx, c.ID)
	require.NoError(t, err)
	assert.Len(t, history, 1)

	stored, err := svc.GetBooking(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, "4088878653", stored.TransactionId)
	assert.Equal(t, []string{events.BookingConfirmedQueue}, f.events.Queues())
}

func TestGatewayBookingRejectsSeatHeldByOther(t *testing.T) {
	f := newFixture(t, "G1")
	f.lock(t, "USER_9", 1)

	_, err := f.svc.CreateBooking(context.Background(), request(model.PaymentVNPay, "USER_1", 75000, 1))
	assert.Equal(t, apperror.CodeSeatLockedByOther, apperror.CodeOf(err))
}

func TestBadSignatureLeavesBookingPending(t *testing.T) {
	f := newFixture(t, "H1")
	ctx := context.Background()
	f.lock(t, "USER_1", 1)
	created, err := f.svc.CreateBooking(ctx, request(model.PaymentVNPay, "USER_1", 75000, 1))
	require.NoError(t, err)

	callback := vnpCallback(*created.Booking.PaymentReference, 75000, "00")
	callback.Set("vnp_Amount", "100")
	_, err = f.svc.HandleCallback(ctx, model.PaymentVNPay, callback)
	assert.True(t, apperror.Is(err, apperror.KindSignatureInvalid))

	stored, err := f.svc.GetBooking(ctx, created.Booking.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BookingPending, stored.Status)
	assert.Equal(t, model.SeatLocked, f.status(t, 1).Status)
}

func TestAmountMismatchFailsClosed(t *testing.T) {
	f := newFixture(t, "J1")
	ctx := context.Background()
	f.lock(t, "USER_1", 1)
	created, err := f.svc.CreateBooking(ctx, request(model.PaymentVNPay, "USER_1", 75000, 1))
	require.NoError(t, err)

	res, err := f.svc.HandleCallback(ctx, model.PaymentVNPay, vnpCallback(*created.Booking.PaymentReference, 1000, "00"))
	require.NoError(t, err)
	assert.Equal(t, model.BookingPaymentFailed, res.Status)
	assert.Equal(t, model.ReasonAmountMismatch, res.Reason)
	assert.Equal(t, model.SeatAvailable, f.status(t, 1).Status)
}

func TestDeclinedPaymentReleasesSeats(t *testing.T) {
	f := newFixture(t, "K1", "K2")
	ctx := context.Background()
	f.lock(t, "guest-abc", 1, 2)
	created, err := f.svc.CreateBooking(ctx, request(model.PaymentVNPay, "guest-abc", 150000, 1, 2))
	require.NoError(t, err)
	ref := *created.Booking.PaymentReference

	res, err := f.svc.HandleCallback(ctx, model.PaymentVNPay, vnpCallback(ref, 150000, "24"))
	require.NoError(t, err)
	assert.Equal(t, model.BookingPaymentFailed, res.Status)
	assert.Equal(t, model.ReasonGatewayDeclined, res.Reason)
	assert.Equal(t, model.SeatAvailable, f.status(t, 1).Status)
	assert.Equal(t, model.SeatAvailable, f.status(t, 2).Status)
	assert.Zero(t, f.lockRows(t))
	assert.Equal(t, []string{events.BookingFailedQueue}, f.events.Queues())

	// A late success for the failed booking is ignored.
	late, err := f.svc.HandleCallback(ctx, model.PaymentVNPay, vnpCallback(ref, 150000, "00"))
	require.NoError(t, err)
	assert.True(t, late.Duplicate)
	assert.Equal(t, model.BookingPaymentFailed, late.Status)
	assert.Equal(t, model.SeatAvailable, f.status(t, 1).Status)
}

func TestGatewayBookingHoldsItsSeats(t *testing.T) {
	f := newFixture(t, "L1", "L2")
	ctx := context.Background()

	created, err := f.svc.CreateBooking(ctx, request(model.PaymentVNPay, "USER_1", 150000, 1, 2))
	require.NoError(t, err)
	for _, id := range []uint{1, 2} {
		seat := f.status(t, id)
		assert.Equal(t, model.SeatLocked, seat.Status)
		assert.Equal(t, "USER_1", seat.HeldBy)
		require.NotNil(t, seat.LockExpiresAt)
		assert.WithinDuration(t, f.clock.Now().Add(paymentHold), *seat.LockExpiresAt, time.Second)
	}
	assert.Equal(t, int64(2), f.lockRows(t))

	_, err = f.locks.Lock(ctx, showtime, room, 1, "USER_2")
	assert.Equal(t, apperror.CodeSeatLockedByOther, apperror.CodeOf(err))
	_, err = f.svc.CreateBooking(ctx, request(model.PaymentCash, "USER_2", 75000, 2))
	assert.Equal(t, apperror.CodeSeatLockedByOther, apperror.CodeOf(err))

	res, err := f.svc.HandleCallback(ctx, model.PaymentVNPay, vnpCallback(*created.Booking.PaymentReference, 150000, "00"))
	require.NoError(t, err)
	assert.Equal(t, model.BookingConfirmed, res.Status)
	assert.Equal(t, created.Booking.ID, *f.status(t, 2).BookingId)
}

func TestGatewayBookingHoldIsAllOrNothing(t *testing.T) {
	f := newFixture(t, "L1", "L2")
	ctx := context.Background()
	f.lock(t, "USER_9", 2)

	_, err := f.svc.CreateBooking(ctx, request(model.PaymentVNPay, "USER_1", 150000, 1, 2))
	assert.True(t, apperror.Is(err, apperror.KindSeatConflict))

	assert.Equal(t, model.SeatAvailable, f.status(t, 1).Status)
	assert.Equal(t, "USER_9", f.status(t, 2).HeldBy)
	var n int64
	require.NoError(t, f.db.Model(&model.Booking{}).Count(&n).Error)
	assert.Zero(t, n)
}

// Once the payment hold has run out another customer may buy the seat; the late payment then
// fails the booking instead of selling the seat twice.
func TestSeatSoldAfterHoldExpired(t *testing.T) {
	f := newFixture(t, "L1")
	ctx := context.Background()

	created, err := f.svc.CreateBooking(ctx, request(model.PaymentVNPay, "USER_1", 75000, 1))
	require.NoError(t, err)
	f.clock.Advance(paymentHold + time.Minute)
	other, err := f.svc.CreateBooking(ctx, request(model.PaymentCash, "USER_2", 75000, 1))
	require.NoError(t, err)

	res, err := f.svc.HandleCallback(ctx, model.PaymentVNPay, vnpCallback(*created.Booking.PaymentReference, 75000, "00"))
	require.NoError(t, err)
	assert.Equal(t, model.BookingPaymentFailed, res.Status)
	assert.Equal(t, model.ReasonSeatUnavailable, res.Reason)

	seat := f.status(t, 1)
	assert.Equal(t, model.SeatSold, seat.Status)
	assert.Equal(t, other.Booking.ID, *seat.BookingId)
}

func TestSettleUnknownReference(t *testing.T) {
	f := newFixture(t, "M1")
	_, err := f.svc.SettlePayment(context.Background(), payment.Outcome{Method: model.PaymentVNPay, Reference: "99_20250301170000", BookingId: 99, Amount: 1})
	assert.Equal(t, apperror.CodeBookingNotFound, apperror.CodeOf(err))
}

func TestSettleRejectsForeignBookingId(t *testing.T) {
	f := newFixture(t, "N1")
	ctx := context.Background()
	created, err := f.svc.CreateBooking(ctx, request(model.PaymentVNPay, "USER_1", 75000, 1))
	require.NoError(t, err)

	_, err = f.svc.SettlePayment(ctx, payment.Outcome{
		Method:    model.PaymentVNPay,
		Reference: *created.Booking.PaymentReference,
		BookingId: created.Booking.ID + 1,
		Amount:    75000,
		Success:   true,
	})
	assert.True(t, apperror.Is(err, apperror.KindNotFound))
}

func TestGatewayUnavailableFailsBooking(t *testing.T) {
	f := newFixture(t, "P1")
	ctx := context.Background()
	f.lock(t, "USER_1", 1)

	_, err := f.svc.CreateBooking(ctx, request(model.PaymentMoMo, "USER_1", 75000, 1))
	assert.True(t, apperror.Is(err, apperror.KindTransient))

	var b model.Booking
	require.NoError(t, f.db.First(&b).Error)
	assert.Equal(t, model.BookingPaymentFailed, b.Status)
	assert.Equal(t, model.ReasonGatewayUnavailable, b.FailureReason)
	assert.Equal(t, model.SeatAvailable, f.status(t, 1).Status)
}

func TestUnknownGateway(t *testing.T) {
	f := newFixture(t, "Q1")
	svc := booking.NewService(booking.Deps{
		DB:       f.db,
		Ledger:   f.ledger,
		Locks:    f.locks,
		Gateways: payment.NewRegistry(),
	})
	_, err := svc.CreateBooking(context.Background(), request(model.PaymentVNPay, "USER_1", 75000, 1))
	assert.Equal(t, apperror.CodeUnknownGateway, apperror.CodeOf(err))
}

func TestExpirePending(t *testing.T) {
	f := newFixture(t, "R1")
	ctx := context.Background()
	f.lock(t, "USER_1", 1)
	created, err := f.svc.CreateBooking(ctx, request(model.PaymentVNPay, "USER_1", 75000, 1))
	require.NoError(t, err)

	n, err := f.svc.ExpirePending(ctx, 15*time.Minute)
	require.NoError(t, err)
	assert.Zero(t, n)

	f.clock.Advance(16 * time.Minute)
	n, err = f.svc.ExpirePending(ctx, 15*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	stored, err := f.svc.GetBooking(ctx, created.Booking.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BookingPaymentFailed, stored.Status)
	assert.Equal(t, model.ReasonPaymentTimeout, stored.FailureReason)
	assert.Equal(t, model.SeatAvailable, f.status(t, 1).Status)

	n, err = f.svc.ExpirePending(ctx, 15*time.Minute)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestBookedSeatsAndDelete(t *testing.T) {
	f := newFixture(t, "S1", "S2", "S3")
	ctx := context.Background()

	res, err := f.svc.CreateBooking(ctx, request(model.PaymentCash, "USER_1", 150000, 2, 3))
	require.NoError(t, err)
	_, err = f.svc.CreateBooking(ctx, request(model.PaymentVNPay, "USER_2", 75000, 1))
	require.NoError(t, err)

	booked, err := f.svc.BookedSeats(ctx, showtime, room)
	require.NoError(t, err)
	require.Len(t, booked, 2)
	assert.Equal(t, uint(2), booked[0].SeatId)
	assert.Equal(t, 2, booked[0].Column)

	require.NoError(t, f.svc.DeleteBooking(ctx, res.Booking.ID))
	assert.Equal(t, model.SeatAvailable, f.status(t, 2).Status)
	assert.Equal(t, model.SeatAvailable, f.status(t, 3).Status)

	_, err = f.svc.GetBooking(ctx, res.Booking.ID)
	assert.Equal(t, apperror.CodeBookingNotFound, apperror.CodeOf(err))

	var removed model.Booking
	require.NoError(t, f.db.Unscoped().First(&removed, res.Booking.ID).Error)
	assert.Equal(t, model.BookingCancelled, removed.Status)
	assert.Equal(t, model.PaymentRefunded, removed.PaymentStatus)
	assert.NotNil(t, removed.CancelledAt)

	booked, err = f.svc.BookedSeats(ctx, showtime, room)
	require.NoError(t, err)
	assert.Empty(t, booked)

	err = f.svc.DeleteBooking(ctx, res.Booking.ID)
	assert.Equal(t, apperror.CodeBookingNotFound, apperror.CodeOf(err))
}

func TestDeletePendingBookingIgnoresLateCallback(t *testing.T) {
	f := newFixture(t, "U1")
	ctx := context.Background()
	created, err := f.svc.CreateBooking(ctx, request(model.PaymentVNPay, "USER_1", 75000, 1))
	require.NoError(t, err)

	require.NoError(t, f.svc.DeleteBooking(ctx, created.Booking.ID))
	assert.Equal(t, model.SeatAvailable, f.status(t, 1).Status)
	assert.Zero(t, f.lockRows(t))

	_, err = f.svc.HandleCallback(ctx, model.PaymentVNPay, vnpCallback(*created.Booking.PaymentReference, 75000, "00"))
	assert.Equal(t, apperror.CodeBookingNotFound, apperror.CodeOf(err))
	assert.Equal(t, model.SeatAvailable, f.status(t, 1).Status)

	var removed model.Booking
	require.NoError(t, f.db.Unscoped().First(&removed, created.Booking.ID).Error)
	assert.Equal(t, model.BookingCancelled, removed.Status)
	assert.Equal(t, model.PaymentPending, removed.PaymentStatus)
}

func TestDeleteRejectsFailedBooking(t *testing.T) {
	f := newFixture(t, "V1")
	ctx := context.Background()
	created, err := f.svc.CreateBooking(ctx, request(model.PaymentVNPay, "USER_1", 75000, 1))
	require.NoError(t, err)
	_, err = f.svc.HandleCallback(ctx, model.PaymentVNPay, vnpCallback(*created.Booking.PaymentReference, 75000, "24"))
	require.NoError(t, err)

	err = f.svc.DeleteBooking(ctx, created.Booking.ID)
	assert.True(t, apperror.Is(err, apperror.KindValidation))
	assert.Equal(t, apperror.CodeBookingNotCancellable, apperror.CodeOf(err))

	stored, err := f.svc.GetBooking(ctx, created.Booking.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BookingPaymentFailed, stored.Status)
}

func TestNewPendingSweeperRejectsBadSpec(t *testing.T) {
	f := newFixture(t, "T1")
	_, err := booking.NewPendingSweeper(f.svc, "every now and then", time.Minute)
	assert.Error(t, err)

	sw, err := booking.NewPendingSweeper(f.svc, "*/5 * * * *", 15*time.Minute)
	require.NoError(t, err)
	sw.Start()
	sw.Stop()
}

var _ realtime.Publisher = (*testutil.Recorder)(nil)
