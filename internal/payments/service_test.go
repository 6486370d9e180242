package payments

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/go-shop-checkout.git/internal/audit"
	"github.com/ariefcatur/go-shop-checkout.git/internal/orders"
	"github.com/ariefcatur/go-shop-checkout.git/internal/redisx"
)

// ---- fakes ----

type fakeGateway struct {
	initResult     GatewayResult
	initErr        error
	completeResult GatewayResult
	completeErr    error
	refundResult   GatewayResult
	completeCalls  int
}

func (f *fakeGateway) Initialize3DS(context.Context, InitiateRequest) (GatewayResult, error) {
	return f.initResult, f.initErr
}

func (f *fakeGateway) Complete3DS(context.Context, string, string, string) (GatewayResult, error) {
	f.completeCalls++
	return f.completeResult, f.completeErr
}

func (f *fakeGateway) Refund(context.Context, string, string, int64, string) (GatewayResult, error) {
	return f.refundResult, nil
}

type fakeStore struct {
	byID   map[string]Payment
	byTx   map[string]string // gateway tx id -> payment id
	nextID int
}

func newFakeStore() *fakeStore {
	return &fakeStore{byID: map[string]Payment{}, byTx: map[string]string{}}
}

func (f *fakeStore) Create(_ context.Context, p Payment) (Payment, error) {
	f.nextID++
	p.ID = "pay-" + string(rune('0'+f.nextID))
	f.byID[p.ID] = p
	if p.GatewayTransactionID != "" {
		f.byTx[p.GatewayTransactionID] = p.ID
	}
	return p, nil
}

func (f *fakeStore) GetByID(_ context.Context, id string) (Payment, error) {
	p, ok := f.byID[id]
	if !ok {
		return Payment{}, ErrPaymentNotFound
	}
	return p, nil
}

func (f *fakeStore) GetByGatewayTxID(_ context.Context, txID string) (Payment, error) {
	id, ok := f.byTx[txID]
	if !ok {
		return Payment{}, ErrPaymentNotFound
	}
	return f.byID[id], nil
}

func (f *fakeStore) HasCaptured(_ context.Context, orderID string) (bool, error) {
	for _, p := range f.byID {
		if p.OrderID == orderID && p.Status == orders.PaymentCaptured {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeStore) MarkCaptured(_ context.Context, id, raw string) (Payment, error) {
	p := f.byID[id]
	if p.Status == orders.PaymentCaptured {
		return p, nil
	}
	if err := orders.TransitionPayment(p.Status, orders.PaymentCaptured); err != nil {
		return Payment{}, err
	}
	now := time.Now().UTC()
	p.Status = orders.PaymentCaptured
	p.GatewayResponse = raw
	p.CapturedAt = &now
	f.byID[id] = p
	return p, nil
}

func (f *fakeStore) MarkFailed(_ context.Context, id, code, msg, raw string) (Payment, error) {
	p := f.byID[id]
	if err := orders.TransitionPayment(p.Status, orders.PaymentFailed); err != nil {
		return Payment{}, err
	}
	now := time.Now().UTC()
	p.Status = orders.PaymentFailed
	p.GatewayResponse = raw
	p.FailedAt = &now
	f.byID[id] = p
	return p, nil
}

func (f *fakeStore) MarkRefunded(_ context.Context, id string, _ int64, raw string) (Payment, error) {
	p := f.byID[id]
	if err := orders.TransitionPayment(p.Status, orders.PaymentRefunded); err != nil {
		return Payment{}, err
	}
	p.Status = orders.PaymentRefunded
	p.GatewayResponse = raw
	f.byID[id] = p
	return p, nil
}

type fakeOrders struct {
	order orders.Order
	items []orders.OrderItem
}

func (f *fakeOrders) GetByNumber(context.Context, string) (orders.Order, error) {
	return f.order, nil
}

func (f *fakeOrders) GetByID(context.Context, string) (orders.Order, error) {
	return f.order, nil
}

func (f *fakeOrders) ListItems(context.Context, string) ([]orders.OrderItem, error) {
	return f.items, nil
}

type fakePublisher struct {
	topics []string
}

func (f *fakePublisher) PublishTo(topic string, _, _ []byte, _ ...kafkago.Header) {
	f.topics = append(f.topics, topic)
}

// ---- helpers ----

func payableOrder() orders.Order {
	return orders.Order{
		ID:            "order-1",
		OrderNumber:   "ILS-20260601-ABC123",
		Status:        orders.StatusPending,
		PaymentStatus: orders.PaymentPending,
		TotalCents:    31_500,
		Currency:      "TRY",
	}
}

func testService(gw *fakeGateway, store *fakeStore, ord *fakeOrders, pub *fakePublisher) *Service {
	return &Service{
		Gateway:       gw,
		GatewayName:   "iyzico",
		Store:         store,
		Orders:        ord,
		Audit:         audit.NopSink{},
		Events:        pub,
		WebhookSecret: "test-secret",
		ServiceName:   "test",
	}
}

// ---- tests ----

func TestInitiateSuccess(t *testing.T) {
	gw := &fakeGateway{initResult: GatewayResult{Success: true, PaymentID: "gw-123", HTMLContent: "<form>3ds</form>"}}
	store := newFakeStore()
	s := testService(gw, store, &fakeOrders{order: payableOrder()}, &fakePublisher{})

	res, err := s.Initiate(context.Background(), InitiateInput{OrderNumber: "ILS-20260601-ABC123"})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "<form>3ds</form>", res.ThreedsHTML)
	assert.Contains(t, res.ConversationID, "order_ILS-20260601-ABC123_")

	p, err := store.GetByGatewayTxID(context.Background(), "gw-123")
	require.NoError(t, err)
	assert.Equal(t, orders.PaymentPending, p.Status)
	assert.Equal(t, int64(31_500), p.AmountCents)
	assert.Equal(t, "iyzico", p.Gateway)
}

func TestInitiateOrderNotPayable(t *testing.T) {
	order := payableOrder()
	order.Status = orders.StatusCancelled
	s := testService(&fakeGateway{}, newFakeStore(), &fakeOrders{order: order}, &fakePublisher{})

	_, err := s.Initiate(context.Background(), InitiateInput{OrderNumber: order.OrderNumber})
	assert.ErrorIs(t, err, ErrOrderNotPayable)
}

func TestInitiateAlreadyPaid(t *testing.T) {
	store := newFakeStore()
	_, _ = store.Create(context.Background(), Payment{OrderID: "order-1", Status: orders.PaymentCaptured, GatewayTransactionID: "gw-old"})
	s := testService(&fakeGateway{}, store, &fakeOrders{order: payableOrder()}, &fakePublisher{})

	_, err := s.Initiate(context.Background(), InitiateInput{OrderNumber: "ILS-20260601-ABC123"})
	assert.ErrorIs(t, err, ErrAlreadyPaid)
}

func TestInitiateGatewayDeclined(t *testing.T) {
	gw := &fakeGateway{initResult: GatewayResult{Success: false, ErrorCode: "10051", ErrorMessage: "insufficient funds"}}
	store := newFakeStore()
	s := testService(gw, store, &fakeOrders{order: payableOrder()}, &fakePublisher{})

	res, err := s.Initiate(context.Background(), InitiateInput{OrderNumber: "ILS-20260601-ABC123"})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "10051", res.ErrorCode)

	// attempt gagal tetap tercatat
	require.Len(t, store.byID, 1)
	for _, p := range store.byID {
		assert.Equal(t, orders.PaymentFailed, p.Status)
	}
}

func TestInitiateTransportError(t *testing.T) {
	gw := &fakeGateway{initErr: context.DeadlineExceeded}
	store := newFakeStore()
	s := testService(gw, store, &fakeOrders{order: payableOrder()}, &fakePublisher{})

	res, err := s.Initiate(context.Background(), InitiateInput{OrderNumber: "ILS-20260601-ABC123"})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "EXCEPTION", res.ErrorCode)
	assert.Empty(t, store.byID)
}

func TestHandleCallbackUnknownPayment(t *testing.T) {
	s := testService(&fakeGateway{}, newFakeStore(), &fakeOrders{order: payableOrder()}, &fakePublisher{})

	_, err := s.HandleCallback(context.Background(), CallbackInput{GatewayPaymentID: "gw-nope"})
	assert.ErrorIs(t, err, ErrPaymentNotFound)
}

func TestHandleCallbackSuccess(t *testing.T) {
	gw := &fakeGateway{completeResult: GatewayResult{Success: true, PaymentID: "gw-123", Raw: `{"status":"success"}`}}
	store := newFakeStore()
	created, _ := store.Create(context.Background(), Payment{
		OrderID: "order-1", GatewayTransactionID: "gw-123",
		Status: orders.PaymentPending, AmountCents: 31_500,
		Metadata: orders.Metadata{"conversation_id": "order_x_y"},
	})
	pub := &fakePublisher{}
	s := testService(gw, store, &fakeOrders{order: payableOrder()}, pub)

	res, err := s.HandleCallback(context.Background(), CallbackInput{GatewayPaymentID: "gw-123"})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, created.ID, res.PaymentID)

	p, _ := store.GetByID(context.Background(), created.ID)
	assert.Equal(t, orders.PaymentCaptured, p.Status)
	require.NotNil(t, p.CapturedAt)

	assert.Equal(t, []string{orders.TopicPaymentCaptured, orders.TopicOrderPaid}, pub.topics)
	assert.Equal(t, 1, gw.completeCalls)
}

func TestHandleCallbackReplayIsIdempotent(t *testing.T) {
	gw := &fakeGateway{completeResult: GatewayResult{Success: true}}
	store := newFakeStore()
	created, _ := store.Create(context.Background(), Payment{
		OrderID: "order-1", GatewayTransactionID: "gw-123", Status: orders.PaymentPending,
	})
	_, _ = store.MarkCaptured(context.Background(), created.ID, "{}")
	pub := &fakePublisher{}
	s := testService(gw, store, &fakeOrders{order: payableOrder()}, pub)

	res, err := s.HandleCallback(context.Background(), CallbackInput{GatewayPaymentID: "gw-123"})
	require.NoError(t, err)
	assert.True(t, res.Success)

	// replay tidak menyentuh gateway dan tidak publish ulang
	assert.Equal(t, 0, gw.completeCalls)
	assert.Empty(t, pub.topics)
}

func TestHandleCallbackDeclined(t *testing.T) {
	gw := &fakeGateway{completeResult: GatewayResult{Success: false, ErrorCode: "10005", ErrorMessage: "3ds failed"}}
	store := newFakeStore()
	created, _ := store.Create(context.Background(), Payment{
		OrderID: "order-1", GatewayTransactionID: "gw-123", Status: orders.PaymentPending,
	})
	pub := &fakePublisher{}
	s := testService(gw, store, &fakeOrders{order: payableOrder()}, pub)

	res, err := s.HandleCallback(context.Background(), CallbackInput{GatewayPaymentID: "gw-123"})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "10005", res.ErrorCode)

	p, _ := store.GetByID(context.Background(), created.ID)
	assert.Equal(t, orders.PaymentFailed, p.Status)
	assert.Equal(t, []string{orders.TopicPaymentFailed}, pub.topics)
}

func refundableSetup(t *testing.T) (*fakeStore, *fakeOrders, Payment) {
	t.Helper()
	store := newFakeStore()
	created, _ := store.Create(context.Background(), Payment{
		OrderID: "order-1", GatewayTransactionID: "gw-123",
		Status: orders.PaymentPending, AmountCents: 31_500,
	})
	captured, err := store.MarkCaptured(context.Background(), created.ID, "{}")
	require.NoError(t, err)

	delivered := time.Now().UTC().Add(-5 * 24 * time.Hour)
	order := payableOrder()
	order.Status = orders.StatusDelivered
	order.PaymentStatus = orders.PaymentCaptured
	order.DeliveredAt = &delivered
	return store, &fakeOrders{order: order}, captured
}

func TestRefundSuccess(t *testing.T) {
	store, ord, captured := refundableSetup(t)
	gw := &fakeGateway{refundResult: GatewayResult{Success: true, Raw: "{}"}}
	pub := &fakePublisher{}
	s := testService(gw, store, ord, pub)

	res, err := s.Refund(context.Background(), captured.ID, 0, "1.2.3.4")
	require.NoError(t, err)
	assert.True(t, res.Success)

	p, _ := store.GetByID(context.Background(), captured.ID)
	assert.Equal(t, orders.PaymentRefunded, p.Status)
	assert.Equal(t, []string{orders.TopicOrderRefunded}, pub.topics)
}

func TestRefundNotCaptured(t *testing.T) {
	store := newFakeStore()
	created, _ := store.Create(context.Background(), Payment{OrderID: "order-1", Status: orders.PaymentPending})
	s := testService(&fakeGateway{}, store, &fakeOrders{order: payableOrder()}, &fakePublisher{})

	_, err := s.Refund(context.Background(), created.ID, 0, "")
	assert.ErrorIs(t, err, ErrRefundNotAllowed)
}

func TestRefundAmountExceeds(t *testing.T) {
	store, ord, captured := refundableSetup(t)
	s := testService(&fakeGateway{}, store, ord, &fakePublisher{})

	_, err := s.Refund(context.Background(), captured.ID, 99_999, "")
	assert.ErrorIs(t, err, ErrRefundAmountExceeds)
}

func TestRefundOutsideWindow(t *testing.T) {
	store, ord, captured := refundableSetup(t)
	late := time.Now().UTC().Add(-20 * 24 * time.Hour)
	ord.order.DeliveredAt = &late
	s := testService(&fakeGateway{}, store, ord, &fakePublisher{})

	_, err := s.Refund(context.Background(), captured.ID, 0, "")
	assert.ErrorIs(t, err, ErrRefundNotAllowed)
}

func TestRefundGatewayDeclined(t *testing.T) {
	store, ord, captured := refundableSetup(t)
	gw := &fakeGateway{refundResult: GatewayResult{Success: false, ErrorCode: "5002"}}
	s := testService(gw, store, ord, &fakePublisher{})

	res, err := s.Refund(context.Background(), captured.ID, 0, "")
	require.NoError(t, err)
	assert.False(t, res.Success)

	// state tidak berubah kalau gateway menolak
	p, _ := store.GetByID(context.Background(), captured.ID)
	assert.Equal(t, orders.PaymentCaptured, p.Status)
}

// ---- dedup & status cache (redis) ----

// flakyStore: MarkCaptured gagal N kali dulu, lalu normal. Untuk
// mensimulasikan DB yang sempat down saat callback diproses.
type flakyStore struct {
	*fakeStore
	captureFails int
}

func (f *flakyStore) MarkCaptured(ctx context.Context, id, raw string) (Payment, error) {
	if f.captureFails > 0 {
		f.captureFails--
		return Payment{}, errors.New("db unavailable")
	}
	return f.fakeStore.MarkCaptured(ctx, id, raw)
}

func testRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

// Store sempat gagal setelah gateway konfirmasi sukses: kunci dedup harus
// dilepas supaya retry berikutnya tidak tertolak dan capture tetap terjadi.
func TestHandleCallbackRetryAfterStoreFailure(t *testing.T) {
	gw := &fakeGateway{completeResult: GatewayResult{Success: true, Raw: "{}"}}
	store := &flakyStore{fakeStore: newFakeStore(), captureFails: 1}
	created, _ := store.Create(context.Background(), Payment{
		OrderID: "order-1", GatewayTransactionID: "gw-123", Status: orders.PaymentPending,
	})
	s := testService(gw, store.fakeStore, &fakeOrders{order: payableOrder()}, &fakePublisher{})
	s.Store = store
	s.Redis = testRedis(t)

	_, err := s.HandleCallback(context.Background(), CallbackInput{GatewayPaymentID: "gw-123"})
	require.Error(t, err)
	p, _ := store.GetByID(context.Background(), created.ID)
	assert.Equal(t, orders.PaymentPending, p.Status)

	res, err := s.HandleCallback(context.Background(), CallbackInput{GatewayPaymentID: "gw-123"})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 2, gw.completeCalls)

	p, _ = store.GetByID(context.Background(), created.ID)
	assert.Equal(t, orders.PaymentCaptured, p.Status)
}

// Replay lewat redis (payment masih pending setelah attempt pertama sukses
// di-mark): dedup key yang menempel berarti gateway tidak disentuh lagi.
func TestHandleCallbackDedupBlocksReplay(t *testing.T) {
	gw := &fakeGateway{completeResult: GatewayResult{Success: false, ErrorCode: "10005"}}
	store := newFakeStore()
	_, _ = store.Create(context.Background(), Payment{
		OrderID: "order-1", GatewayTransactionID: "gw-123", Status: orders.PaymentPending,
	})
	s := testService(gw, store, &fakeOrders{order: payableOrder()}, &fakePublisher{})
	s.Redis = testRedis(t)

	res, err := s.HandleCallback(context.Background(), CallbackInput{GatewayPaymentID: "gw-123"})
	require.NoError(t, err)
	assert.False(t, res.Success)
	require.Equal(t, 1, gw.completeCalls)

	// replay: hasil durable sudah ada, gateway tidak disentuh lagi
	res, err = s.HandleCallback(context.Background(), CallbackInput{GatewayPaymentID: "gw-123"})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, 1, gw.completeCalls)
}

func TestHandleCallbackInvalidatesStatusCache(t *testing.T) {
	gw := &fakeGateway{completeResult: GatewayResult{Success: true, Raw: "{}"}}
	store := newFakeStore()
	_, _ = store.Create(context.Background(), Payment{
		OrderID: "order-1", GatewayTransactionID: "gw-123", Status: orders.PaymentPending,
	})
	rdb := testRedis(t)
	key := fmt.Sprintf(redisx.KeyOrderStatus, "ILS-20260601-ABC123")
	require.NoError(t, rdb.Set(context.Background(), key,
		`{"status":"pending","payment_status":"pending"}`, time.Minute).Err())

	s := testService(gw, store, &fakeOrders{order: payableOrder()}, &fakePublisher{})
	s.Redis = rdb

	res, err := s.HandleCallback(context.Background(), CallbackInput{GatewayPaymentID: "gw-123"})
	require.NoError(t, err)
	require.True(t, res.Success)

	// cache status yang basi harus hilang setelah capture
	n, err := rdb.Exists(context.Background(), key).Result()
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRefundInvalidatesStatusCache(t *testing.T) {
	store, ord, captured := refundableSetup(t)
	gw := &fakeGateway{refundResult: GatewayResult{Success: true, Raw: "{}"}}
	rdb := testRedis(t)
	key := fmt.Sprintf(redisx.KeyOrderStatus, ord.order.OrderNumber)
	require.NoError(t, rdb.Set(context.Background(), key,
		`{"status":"delivered","payment_status":"captured"}`, time.Minute).Err())

	s := testService(gw, store, ord, &fakePublisher{})
	s.Redis = rdb

	res, err := s.Refund(context.Background(), captured.ID, 0, "1.2.3.4")
	require.NoError(t, err)
	require.True(t, res.Success)

	n, err := rdb.Exists(context.Background(), key).Result()
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestValidateWebhookSignature(t *testing.T) {
	s := testService(&fakeGateway{}, newFakeStore(), &fakeOrders{}, &fakePublisher{})
	payload := []byte(`{"event_id":"e1","payment_id":"gw-123"}`)

	mac := hmac.New(sha256.New, []byte("test-secret"))
	mac.Write(payload)
	valid := hex.EncodeToString(mac.Sum(nil))

	assert.NoError(t, s.ValidateWebhookSignature(payload, valid))
	assert.ErrorIs(t, s.ValidateWebhookSignature(payload, "deadbeef"), ErrInvalidSignature)

	// satu byte berubah = tolak
	tampered := append([]byte{}, payload...)
	tampered[0] = '['
	assert.ErrorIs(t, s.ValidateWebhookSignature(tampered, valid), ErrInvalidSignature)
}
