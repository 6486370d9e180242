package orders

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrderTransitions(t *testing.T) {
	cases := []struct {
		from, to Status
		ok       bool
	}{
		{StatusPending, StatusPaid, true},
		{StatusPending, StatusCancelled, true},
		{StatusPending, StatusShipped, false},
		{StatusPaid, StatusProcessing, true},
		{StatusPaid, StatusCancelled, true},
		{StatusProcessing, StatusShipped, true},
		{StatusProcessing, StatusCancelled, true},
		{StatusShipped, StatusDelivered, true},
		{StatusShipped, StatusCancelled, false}, // sudah keluar gudang
		{StatusDelivered, StatusRefunded, true},
		{StatusDelivered, StatusCancelled, false},
		{StatusCancelled, StatusPending, false},
		{StatusRefunded, StatusPending, false},
	}
	for _, c := range cases {
		assert.Equalf(t, c.ok, CanTransition(c.from, c.to), "%s -> %s", c.from, c.to)
	}
}

func TestTransitionError(t *testing.T) {
	err := Transition(StatusShipped, StatusCancelled)
	require.Error(t, err)
	var ite *InvalidTransitionError
	require.ErrorAs(t, err, &ite)
	assert.Equal(t, "order", ite.Entity)
	assert.Equal(t, "shipped", ite.From)
	assert.Equal(t, "cancelled", ite.To)
}

func TestCanBeCancelled(t *testing.T) {
	assert.True(t, CanBeCancelled(StatusPending))
	assert.True(t, CanBeCancelled(StatusPaid))
	assert.True(t, CanBeCancelled(StatusProcessing))
	assert.False(t, CanBeCancelled(StatusShipped))
	assert.False(t, CanBeCancelled(StatusDelivered))
	assert.False(t, CanBeCancelled(StatusCancelled))
}

func TestCanBeRefunded(t *testing.T) {
	now := time.Date(2026, 6, 20, 0, 0, 0, 0, time.UTC)
	within := now.Add(-13 * 24 * time.Hour)
	boundary := now.Add(-RefundWindow)
	tooOld := now.Add(-15 * 24 * time.Hour)

	assert.True(t, CanBeRefunded(StatusDelivered, PaymentCaptured, &within, now))
	assert.True(t, CanBeRefunded(StatusDelivered, PaymentCaptured, &boundary, now))
	assert.False(t, CanBeRefunded(StatusDelivered, PaymentCaptured, &tooOld, now))

	// hanya delivered + captured yang boleh
	assert.False(t, CanBeRefunded(StatusShipped, PaymentCaptured, &within, now))
	assert.False(t, CanBeRefunded(StatusDelivered, PaymentPending, &within, now))
	assert.False(t, CanBeRefunded(StatusDelivered, PaymentCaptured, nil, now))
}

func TestPaymentTransitions(t *testing.T) {
	cases := []struct {
		from, to PaymentStatus
		ok       bool
	}{
		{PaymentPending, PaymentAuthorized, true},
		{PaymentPending, PaymentCaptured, true},
		{PaymentPending, PaymentFailed, true},
		{PaymentPending, PaymentCancelled, true},
		{PaymentAuthorized, PaymentCaptured, true},
		{PaymentAuthorized, PaymentFailed, true},
		{PaymentCaptured, PaymentRefunded, true},
		{PaymentCaptured, PaymentFailed, false},
		{PaymentFailed, PaymentCaptured, false},
		{PaymentRefunded, PaymentCaptured, false},
	}
	for _, c := range cases {
		assert.Equalf(t, c.ok, CanTransitionPayment(c.from, c.to), "%s -> %s", c.from, c.to)
	}
}
