package pricing

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVariantPrice(t *testing.T) {
	assert.Equal(t, int64(10_000), VariantPrice(10_000, 0))
	assert.Equal(t, int64(9_000), VariantPrice(10_000, 10))
	assert.Equal(t, int64(0), VariantPrice(10_000, 100))
	// half-up: 333 * 85% = 283.05 -> 283; 335 * 85% = 284.75 -> 285
	assert.Equal(t, int64(283), VariantPrice(333, 15))
	assert.Equal(t, int64(285), VariantPrice(335, 15))
}

func TestCartTotal(t *testing.T) {
	// 2 x 100.00 + 1 x 50.00 = 250.00, PPN 18% = 45.00, total 295.00
	got := CartTotal([]Line{
		{UnitPriceCents: 10_000, Quantity: 2},
		{UnitPriceCents: 5_000, Quantity: 1},
	})
	assert.Equal(t, int64(25_000), got.SubtotalCents)
	assert.Equal(t, int64(4_500), got.TaxCents)
	assert.Equal(t, int64(29_500), got.TotalCents)
}

func TestCartTotalEmpty(t *testing.T) {
	got := CartTotal(nil)
	assert.Equal(t, Totals{}, got)
}

func TestShippingCost(t *testing.T) {
	assert.Equal(t, int64(2_000), ShippingCost(29_500, "İstanbul"))
	assert.Equal(t, int64(2_000), ShippingCost(29_500, "Ankara"))
	assert.Equal(t, int64(2_500), ShippingCost(29_500, "Konya"))

	// gratis ongkir mulai dari 500 TRY persis
	assert.Equal(t, int64(0), ShippingCost(50_000, "Konya"))
	assert.Equal(t, int64(0), ShippingCost(120_000, "İstanbul"))
	assert.Equal(t, int64(2_500), ShippingCost(49_999, "Konya"))
}

func TestEstimatedDeliveryDays(t *testing.T) {
	assert.Equal(t, 1, EstimatedDeliveryDays("İzmir"))
	assert.Equal(t, 3, EstimatedDeliveryDays("Trabzon"))
}

func TestFinalTotal(t *testing.T) {
	totals := CartTotal([]Line{{UnitPriceCents: 10_000, Quantity: 2}, {UnitPriceCents: 5_000, Quantity: 1}})
	assert.Equal(t, int64(31_500), FinalTotal(totals, 2_000, 0))
	assert.Equal(t, int64(29_500), FinalTotal(totals, 2_000, 2_000))

	// diskon lebih besar dari total tidak bikin minus
	assert.Equal(t, int64(0), FinalTotal(Totals{TotalCents: 1_000}, 0, 5_000))
}

func TestTaxZeroRate(t *testing.T) {
	assert.Equal(t, int64(0), Tax(10_000, 0))
	assert.Equal(t, int64(0), Tax(10_000, -5))
}
