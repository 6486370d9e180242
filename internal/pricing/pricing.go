package pricing

// Semua nilai uang dalam kuruş (1/100 TRY). Paket ini pure function:
// tanpa side effect, aman dipanggil concurrent.

const (
	// Tarif PPN default (persen).
	DefaultTaxRatePct = 18

	// Gratis ongkir di atas 500 TRY.
	FreeShippingThresholdCents int64 = 50_000

	shippingMajorCityCents int64 = 2_000
	shippingOtherCents     int64 = 2_500
)

var majorCities = map[string]bool{
	"İstanbul": true,
	"Ankara":   true,
	"İzmir":    true,
	"Bursa":    true,
	"Antalya":  true,
}

func IsMajorCity(city string) bool { return majorCities[city] }

// VariantPrice terapkan diskon persentase varian kalau ada. Pembulatan half-up.
func VariantPrice(baseCents int64, discountPct int) int64 {
	if discountPct <= 0 {
		return baseCents
	}
	if discountPct >= 100 {
		return 0
	}
	return (baseCents*int64(100-discountPct) + 50) / 100
}

// Tax hitung pajak atas amount dengan tarif persen. Pembulatan half-up.
func Tax(amountCents int64, ratePct int) int64 {
	if ratePct <= 0 {
		return 0
	}
	return (amountCents*int64(ratePct) + 50) / 100
}

type Line struct {
	UnitPriceCents int64
	Quantity       int
}

type Totals struct {
	SubtotalCents int64
	TaxCents      int64
	TotalCents    int64
}

// CartTotal: jumlah subtotal item + pajak.
func CartTotal(lines []Line) Totals {
	var subtotal int64
	for _, l := range lines {
		subtotal += l.UnitPriceCents * int64(l.Quantity)
	}
	tax := Tax(subtotal, DefaultTaxRatePct)
	return Totals{
		SubtotalCents: subtotal,
		TaxCents:      tax,
		TotalCents:    subtotal + tax,
	}
}

// ShippingCost: gratis di atas threshold; selain itu tier per kota tujuan.
func ShippingCost(orderTotalCents int64, city string) int64 {
	if orderTotalCents >= FreeShippingThresholdCents {
		return 0
	}
	if IsMajorCity(city) {
		return shippingMajorCityCents
	}
	return shippingOtherCents
}

func EstimatedDeliveryDays(city string) int {
	if IsMajorCity(city) {
		return 1
	}
	return 3
}

// FinalTotal: total cart + ongkir - diskon. Tidak pernah negatif.
func FinalTotal(t Totals, shippingCents, discountCents int64) int64 {
	final := t.TotalCents + shippingCents - discountCents
	if final < 0 {
		return 0
	}
	return final
}
