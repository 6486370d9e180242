package catalog

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrVariantNotFound = errors.New("variant not found")

// Variant adalah snapshot read-only dari katalog, cukup untuk
// cart pricing, order item snapshot, dan basket item gateway.
type Variant struct {
	ID          string
	ProductID   string
	SKU         string
	Name        string
	ProductName string
	ProductSKU  string
	Category    string
	PriceCents  int64
	DiscountPct int
	WeightGrams int
	Active      bool
}

type Repo struct{ DB *pgxpool.Pool }

const variantQuery = `
	SELECT v.id, v.product_id, v.sku, v.name, p.name, p.sku,
	       COALESCE(c.name, ''), v.price_cents, COALESCE(v.discount_pct, 0),
	       COALESCE(v.weight_grams, 0), v.active AND p.active
	FROM product_variants v
	JOIN products p ON p.id = v.product_id
	LEFT JOIN categories c ON c.id = p.category_id`

func (r *Repo) GetVariant(ctx context.Context, variantID string) (Variant, error) {
	var v Variant
	err := r.DB.QueryRow(ctx, variantQuery+` WHERE v.id=$1`, variantID).Scan(
		&v.ID, &v.ProductID, &v.SKU, &v.Name, &v.ProductName, &v.ProductSKU,
		&v.Category, &v.PriceCents, &v.DiscountPct, &v.WeightGrams, &v.Active,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Variant{}, ErrVariantNotFound
	}
	if err != nil {
		return Variant{}, err
	}
	return v, nil
}

// GetVariants ambil banyak sekaligus (dipakai checkout) — satu query, bukan N.
func (r *Repo) GetVariants(ctx context.Context, variantIDs []string) (map[string]Variant, error) {
	rows, err := r.DB.Query(ctx, variantQuery+` WHERE v.id = ANY($1)`, variantIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]Variant, len(variantIDs))
	for rows.Next() {
		var v Variant
		if err := rows.Scan(
			&v.ID, &v.ProductID, &v.SKU, &v.Name, &v.ProductName, &v.ProductSKU,
			&v.Category, &v.PriceCents, &v.DiscountPct, &v.WeightGrams, &v.Active,
		); err != nil {
			return nil, err
		}
		out[v.ID] = v
	}
	return out, rows.Err()
}
