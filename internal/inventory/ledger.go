package inventory

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrConsistency: mutasi yang bakal bikin counter negatif. Ini bug pemanggil,
	// bukan kondisi bisnis — jangan di-clamp diam-diam.
	ErrConsistency = errors.New("inventory consistency violation")

	ErrInvalidQuantity = errors.New("quantity must be positive")
)

const (
	StatusInStock    = "in_stock"
	StatusLowStock   = "low_stock"
	StatusOutOfStock = "out_of_stock"
)

// untrackedAvailable dilaporkan untuk varian tanpa tracking (ikut perilaku lama).
const untrackedAvailable = 999

type Snapshot struct {
	VariantID         string
	Total             int
	Reserved          int
	Available         int
	LowStockThreshold int
	TrackQuantity     bool
}

func (s Snapshot) Status() string {
	if !s.TrackQuantity {
		return StatusInStock
	}
	if s.Available <= 0 {
		return StatusOutOfStock
	}
	if s.Available <= s.LowStockThreshold {
		return StatusLowStock
	}
	return StatusInStock
}

// Ledger adalah satu-satunya penulis counter stok. Invariant
// available = total - reserved dijaga di dalam tiap UPDATE:
// kedua kolom bergerak dalam satu statement, di bawah row lock.
type Ledger struct{ DB *pgxpool.Pool }

func (l *Ledger) Get(ctx context.Context, variantID string) (Snapshot, error) {
	s, found, err := l.snapshot(ctx, l.DB, variantID, false)
	if err != nil {
		return Snapshot{}, err
	}
	if !found {
		// tanpa row inventory = tidak di-track
		return Snapshot{VariantID: variantID, Available: untrackedAvailable}, nil
	}
	return s, nil
}

func (l *Ledger) IsInStock(ctx context.Context, variantID string, qty int) (bool, error) {
	if qty <= 0 {
		return false, ErrInvalidQuantity
	}
	s, found, err := l.snapshot(ctx, l.DB, variantID, false)
	if err != nil {
		return false, err
	}
	if !found || !s.TrackQuantity {
		return true, nil
	}
	return s.Available >= qty, nil
}

func (l *Ledger) AvailableQuantity(ctx context.Context, variantID string) (int, error) {
	s, found, err := l.snapshot(ctx, l.DB, variantID, false)
	if err != nil {
		return 0, err
	}
	if !found || !s.TrackQuantity {
		return untrackedAvailable, nil
	}
	return s.Available, nil
}

// Reserve versi standalone: satu reservasi = satu transaksi sendiri.
// Checkout multi-item pakai ReserveTx di dalam transaksi PlaceOrder.
func (l *Ledger) Reserve(ctx context.Context, variantID string, qty int) (bool, error) {
	var ok bool
	err := l.inTx(ctx, func(tx pgx.Tx) error {
		var err error
		ok, _, err = l.ReserveTx(ctx, tx, variantID, qty)
		return err
	})
	return ok, err
}

// ReserveTx: lock row -> cek available -> geser reserved/available atomik.
// Return available saat gagal, supaya caller bisa tawarkan qty lebih kecil.
func (l *Ledger) ReserveTx(ctx context.Context, tx pgx.Tx, variantID string, qty int) (bool, int, error) {
	if qty <= 0 {
		return false, 0, ErrInvalidQuantity
	}
	s, found, err := l.snapshot(ctx, tx, variantID, true)
	if err != nil {
		return false, 0, err
	}
	if !found || !s.TrackQuantity {
		return true, untrackedAvailable, nil
	}
	if s.Available < qty {
		return false, s.Available, nil
	}
	_, err = tx.Exec(ctx, `
		UPDATE inventories
		SET reserved_quantity = reserved_quantity + $2,
		    available_quantity = available_quantity - $2,
		    updated_at = now()
		WHERE variant_id = $1`, variantID, qty)
	if err != nil {
		return false, 0, err
	}
	return true, s.Available - qty, nil
}

func (l *Ledger) Release(ctx context.Context, variantID string, qty int) error {
	return l.inTx(ctx, func(tx pgx.Tx) error {
		return l.ReleaseTx(ctx, tx, variantID, qty)
	})
}

// ReleaseTx kebalikan reserve. reserved tidak boleh jadi negatif.
func (l *Ledger) ReleaseTx(ctx context.Context, tx pgx.Tx, variantID string, qty int) error {
	if qty <= 0 {
		return ErrInvalidQuantity
	}
	s, found, err := l.snapshot(ctx, tx, variantID, true)
	if err != nil {
		return err
	}
	if !found || !s.TrackQuantity {
		return nil
	}
	if s.Reserved < qty {
		return fmt.Errorf("%w: release %d > reserved %d (variant %s)",
			ErrConsistency, qty, s.Reserved, variantID)
	}
	_, err = tx.Exec(ctx, `
		UPDATE inventories
		SET reserved_quantity = reserved_quantity - $2,
		    available_quantity = available_quantity + $2,
		    updated_at = now()
		WHERE variant_id = $1`, variantID, qty)
	return err
}

func (l *Ledger) Confirm(ctx context.Context, variantID string, qty int) error {
	return l.inTx(ctx, func(tx pgx.Tx) error {
		return l.ConfirmTx(ctx, tx, variantID, qty)
	})
}

// ConfirmTx: barang keluar gudang — total dan reserved turun, available tetap.
func (l *Ledger) ConfirmTx(ctx context.Context, tx pgx.Tx, variantID string, qty int) error {
	if qty <= 0 {
		return ErrInvalidQuantity
	}
	s, found, err := l.snapshot(ctx, tx, variantID, true)
	if err != nil {
		return err
	}
	if !found || !s.TrackQuantity {
		return nil
	}
	if s.Reserved < qty || s.Total < qty {
		return fmt.Errorf("%w: confirm %d > reserved %d / total %d (variant %s)",
			ErrConsistency, qty, s.Reserved, s.Total, variantID)
	}
	_, err = tx.Exec(ctx, `
		UPDATE inventories
		SET quantity = quantity - $2,
		    reserved_quantity = reserved_quantity - $2,
		    updated_at = now()
		WHERE variant_id = $1`, variantID, qty)
	return err
}

// Add: restock — total dan available naik.
func (l *Ledger) Add(ctx context.Context, variantID string, qty int) error {
	if qty <= 0 {
		return ErrInvalidQuantity
	}
	return l.inTx(ctx, func(tx pgx.Tx) error {
		s, found, err := l.snapshot(ctx, tx, variantID, true)
		if err != nil {
			return err
		}
		if !found || !s.TrackQuantity {
			return nil
		}
		_, err = tx.Exec(ctx, `
			UPDATE inventories
			SET quantity = quantity + $2,
			    available_quantity = available_quantity + $2,
			    updated_at = now()
			WHERE variant_id = $1`, variantID, qty)
		return err
	})
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (l *Ledger) snapshot(ctx context.Context, q querier, variantID string, lock bool) (Snapshot, bool, error) {
	sql := `
		SELECT quantity, reserved_quantity, available_quantity,
		       low_stock_threshold, track_quantity
		FROM inventories WHERE variant_id = $1`
	if lock {
		sql += ` FOR UPDATE`
	}
	s := Snapshot{VariantID: variantID}
	err := q.QueryRow(ctx, sql, variantID).Scan(
		&s.Total, &s.Reserved, &s.Available, &s.LowStockThreshold, &s.TrackQuantity,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Snapshot{}, false, nil
	}
	if err != nil {
		return Snapshot{}, false, err
	}
	return s, true, nil
}

func (l *Ledger) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := l.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
