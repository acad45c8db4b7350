package payment

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/patientx/patientx/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type paymentRepoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &paymentRepoPG{pool: pool}
}

func (r *paymentRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const orderCols = `id, requester_id, owner_id, data_hash, provider_order_id,
	amount, currency, receipt, status, payment_id, created_at, paid_at`

func (r *paymentRepoPG) scanRow(row pgx.Row) (*Order, error) {
	var o Order
	var paymentID *string
	err := row.Scan(&o.ID, &o.RequesterID, &o.OwnerID, &o.DataHash,
		&o.ProviderOrderID, &o.Amount, &o.Currency, &o.Receipt, &o.Status,
		&paymentID, &o.CreatedAt, &o.PaidAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if paymentID != nil {
		o.PaymentID = *paymentID
	}
	return &o, nil
}

func (r *paymentRepoPG) Create(ctx context.Context, o *Order) error {
	o.ID = uuid.New()
	o.Status = StatusCreated
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO payment_orders
			(id, requester_id, owner_id, data_hash, provider_order_id,
			 amount, currency, receipt, status)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		RETURNING created_at`,
		o.ID, o.RequesterID, o.OwnerID, o.DataHash, o.ProviderOrderID,
		o.Amount, o.Currency, o.Receipt, o.Status).
		Scan(&o.CreatedAt)
}

func (r *paymentRepoPG) GetByProviderOrderID(ctx context.Context, providerOrderID string) (*Order, error) {
	return r.scanRow(r.conn(ctx).QueryRow(ctx,
		`SELECT `+orderCols+` FROM payment_orders WHERE provider_order_id = $1`,
		providerOrderID))
}

func (r *paymentRepoPG) MarkPaid(ctx context.Context, providerOrderID, paymentID string) (*Order, error) {
	o, err := r.scanRow(r.conn(ctx).QueryRow(ctx, `
		UPDATE payment_orders
		SET status = $2, payment_id = $3, paid_at = NOW()
		WHERE provider_order_id = $1 AND status = $4
		RETURNING `+orderCols,
		providerOrderID, StatusPaid, paymentID, StatusCreated))
	if !errors.Is(err, ErrNotFound) {
		return o, err
	}
	// Zero rows: the order either does not exist or was already paid.
	if _, loadErr := r.GetByProviderOrderID(ctx, providerOrderID); loadErr != nil {
		return nil, loadErr
	}
	return nil, ErrAlreadyPaid
}

func (r *paymentRepoPG) ListByRequester(ctx context.Context, requesterID int64) ([]*Order, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+orderCols+` FROM payment_orders
		WHERE requester_id = $1
		ORDER BY created_at DESC`,
		requesterID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var orders []*Order
	for rows.Next() {
		o, err := r.scanRow(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}
