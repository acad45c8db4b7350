package record

import (
	"context"
	"errors"

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

type recordRepoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &recordRepoPG{pool: pool}
}

func (r *recordRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const recordCols = `id, patient_id, title, category, hospital, content,
	data_hash, amount, tx_hash, owner_address, created_at`

func (r *recordRepoPG) scanRow(row pgx.Row) (*Record, error) {
	var rec Record
	err := row.Scan(&rec.ID, &rec.PatientID, &rec.Title, &rec.Category,
		&rec.Hospital, &rec.Content, &rec.DataHash, &rec.Amount,
		&rec.TxHash, &rec.OwnerAddr, &rec.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *recordRepoPG) Create(ctx context.Context, rec *Record) error {
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO records (patient_id, title, category, hospital, content,
			data_hash, amount, tx_hash, owner_address)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		RETURNING id, created_at`,
		rec.PatientID, rec.Title, rec.Category, rec.Hospital, rec.Content,
		rec.DataHash, rec.Amount, rec.TxHash, rec.OwnerAddr).
		Scan(&rec.ID, &rec.CreatedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrDuplicate
	}
	return err
}

func (r *recordRepoPG) GetByID(ctx context.Context, id int64) (*Record, error) {
	return r.scanRow(r.conn(ctx).QueryRow(ctx,
		`SELECT `+recordCols+` FROM records WHERE id = $1`, id))
}

func (r *recordRepoPG) GetByDataHash(ctx context.Context, dataHash string) (*Record, error) {
	return r.scanRow(r.conn(ctx).QueryRow(ctx,
		`SELECT `+recordCols+` FROM records WHERE data_hash = $1`, dataHash))
}

func (r *recordRepoPG) GetByOwnerAndHash(ctx context.Context, ownerID int64, dataHash string) (*Record, error) {
	return r.scanRow(r.conn(ctx).QueryRow(ctx,
		`SELECT `+recordCols+` FROM records WHERE patient_id = $1 AND data_hash = $2`,
		ownerID, dataHash))
}

func (r *recordRepoPG) ListByPatient(ctx context.Context, patientID int64, limit, offset int) ([]*Record, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM records WHERE patient_id = $1`, patientID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+recordCols+` FROM records WHERE patient_id = $1
		ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		patientID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	return r.collect(rows, total)
}

func (r *recordRepoPG) ListAll(ctx context.Context, limit, offset int) ([]*Record, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM records`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+recordCols+` FROM records
		ORDER BY created_at DESC LIMIT $1 OFFSET $2`,
		limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	return r.collect(rows, total)
}

func (r *recordRepoPG) collect(rows pgx.Rows, total int) ([]*Record, int, error) {
	var items []*Record
	for rows.Next() {
		rec, err := r.scanRow(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, rec)
	}
	return items, total, rows.Err()
}
