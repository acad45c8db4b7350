package consent

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

type consentRepoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &consentRepoPG{pool: pool}
}

func (r *consentRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const reqCols = `id, requester_id, owner_id, data_hash, status, requested_at, granted_at`

func (r *consentRepoPG) scanRow(row pgx.Row) (*Request, error) {
	var req Request
	err := row.Scan(&req.ID, &req.RequesterID, &req.OwnerID, &req.DataHash,
		&req.Status, &req.RequestedAt, &req.GrantedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &req, nil
}

func (r *consentRepoPG) CreateRequest(ctx context.Context, req *Request) error {
	req.ID = uuid.New()
	req.Status = StatusPending
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO consent_requests (id, requester_id, owner_id, data_hash, status)
		VALUES ($1,$2,$3,$4,$5)
		RETURNING requested_at`,
		req.ID, req.RequesterID, req.OwnerID, req.DataHash, req.Status).
		Scan(&req.RequestedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrDuplicate
	}
	return err
}

func (r *consentRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Request, error) {
	return r.scanRow(r.conn(ctx).QueryRow(ctx,
		`SELECT `+reqCols+` FROM consent_requests WHERE id = $1`, id))
}

func (r *consentRepoPG) ListPending(ctx context.Context, ownerID int64, limit, offset int) ([]*Request, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `
		SELECT COUNT(*) FROM consent_requests
		WHERE owner_id = $1 AND status = $2`,
		ownerID, StatusPending).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+reqCols+` FROM consent_requests
		WHERE owner_id = $1 AND status = $2
		ORDER BY requested_at DESC LIMIT $3 OFFSET $4`,
		ownerID, StatusPending, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	return r.collect(rows, total)
}

func (r *consentRepoPG) ListByRequester(ctx context.Context, requesterID int64, limit, offset int) ([]*Request, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `
		SELECT COUNT(*) FROM consent_requests WHERE requester_id = $1`,
		requesterID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+reqCols+` FROM consent_requests
		WHERE requester_id = $1
		ORDER BY requested_at DESC LIMIT $2 OFFSET $3`,
		requesterID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	return r.collect(rows, total)
}

func (r *consentRepoPG) collect(rows pgx.Rows, total int) ([]*Request, int, error) {
	var items []*Request
	for rows.Next() {
		req, err := r.scanRow(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, req)
	}
	return items, total, rows.Err()
}

func (r *consentRepoPG) Transition(ctx context.Context, id uuid.UUID, actorID int64, target Status) (*Request, error) {
	rule, ok := transitionRules[target]
	if !ok {
		return nil, ErrInvalidState
	}
	actorCol := "requester_id"
	if rule.ownerActed {
		actorCol = "owner_id"
	}
	set := `status = $3`
	if target == StatusApproved {
		set = `status = $3, granted_at = NOW()`
	}

	// Status check, actor authorization, and the write are one statement;
	// of two racing transitions only the first sees a matching row.
	req, err := r.scanRow(r.conn(ctx).QueryRow(ctx, `
		UPDATE consent_requests SET `+set+`
		WHERE id = $1 AND `+actorCol+` = $2 AND status = $4
		RETURNING `+reqCols,
		id, actorID, target, rule.from))
	if !errors.Is(err, ErrNotFound) {
		return req, err
	}

	// Zero rows: distinguish a missing/forbidden request from a state
	// conflict.
	existing, loadErr := r.GetByID(ctx, id)
	if loadErr != nil {
		return nil, loadErr
	}
	authorized := existing.RequesterID == actorID
	if rule.ownerActed {
		authorized = existing.OwnerID == actorID
	}
	if !authorized {
		return nil, ErrNotFound
	}
	return nil, ErrInvalidState
}

func (r *consentRepoPG) HasApproved(ctx context.Context, ownerID, requesterID int64, dataHash string) (bool, error) {
	var exists bool
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM consent_requests
			WHERE owner_id = $1 AND requester_id = $2 AND data_hash = $3
			  AND status = $4
		)`,
		ownerID, requesterID, dataHash, StatusApproved).Scan(&exists)
	return exists, err
}

func (r *consentRepoPG) RecordAnomaly(ctx context.Context, a *Anomaly) error {
	a.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO consent_anomalies (id, request_id, txn_ref, detail)
		VALUES ($1,$2,$3,$4)
		RETURNING created_at`,
		a.ID, a.RequestID, a.TxnRef, a.Detail).
		Scan(&a.CreatedAt)
}
