package record

import "context"

// Repository persists records. There is no update or delete: the store is
// append-only.
type Repository interface {
	Create(ctx context.Context, r *Record) error
	GetByID(ctx context.Context, id int64) (*Record, error)
	GetByDataHash(ctx context.Context, dataHash string) (*Record, error)
	GetByOwnerAndHash(ctx context.Context, ownerID int64, dataHash string) (*Record, error)
	ListByPatient(ctx context.Context, patientID int64, limit, offset int) ([]*Record, int, error)
	ListAll(ctx context.Context, limit, offset int) ([]*Record, int, error)
}
