package user

import "context"

// Repository persists user accounts.
type Repository interface {
	Create(ctx context.Context, u *User) error
	GetByID(ctx context.Context, id int64) (*User, error)
	GetByMail(ctx context.Context, email string) (*User, error)
	ListResearchers(ctx context.Context, limit, offset int) ([]*User, int, error)
	UpdateOngoingResearch(ctx context.Context, id int64, research []string) error
}
