package user

import "time"

// Roles assignable at signup.
const (
	RolePatient    = "patient"
	RoleResearcher = "researcher"
)

// User is an account holder. IDs are sequential and start at 1; the ledger
// layer maps id-1 onto the node account pool.
type User struct {
	ID              int64     `json:"id"`
	Username        string    `json:"username"`
	Mail            string    `json:"mail"`
	Phone           string    `json:"phone,omitempty"`
	PasswordHash    string    `json:"-"`
	Role            string    `json:"role"`
	OngoingResearch []string  `json:"ongoingResearch,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// Researcher is the public directory view of a researcher account. It never
// carries credentials or contact details beyond the email.
type Researcher struct {
	ID              int64    `json:"id"`
	Username        string   `json:"username"`
	Mail            string   `json:"mail"`
	OngoingResearch []string `json:"ongoingResearch"`
}

func (u *User) ToResearcher() *Researcher {
	research := u.OngoingResearch
	if research == nil {
		research = []string{}
	}
	return &Researcher{
		ID:              u.ID,
		Username:        u.Username,
		Mail:            u.Mail,
		OngoingResearch: research,
	}
}

// ValidRole reports whether role is one of the assignable roles.
func ValidRole(role string) bool {
	return role == RolePatient || role == RoleResearcher
}
