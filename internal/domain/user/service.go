package user

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/patientx/patientx/internal/platform/auth"
)

type Service struct {
	repo    Repository
	tokens  auth.TokenConfig
	revoked *auth.TokenRevocationStore
}

func NewService(repo Repository, tokens auth.TokenConfig, revoked *auth.TokenRevocationStore) *Service {
	return &Service{repo: repo, tokens: tokens, revoked: revoked}
}

// SignupInput carries the fields accepted at registration.
type SignupInput struct {
	Username        string   `json:"username"`
	Mail            string   `json:"mail"`
	Phone           string   `json:"phone"`
	Password        string   `json:"password"`
	Role            string   `json:"role"`
	OngoingResearch []string `json:"ongoingResearch"`
}

func (in *SignupInput) validate() error {
	if strings.TrimSpace(in.Username) == "" {
		return fmt.Errorf("username is required")
	}
	if !strings.Contains(in.Mail, "@") {
		return fmt.Errorf("valid mail address is required")
	}
	if len(in.Password) < 8 {
		return fmt.Errorf("password must be at least 8 characters")
	}
	if !ValidRole(in.Role) {
		return fmt.Errorf("role must be %q or %q", RolePatient, RoleResearcher)
	}
	return nil
}

// Signup registers a new account and returns it with a session token.
func (s *Service) Signup(ctx context.Context, in SignupInput) (*User, string, error) {
	if err := in.validate(); err != nil {
		return nil, "", err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, "", fmt.Errorf("hash password: %w", err)
	}

	u := &User{
		Username:        strings.TrimSpace(in.Username),
		Mail:            strings.ToLower(strings.TrimSpace(in.Mail)),
		Phone:           strings.TrimSpace(in.Phone),
		PasswordHash:    string(hash),
		Role:            in.Role,
		OngoingResearch: in.OngoingResearch,
	}
	if err := s.repo.Create(ctx, u); err != nil {
		return nil, "", err
	}

	token, _, err := auth.IssueToken(s.tokens, u.ID, u.Role)
	if err != nil {
		return nil, "", fmt.Errorf("issue token: %w", err)
	}
	return u, token, nil
}

// Signin authenticates by mail and password and returns a session token.
// Lookup and comparison failures collapse into ErrInvalidCredentials so the
// response does not reveal which accounts exist.
func (s *Service) Signin(ctx context.Context, mail, password string) (*User, string, error) {
	u, err := s.repo.GetByMail(ctx, strings.ToLower(strings.TrimSpace(mail)))
	if err != nil {
		return nil, "", ErrInvalidCredentials
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return nil, "", ErrInvalidCredentials
	}

	token, _, err := auth.IssueToken(s.tokens, u.ID, u.Role)
	if err != nil {
		return nil, "", fmt.Errorf("issue token: %w", err)
	}
	return u, token, nil
}

// Signout revokes the presented token.
func (s *Service) Signout(jti string, userID int64, expiresAt time.Time) {
	if s.revoked != nil && jti != "" {
		s.revoked.Revoke(jti, userID, expiresAt)
	}
}

func (s *Service) GetProfile(ctx context.Context, id int64) (*User, error) {
	return s.repo.GetByID(ctx, id)
}

// ListResearchers returns the public researcher directory.
func (s *Service) ListResearchers(ctx context.Context, limit, offset int) ([]*Researcher, int, error) {
	users, total, err := s.repo.ListResearchers(ctx, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	out := make([]*Researcher, len(users))
	for i, u := range users {
		out[i] = u.ToResearcher()
	}
	return out, total, nil
}

// GetOngoingResearch returns a user's project list; empty for users with
// none recorded.
func (s *Service) GetOngoingResearch(ctx context.Context, id int64) ([]string, error) {
	u, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if u.OngoingResearch == nil {
		return []string{}, nil
	}
	return u.OngoingResearch, nil
}

// UpdateOngoingResearch replaces a researcher's project list.
func (s *Service) UpdateOngoingResearch(ctx context.Context, id int64, research []string) error {
	if research == nil {
		research = []string{}
	}
	return s.repo.UpdateOngoingResearch(ctx, id, research)
}
