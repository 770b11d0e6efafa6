package auth

import (
	"context"
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"mangashelf/internal/apperr"
	"mangashelf/internal/logging"
	"mangashelf/pkg/models"
)

var errInvalidCredentials = fmt.Errorf("invalid username or password: %w", apperr.ErrAuth)

// Service holds the account rules shared by the HTTP handler and shelfctl.
type Service struct {
	Repo *Repo
	// BootstrapAdmin, when set, is the only username that may become the
	// first admin.
	BootstrapAdmin string
}

func NewService(repo *Repo, bootstrapAdmin string) *Service {
	return &Service{Repo: repo, BootstrapAdmin: NormalizeUsername(bootstrapAdmin)}
}

func validateUsername(username string) error {
	if n := utf8.RuneCountInString(username); n < 3 || n > 30 {
		return apperr.Validation("username", "must be 3-30 chars")
	}
	return nil
}

func validatePassword(field, password string) error {
	if len(password) < 8 || len(password) > 72 {
		return apperr.Validation(field, "must be 8-72 chars")
	}
	return nil
}

// Register creates an account, or claims an imported account that has no
// password yet. The first account to register becomes admin.
func (s *Service) Register(ctx context.Context, username, password string) (*models.User, error) {
	username = NormalizeUsername(username)
	if err := validateUsername(username); err != nil {
		return nil, err
	}
	if err := validatePassword("password", password); err != nil {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	existing, err := s.Repo.GetByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	var u *models.User
	switch {
	case existing != nil && existing.PasswordHash != "":
		return nil, apperr.Conflict("username already exists")
	case existing != nil:
		if err := s.Repo.SetPasswordHash(ctx, existing.ID, string(hash)); err != nil {
			return nil, err
		}
		u = existing
		u.PasswordHash = string(hash)
	default:
		u = &models.User{
			ID:           uuid.NewString(),
			Username:     username,
			PasswordHash: string(hash),
			Language:     models.LanguageEnglish,
		}
		if err := s.Repo.CreateUser(ctx, *u); err != nil {
			return nil, err
		}
	}

	if err := s.bootstrapAdmin(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

// EnsureUser returns the account for username, creating it without a
// password when missing. Used by imports; the account can be claimed later
// through Register.
func (s *Service) EnsureUser(ctx context.Context, username string) (*models.User, error) {
	username = NormalizeUsername(username)
	if err := validateUsername(username); err != nil {
		return nil, err
	}
	if u, err := s.Repo.GetByUsername(ctx, username); err != nil || u != nil {
		return u, err
	}
	u := &models.User{ID: uuid.NewString(), Username: username, Language: models.LanguageEnglish}
	if err := s.Repo.CreateUser(ctx, *u); err != nil {
		return nil, err
	}
	return u, nil
}

func (s *Service) bootstrapAdmin(ctx context.Context, u *models.User) error {
	hasAdmin, err := s.Repo.HasAdmin(ctx)
	if err != nil {
		return err
	}
	if hasAdmin || (s.BootstrapAdmin != "" && s.BootstrapAdmin != u.Username) {
		return nil
	}
	if err := s.Repo.SetAdmin(ctx, u.ID, true); err != nil {
		return err
	}
	u.IsAdmin = true
	logging.Info().Str("username", u.Username).Msg("bootstrapped first admin")
	return nil
}

func (s *Service) Login(ctx context.Context, username, password string) (*models.User, error) {
	username = NormalizeUsername(username)
	if username == "" || password == "" {
		return nil, apperr.Validation("username", "username and password required")
	}
	u, err := s.Repo.GetByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	// don't reveal which part failed
	if u == nil || u.PasswordHash == "" {
		return nil, errInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return nil, errInvalidCredentials
	}
	return u, nil
}

func (s *Service) ChangePassword(ctx context.Context, userID, current, next string) error {
	if current == "" || next == "" {
		return apperr.Validation("new_password", "current_password and new_password required")
	}
	if err := validatePassword("new_password", next); err != nil {
		return err
	}
	u, err := s.Repo.GetByID(ctx, userID)
	if err != nil {
		return err
	}
	if u == nil {
		return apperr.ErrAuth
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(current)); err != nil {
		return apperr.Validation("current_password", "current password is incorrect")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(next), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	return s.Repo.UpdatePasswordAndBumpTokenVersion(ctx, u.ID, string(hash))
}

func (s *Service) DeleteAccount(ctx context.Context, userID string) error {
	if err := s.Repo.Delete(ctx, userID); err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return apperr.ErrAuth
		}
		return err
	}
	return nil
}
