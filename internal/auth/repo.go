package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"mangashelf/internal/apperr"
	"mangashelf/pkg/models"
)

type Repo struct {
	DB *sql.DB
}

func NewRepo(db *sql.DB) *Repo {
	return &Repo{DB: db}
}

const userColumns = `id, username, password_hash, age, gender, language, is_admin, token_version, created_at`

func scanUser(row interface{ Scan(...any) error }) (*models.User, error) {
	var (
		u   models.User
		age sql.NullInt64
	)
	if err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &age, &u.Gender, &u.Language, &u.IsAdmin, &u.TokenVersion, &u.CreatedAt); err != nil {
		return nil, err
	}
	if age.Valid {
		v := int(age.Int64)
		u.Age = &v
	}
	return &u, nil
}

// NormalizeUsername is the stored form of a username.
func NormalizeUsername(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func (r *Repo) CreateUser(ctx context.Context, u models.User) error {
	_, err := r.DB.ExecContext(ctx, `
		INSERT INTO users (id, username, password_hash, age, gender, language, is_admin)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, u.ID, NormalizeUsername(u.Username), u.PasswordHash, u.Age, u.Gender, languageOrDefault(u.Language), u.IsAdmin)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return apperr.Conflict("username already exists")
		}
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func (r *Repo) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	u, err := scanUser(r.DB.QueryRowContext(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE username = ?
	`, NormalizeUsername(username)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get by username: %w", err)
	}
	return u, nil
}

func (r *Repo) GetByID(ctx context.Context, id string) (*models.User, error) {
	u, err := scanUser(r.DB.QueryRowContext(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE id = ?
	`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get by id: %w", err)
	}
	return u, nil
}

func (r *Repo) List(ctx context.Context) ([]models.User, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY username`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	out := []models.User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		out = append(out, *u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows err: %w", err)
	}
	return out, nil
}

// GetTokenVersion returns ErrAuth for an unknown user so deleted accounts
// cannot keep using old tokens.
func (r *Repo) GetTokenVersion(ctx context.Context, id string) (int, error) {
	var version int
	err := r.DB.QueryRowContext(ctx, `SELECT token_version FROM users WHERE id = ?`, id).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, apperr.ErrAuth
	}
	if err != nil {
		return 0, fmt.Errorf("get token version: %w", err)
	}
	return version, nil
}

func (r *Repo) HasAdmin(ctx context.Context) (bool, error) {
	var n int
	if err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM users WHERE is_admin = 1`).Scan(&n); err != nil {
		return false, fmt.Errorf("count admins: %w", err)
	}
	return n > 0, nil
}

func (r *Repo) SetAdmin(ctx context.Context, id string, admin bool) error {
	return r.execOne(ctx, "set admin", `UPDATE users SET is_admin = ? WHERE id = ?`, admin, id)
}

// SetPasswordHash is used when an imported account without a password is claimed.
func (r *Repo) SetPasswordHash(ctx context.Context, id, hash string) error {
	return r.execOne(ctx, "set password", `UPDATE users SET password_hash = ? WHERE id = ?`, hash, id)
}

func (r *Repo) UpdatePasswordAndBumpTokenVersion(ctx context.Context, id string, passwordHash string) error {
	return r.execOne(ctx, "update password", `
		UPDATE users
		SET password_hash = ?, token_version = token_version + 1
		WHERE id = ?
	`, passwordHash, id)
}

func (r *Repo) BumpTokenVersion(ctx context.Context, id string) error {
	return r.execOne(ctx, "bump token version", `
		UPDATE users
		SET token_version = token_version + 1
		WHERE id = ?
	`, id)
}

// Delete removes the user; library rows and events go with it through
// ON DELETE CASCADE.
func (r *Repo) Delete(ctx context.Context, id string) error {
	return r.execOne(ctx, "delete user", `DELETE FROM users WHERE id = ?`, id)
}

func (r *Repo) execOne(ctx context.Context, op, query string, args ...any) error {
	res, err := r.DB.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows: %w", op, err)
	}
	if affected == 0 {
		return fmt.Errorf("%s: %w", op, apperr.NotFound("user"))
	}
	return nil
}

func languageOrDefault(lang string) string {
	if lang == models.LanguageJapanese {
		return lang
	}
	return models.LanguageEnglish
}
