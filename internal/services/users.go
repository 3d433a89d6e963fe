package services

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/rotisserie/eris"

	"spcbench-backend-go/internal/models"
)

const userColumns = `id, email, password_hash, university, website, description, is_active, is_verified,
  is_superuser, created_at, updated_at, last_login_at`

func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func GetUser(ctx context.Context, db sqlx.ExtContext, userID string) (models.User, error) {
	var user models.User
	err := sqlx.GetContext(ctx, db, &user, db.Rebind(`SELECT `+userColumns+` FROM users WHERE id = ?`), userID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.User{}, ErrNotFound("User not found.")
	}
	return user, eris.Wrap(err, "get user")
}

func GetUserByEmail(ctx context.Context, db sqlx.ExtContext, email string) (models.User, error) {
	var user models.User
	err := sqlx.GetContext(ctx, db, &user, db.Rebind(`SELECT `+userColumns+` FROM users WHERE email = ?`), NormalizeEmail(email))
	if errors.Is(err, sql.ErrNoRows) {
		return models.User{}, ErrNotFound("User not found.")
	}
	return user, eris.Wrap(err, "get user by email")
}

type NewUser struct {
	Email       string
	Password    string
	University  string
	Website     string
	Description string
	IsVerified  bool
	IsSuperuser bool
}

// CreateUser inserts an active account; email uniqueness is enforced here and
// by the unique index.
func CreateUser(ctx context.Context, db *sqlx.DB, tokens TokenService, in NewUser) (models.User, error) {
	email := NormalizeEmail(in.Email)
	if _, err := GetUserByEmail(ctx, db, email); err == nil {
		return models.User{}, ErrConflict("A user with this email already exists.")
	} else if _, ok := AsServiceError(err); !ok {
		return models.User{}, err
	}
	hash, err := tokens.HashPassword(in.Password)
	if err != nil {
		return models.User{}, eris.Wrap(err, "hash password")
	}
	now := time.Now().UTC()
	user := models.User{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: hash,
		University:   strings.TrimSpace(in.University),
		Website:      strings.TrimSpace(in.Website),
		Description:  strings.TrimSpace(in.Description),
		IsActive:     true,
		IsVerified:   in.IsVerified,
		IsSuperuser:  in.IsSuperuser,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	_, err = db.NamedExecContext(ctx, `
INSERT INTO users (id, email, password_hash, university, website, description, is_active, is_verified, is_superuser, created_at, updated_at)
VALUES (:id, :email, :password_hash, :university, :website, :description, :is_active, :is_verified, :is_superuser, :created_at, :updated_at)
`, user)
	if err != nil {
		return models.User{}, eris.Wrap(err, "insert user")
	}
	return user, nil
}

func SetLastLogin(ctx context.Context, db *sqlx.DB, userID string) error {
	now := time.Now().UTC()
	_, err := db.ExecContext(ctx, db.Rebind(`UPDATE users SET last_login_at = ? WHERE id = ?`), now, userID)
	return eris.Wrap(err, "set last login")
}

func SetPassword(ctx context.Context, db *sqlx.DB, tokens TokenService, userID, password string) error {
	hash, err := tokens.HashPassword(password)
	if err != nil {
		return eris.Wrap(err, "hash password")
	}
	_, err = db.ExecContext(ctx, db.Rebind(`UPDATE users SET password_hash = ?, updated_at = ? WHERE id = ?`),
		hash, time.Now().UTC(), userID)
	return eris.Wrap(err, "set password")
}

// Authenticate checks credentials; unknown users and wrong passwords are
// indistinguishable to the caller.
func Authenticate(ctx context.Context, db *sqlx.DB, tokens TokenService, email, password string) (models.User, error) {
	user, err := GetUserByEmail(ctx, db, email)
	if err != nil {
		if _, ok := AsServiceError(err); ok {
			return models.User{}, ErrUnauthorized("Invalid email or password.")
		}
		return models.User{}, err
	}
	if !tokens.VerifyPassword(password, user.PasswordHash) {
		return models.User{}, ErrUnauthorized("Invalid email or password.")
	}
	if !user.IsActive {
		return models.User{}, ErrForbidden("Account is disabled.")
	}
	return user, nil
}

// CountRecentEntries counts every entry the user created since the given
// instant, soft-deleted ones included.
func CountRecentEntries(ctx context.Context, db sqlx.ExtContext, userID string, since time.Time) (int, error) {
	var count int
	err := sqlx.GetContext(ctx, db, &count,
		db.Rebind(`SELECT COUNT(*) FROM reconstruction_entries WHERE creator_id = ? AND created_at >= ?`),
		userID, since.UTC())
	return count, eris.Wrap(err, "count recent entries")
}

// CheckQuota enforces the trailing 24 hour upload quota.
func CheckQuota(ctx context.Context, db sqlx.ExtContext, user models.User, quota int, now time.Time) error {
	if user.IsSuperuser {
		return nil
	}
	if !user.IsActive || !user.IsVerified {
		return ErrForbidden("Only verified accounts can submit results.")
	}
	count, err := CountRecentEntries(ctx, db, user.ID, now.Add(-24*time.Hour))
	if err != nil {
		return err
	}
	if !user.CanUpload(count, quota) {
		return ErrForbidden("Daily submission limit reached. Please try again later.")
	}
	return nil
}

type UserFlags struct {
	IsActive    *bool `json:"isActive"`
	IsVerified  *bool `json:"isVerified"`
	IsSuperuser *bool `json:"isSuperuser"`
}

// UpdateUserFlags applies the non-nil flags.
func UpdateUserFlags(ctx context.Context, db *sqlx.DB, userID string, flags UserFlags) (models.User, error) {
	sets := []string{}
	args := []interface{}{}
	if flags.IsActive != nil {
		sets = append(sets, "is_active = ?")
		args = append(args, *flags.IsActive)
	}
	if flags.IsVerified != nil {
		sets = append(sets, "is_verified = ?")
		args = append(args, *flags.IsVerified)
	}
	if flags.IsSuperuser != nil {
		sets = append(sets, "is_superuser = ?")
		args = append(args, *flags.IsSuperuser)
	}
	if len(sets) == 0 {
		return GetUser(ctx, db, userID)
	}
	sets = append(sets, "updated_at = ?")
	args = append(args, time.Now().UTC(), userID)
	res, err := db.ExecContext(ctx, db.Rebind(`UPDATE users SET `+strings.Join(sets, ", ")+` WHERE id = ?`), args...)
	if err != nil {
		return models.User{}, eris.Wrap(err, "update user flags")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.User{}, ErrNotFound("User not found.")
	}
	return GetUser(ctx, db, userID)
}

// ListUsers pages through accounts ordered by creation, optionally filtered
// by an email substring.
func ListUsers(ctx context.Context, db *sqlx.DB, search string, page, size int) ([]models.User, int, error) {
	where := "1 = 1"
	args := []interface{}{}
	if search = strings.TrimSpace(search); search != "" {
		where = "LOWER(email) LIKE ?"
		args = append(args, "%"+strings.ToLower(search)+"%")
	}
	var total int
	if err := db.GetContext(ctx, &total, db.Rebind(`SELECT COUNT(*) FROM users WHERE `+where), args...); err != nil {
		return nil, 0, eris.Wrap(err, "count users")
	}
	if page < 1 {
		page = 1
	}
	if size <= 0 || size > 100 {
		size = 25
	}
	users := []models.User{}
	query := db.Rebind(`SELECT ` + userColumns + ` FROM users WHERE ` + where + ` ORDER BY created_at DESC, id LIMIT ? OFFSET ?`)
	if err := db.SelectContext(ctx, &users, query, append(args, size, (page-1)*size)...); err != nil {
		return nil, 0, eris.Wrap(err, "list users")
	}
	return users, total, nil
}
