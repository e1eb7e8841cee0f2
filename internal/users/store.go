// internal/users/store.go
//
// User accounts for the login and profile screens.
// Responsibilities:
//   - Signup validation, bcrypt hashing, case-insensitive uniqueness.
//   - Lookup by ID / username and password verification.
//   - Profile edits (display name, avatar URL).

package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/flipmatch/go-server/internal/db"
)

var (
	ErrUsernameTaken      = errors.New("username taken")
	ErrNotFound           = errors.New("user not found")
	ErrInvalidCredentials = errors.New("invalid username or password")
	// ErrInvalidInput wraps signup and profile validation failures.
	ErrInvalidInput = errors.New("invalid input")
)

// User matches the users table shape.
type User struct {
	ID              string    `json:"id"`
	Username        string    `json:"username"`
	PasswordHash    string    `json:"-"`
	DisplayName     string    `json:"displayName"`
	ProfileImageURL string    `json:"profileImageUrl"`
	TotalScore      int       `json:"totalScore"`
	GamesPlayed     int       `json:"gamesPlayed"`
	CreatedAt       time.Time `json:"createdAt"`
}

// Name returns the display name, or the username when none is set.
func (u *User) Name() string {
	if u.DisplayName != "" {
		return u.DisplayName
	}
	return u.Username
}

// Store persists users.
type Store struct {
	db *db.DB
}

func NewStore(d *db.DB) *Store { return &Store{db: d} }

const userColumns = `id, username, password_hash, display_name, profile_image_url, total_score, games_played, created_at`

// Create validates input, checks uniqueness, hashes the password, and
// inserts a new user. A concurrent signup that wins the race still yields
// ErrUsernameTaken through the lower(username) unique index.
func (s *Store) Create(ctx context.Context, username, pw string) (*User, error) {
	username = normalizeUsername(username)
	if err := validateSignup(username, pw); err != nil {
		return nil, err
	}
	var exists int
	err := s.db.QueryRowContext(ctx, s.db.Rebind(`SELECT 1 FROM users WHERE lower(username)=lower(?)`), username).Scan(&exists)
	if err == nil {
		return nil, ErrUsernameTaken
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("check username: %w", err)
	}

	h, err := bcrypt.GenerateFromPassword([]byte(pw), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	u := &User{
		ID:           uuid.NewString(),
		Username:     username,
		PasswordHash: string(h),
		CreatedAt:    time.Now().UTC().Truncate(time.Second),
	}
	if _, err := s.db.ExecContext(ctx, s.db.Rebind(`INSERT INTO users (id, username, password_hash, created_at) VALUES (?,?,?,?)`),
		u.ID, u.Username, u.PasswordHash, u.CreatedAt.Format(time.RFC3339)); err != nil {
		if db.IsUniqueViolation(err) {
			return nil, ErrUsernameTaken
		}
		return nil, fmt.Errorf("insert user: %w", err)
	}
	return u, nil
}

// Authenticate returns the user when the password matches.
func (s *Store) Authenticate(ctx context.Context, username, pw string) (*User, error) {
	u, err := s.FindByUsername(ctx, normalizeUsername(username))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(pw)) != nil {
		return nil, ErrInvalidCredentials
	}
	return u, nil
}

// FindByUsername loads a user case-insensitively.
func (s *Store) FindByUsername(ctx context.Context, username string) (*User, error) {
	row := s.db.QueryRowContext(ctx, s.db.Rebind(`SELECT `+userColumns+` FROM users WHERE lower(username)=lower(?)`), username)
	return scanUser(row)
}

// FindByID loads a user by ID.
func (s *Store) FindByID(ctx context.Context, id string) (*User, error) {
	row := s.db.QueryRowContext(ctx, s.db.Rebind(`SELECT `+userColumns+` FROM users WHERE id=?`), id)
	return scanUser(row)
}

// ProfilePatch holds optional profile fields; nil means unchanged.
type ProfilePatch struct {
	DisplayName     *string `json:"displayName"`
	ProfileImageURL *string `json:"profileImageUrl"`
}

// UpdateProfile applies a patch and returns the updated user.
func (s *Store) UpdateProfile(ctx context.Context, id string, p ProfilePatch) (*User, error) {
	u, err := s.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.DisplayName != nil {
		name := strings.TrimSpace(*p.DisplayName)
		if len(name) > 40 {
			return nil, fmt.Errorf("%w: display name must be at most 40 chars", ErrInvalidInput)
		}
		u.DisplayName = name
	}
	if p.ProfileImageURL != nil {
		u.ProfileImageURL = strings.TrimSpace(*p.ProfileImageURL)
	}
	if _, err := s.db.ExecContext(ctx, s.db.Rebind(`UPDATE users SET display_name=?, profile_image_url=? WHERE id=?`),
		u.DisplayName, u.ProfileImageURL, u.ID); err != nil {
		return nil, fmt.Errorf("update profile: %w", err)
	}
	return u, nil
}

// scanUser converts a *sql.Row into a User.
func scanUser(row *sql.Row) (*User, error) {
	var u User
	var created string
	err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.DisplayName, &u.ProfileImageURL, &u.TotalScore, &u.GamesPlayed, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	u.CreatedAt, _ = time.Parse(time.RFC3339, created)
	return &u, nil
}

// normalizeUsername trims whitespace; adjust here if you want stricter rules.
func normalizeUsername(u string) string {
	return strings.TrimSpace(u)
}

// validateSignup enforces basic username/password rules.
func validateSignup(u, p string) error {
	if len(u) < 3 || len(u) > 24 {
		return fmt.Errorf("%w: username must be 3–24 chars", ErrInvalidInput)
	}
	for _, r := range u {
		if !(r == '_' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9') {
			return fmt.Errorf("%w: username may only use letters, numbers and underscore", ErrInvalidInput)
		}
	}
	if len(p) < 8 || len(p) > 100 {
		return fmt.Errorf("%w: password must be 8–100 chars", ErrInvalidInput)
	}
	return nil
}
