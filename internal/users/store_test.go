package users

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/flipmatch/go-server/internal/db"
	"github.com/flipmatch/go-server/internal/db/dbtest"
)

func TestCreateAndAuthenticate(t *testing.T) {
	s := NewStore(dbtest.Open(t))
	ctx := context.Background()

	u, err := s.Create(ctx, "  alice_1 ", "correct horse")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if u.Username != "alice_1" || u.ID == "" || u.PasswordHash == "correct horse" {
		t.Fatalf("unexpected user: %+v", u)
	}

	if _, err := s.Create(ctx, "ALICE_1", "another password"); !errors.Is(err, ErrUsernameTaken) {
		t.Fatalf("duplicate err = %v, want ErrUsernameTaken", err)
	}

	got, err := s.Authenticate(ctx, "Alice_1", "correct horse")
	if err != nil || got.ID != u.ID {
		t.Fatalf("Authenticate = %+v, %v", got, err)
	}
	if _, err := s.Authenticate(ctx, "alice_1", "wrong password"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("wrong password err = %v", err)
	}
	if _, err := s.Authenticate(ctx, "nobody", "whatever1"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("unknown user err = %v", err)
	}
}

func TestCreateValidation(t *testing.T) {
	s := NewStore(dbtest.Open(t))
	cases := []struct{ name, user, pw string }{
		{"short username", "ab", "password1"},
		{"bad characters", "bad-name", "password1"},
		{"short password", "valid_name", "short"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := s.Create(context.Background(), tc.user, tc.pw); !errors.Is(err, ErrInvalidInput) {
				t.Fatalf("err = %v, want ErrInvalidInput", err)
			}
		})
	}
}

func TestUpdateProfile(t *testing.T) {
	s := NewStore(dbtest.Open(t))
	ctx := context.Background()
	u, err := s.Create(ctx, "bob", "password123")
	if err != nil {
		t.Fatal(err)
	}
	if u.Name() != "bob" {
		t.Fatalf("Name() = %q", u.Name())
	}

	name := " Bobby "
	img := "https://example.com/bob.png"
	updated, err := s.UpdateProfile(ctx, u.ID, ProfilePatch{DisplayName: &name, ProfileImageURL: &img})
	if err != nil {
		t.Fatalf("UpdateProfile: %v", err)
	}
	if updated.DisplayName != "Bobby" || updated.Name() != "Bobby" {
		t.Fatalf("unexpected profile: %+v", updated)
	}

	reloaded, err := s.FindByID(ctx, u.ID)
	if err != nil {
		t.Fatal(err)
	}
	if reloaded.ProfileImageURL != img || reloaded.DisplayName != "Bobby" {
		t.Fatalf("profile not persisted: %+v", reloaded)
	}

	if _, err := s.FindByID(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing user err = %v", err)
	}
}

func TestConcurrentSignupsDifferingInCase(t *testing.T) {
	s := NewStore(dbtest.Open(t))
	names := []string{"Bob", "bob", "BOB", "bOb"}

	var wg sync.WaitGroup
	errs := make([]error, len(names))
	for i, name := range names {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = s.Create(context.Background(), name, "password123")
		}()
	}
	wg.Wait()

	created := 0
	for i, err := range errs {
		switch {
		case err == nil:
			created++
		case !errors.Is(err, ErrUsernameTaken):
			t.Fatalf("signup %q: %v, want ErrUsernameTaken", names[i], err)
		}
	}
	if created != 1 {
		t.Fatalf("created %d users, want 1", created)
	}
}

func TestUsernameIndexIsCaseInsensitive(t *testing.T) {
	d := dbtest.Open(t)
	s := NewStore(d)
	if _, err := s.Create(context.Background(), "dana", "password123"); err != nil {
		t.Fatal(err)
	}
	// Bypasses the pre-insert lookup to hit the index directly.
	_, err := d.Exec(`INSERT INTO users (id, username, password_hash, created_at) VALUES (?,?,?,?)`,
		"other-id", "DANA", "x", time.Now().UTC().Format(time.RFC3339))
	if !db.IsUniqueViolation(err) {
		t.Fatalf("insert of DANA: %v, want a unique violation", err)
	}
}
