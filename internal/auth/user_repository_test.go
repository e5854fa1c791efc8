package auth

import (
	"context"
	"errors"
	"testing"
)

func TestUserRepository_CreateAndGet(t *testing.T) {
	db := testDB(t)
	repo := NewUserRepository(db)
	ctx := t.Context()

	user := &User{
		Email:        " Ada@Example.com",
		DisplayName:  "Ada",
		Metadata:     map[string]any{"plan": "home"},
		PasswordHash: "$argon2id$v=19$m=8192,t=1,p=1$c2FsdA$aGFzaA",
	}
	if err := repo.Create(ctx, user); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if user.ID == "" || user.CreatedAt.IsZero() {
		t.Fatalf("Create() left user = %+v", user)
	}
	if user.Email != "ada@example.com" {
		t.Errorf("Email = %q, want normalised", user.Email)
	}

	got, err := repo.GetByID(ctx, user.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got.DisplayName != "Ada" || got.Metadata["plan"] != "home" || got.PasswordHash != user.PasswordHash {
		t.Errorf("GetByID() = %+v", got)
	}
	if !got.CreatedAt.Equal(user.CreatedAt) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, user.CreatedAt)
	}

	byEmail, err := repo.GetByEmail(ctx, "ADA@example.com")
	if err != nil || byEmail.ID != user.ID {
		t.Errorf("GetByEmail() = %v, %v", byEmail, err)
	}
}

func TestUserRepository_DuplicateEmail(t *testing.T) {
	db := testDB(t)
	seedTestUser(t, db, "ada@example.com")

	err := NewUserRepository(db).Create(t.Context(), &User{Email: "ADA@example.com", PasswordHash: "x"})
	if !errors.Is(err, ErrEmailExists) {
		t.Errorf("Create() error = %v, want ErrEmailExists", err)
	}
}

func TestUserRepository_NotFound(t *testing.T) {
	repo := NewUserRepository(testDB(t))
	ctx := t.Context()

	if _, err := repo.GetByID(ctx, "missing"); !errors.Is(err, ErrUserNotFound) {
		t.Errorf("GetByID() error = %v, want ErrUserNotFound", err)
	}
	if _, err := repo.GetByEmail(ctx, "nobody@example.com"); !errors.Is(err, ErrUserNotFound) {
		t.Errorf("GetByEmail() error = %v, want ErrUserNotFound", err)
	}
	if err := repo.UpdatePassword(ctx, "missing", "hash"); !errors.Is(err, ErrUserNotFound) {
		t.Errorf("UpdatePassword() error = %v, want ErrUserNotFound", err)
	}
}

func TestUserRepository_UpdatePasswordAndCount(t *testing.T) {
	db := testDB(t)
	repo := NewUserRepository(db)
	user := seedTestUser(t, db, "ada@example.com")
	seedTestUser(t, db, "bob@example.com")

	if err := repo.UpdatePassword(t.Context(), user.ID, "new-hash"); err != nil {
		t.Fatalf("UpdatePassword() error = %v", err)
	}
	got, _ := repo.GetByID(t.Context(), user.ID)
	if got.PasswordHash != "new-hash" {
		t.Errorf("PasswordHash = %q", got.PasswordHash)
	}

	if n, err := repo.Count(t.Context()); err != nil || n != 2 {
		t.Errorf("Count() = %d, %v", n, err)
	}
}

func TestUserRepository_CancelledContext(t *testing.T) {
	repo := NewUserRepository(testDB(t))
	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	if _, err := repo.Count(ctx); err == nil {
		t.Error("Count with cancelled context should return error")
	}
	if _, err := repo.GetByEmail(ctx, "ada@example.com"); err == nil || errors.Is(err, ErrUserNotFound) {
		t.Errorf("GetByEmail with cancelled context error = %v", err)
	}
	if err := repo.Create(ctx, &User{Email: "x@example.com", PasswordHash: "x"}); err == nil {
		t.Error("Create with cancelled context should return error")
	}
}
