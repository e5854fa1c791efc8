package auth

import (
	"database/sql"
	"testing"
	"time"

	"github.com/nerrad567/iot-console-core/internal/infrastructure/database"
	_ "github.com/nerrad567/iot-console-core/migrations" // registers the schema
)

// testHashing keeps Argon2id cheap so tests stay fast.
var testHashing = Argon2Params{Time: 1, Memory: 8 * 1024, Threads: 1, KeyLen: 32, SaltLen: 16}

const testSecret = "test-secret-key-for-jwt-signing-32b"

// testDB opens an in-memory SQLite database with all migrations applied.
func testDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := database.Open(t.Context(), database.Config{Path: database.MemoryPath})
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup

	if err := db.Migrate(t.Context()); err != nil {
		t.Fatalf("applying migrations: %v", err)
	}
	return db.DB
}

// seedTestUser inserts a user whose password is "Correct-Horse-9".
func seedTestUser(t *testing.T, db *sql.DB, email string) *User {
	t.Helper()

	hash, err := HashPasswordWith("Correct-Horse-9", testHashing)
	if err != nil {
		t.Fatalf("hashing password: %v", err)
	}

	user := &User{Email: email, DisplayName: email, PasswordHash: hash}
	if err := NewUserRepository(db).Create(t.Context(), user); err != nil {
		t.Fatalf("creating test user %s: %v", email, err)
	}
	return user
}

// fakeClock is a settable clock shared by the gateway and its limiter.
type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }
