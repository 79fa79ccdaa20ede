package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Dan9191/ledger-service/internal/models"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
)

// ErrUserNotFound is returned when no user has the given email
var ErrUserNotFound = errors.New("user not found")

// ErrUserExists is returned when registering an email twice
var ErrUserExists = errors.New("user already exists")

// Repository provides database operations. Queries use $N placeholders in
// ascending order, which both lib/pq and go-sqlite3 accept.
type Repository struct {
	db     *sql.DB
	driver string
	log    *logrus.Logger
}

// NewRepository initializes a new repository; driver is "postgres" or "sqlite3"
func NewRepository(db *sql.DB, driver string, log *logrus.Logger) *Repository {
	return &Repository{db: db, driver: driver, log: log}
}

// Open connects to the database and applies per-driver pool settings
func Open(ctx context.Context, driver, dsn string) (*sql.DB, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if driver == "sqlite3" {
		// one writer; the busy timeout lives in the dsn
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

// Ping checks the connection
func (r *Repository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.ExtendedCode == sqlite3.ErrConstraintUnique || liteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

func nanos(t time.Time) int64 { return t.UnixNano() }

func fromNanos(n int64) time.Time { return time.Unix(0, n).UTC() }

// CreateUser creates a new user in the database
func (r *Repository) CreateUser(ctx context.Context, user *models.User) error {
	now := time.Now().UTC()
	query := `
		INSERT INTO users (username, email, password_hash, created_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id`
	err := r.db.QueryRowContext(ctx, query, user.Username, user.Email, user.PasswordHash, nanos(now)).Scan(&user.ID)
	if isUniqueViolation(err) {
		return fmt.Errorf("email %s: %w", user.Email, ErrUserExists)
	}
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	user.CreatedAt = now.Format(time.RFC3339)
	return nil
}

// FindUserByEmail retrieves a user by email
func (r *Repository) FindUserByEmail(ctx context.Context, email string) (*models.User, error) {
	user := &models.User{}
	var created int64
	query := `
		SELECT id, username, email, password_hash, created_at
		FROM users
		WHERE email = $1`
	err := r.db.QueryRowContext(ctx, query, email).
		Scan(&user.ID, &user.Username, &user.Email, &user.PasswordHash, &created)
	if err == sql.ErrNoRows {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	user.CreatedAt = fromNanos(created).Format(time.RFC3339)
	return user, nil
}

// FindUserByID retrieves a user by id
func (r *Repository) FindUserByID(ctx context.Context, id int64) (*models.User, error) {
	user := &models.User{}
	var created int64
	query := `
		SELECT id, username, email, password_hash, created_at
		FROM users
		WHERE id = $1`
	err := r.db.QueryRowContext(ctx, query, id).
		Scan(&user.ID, &user.Username, &user.Email, &user.PasswordHash, &created)
	if err == sql.ErrNoRows {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	user.CreatedAt = fromNanos(created).Format(time.RFC3339)
	return user, nil
}
