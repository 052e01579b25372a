package auth

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestPGPrincipalFind(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{
		"id", "kind", "name", "status", "password_hash",
		"rate_limit_per_minute", "rate_limit_per_hour", "last_used_at", "metadata",
		"created_at", "updated_at",
	}).AddRow("pr_1", "tenant", "acme", "active", "$2a$10$x", 60, 1000, nil, []byte(`{"tier":"gold"}`), now, now)
	mock.ExpectQuery("select .* from principals where id=\\$1").WithArgs("pr_1").WillReturnRows(rows)

	store := NewPGStore(db)
	p, err := store.Principals().Find(context.Background(), "pr_1")
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if p.Kind != KindTenant || p.RateLimitPerMinute != 60 {
		t.Fatalf("unexpected principal: %+v", p)
	}
	if p.Metadata["tier"] != "gold" {
		t.Fatalf("metadata not decoded: %v", p.Metadata)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPGPrincipalFindNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery("select .* from principals where id=\\$1").WithArgs("missing").WillReturnError(sql.ErrNoRows)

	store := NewPGStore(db)
	if _, err := store.Principals().Find(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPGAPIKeyRevoke(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectExec("update api_keys set status=\\$2 where id=\\$1").
		WithArgs("key_1", KeyStatusRevoked).
		WillReturnResult(sqlmock.NewResult(0, 1))

	store := NewPGStore(db)
	if err := store.APIKeys().Revoke(context.Background(), "key_1"); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPGAPIKeyRevokeMissing(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectExec("update api_keys set status=\\$2 where id=\\$1").
		WithArgs("key_gone", KeyStatusRevoked).
		WillReturnResult(sqlmock.NewResult(0, 0))

	store := NewPGStore(db)
	if err := store.APIKeys().Revoke(context.Background(), "key_gone"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPGRefreshTokenLifecycle(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectExec("insert into refresh_tokens").
		WithArgs(sqlmock.AnyArg(), "pr_1", "hash", sqlmock.AnyArg(), false).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("update refresh_tokens set revoked=true where principal_id=\\$1").
		WithArgs("pr_1").
		WillReturnResult(sqlmock.NewResult(0, 2))

	store := NewPGStore(db)
	tok := &RefreshToken{PrincipalID: "pr_1", TokenHash: "hash", ExpiresAt: time.Now().Add(time.Hour)}
	if err := store.RefreshTokens().Create(context.Background(), tok); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if tok.ID == "" {
		t.Fatal("expected generated id")
	}
	if err := store.RefreshTokens().MarkRevokedByPrincipal(context.Background(), "pr_1"); err != nil {
		t.Fatalf("MarkRevokedByPrincipal: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
