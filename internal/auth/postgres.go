package auth

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"verigate.io/internal/ids"
)

var _ Store = (*PGStore)(nil)

// PGStore implements Store using PostgreSQL.
type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) Principals() PrincipalStore       { return &pgPrincipals{db: s.db} }
func (s *PGStore) APIKeys() APIKeyStore             { return &pgKeys{db: s.db} }
func (s *PGStore) RefreshTokens() RefreshTokenStore { return &pgRefresh{db: s.db} }

// Principal store ----------------------------------------------------------
type pgPrincipals struct{ db *sql.DB }

const principalColumns = `id, kind, name, status, password_hash, rate_limit_per_minute, rate_limit_per_hour, last_used_at, metadata, created_at, updated_at`

func (s *pgPrincipals) Create(ctx context.Context, p *Principal) error {
	if p.ID == "" {
		p.ID = ids.WithPrefix(ids.PrefixPrincipal)
	}
	meta, _ := json.Marshal(p.Metadata)
	_, err := s.db.ExecContext(ctx,
		`insert into principals(id, kind, name, status, password_hash, rate_limit_per_minute, rate_limit_per_hour, metadata)
		 values($1,$2,$3,$4,$5,$6,$7,$8)`,
		p.ID, string(p.Kind), p.Name, p.Status, p.PasswordHash,
		p.RateLimitPerMinute, p.RateLimitPerHour, meta,
	)
	return err
}

func (s *pgPrincipals) Find(ctx context.Context, id string) (*Principal, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+principalColumns+` from principals where id=$1`, id)
	return scanPrincipal(row)
}

func (s *pgPrincipals) List(ctx context.Context) ([]*Principal, error) {
	rows, err := s.db.QueryContext(ctx,
		`select `+principalColumns+` from principals order by created_at asc`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []*Principal
	for rows.Next() {
		p, err := scanPrincipal(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

func (s *pgPrincipals) UpdateStatus(ctx context.Context, id, status string) error {
	res, err := s.db.ExecContext(ctx,
		`update principals set status=$2, updated_at=now() where id=$1`, id, status)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *pgPrincipals) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	res, err := s.db.ExecContext(ctx,
		`update principals set password_hash=$2, updated_at=now() where id=$1`, id, passwordHash)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *pgPrincipals) TouchLastUsed(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`update principals set last_used_at=$2 where id=$1`, id, at)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPrincipal(row rowScanner) (*Principal, error) {
	var (
		p        Principal
		kind     string
		metadata []byte
		lastUsed sql.NullTime
	)
	err := row.Scan(&p.ID, &kind, &p.Name, &p.Status, &p.PasswordHash,
		&p.RateLimitPerMinute, &p.RateLimitPerHour, &lastUsed, &metadata,
		&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	p.Kind = Kind(kind)
	if lastUsed.Valid {
		t := lastUsed.Time
		p.LastUsedAt = &t
	}
	_ = json.Unmarshal(metadata, &p.Metadata)
	return &p, nil
}

// API key store ------------------------------------------------------------
type pgKeys struct{ db *sql.DB }

const apiKeyColumns = `id, principal_id, name, key_hash, prefix, status, expires_at, last_used_at, created_at`

func (s *pgKeys) Create(ctx context.Context, k *APIKey) error {
	if k.ID == "" {
		k.ID = ids.WithPrefix(ids.PrefixAPIKey)
	}
	_, err := s.db.ExecContext(ctx,
		`insert into api_keys(id, principal_id, name, key_hash, prefix, status, expires_at)
		 values($1,$2,$3,$4,$5,$6,$7)`,
		k.ID, k.PrincipalID, k.Name, k.KeyHash, k.Prefix, k.Status, k.ExpiresAt,
	)
	return err
}

func (s *pgKeys) Find(ctx context.Context, id string) (*APIKey, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+apiKeyColumns+` from api_keys where id=$1`, id)
	return scanAPIKey(row)
}

func (s *pgKeys) FindByHash(ctx context.Context, keyHash string) (*APIKey, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+apiKeyColumns+` from api_keys where key_hash=$1`, keyHash)
	return scanAPIKey(row)
}

func (s *pgKeys) ListByPrincipal(ctx context.Context, principalID string) ([]*APIKey, error) {
	rows, err := s.db.QueryContext(ctx,
		`select `+apiKeyColumns+` from api_keys where principal_id=$1 order by created_at`, principalID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []*APIKey
	for rows.Next() {
		k, err := scanAPIKey(rows)
		if err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func (s *pgKeys) Revoke(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`update api_keys set status=$2 where id=$1`, id, KeyStatusRevoked)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *pgKeys) TouchLastUsed(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`update api_keys set last_used_at=$2 where id=$1`, id, at)
	return err
}

func scanAPIKey(row rowScanner) (*APIKey, error) {
	var (
		k        APIKey
		expires  sql.NullTime
		lastUsed sql.NullTime
	)
	err := row.Scan(&k.ID, &k.PrincipalID, &k.Name, &k.KeyHash, &k.Prefix,
		&k.Status, &expires, &lastUsed, &k.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if expires.Valid {
		t := expires.Time
		k.ExpiresAt = &t
	}
	if lastUsed.Valid {
		t := lastUsed.Time
		k.LastUsedAt = &t
	}
	return &k, nil
}

// Refresh token store ------------------------------------------------------
type pgRefresh struct{ db *sql.DB }

func (s *pgRefresh) Create(ctx context.Context, tok *RefreshToken) error {
	if tok.ID == "" {
		tok.ID = ids.WithPrefix(ids.PrefixRefreshToken)
	}
	_, err := s.db.ExecContext(ctx,
		`insert into refresh_tokens(id, principal_id, token_hash, expires_at, revoked)
		 values($1,$2,$3,$4,$5)`,
		tok.ID, tok.PrincipalID, tok.TokenHash, tok.ExpiresAt, tok.Revoked,
	)
	return err
}

func (s *pgRefresh) Find(ctx context.Context, id string) (*RefreshToken, error) {
	row := s.db.QueryRowContext(ctx,
		`select id, principal_id, token_hash, expires_at, revoked, created_at from refresh_tokens where id=$1`, id)
	var tok RefreshToken
	if err := row.Scan(&tok.ID, &tok.PrincipalID, &tok.TokenHash, &tok.ExpiresAt, &tok.Revoked, &tok.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &tok, nil
}

func (s *pgRefresh) MarkRevoked(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`update refresh_tokens set revoked=true where id=$1`, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *pgRefresh) MarkRevokedByPrincipal(ctx context.Context, principalID string) error {
	_, err := s.db.ExecContext(ctx,
		`update refresh_tokens set revoked=true where principal_id=$1 and revoked=false`, principalID)
	return err
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
