package provider

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"
)

var _ Store = (*PGStore)(nil)

// PGStore implements Store using PostgreSQL.
type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

const providerColumns = `name, type, supports_templates, supports_async, supports_id_verification, processing_mode, is_active, priority, max_daily_verifications, created_at, updated_at`

func (s *PGStore) List(ctx context.Context) ([]*Provider, error) {
	rows, err := s.db.QueryContext(ctx,
		`select `+providerColumns+` from providers order by priority, name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []*Provider
	for rows.Next() {
		p, err := scanProvider(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

func (s *PGStore) Find(ctx context.Context, name string) (*Provider, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+providerColumns+` from providers where name=$1`, name)
	return scanProvider(row)
}

func (s *PGStore) Upsert(ctx context.Context, p *Provider) error {
	_, err := s.db.ExecContext(ctx,
		`insert into providers(name, type, supports_templates, supports_async, supports_id_verification, processing_mode, is_active, priority, max_daily_verifications)
		 values($1,$2,$3,$4,$5,$6,$7,$8,$9)
		 on conflict (name) do update set
		   type=excluded.type,
		   supports_templates=excluded.supports_templates,
		   supports_async=excluded.supports_async,
		   supports_id_verification=excluded.supports_id_verification,
		   processing_mode=excluded.processing_mode,
		   is_active=excluded.is_active,
		   priority=excluded.priority,
		   max_daily_verifications=excluded.max_daily_verifications,
		   updated_at=now()`,
		p.Name, p.Type, p.SupportsTemplates, p.SupportsAsync, p.SupportsIDVerify,
		string(p.ProcessingMode), p.IsActive, p.Priority, p.MaxDailyVerifications,
	)
	return err
}

func (s *PGStore) Config(ctx context.Context, principalID, providerName string) (*ProviderConfig, error) {
	row := s.db.QueryRowContext(ctx,
		`select principal_id, provider_name, enabled, overrides, max_daily_verifications, created_at, updated_at
		 from provider_configs where principal_id=$1 and provider_name=$2`,
		principalID, providerName)
	var (
		cfg       ProviderConfig
		overrides []byte
	)
	err := row.Scan(&cfg.PrincipalID, &cfg.ProviderName, &cfg.Enabled, &overrides,
		&cfg.MaxDailyVerifications, &cfg.CreatedAt, &cfg.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	_ = json.Unmarshal(overrides, &cfg.Overrides)
	return &cfg, nil
}

func (s *PGStore) SetConfig(ctx context.Context, cfg *ProviderConfig) error {
	overrides, _ := json.Marshal(cfg.Overrides)
	_, err := s.db.ExecContext(ctx,
		`insert into provider_configs(principal_id, provider_name, enabled, overrides, max_daily_verifications)
		 values($1,$2,$3,$4,$5)
		 on conflict (principal_id, provider_name) do update set
		   enabled=excluded.enabled,
		   overrides=excluded.overrides,
		   max_daily_verifications=excluded.max_daily_verifications,
		   updated_at=now()`,
		cfg.PrincipalID, cfg.ProviderName, cfg.Enabled, overrides, cfg.MaxDailyVerifications,
	)
	return err
}

func (s *PGStore) UsageOn(ctx context.Context, principalID, providerName string, day time.Time) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`select usage_count from provider_usage
		 where principal_id=$1 and provider_name=$2 and day=$3`,
		principalID, providerName, day).Scan(&count)
	if err != nil {
		if err == sql.ErrNoRows {
			return 0, nil
		}
		return 0, err
	}
	return count, nil
}

func (s *PGStore) RecordUse(ctx context.Context, principalID, providerName string, day time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`insert into provider_usage(principal_id, provider_name, day, usage_count)
		 values($1,$2,$3,1)
		 on conflict (principal_id, provider_name, day)
		 do update set usage_count = provider_usage.usage_count + 1`,
		principalID, providerName, day,
	)
	return err
}

func scanProvider(row interface{ Scan(...any) error }) (*Provider, error) {
	var (
		p    Provider
		mode string
	)
	err := row.Scan(&p.Name, &p.Type, &p.SupportsTemplates, &p.SupportsAsync,
		&p.SupportsIDVerify, &mode, &p.IsActive, &p.Priority,
		&p.MaxDailyVerifications, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	p.ProcessingMode = ProcessingMode(mode)
	return &p, nil
}
