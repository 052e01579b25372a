package verify

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"
)

var _ Store = (*PGStore)(nil)

// PGStore implements Store using PostgreSQL. Session writes go through a
// version-checked update so concurrent advances serialize at the row.
type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) Requests() RequestStore { return (*pgRequests)(s) }

func (s *PGStore) Sessions() SessionStore { return (*pgSessions)(s) }

func (s *PGStore) Results() ResultStore { return (*pgResults)(s) }

type rowScanner interface {
	Scan(dest ...any) error
}

type pgRequests PGStore

const requestColumns = `id, principal_id, verification_type, processing_method, provider_name, status, error_details, processing_time_ms, created_at, updated_at, completed_at`

func (s *pgRequests) Create(ctx context.Context, r *VerificationRequest) error {
	_, err := s.db.ExecContext(ctx,
		`insert into verification_requests(`+requestColumns+`)
		 values($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		r.ID, r.PrincipalID, r.VerificationType, r.ProcessingMethod, r.ProviderName,
		string(r.Status), r.ErrorDetails, r.ProcessingTimeMs, r.CreatedAt, r.UpdatedAt,
		nullTime(r.CompletedAt),
	)
	return err
}

func (s *pgRequests) Find(ctx context.Context, id string) (*VerificationRequest, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+requestColumns+` from verification_requests where id=$1`, id)
	return scanRequest(row)
}

func (s *pgRequests) Update(ctx context.Context, r *VerificationRequest) error {
	res, err := s.db.ExecContext(ctx,
		`update verification_requests
		 set status=$2, error_details=$3, processing_time_ms=$4, updated_at=$5, completed_at=$6
		 where id=$1`,
		r.ID, string(r.Status), r.ErrorDetails, r.ProcessingTimeMs, r.UpdatedAt,
		nullTime(r.CompletedAt),
	)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *pgRequests) ListByPrincipal(ctx context.Context, principalID string, limit int) ([]*VerificationRequest, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`select `+requestColumns+` from verification_requests
		 where principal_id=$1 order by created_at desc limit $2`,
		principalID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*VerificationRequest
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

type pgSessions PGStore

const sessionColumns = `id, verification_id, principal_id, provider_name, provider_session_id, external_url, current_step, total_steps, progress_percentage, status, processing_steps, error_details, version, started_at, expires_at, completed_at, failed_at, created_at, updated_at`

func (s *pgSessions) Create(ctx context.Context, sess *VerificationSession) error {
	sess.Version = 1
	steps, _ := json.Marshal(sess.ProcessingSteps)
	_, err := s.db.ExecContext(ctx,
		`insert into verification_sessions(`+sessionColumns+`)
		 values($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)`,
		sess.ID, sess.VerificationID, sess.PrincipalID, sess.ProviderName,
		sess.ProviderSessionID, sess.ExternalURL, sess.CurrentStep, sess.TotalSteps,
		sess.ProgressPercentage, string(sess.Status), steps, sess.ErrorDetails,
		sess.Version, sess.StartedAt, sess.ExpiresAt,
		nullTime(sess.CompletedAt), nullTime(sess.FailedAt), sess.CreatedAt, sess.UpdatedAt,
	)
	return err
}

func (s *pgSessions) Find(ctx context.Context, id string) (*VerificationSession, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+sessionColumns+` from verification_sessions where id=$1`, id)
	return scanSession(row)
}

func (s *pgSessions) FindByRequest(ctx context.Context, verificationID string) (*VerificationSession, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+sessionColumns+` from verification_sessions where verification_id=$1`, verificationID)
	return scanSession(row)
}

func (s *pgSessions) FindByProviderSession(ctx context.Context, providerSessionID string) (*VerificationSession, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+sessionColumns+` from verification_sessions where provider_session_id=$1`, providerSessionID)
	return scanSession(row)
}

func (s *pgSessions) UpdateCAS(ctx context.Context, sess *VerificationSession, expectedVersion int) (bool, error) {
	steps, _ := json.Marshal(sess.ProcessingSteps)
	res, err := s.db.ExecContext(ctx,
		`update verification_sessions
		 set provider_session_id=$3, external_url=$4, current_step=$5, total_steps=$6,
		     progress_percentage=$7, status=$8, processing_steps=$9, error_details=$10,
		     completed_at=$11, failed_at=$12, updated_at=$13, version=version+1
		 where id=$1 and version=$2`,
		sess.ID, expectedVersion,
		sess.ProviderSessionID, sess.ExternalURL, sess.CurrentStep, sess.TotalSteps,
		sess.ProgressPercentage, string(sess.Status), steps, sess.ErrorDetails,
		nullTime(sess.CompletedAt), nullTime(sess.FailedAt), sess.UpdatedAt,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, nil
	}
	sess.Version = expectedVersion + 1
	return true, nil
}

func (s *pgSessions) ListStale(ctx context.Context, now time.Time, limit int) ([]*VerificationSession, error) {
	rows, err := s.db.QueryContext(ctx,
		`select `+sessionColumns+` from verification_sessions
		 where status in ('pending','in_progress') and expires_at <= $1
		 order by expires_at limit $2`,
		now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*VerificationSession
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

type pgResults PGStore

func (s *pgResults) Create(ctx context.Context, r *VerificationResult) error {
	raw, _ := json.Marshal(r.Raw)
	reasons, _ := json.Marshal(r.FailureReasons)
	res, err := s.db.ExecContext(ctx,
		`insert into verification_results(id, verification_id, provider_name, verified, standardized, confidence, failure_reasons, raw, created_at)
		 values($1,$2,$3,$4,$5,$6,$7,$8,$9)
		 on conflict (verification_id) do nothing`,
		r.ID, r.VerificationID, r.ProviderName, r.Verified, r.Standardized,
		r.Confidence, reasons, raw, r.CreatedAt,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrAlreadyFinalized
	}
	return nil
}

func (s *pgResults) FindByRequest(ctx context.Context, verificationID string) (*VerificationResult, error) {
	row := s.db.QueryRowContext(ctx,
		`select id, verification_id, provider_name, verified, standardized, confidence, failure_reasons, raw, created_at
		 from verification_results where verification_id=$1`, verificationID)
	var (
		r       VerificationResult
		reasons []byte
		raw     []byte
	)
	err := row.Scan(&r.ID, &r.VerificationID, &r.ProviderName, &r.Verified,
		&r.Standardized, &r.Confidence, &reasons, &raw, &r.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	_ = json.Unmarshal(reasons, &r.FailureReasons)
	_ = json.Unmarshal(raw, &r.Raw)
	return &r, nil
}

func scanRequest(row rowScanner) (*VerificationRequest, error) {
	var (
		r         VerificationRequest
		status    string
		completed sql.NullTime
	)
	err := row.Scan(&r.ID, &r.PrincipalID, &r.VerificationType, &r.ProcessingMethod,
		&r.ProviderName, &status, &r.ErrorDetails, &r.ProcessingTimeMs,
		&r.CreatedAt, &r.UpdatedAt, &completed)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	r.Status = Status(status)
	if completed.Valid {
		t := completed.Time
		r.CompletedAt = &t
	}
	return &r, nil
}

func scanSession(row rowScanner) (*VerificationSession, error) {
	var (
		sess      VerificationSession
		status    string
		steps     []byte
		completed sql.NullTime
		failed    sql.NullTime
	)
	err := row.Scan(&sess.ID, &sess.VerificationID, &sess.PrincipalID, &sess.ProviderName,
		&sess.ProviderSessionID, &sess.ExternalURL, &sess.CurrentStep, &sess.TotalSteps,
		&sess.ProgressPercentage, &status, &steps, &sess.ErrorDetails, &sess.Version,
		&sess.StartedAt, &sess.ExpiresAt, &completed, &failed, &sess.CreatedAt, &sess.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	sess.Status = Status(status)
	_ = json.Unmarshal(steps, &sess.ProcessingSteps)
	if completed.Valid {
		t := completed.Time
		sess.CompletedAt = &t
	}
	if failed.Valid {
		t := failed.Time
		sess.FailedAt = &t
	}
	return &sess, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
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
