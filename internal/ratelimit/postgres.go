package ratelimit

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

var _ Store = (*PGStore)(nil)

// PGStore implements Store on PostgreSQL. The upsert is conditional, so the
// check and the increment are a single atomic statement: concurrent callers
// can never push the count past the limit by racing the check.
type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) IncrWithin(ctx context.Context, principalID string, wt WindowType, windowStart time.Time, limit int) (int, bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`insert into rate_windows(principal_id, window_type, window_start, request_count)
		 values($1,$2,$3,1)
		 on conflict (principal_id, window_type, window_start)
		 do update set request_count = rate_windows.request_count + 1
		 where rate_windows.request_count < $4
		 returning request_count`,
		principalID, string(wt), windowStart, limit,
	).Scan(&count)
	if err != nil {
		// No row returned: the conditional update declined the increment.
		if errors.Is(err, sql.ErrNoRows) {
			return limit, false, nil
		}
		return 0, false, err
	}
	return count, true, nil
}

func (s *PGStore) Decr(ctx context.Context, principalID string, wt WindowType, windowStart time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`update rate_windows set request_count = greatest(request_count - 1, 0)
		 where principal_id=$1 and window_type=$2 and window_start=$3`,
		principalID, string(wt), windowStart,
	)
	return err
}

func (s *PGStore) Purge(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`delete from rate_windows where window_start < $1`, olderThan)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
