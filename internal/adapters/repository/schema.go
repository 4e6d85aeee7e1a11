package repository

import (
	"context"
	"fmt"
)

// The contest_challenges, submissions and users tables belong to the grading
// and account services; only leaderboard_entries is created here.
const schemaSQL = `
CREATE TABLE IF NOT EXISTS leaderboard_entries (
	contest_id TEXT        NOT NULL,
	user_id    TEXT        NOT NULL,
	score      BIGINT      NOT NULL DEFAULT 0 CHECK (score >= 0),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (contest_id, user_id)
);
CREATE INDEX IF NOT EXISTS leaderboard_entries_rank_idx
	ON leaderboard_entries (contest_id, score DESC, user_id COLLATE "C");
`

// EnsureSchema creates the leaderboard table and its ranking index if absent.
func EnsureSchema(ctx context.Context, db DB) error {
	if _, err := db.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("ensure leaderboard schema: %w", err)
	}
	return nil
}
