package calls

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"sales-call-pipeline/pkg/apperr"
	"sales-call-pipeline/pkg/utils"

	"github.com/jackc/pgx/v5/pgconn"
)

// NOTE: This repository assumes the goose migrations in ./migrations have run:
// - calls (seq gives insertion order)
// - transcripts, analyses (UNIQUE call_id)
// - crm_sync_logs (append-only)
//
// Every mutation locks the call row (SELECT ... FOR UPDATE) inside a
// transaction, which serializes writers per call id without blocking other calls.

const pgUniqueViolation = "23505"

type PostgresRepo struct {
	db    *sql.DB
	clock func() time.Time
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db, clock: time.Now}
}

const callColumns = `id, title, recorded_at, participants, call_type, status, audio_ref,
contact_name, company, crm_deal_id, external_id, created_at, updated_at`

func (r *PostgresRepo) Create(ctx context.Context, c Call) (Call, error) {
	if c.ID == "" {
		return Call{}, errors.New("calls: id required")
	}
	if c.Status == "" {
		c.Status = StatusNew
	}
	participants, err := encodeJSON(nonNil(c.Participants))
	if err != nil {
		return Call{}, err
	}
	const q = `
INSERT INTO calls (id, title, recorded_at, participants, call_type, status, audio_ref,
	contact_name, company, crm_deal_id, external_id, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
`
	_, err = r.db.ExecContext(ctx, q,
		c.ID, c.Title, c.RecordedAt, participants, c.CallType, string(c.Status), c.AudioRef,
		c.ContactName, c.Company, c.CRMDealID, c.ExternalID, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return Call{}, apperr.Conflict("call already exists")
		}
		return Call{}, apperr.Internal("insert call", err)
	}
	return c, nil
}

func (r *PostgresRepo) Get(ctx context.Context, id string) (Call, error) {
	q := `SELECT ` + callColumns + ` FROM calls WHERE id = $1`
	return scanCall(r.db.QueryRowContext(ctx, q, id))
}

func (r *PostgresRepo) List(ctx context.Context, f ListFilter) ([]Call, error) {
	q := `SELECT ` + callColumns + ` FROM calls`
	var args []any
	if f.Status != nil {
		q += ` WHERE status = $1`
		args = append(args, string(*f.Status))
	}
	q += ` ORDER BY seq ASC`

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, apperr.Internal("list calls", err)
	}
	defer rows.Close()

	out := make([]Call, 0)
	for rows.Next() {
		c, err := scanCall(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Internal("list calls", err)
	}
	return out, nil
}

func (r *PostgresRepo) AttachTranscript(ctx context.Context, id string, t Transcript) (Call, error) {
	var out Call
	err := utils.WithTx(ctx, r.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		c, err := lockCall(ctx, tx, id)
		if err != nil {
			return err
		}
		if ok, err := exists(ctx, tx, `SELECT EXISTS (SELECT 1 FROM transcripts WHERE call_id = $1)`, id); err != nil {
			return err
		} else if ok {
			return apperr.Conflict("already transcribed")
		}
		if err := CheckTransition(c.Status, StatusTranscribed); err != nil {
			return err
		}

		meta, err := encodeJSON(t.Metadata)
		if err != nil {
			return err
		}
		var confidence sql.NullFloat64
		if t.Confidence != nil {
			confidence = sql.NullFloat64{Float64: *t.Confidence, Valid: true}
		}
		const q = `
INSERT INTO transcripts (call_id, text, language, confidence, metadata, created_at)
VALUES ($1, $2, $3, $4, $5, $6)
`
		if _, err := tx.ExecContext(ctx, q, id, t.Text, t.Language, confidence, meta, t.CreatedAt); err != nil {
			if isUniqueViolation(err) {
				return apperr.Conflict("already transcribed")
			}
			return apperr.Internal("insert transcript", err)
		}
		out, err = r.setStatus(ctx, tx, c, StatusTranscribed)
		return err
	})
	return out, err
}

func (r *PostgresRepo) AttachAnalysis(ctx context.Context, id string, a Analysis) (Call, error) {
	var out Call
	err := utils.WithTx(ctx, r.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		c, err := lockCall(ctx, tx, id)
		if err != nil {
			return err
		}
		if ok, err := exists(ctx, tx, `SELECT EXISTS (SELECT 1 FROM analyses WHERE call_id = $1)`, id); err != nil {
			return err
		} else if ok {
			return apperr.Conflict("already analyzed")
		}
		if ok, err := exists(ctx, tx, `SELECT EXISTS (SELECT 1 FROM transcripts WHERE call_id = $1)`, id); err != nil {
			return err
		} else if !ok {
			return apperr.Precondition("no transcript")
		}
		if err := CheckTransition(c.Status, StatusAnalyzed); err != nil {
			return err
		}

		summary, err := encodeJSON(nonNil(a.Summary))
		if err != nil {
			return err
		}
		risks, err := encodeJSON(nonNil(a.Risks))
		if err != nil {
			return err
		}
		actions, err := encodeJSON(nonNil(a.ActionItems))
		if err != nil {
			return err
		}
		meta, err := encodeJSON(a.Metadata)
		if err != nil {
			return err
		}
		const q = `
INSERT INTO analyses (call_id, summary, risks, action_items, follow_up, metadata, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
`
		if _, err := tx.ExecContext(ctx, q, id, summary, risks, actions, a.FollowUp, meta, a.CreatedAt); err != nil {
			if isUniqueViolation(err) {
				return apperr.Conflict("already analyzed")
			}
			return apperr.Internal("insert analysis", err)
		}
		out, err = r.setStatus(ctx, tx, c, StatusAnalyzed)
		return err
	})
	return out, err
}

func (r *PostgresRepo) AppendSyncLog(ctx context.Context, id string, e SyncLogEntry) (Call, error) {
	var out Call
	err := utils.WithTx(ctx, r.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		c, err := lockCall(ctx, tx, id)
		if err != nil {
			return err
		}
		if ok, err := exists(ctx, tx, `SELECT EXISTS (SELECT 1 FROM analyses WHERE call_id = $1)`, id); err != nil {
			return err
		} else if !ok {
			return apperr.Precondition("no analysis")
		}
		if e.Outcome == SyncOutcomeSuccess {
			if err := CheckTransition(c.Status, StatusSynced); err != nil {
				return err
			}
		}

		payload, err := encodeJSON(e.Payload)
		if err != nil {
			return err
		}
		const q = `
INSERT INTO crm_sync_logs (id, call_id, attempted_at, outcome, external_ref, error, payload)
VALUES ($1, $2, $3, $4, $5, $6, $7)
`
		if _, err := tx.ExecContext(ctx, q, e.ID, id, e.AttemptedAt, string(e.Outcome),
			nullString(e.ExternalRef), nullString(e.Error), payload); err != nil {
			return apperr.Internal("insert sync log", err)
		}
		if e.Outcome != SyncOutcomeSuccess {
			out = c
			return nil
		}
		out, err = r.setStatus(ctx, tx, c, StatusSynced)
		return err
	})
	return out, err
}

func (r *PostgresRepo) UpdateStatus(ctx context.Context, id string, next Status) (Call, error) {
	var out Call
	err := utils.WithTx(ctx, r.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		c, err := lockCall(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := CheckTransition(c.Status, next); err != nil {
			return err
		}
		if q, ok := artifactQuery[next]; ok {
			found, err := exists(ctx, tx, q, id)
			if err != nil {
				return err
			}
			if !found {
				return apperr.Precondition(fmt.Sprintf("artifacts for %s missing", next))
			}
		}
		out, err = r.setStatus(ctx, tx, c, next)
		return err
	})
	return out, err
}

var artifactQuery = map[Status]string{
	StatusTranscribed: `SELECT EXISTS (SELECT 1 FROM transcripts WHERE call_id = $1)`,
	StatusAnalyzed:    `SELECT EXISTS (SELECT 1 FROM analyses WHERE call_id = $1)`,
	StatusSynced:      `SELECT EXISTS (SELECT 1 FROM crm_sync_logs WHERE call_id = $1 AND outcome = 'success')`,
}

func (r *PostgresRepo) GetTranscript(ctx context.Context, id string) (*Transcript, error) {
	if _, err := r.Get(ctx, id); err != nil {
		return nil, err
	}
	const q = `SELECT call_id, text, language, confidence, metadata, created_at FROM transcripts WHERE call_id = $1`
	var (
		t          Transcript
		confidence sql.NullFloat64
		meta       []byte
	)
	err := r.db.QueryRowContext(ctx, q, id).Scan(&t.CallID, &t.Text, &t.Language, &confidence, &meta, &t.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Internal("get transcript", err)
	}
	if confidence.Valid {
		v := confidence.Float64
		t.Confidence = &v
	}
	if err := decodeJSON(meta, &t.Metadata); err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *PostgresRepo) GetAnalysis(ctx context.Context, id string) (*Analysis, error) {
	if _, err := r.Get(ctx, id); err != nil {
		return nil, err
	}
	const q = `SELECT call_id, summary, risks, action_items, follow_up, metadata, created_at FROM analyses WHERE call_id = $1`
	var (
		a                              Analysis
		summary, risks, actions, meta []byte
	)
	err := r.db.QueryRowContext(ctx, q, id).Scan(&a.CallID, &summary, &risks, &actions, &a.FollowUp, &meta, &a.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Internal("get analysis", err)
	}
	for _, f := range []struct {
		raw []byte
		dst any
	}{{summary, &a.Summary}, {risks, &a.Risks}, {actions, &a.ActionItems}, {meta, &a.Metadata}} {
		if err := decodeJSON(f.raw, f.dst); err != nil {
			return nil, err
		}
	}
	return &a, nil
}

func (r *PostgresRepo) ListSyncLog(ctx context.Context, id string) ([]SyncLogEntry, error) {
	if _, err := r.Get(ctx, id); err != nil {
		return nil, err
	}
	const q = `
SELECT id, call_id, attempted_at, outcome, external_ref, error, payload
FROM crm_sync_logs
WHERE call_id = $1
ORDER BY seq ASC
`
	rows, err := r.db.QueryContext(ctx, q, id)
	if err != nil {
		return nil, apperr.Internal("list sync log", err)
	}
	defer rows.Close()

	out := make([]SyncLogEntry, 0)
	for rows.Next() {
		var (
			e           SyncLogEntry
			outcome     string
			ref, errMsg sql.NullString
			payload     []byte
		)
		if err := rows.Scan(&e.ID, &e.CallID, &e.AttemptedAt, &outcome, &ref, &errMsg, &payload); err != nil {
			return nil, apperr.Internal("scan sync log", err)
		}
		e.Outcome = SyncOutcome(outcome)
		e.ExternalRef = stringPtr(ref)
		e.Error = stringPtr(errMsg)
		if err := decodeJSON(payload, &e.Payload); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Internal("list sync log", err)
	}
	return out, nil
}

func (r *PostgresRepo) setStatus(ctx context.Context, tx *sql.Tx, c Call, s Status) (Call, error) {
	if c.Status == s {
		return c, nil
	}
	now := r.clock().UTC()
	const q = `UPDATE calls SET status = $2, updated_at = $3 WHERE id = $1`
	if _, err := tx.ExecContext(ctx, q, c.ID, string(s), now); err != nil {
		return Call{}, apperr.Internal("update call status", err)
	}
	c.Status = s
	c.UpdatedAt = now
	return c, nil
}

func lockCall(ctx context.Context, tx *sql.Tx, id string) (Call, error) {
	q := `SELECT ` + callColumns + ` FROM calls WHERE id = $1 FOR UPDATE`
	return scanCall(tx.QueryRowContext(ctx, q, id))
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCall(row rowScanner) (Call, error) {
	var (
		c            Call
		participants []byte
		status       string
	)
	err := row.Scan(
		&c.ID,
		&c.Title,
		&c.RecordedAt,
		&participants,
		&c.CallType,
		&status,
		&c.AudioRef,
		&c.ContactName,
		&c.Company,
		&c.CRMDealID,
		&c.ExternalID,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Call{}, apperr.NotFound("call not found")
		}
		return Call{}, apperr.Internal("scan call", err)
	}
	c.Status = Status(status)
	if err := decodeJSON(participants, &c.Participants); err != nil {
		return Call{}, err
	}
	c.Participants = nonNil(c.Participants)
	return c, nil
}

func exists(ctx context.Context, tx *sql.Tx, q string, id string) (bool, error) {
	var ok bool
	if err := tx.QueryRowContext(ctx, q, id).Scan(&ok); err != nil {
		return false, apperr.Internal("existence check", err)
	}
	return ok, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

func encodeJSON(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, apperr.Internal("encode json column", err)
	}
	return b, nil
}

func decodeJSON(raw []byte, dst any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return apperr.Internal("decode json column", err)
	}
	return nil
}

func nonNil(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}

func nullString(p *string) sql.NullString {
	if p == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *p, Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}
