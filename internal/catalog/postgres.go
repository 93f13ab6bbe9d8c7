package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/noah-isme/backend-bizadmin/internal/policy"
)

const uniqueViolation = "23505"

const selectPolicies = `SELECT id, name, alias, kind, summary, valid_until, status, discount_ratio_percent, tiers
FROM pricing_policies`

const upsertPolicy = `INSERT INTO pricing_policies
    (id, name, alias, kind, summary, valid_until, status, discount_ratio_percent, tiers, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now())
ON CONFLICT (id) DO UPDATE SET
    name = EXCLUDED.name,
    alias = EXCLUDED.alias,
    kind = EXCLUDED.kind,
    summary = EXCLUDED.summary,
    valid_until = EXCLUDED.valid_until,
    status = EXCLUDED.status,
    discount_ratio_percent = EXCLUDED.discount_ratio_percent,
    tiers = EXCLUDED.tiers,
    updated_at = now()`

// DB captures the pgx methods used by PGStore. *pgxpool.Pool satisfies it.
type DB interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PGStore reads and writes policies in Postgres. Snapshots always hit the database.
type PGStore struct {
	DB       DB
	OnReject RejectFunc
}

type policyRow struct {
	ID         string
	Name       string
	Alias      pgtype.Text
	Kind       string
	Summary    string
	ValidUntil pgtype.Timestamptz
	Status     string
	Ratio      pgtype.Float8
	Tiers      []byte
}

func (r *policyRow) scanTargets() []any {
	return []any{&r.ID, &r.Name, &r.Alias, &r.Kind, &r.Summary, &r.ValidUntil, &r.Status, &r.Ratio, &r.Tiers}
}

// Snapshot returns every stored policy.
func (s PGStore) Snapshot(ctx context.Context) ([]policy.PricingPolicy, error) {
	if s.DB == nil {
		return nil, errors.New("policy store not configured")
	}
	rows, err := s.DB.Query(ctx, selectPolicies+" ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("query policies: %w", err)
	}
	defer rows.Close()

	var out []policy.PricingPolicy
	for i := 0; rows.Next(); i++ {
		var row policyRow
		if err := rows.Scan(row.scanTargets()...); err != nil {
			return nil, fmt.Errorf("scan policy: %w", err)
		}
		raw, decodeErr := row.toRaw()
		if p, ok := normalizeRecord(raw, decodeErr, i, s.OnReject); ok {
			out = append(out, p)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate policies: %w", err)
	}
	return out, nil
}

// Get loads a single policy by id.
func (s PGStore) Get(ctx context.Context, id string) (policy.PricingPolicy, error) {
	if s.DB == nil {
		return policy.PricingPolicy{}, errors.New("policy store not configured")
	}
	var row policyRow
	err := s.DB.QueryRow(ctx, selectPolicies+" WHERE id = $1", strings.TrimSpace(id)).Scan(row.scanTargets()...)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return policy.PricingPolicy{}, ErrNotFound
		}
		return policy.PricingPolicy{}, fmt.Errorf("get policy %s: %w", id, err)
	}
	return row.toPolicy()
}

// Upsert validates and stores a policy, assigning an id when it has none. It returns the stored id.
func (s PGStore) Upsert(ctx context.Context, p policy.PricingPolicy) (string, error) {
	if s.DB == nil {
		return "", errors.New("policy store not configured")
	}
	if strings.TrimSpace(p.ID) == "" {
		p.ID = uuid.NewString()
	}
	if err := policy.Validate(p); err != nil {
		return "", err
	}
	args, err := upsertArgs(p)
	if err != nil {
		return "", err
	}
	if _, err := s.DB.Exec(ctx, upsertPolicy, args...); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return "", fmt.Errorf("alias %q already in use: %w", p.Alias, ErrConflict)
		}
		return "", fmt.Errorf("upsert policy %s: %w", p.ID, err)
	}
	return p.ID, nil
}

func upsertArgs(p policy.PricingPolicy) ([]any, error) {
	tiers := p.Tiers
	if tiers == nil {
		tiers = []policy.Tier{}
	}
	encoded, err := json.Marshal(tiers)
	if err != nil {
		return nil, fmt.Errorf("encode tiers: %w", err)
	}
	alias := pgtype.Text{}
	if a := strings.TrimSpace(p.Alias); a != "" {
		alias = pgtype.Text{String: a, Valid: true}
	}
	validUntil := pgtype.Timestamptz{}
	if p.ValidUntil != nil {
		validUntil = pgtype.Timestamptz{Time: *p.ValidUntil, Valid: true}
	}
	ratio := pgtype.Float8{}
	if p.Kind == policy.KindUniform {
		ratio = pgtype.Float8{Float64: p.DiscountRatioPercent, Valid: true}
	}
	status := p.Status
	if status == "" {
		status = policy.StatusActive
	}
	return []any{p.ID, p.Name, alias, string(p.Kind), p.Summary, validUntil, string(status), ratio, encoded}, nil
}

// toRaw turns the stored record into the same raw shape any other host
// payload has, so legacy tier field names in old rows are still understood.
func (r policyRow) toRaw() (policy.RawPolicy, error) {
	raw := policy.RawPolicy{
		ID:      r.ID,
		Name:    r.Name,
		Kind:    r.Kind,
		Summary: r.Summary,
		Status:  r.Status,
	}
	if r.Alias.Valid {
		raw.Alias = r.Alias.String
	}
	if r.ValidUntil.Valid {
		raw.ValidUntil = r.ValidUntil.Time.UTC().Format(time.RFC3339Nano)
	}
	if r.Ratio.Valid {
		raw.DiscountRatioPercent = r.Ratio.Float64
	}
	if len(r.Tiers) > 0 {
		if err := json.Unmarshal(r.Tiers, &raw.Tiers); err != nil {
			return raw, fmt.Errorf("decode tiers of policy %s: %w", r.ID, err)
		}
	}
	return raw, nil
}

func (r policyRow) toPolicy() (policy.PricingPolicy, error) {
	raw, err := r.toRaw()
	if err != nil {
		return policy.PricingPolicy{}, err
	}
	p, err := policy.Normalize(raw)
	if err != nil {
		return policy.PricingPolicy{}, fmt.Errorf("stored policy %s: %w", r.ID, err)
	}
	return p, nil
}
