package catalog

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-bizadmin/internal/policy"
)

const sampleCatalog = `
policies:
  - id: flat-70
    name: 七折
    kind: UniformDiscount
    status: active
    discountRatioPercent: 70
  - id: ladder
    name: 阶梯优惠
    type: tiered
    status: enabled
    validUntil: 2030-06-30
    tiers:
      - minQuantity: 1
        maxQuantity: 5
        ratio: 100
      - minQuantity: 6
        maxQuantity: null
        ratio: 80
`

func writeCatalog(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "policies.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestFileSourceSnapshot(t *testing.T) {
	src := FileSource{Path: writeCatalog(t, sampleCatalog)}
	policies, err := src.Snapshot(context.Background())
	require.NoError(t, err)
	require.Len(t, policies, 2)

	require.Equal(t, policy.KindUniform, policies[0].Kind)
	require.Equal(t, 70.0, policies[0].DiscountRatioPercent)

	ladder := policies[1]
	require.Equal(t, policy.KindTiered, ladder.Kind)
	require.Equal(t, policy.StatusActive, ladder.Status)
	require.NotNil(t, ladder.ValidUntil)
	require.Len(t, ladder.Tiers, 2)
	require.True(t, ladder.Tiers[1].IsOpenEnded())
}

func TestFileSourceRereadsFile(t *testing.T) {
	path := writeCatalog(t, sampleCatalog)
	src := FileSource{Path: path}
	_, err := src.Snapshot(context.Background())
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte(`[{"id":"only","name":"x","kind":"uniform","status":"inactive","discountRatio":90}]`), 0o600))
	policies, err := src.Snapshot(context.Background())
	require.NoError(t, err)
	require.Len(t, policies, 1)
	require.Equal(t, policy.StatusInactive, policies[0].Status)
}

func TestFileSourceQuarantinesInvalidRecords(t *testing.T) {
	var rejected []Rejection
	src := FileSource{Path: writeCatalog(t, `
- id: flat-70
  name: 七折
  kind: uniform
  status: active
  discountRatio: 70
- id: legacy-broken
  kind: tiered
  status: inactive
  tiers:
    - {start: 1, end: 10, ratio: 100}
    - {start: 5, ratio: 80}
- kind: uniform
  discountRatio: 50
`), OnReject: func(r Rejection) { rejected = append(rejected, r) }}

	policies, err := src.Snapshot(context.Background())
	require.NoError(t, err)
	require.Len(t, policies, 2)
	require.NoError(t, policies[0].Defect)
	require.Equal(t, "legacy-broken", policies[1].ID)
	require.ErrorIs(t, policies[1].Defect, policy.ErrInvalidInput)

	require.Len(t, rejected, 2)
	require.Equal(t, "legacy-broken", rejected[0].ID)
	require.Equal(t, 1, rejected[0].Index)
	require.Empty(t, rejected[1].ID)
	require.Equal(t, 2, rejected[1].Index)
}

func TestFileSourceUndecodableDocument(t *testing.T) {
	src := FileSource{Path: writeCatalog(t, "policies: [unterminated")}
	_, err := src.Snapshot(context.Background())
	require.ErrorIs(t, err, ErrInvalidCatalog)

	_, err = FileSource{Path: filepath.Join(t.TempDir(), "missing.yaml")}.Snapshot(context.Background())
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrInvalidCatalog)
}

func TestFind(t *testing.T) {
	src := StaticSource{{ID: "a"}, {ID: "b"}}
	p, err := Find(context.Background(), src, "b")
	require.NoError(t, err)
	require.Equal(t, "b", p.ID)

	_, err = Find(context.Background(), src, "zzz")
	require.ErrorIs(t, err, ErrNotFound)

	_, err = Find(context.Background(), FileSource{Path: filepath.Join(t.TempDir(), "missing.yaml")}, "a")
	require.ErrorIs(t, err, ErrUnavailable)
}

func TestPolicyRowLegacyTiers(t *testing.T) {
	row := policyRow{
		ID:     "legacy",
		Name:   "旧阶梯",
		Kind:   "TieredDiscount",
		Status: "active",
		Tiers:  []byte(`[{"minAmount":1,"maxAmount":3,"discount":100},{"minAmount":4,"discount":75}]`),
	}
	p, err := row.toPolicy()
	require.NoError(t, err)
	require.Len(t, p.Tiers, 2)
	require.Equal(t, 3, *p.Tiers[0].EndQuantity)
	require.True(t, p.Tiers[1].IsOpenEnded())
	require.Equal(t, 75.0, p.Tiers[1].DiscountRatioPercent)
}

type fakeDB struct {
	rows     [][]any
	execErr  error
	execArgs []any
}

func (f *fakeDB) Query(context.Context, string, ...any) (pgx.Rows, error) {
	if f.rows == nil {
		return nil, errors.New("not implemented")
	}
	return &fakeRows{rows: f.rows, pos: -1}, nil
}

// fakeRows serves policy rows in scan order.
type fakeRows struct {
	pgx.Rows
	rows [][]any
	pos  int
}

func (r *fakeRows) Next() bool { r.pos++; return r.pos < len(r.rows) }
func (r *fakeRows) Err() error { return nil }
func (r *fakeRows) Close()     {}

func (r *fakeRows) Scan(dest ...any) error {
	for i, v := range r.rows[r.pos] {
		switch d := dest[i].(type) {
		case *string:
			*d = v.(string)
		case *pgtype.Text:
			*d = v.(pgtype.Text)
		case *pgtype.Timestamptz:
			*d = v.(pgtype.Timestamptz)
		case *pgtype.Float8:
			*d = v.(pgtype.Float8)
		case *[]byte:
			*d = v.([]byte)
		default:
			return fmt.Errorf("unexpected scan target %T", dest[i])
		}
	}
	return nil
}

func policyRowValues(id, kind, status string, ratio pgtype.Float8, tiers string) []any {
	return []any{id, id, pgtype.Text{}, kind, "", pgtype.Timestamptz{}, status, ratio, []byte(tiers)}
}

func TestPGStoreSnapshotQuarantinesBadRows(t *testing.T) {
	var rejected []Rejection
	store := PGStore{
		DB: &fakeDB{rows: [][]any{
			policyRowValues("flat-70", "uniform", "active", pgtype.Float8{Float64: 70, Valid: true}, "[]"),
			policyRowValues("garbled", "tiered", "inactive", pgtype.Float8{}, "{not json"),
			policyRowValues("overlap", "tiered", "inactive", pgtype.Float8{}, `[{"start":1,"end":10,"ratio":100},{"start":5,"ratio":80}]`),
		}},
		OnReject: func(r Rejection) { rejected = append(rejected, r) },
	}
	policies, err := store.Snapshot(context.Background())
	require.NoError(t, err)
	require.Len(t, policies, 3)
	require.NoError(t, policies[0].Defect)
	require.Error(t, policies[1].Defect)
	require.Error(t, policies[2].Defect)
	require.Len(t, rejected, 2)
	require.Equal(t, "garbled", rejected[0].ID)
	require.Equal(t, "overlap", rejected[1].ID)
}

func (f *fakeDB) QueryRow(context.Context, string, ...any) pgx.Row {
	return errRow{err: pgx.ErrNoRows}
}

func (f *fakeDB) Exec(_ context.Context, _ string, args ...any) (pgconn.CommandTag, error) {
	f.execArgs = args
	return pgconn.NewCommandTag("INSERT 0 1"), f.execErr
}

type errRow struct{ err error }

func (r errRow) Scan(...any) error { return r.err }

func TestUpsertAssignsIDAndEncodesTiers(t *testing.T) {
	db := &fakeDB{}
	store := PGStore{DB: db}
	id, err := store.Upsert(context.Background(), policy.PricingPolicy{
		Name:   "阶梯",
		Kind:   policy.KindTiered,
		Status: policy.StatusActive,
		Tiers: []policy.Tier{
			{StartQuantity: 1, EndQuantity: policy.Bound(5), DiscountRatioPercent: 100},
			{StartQuantity: 6, DiscountRatioPercent: 80},
		},
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)
	require.Equal(t, id, db.execArgs[0])
	require.Equal(t, pgtype.Float8{}, db.execArgs[7])
	require.JSONEq(t, `[{"startQuantity":1,"endQuantity":5,"discountRatioPercent":100},{"startQuantity":6,"discountRatioPercent":80}]`, string(db.execArgs[8].([]byte)))
}

func TestUpsertMapsUniqueViolation(t *testing.T) {
	store := PGStore{DB: &fakeDB{execErr: &pgconn.PgError{Code: "23505"}}}
	_, err := store.Upsert(context.Background(), policy.PricingPolicy{
		ID: "x", Alias: "dup", Kind: policy.KindUniform, DiscountRatioPercent: 50,
	})
	require.ErrorIs(t, err, ErrConflict)
}

func TestUpsertRejectsInvalidPolicy(t *testing.T) {
	db := &fakeDB{}
	_, err := PGStore{DB: db}.Upsert(context.Background(), policy.PricingPolicy{ID: "x", Kind: policy.KindTiered})
	require.ErrorIs(t, err, policy.ErrInvalidInput)
	require.Nil(t, db.execArgs)
}

func TestGetNotFound(t *testing.T) {
	_, err := PGStore{DB: &fakeDB{}}.Get(context.Background(), "missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMigrateURL(t *testing.T) {
	require.Equal(t, "pgx5://u:p@db:5432/app", migrateURL("postgres://u:p@db:5432/app"))
	require.Equal(t, "pgx5://db/app", migrateURL("postgresql://db/app"))
	require.Equal(t, "pgx5://db/app", migrateURL("pgx5://db/app"))
}
