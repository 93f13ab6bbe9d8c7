package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jackc/pgx/v5/pgxpool"
	redis "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/noah-isme/backend-bizadmin/internal/catalog"
	"github.com/noah-isme/backend-bizadmin/internal/lock"
	"github.com/noah-isme/backend-bizadmin/internal/obs"
	"github.com/noah-isme/backend-bizadmin/internal/policy"
	"github.com/noah-isme/backend-bizadmin/internal/pricing"
)

type coverageRow struct {
	ID       string `json:"id" yaml:"id"`
	Name     string `json:"name" yaml:"name"`
	Kind     string `json:"kind" yaml:"kind"`
	Active   bool   `json:"active" yaml:"active"`
	Coverage string `json:"coverage" yaml:"coverage"`
	Expires  string `json:"expires,omitempty" yaml:"expires,omitempty"`
}

func newCheckCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate the catalog and report the quantities each policy can price",
		RunE: func(cmd *cobra.Command, args []string) error {
			var rejected int
			warn := warnRejected(cmd.ErrOrStderr())
			src, err := opts.source(func(r catalog.Rejection) {
				rejected++
				warn(r)
			})
			if err != nil {
				return err
			}
			policies, err := src.Snapshot(cmd.Context())
			if err != nil {
				return err
			}
			rows := coverageRows(policies, time.Now())

			var b strings.Builder
			tw := tabwriter.NewWriter(&b, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tKIND\tACTIVE\tCOVERAGE\tEXPIRES")
			for _, r := range rows {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%t\t%s\t%s\n", r.ID, r.Name, r.Kind, r.Active, r.Coverage, r.Expires)
			}
			_ = tw.Flush()
			if err := opts.write(cmd.OutOrStdout(), strings.TrimRight(b.String(), "\n"), rows); err != nil {
				return err
			}
			if rejected > 0 {
				return fmt.Errorf("catalog has %d invalid record(s)", rejected)
			}
			return nil
		},
	}
}

func coverageRows(policies []policy.PricingPolicy, now time.Time) []coverageRow {
	rows := make([]coverageRow, 0, len(policies))
	for _, p := range policies {
		row := coverageRow{ID: p.ID, Name: p.Name, Kind: string(p.Kind), Active: p.ActiveAt(now), Coverage: "all quantities"}
		switch {
		case p.Defect != nil:
			row.Coverage = "invalid"
		case p.Kind == policy.KindTiered:
			upTo, unbounded := pricing.CoveredUpTo(p.Tiers)
			switch {
			case upTo < 1:
				row.Coverage = "none"
			case !unbounded:
				row.Coverage = fmt.Sprintf("1-%d", upTo)
			}
		}
		if p.ValidUntil != nil {
			row.Expires = humanize.RelTime(*p.ValidUntil, now, "ago", "from now")
		}
		rows = append(rows, row)
	}
	return rows
}

func newImportCmd(opts *globalOptions) *cobra.Command {
	var (
		databaseURL string
		redisURL    string
		runMigrate  bool
	)
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Upsert every policy of the catalog file into the Postgres policy store",
		RunE: func(cmd *cobra.Command, args []string) error {
			var rejected int
			warn := warnRejected(cmd.ErrOrStderr())
			src, err := opts.source(func(r catalog.Rejection) {
				rejected++
				warn(r)
			})
			if err != nil {
				return err
			}
			policies, err := src.Snapshot(cmd.Context())
			if err != nil {
				return err
			}
			if rejected > 0 {
				return fmt.Errorf("catalog has %d invalid record(s), nothing imported", rejected)
			}
			if databaseURL == "" {
				return fmt.Errorf("--database-url or DATABASE_URL is required")
			}
			if runMigrate {
				if err := catalog.Migrate(databaseURL); err != nil {
					return err
				}
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
			defer cancel()
			poolConfig, err := pgxpool.ParseConfig(databaseURL)
			if err != nil {
				return fmt.Errorf("parse database url: %w", err)
			}
			poolConfig.ConnConfig.Tracer = obs.PGXTracer{}
			pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
			if err != nil {
				return fmt.Errorf("connect database: %w", err)
			}
			defer pool.Close()

			var n int
			run := func(ctx context.Context) error {
				var runErr error
				n, runErr = importPolicies(ctx, catalog.PGStore{DB: pool}, policies)
				return runErr
			}
			if redisURL != "" {
				err = withImportLock(ctx, redisURL, run)
			} else {
				err = run(ctx)
			}
			if err != nil {
				return err
			}
			return opts.write(cmd.OutOrStdout(), fmt.Sprintf("imported %d policies", n), map[string]int{"imported": n})
		},
	}
	cmd.Flags().StringVar(&databaseURL, "database-url", "", "Postgres connection URL (default $DATABASE_URL)")
	cmd.Flags().StringVar(&redisURL, "redis-url", "", "Redis URL used to serialize concurrent imports (default $REDIS_URL)")
	cmd.Flags().BoolVar(&runMigrate, "migrate", false, "apply schema migrations before importing")
	cmd.PreRun = func(*cobra.Command, []string) {
		if databaseURL == "" {
			databaseURL = strings.TrimSpace(os.Getenv("DATABASE_URL"))
		}
		if redisURL == "" {
			redisURL = strings.TrimSpace(os.Getenv("REDIS_URL"))
		}
	}
	return cmd
}

const importLockName = "catalog-import"

func withImportLock(ctx context.Context, redisURL string, fn func(context.Context) error) error {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	defer client.Close()
	return lock.Locker{Client: client}.WithLock(ctx, importLockName, 2*time.Minute, fn)
}

type policyWriter interface {
	Upsert(ctx context.Context, p policy.PricingPolicy) (string, error)
}

func importPolicies(ctx context.Context, store policyWriter, policies []policy.PricingPolicy) (int, error) {
	for i, p := range policies {
		if _, err := store.Upsert(ctx, p); err != nil {
			return i, fmt.Errorf("import policy %s: %w", p.ID, err)
		}
	}
	return len(policies), nil
}
