// Package migrate applies the goose SQL migrations, either from a directory on disk or from the
// copy compiled into every binary.
package migrate

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"

	"github.com/pressly/goose/v3"
)

const DefaultDir = "pkg/migrate/migrations"

//go:embed migrations/*.sql
var Migrations embed.FS

// Source is a set of migration files.
type Source struct {
	fsys  fs.FS
	label string
}

func DirSource(dir string) (Source, error) {
	if dir == "" {
		return Source{}, errors.New("migrations dir is required")
	}
	return Source{fsys: os.DirFS(dir), label: dir}, nil
}

func EmbeddedSource() Source {
	sub, err := fs.Sub(Migrations, "migrations")
	if err != nil {
		// the embed pattern guarantees the directory exists
		panic(err)
	}
	return Source{fsys: sub, label: "embedded"}
}

func (s Source) String() string { return s.label }

// Runner executes goose commands for one source against one database. Migrations target
// Postgres; the sqlite driver is only used by tests and never migrated.
type Runner struct {
	provider *goose.Provider
	report   func(format string, args ...any)
}

func NewRunner(db *sql.DB, src Source, report func(format string, args ...any)) (*Runner, error) {
	if db == nil {
		return nil, errors.New("db is required")
	}
	if src.fsys == nil {
		return nil, errors.New("migration source is required")
	}
	provider, err := goose.NewProvider(goose.DialectPostgres, db, src.fsys)
	if err != nil {
		return nil, fmt.Errorf("goose provider for %s: %w", src, err)
	}
	if report == nil {
		report = func(string, ...any) {}
	}
	return &Runner{provider: provider, report: report}, nil
}

// Run executes up, down or status.
func (r *Runner) Run(ctx context.Context, command string) error {
	switch command {
	case "up":
		results, err := r.provider.Up(ctx)
		for _, res := range results {
			r.reportResult(res)
		}
		return wrapGoose("up", err)
	case "down":
		res, err := r.provider.Down(ctx)
		r.reportResult(res)
		return wrapGoose("down", err)
	case "status":
		statuses, err := r.provider.Status(ctx)
		if err != nil {
			return wrapGoose("status", err)
		}
		for _, st := range statuses {
			applied := "pending"
			if st.State == goose.StateApplied {
				applied = st.AppliedAt.UTC().Format("2006-01-02 15:04:05")
			}
			r.report("%-24s %s", applied, st.Source.Path)
		}
		return nil
	default:
		return fmt.Errorf("unknown goose command %q", command)
	}
}

// MigrateTo moves the schema up or down to the version named by a YYYYMMDDHHMMSS string.
func (r *Runner) MigrateTo(ctx context.Context, version string) error {
	target, err := strconv.ParseInt(version, 10, 64)
	if err != nil || len(version) != len(versionLayout) {
		return fmt.Errorf("invalid version %q (expected YYYYMMDDHHMMSS)", version)
	}
	current, err := r.provider.GetDBVersion(ctx)
	if err != nil {
		return fmt.Errorf("get db version: %w", err)
	}
	switch {
	case current < target:
		results, err := r.provider.UpTo(ctx, target)
		for _, res := range results {
			r.reportResult(res)
		}
		return wrapGoose("up-to", err)
	case current > target:
		results, err := r.provider.DownTo(ctx, target)
		for _, res := range results {
			r.reportResult(res)
		}
		return wrapGoose("down-to", err)
	}
	return nil
}

func (r *Runner) reportResult(res *goose.MigrationResult) {
	if res == nil || res.Source == nil {
		return
	}
	r.report("%-4s %s (%s)", res.Direction, res.Source.Path, res.Duration.Round(1e6))
}

func wrapGoose(command string, err error) error {
	if err == nil || errors.Is(err, goose.ErrNoNextVersion) || errors.Is(err, goose.ErrNoCurrentVersion) {
		return nil
	}
	return fmt.Errorf("goose %s: %w", command, err)
}
