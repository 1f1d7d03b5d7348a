// Package catalog owns the on-disk relational catalog (spec.md §4.5,
// C5): atomic per-distribution replace, agent inventory staging, and the
// scan join query. It is backed by the embedded SQLite engine named as
// an external collaborator in spec.md §1/§6.
package catalog

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/doug-martin/goqu/v8"
	_ "github.com/doug-martin/goqu/v8/dialect/sqlite3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/quay/zlog"
	_ "modernc.org/sqlite"

	"github.com/rtkjbillo/wazuh"
	"github.com/rtkjbillo/wazuh/oval"
)

//go:embed queries/schema.sql
var schemaFS embed.FS

var (
	queryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "vulndetector",
		Subsystem: "catalog",
		Name:      "query_duration_seconds",
		Help:      "Catalog query duration by operation.",
	}, []string{"op"})
	queryTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vulndetector",
		Subsystem: "catalog",
		Name:      "query_total",
		Help:      "Catalog query count by operation and outcome.",
	}, []string{"op", "outcome"})
)

// MaxBusyRetries bounds how many times a statement is retried on SQLITE_BUSY
// before the phase surfaces ErrStorageBusy (spec.md §4.5, last paragraph).
const MaxBusyRetries = 5

const busyRetryBackoff = 50 * time.Millisecond

// FileMode and ownership match spec.md §6: the catalog file must be
// owned by the service user and group with mode 0660.
const FileMode = 0o660

// Store owns the catalog's *sql.DB handle.
type Store struct {
	db      *sql.DB
	dialect goqu.DialectWrapper
}

// Open opens (creating if absent) the catalog file at path and ensures
// its schema exists. The returned Store's Close method must be called.
func Open(ctx context.Context, path string) (*Store, error) {
	u := url.URL{
		Scheme: "file",
		Opaque: path,
		RawQuery: url.Values{
			"_pragma": {"busy_timeout(5000)", "foreign_keys(1)"},
		}.Encode(),
	}
	db, err := sql.Open("sqlite", u.String())
	if err != nil {
		return nil, wazuh.NewError("catalog.Open", wazuh.ErrIo, "opening catalog", err)
	}
	db.SetMaxOpenConns(1) // sqlite: single writer, per spec.md §5 "exclusive writer"
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, wazuh.NewError("catalog.Open", wazuh.ErrIo, "pinging catalog", err)
	}

	s := &Store{db: db, dialect: goqu.Dialect("sqlite3")}
	if err := s.ensureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	if err := ensureOwnership(path); err != nil {
		zlog.Info(ctx).Err(err).Msg("could not set catalog file ownership; continuing")
	}
	return s, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) ensureSchema(ctx context.Context) error {
	b, err := schemaFS.ReadFile("queries/schema.sql")
	if err != nil {
		return wazuh.NewError("catalog.ensureSchema", wazuh.ErrIo, "reading embedded schema", err)
	}
	for _, stmt := range strings.Split(string(b), ";\n\n") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return wazuh.NewError("catalog.ensureSchema", wazuh.ErrIo, "applying schema", err)
		}
	}
	return nil
}

func ensureOwnership(path string) error {
	gid := os.Getegid()
	if err := os.Chown(path, os.Geteuid(), gid); err != nil {
		return err
	}
	return os.Chmod(path, FileMode)
}

// withRetry runs fn, retrying on SQLITE_BUSY up to MaxBusyRetries times
// (spec.md §4.5, "All SQL execution retries on BUSY up to a fixed attempt
// count, then surfaces StorageBusy").
func withRetry(ctx context.Context, op string, fn func() error) error {
	timer := prometheus.NewTimer(prometheus.ObserverFunc(func(v float64) {
		queryDuration.WithLabelValues(op).Observe(v)
	}))
	defer timer.ObserveDuration()

	var err error
	for attempt := 0; attempt <= MaxBusyRetries; attempt++ {
		err = fn()
		if err == nil {
			queryTotal.WithLabelValues(op, "ok").Inc()
			return nil
		}
		if !isBusy(err) {
			break
		}
		select {
		case <-ctx.Done():
			queryTotal.WithLabelValues(op, "canceled").Inc()
			return ctx.Err()
		case <-time.After(busyRetryBackoff):
		}
	}
	if isBusy(err) {
		queryTotal.WithLabelValues(op, "busy").Inc()
		return wazuh.NewError(op, wazuh.ErrStorageBusy, "retries exhausted", err)
	}
	queryTotal.WithLabelValues(op, "error").Inc()
	return wazuh.NewError(op, wazuh.ErrIo, "query failed", err)
}

func isBusy(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "SQLITE_BUSY") || strings.Contains(err.Error(), "database is locked")
}

// isConstraint reports whether err is a uniqueness/constraint violation,
// which some inserts (spec.md §7, ErrStorageConstraint) treat as success.
func isConstraint(err error) bool {
	return err != nil && strings.Contains(err.Error(), "constraint")
}

var errNoRows = sql.ErrNoRows

// TimestampFor returns the stored metadata.timestamp for os, or "" if no
// row exists yet. Used by fetch.TimestampLookup.
func (s *Store) TimestampFor(ctx context.Context, os wazuh.Distro) (string, error) {
	var ts string
	err := withRetry(ctx, "catalog.TimestampFor", func() error {
		row := s.db.QueryRowContext(ctx, `SELECT timestamp FROM metadata WHERE os = ?`, os.String())
		err := row.Scan(&ts)
		if errors.Is(err, errNoRows) {
			ts = ""
			return nil
		}
		return err
	})
	return ts, err
}

// ReplaceOS implements spec.md §4.5 replace_os as one transaction. The
// ParsedOval's Tests and States are resolved into a final
// (operation, operation_value) pair for each Vulnerability in memory
// before any row is written — the three-stage state_id rewrite the
// original engine performed with UPDATE statements against an
// overloaded column is unnecessary once the full model is built up
// front (spec.md §3 Lifecycle: "Within one refresh, the ParsedOval
// container is built fully before any row is written").
func (s *Store) ReplaceOS(ctx context.Context, parsed *oval.ParsedOval) error {
	resolved, err := resolve(parsed)
	if err != nil {
		return err
	}

	op := "catalog.ReplaceOS"
	return withRetry(ctx, op, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		osStr := parsed.OS.String()
		for _, table := range []string{"vulnerabilities", "metadata", "cve_info"} {
			if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE os = ?`, osStr); err != nil {
				return err
			}
		}

		insVuln, err := tx.PrepareContext(ctx, `INSERT INTO vulnerabilities
			(cve_id, os, package_name, pending, operation, operation_value)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(cve_id, os, package_name) DO UPDATE SET
				pending=excluded.pending, operation=excluded.operation, operation_value=excluded.operation_value`)
		if err != nil {
			return err
		}
		defer insVuln.Close()
		for _, v := range resolved {
			if _, err := insVuln.ExecContext(ctx, v.CveID, osStr, v.PackageName, v.Pending, string(v.Operation), v.OperationValue); err != nil {
				return err
			}
		}

		insCve, err := tx.PrepareContext(ctx, `INSERT INTO cve_info
			(cve_id, os, title, severity, published, updated, reference, description)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(cve_id, os) DO NOTHING`)
		if err != nil {
			return err
		}
		defer insCve.Close()
		for _, c := range parsed.Cves {
			if c.CveID == "" {
				continue
			}
			sev := c.Severity
			if sev == "" {
				sev = wazuh.UnknownSeverity
			}
			if _, err := insCve.ExecContext(ctx, c.CveID, osStr, c.Title, string(sev), c.Published, c.Updated, c.Reference, c.Description); err != nil {
				if isConstraint(err) {
					continue // StorageConstraint: duplicate metadata is success (spec.md §7)
				}
				return err
			}
		}

		if _, err := tx.ExecContext(ctx, `INSERT INTO metadata
			(os, product_name, product_version, schema_version, timestamp)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(os) DO UPDATE SET
				product_name=excluded.product_name, product_version=excluded.product_version,
				schema_version=excluded.schema_version, timestamp=excluded.timestamp`,
			osStr, parsed.Metadata.ProductName, parsed.Metadata.ProductVersion,
			parsed.Metadata.SchemaVersion, parsed.Metadata.Timestamp); err != nil {
			if !isConstraint(err) {
				return err
			}
		}

		return tx.Commit()
	})
}

// resolvedVuln is a Vulnerability whose StateID has been chased through
// the Tests and States sequences to a concrete operation/operand, or
// left as "not fixable" when the chain ends at ExistsSentinel or an
// unresolved reference.
type resolvedVuln struct {
	CveID, PackageName string
	Pending            bool
	Operation          wazuh.VulnerableOperation
	OperationValue     string
}

// resolve performs the tests-pass then states-pass join the original
// engine did with two UPDATE loops (spec.md §3), once, against the
// in-memory model. (spec.md §9 "Duplicated tests-loop bug" notes the
// original ran this twice; a clean port runs it once.)
func resolve(parsed *oval.ParsedOval) ([]resolvedVuln, error) {
	testByID := make(map[string]oval.InfoTest, len(parsed.Tests))
	for _, t := range parsed.Tests {
		testByID[t.ID] = t
	}
	stateByID := make(map[string]oval.InfoState, len(parsed.States))
	for _, st := range parsed.States {
		stateByID[st.ID] = st
	}

	out := make([]resolvedVuln, 0, len(parsed.Vulnerabilities))
	for _, v := range parsed.Vulnerabilities {
		if v.StateID == "" {
			continue // discarded per spec.md §3 invariant
		}
		rv := resolvedVuln{CveID: v.CveID, PackageName: v.PackageName, Pending: v.Pending}

		stateRef := v.StateID
		if t, ok := testByID[v.StateID]; ok {
			stateRef = t.State
			if stateRef == "" {
				stateRef = oval.ExistsSentinel
			}
		}
		if stateRef != oval.ExistsSentinel {
			if st, ok := stateByID[stateRef]; ok {
				rv.Operation = wazuh.VulnerableOperation(st.Operation)
				rv.OperationValue = st.OperationValue
			}
		}
		out = append(out, rv)
	}
	return out, nil
}

// ResetAgents deletes all rows from agents (spec.md §4.5 reset_agents,
// run at the start of every scan cycle per §3 Lifecycle).
func (s *Store) ResetAgents(ctx context.Context) error {
	return withRetry(ctx, "catalog.ResetAgents", func() error {
		_, err := s.db.ExecContext(ctx, `DELETE FROM agents`)
		return err
	})
}

// InsertAgentPackage is idempotent per (agent_id, package_name) row
// (spec.md §4.5 insert_agent_package).
func (s *Store) InsertAgentPackage(ctx context.Context, agentID, name, version, arch string) error {
	return withRetry(ctx, "catalog.InsertAgentPackage", func() error {
		_, err := s.db.ExecContext(ctx, `INSERT INTO agents (agent_id, package_name, version, arch)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(agent_id, package_name) DO UPDATE SET version=excluded.version, arch=excluded.arch`,
			agentID, name, version, arch)
		return err
	})
}

// CveRow is one row of the scan join, in the column order spec.md §4.5
// mandates.
type CveRow struct {
	CveID          string
	PackageName    string
	Title          string
	Severity       wazuh.Severity
	Published      string
	Updated        string
	Reference      string
	Description    string
	Version        string
	Operation      wazuh.VulnerableOperation
	OperationValue string
}

// JoinAgentCVEs returns rows ordered by cve_id — mandatory, because the
// Scanner/Reporter relies on that ordering to detect CVE boundaries
// while streaming (spec.md §4.5, §4.7).
func (s *Store) JoinAgentCVEs(ctx context.Context, agentID string, osTag wazuh.Distro) (*sql.Rows, error) {
	ds := s.dialect.From(goqu.T("vulnerabilities").As("v")).
		Join(goqu.T("agents").As("a"), goqu.On(goqu.Ex{"a.package_name": goqu.I("v.package_name")})).
		Join(goqu.T("cve_info").As("c"), goqu.On(goqu.Ex{"c.cve_id": goqu.I("v.cve_id"), "c.os": goqu.I("v.os")})).
		Select(
			goqu.I("v.cve_id"), goqu.I("v.package_name"), goqu.I("c.title"), goqu.I("c.severity"),
			goqu.I("c.published"), goqu.I("c.updated"), goqu.I("c.reference"), goqu.I("c.description"),
			goqu.I("a.version"), goqu.I("v.operation"), goqu.I("v.operation_value"),
		).
		Where(goqu.Ex{"a.agent_id": agentID, "v.os": osTag.String()}).
		Order(goqu.I("v.cve_id").Asc())

	sqlStr, args, err := ds.ToSQL()
	if err != nil {
		return nil, wazuh.NewError("catalog.JoinAgentCVEs", wazuh.ErrIo, "building query", err)
	}

	var rows *sql.Rows
	err = withRetry(ctx, "catalog.JoinAgentCVEs", func() error {
		var qerr error
		rows, qerr = s.db.QueryContext(ctx, sqlStr, args...)
		return qerr
	})
	if err != nil {
		return nil, err
	}
	return rows, nil
}
