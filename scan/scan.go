// Package scan implements the Scanner/Reporter component (spec.md §4.7,
// C7): for each agent, loads its inventory, joins against the catalog,
// aggregates matches per CVE, and emits alerts.
package scan

import (
	"context"
	"database/sql"
	"errors"

	"github.com/quay/zlog"

	"github.com/rtkjbillo/wazuh"
	"github.com/rtkjbillo/wazuh/compare"
	"github.com/rtkjbillo/wazuh/internal/alertsink"
)

// MaxPackageListLen bounds the rendered package_list per alert, in
// entries. Beyond this the list is truncated with an ellipsis and no
// further packages are appended for that CVE, but the alert is still
// emitted (spec.md §4.7 step 5).
const MaxPackageListLen = 64

// Catalog is the subset of *catalog.Store the scanner needs, named here
// to keep this package free of an import cycle and to narrow the
// dependency for tests.
type Catalog interface {
	ResetAgents(ctx context.Context) error
	InsertAgentPackage(ctx context.Context, agentID, name, version, arch string) error
	JoinAgentCVEs(ctx context.Context, agentID string, os wazuh.Distro) (*sql.Rows, error)
}

// Scanner drives one full scan cycle.
type Scanner struct {
	Catalog   Catalog
	Inventory wazuh.InventoryProvider
	Sink      alertsink.Sink
}

// accumulator mirrors the "current CVE accumulator" of spec.md §4.7
// step 3.
type accumulator struct {
	cveID, title, severity, published, updated, reference, description string
	packages                                                            []string
	truncated                                                           bool
}

func (acc *accumulator) append(entry string) {
	if acc.truncated {
		return
	}
	if len(acc.packages) >= MaxPackageListLen {
		acc.packages = append(acc.packages, "...")
		acc.truncated = true
		return
	}
	acc.packages = append(acc.packages, entry)
}

func (acc *accumulator) empty() bool { return acc.cveID == "" }

// Run performs one scan cycle over every known agent (spec.md §4.7,
// §3 Lifecycle). Agents are visited in reverse of the order the
// inventory provider returns them; spec.md §9 requires every agent be
// visited exactly once per scan but leaves the direction unobservable,
// so reverse order is chosen and documented here.
func (s *Scanner) Run(ctx context.Context) error {
	ctx = zlog.ContextWithValues(ctx, "component", "scan.Scanner.Run")

	agents, err := s.Inventory.Agents()
	if err != nil {
		return wazuh.NewError("scan.Run", wazuh.ErrIo, "listing agents", err)
	}

	if err := s.Catalog.ResetAgents(ctx); err != nil {
		return err
	}

	for i := len(agents) - 1; i >= 0; i-- {
		agent := agents[i]
		actx := zlog.ContextWithValues(ctx, "agent_id", agent.ID)

		pkgs, err := s.Inventory.Inventory(agent.ID)
		if err != nil {
			var e *wazuh.Error
			if errors.As(err, &e) && e.Kind == wazuh.ErrInventoryMissing {
				zlog.Info(actx).Msg("inventory missing for agent, skipping")
				continue
			}
			zlog.Error(actx).Err(err).Msg("reading inventory failed, skipping agent")
			continue
		}

		for _, pkg := range pkgs {
			if err := s.Catalog.InsertAgentPackage(actx, agent.ID, pkg.Name, pkg.Version, pkg.Arch); err != nil {
				zlog.Error(actx).Err(err).Str("package", pkg.Name).Msg("staging package failed")
			}
		}

		if err := s.reportAgent(actx, agent); err != nil {
			var e *wazuh.Error
			if errors.As(err, &e) && e.Kind == wazuh.ErrQueueFatal {
				return err // fatal per spec.md §4.7: alert sink unreachable even after reopen
			}
			zlog.Error(actx).Err(err).Msg("reporting agent failed")
		}
	}

	return nil
}

func (s *Scanner) reportAgent(ctx context.Context, agent wazuh.Agent) error {
	rows, err := s.Catalog.JoinAgentCVEs(ctx, agent.ID, agent.OS)
	if err != nil {
		return err
	}
	defer rows.Close()

	family := agent.OS.Family()
	var acc accumulator

	for rows.Next() {
		var (
			cveID, pkgName, title, published, updated, reference, description, version, operand string
			severity                                                                             wazuh.Severity
			operation                                                                             wazuh.VulnerableOperation
		)
		if err := rows.Scan(&cveID, &pkgName, &title, &severity, &published, &updated, &reference, &description, &version, &operation, &operand); err != nil {
			return wazuh.NewError("scan.reportAgent", wazuh.ErrIo, "scanning join row", err)
		}

		if !acc.empty() && acc.cveID != cveID {
			if err := s.flush(ctx, agent, acc); err != nil {
				return err
			}
			acc = accumulator{}
		}
		if acc.empty() {
			acc = accumulator{
				cveID: cveID, title: title, severity: string(severity),
				published: published, updated: updated, reference: reference, description: description,
			}
		}

		result, cerr := compare.Compare(family, version, operation, operand)
		if cerr != nil {
			zlog.Debug(ctx).Err(cerr).Str("package", pkgName).Msg("comparator bailed out")
			continue
		}
		switch result {
		case compare.Vulnerable:
			acc.append(pkgName + " (fixable)")
		case compare.NotFixable:
			acc.append(pkgName + " (unfixed)")
		case compare.NotVulnerable:
		}
	}
	if err := rows.Err(); err != nil {
		return wazuh.NewError("scan.reportAgent", wazuh.ErrIo, "iterating join rows", err)
	}

	if !acc.empty() {
		if err := s.flush(ctx, agent, acc); err != nil {
			return err
		}
	}
	return nil
}

// flush sends one alert. A QueueFatal error (sink unreachable even after
// reopen) is propagated to the caller, which treats it as terminal; any
// other send failure is logged and the scan continues (spec.md §4.7, §7).
func (s *Scanner) flush(ctx context.Context, agent wazuh.Agent, acc accumulator) error {
	if len(acc.packages) == 0 {
		return nil
	}
	alert := alertsink.Alert{
		AgentID: agent.ID, AgentName: agent.Name, AgentIP: agent.IP,
		CveID: acc.cveID, Title: acc.title, Severity: acc.severity,
		Published: acc.published, Updated: acc.updated,
		Reference: acc.reference, Description: acc.description,
		Packages: acc.packages,
	}
	if err := s.Sink.Send(alert, alertsink.SecurePriority); err != nil {
		var e *wazuh.Error
		if errors.As(err, &e) && e.Kind == wazuh.ErrQueueFatal {
			return err
		}
		zlog.Error(ctx).Err(err).Msg("sending alert failed")
	}
	return nil
}
