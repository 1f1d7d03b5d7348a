// Package compare implements the Comparator component (spec.md §4.6,
// C6): a distribution-aware, epoch/upstream/release-aware "less than"
// check that is the sole arbiter of whether a host is vulnerable.
package compare

import (
	debversion "github.com/knqyf263/go-deb-version"
	rpmversion "github.com/knqyf263/go-rpm-version"

	"github.com/rtkjbillo/wazuh"
)

// Result is the comparator's sentinel outcome (spec.md §4.6).
type Result int

const (
	NotVulnerable Result = 0
	Vulnerable    Result = 1
	NotFixable    Result = 2
)

// Compare is deterministic and side-effect-free, safe to call from the
// hot report loop tens of thousands of times per scan (spec.md §4.6,
// last paragraph). A non-nil error is always ErrCompareFailure; callers
// treat the package as not vulnerable for this CVE and log at debug
// (spec.md §7).
func Compare(family wazuh.Family, installed string, op wazuh.VulnerableOperation, operand string) (Result, error) {
	if operand == "" {
		return NotFixable, nil
	}
	if op != wazuh.LessThan {
		return NotVulnerable, nil
	}

	lt, err := lessThan(family, installed, operand)
	if err != nil {
		return NotVulnerable, wazuh.NewError("compare.Compare", wazuh.ErrCompareFailure,
			"version comparison bailed out", err)
	}
	if lt {
		return Vulnerable, nil
	}
	return NotVulnerable, nil
}

// lessThan dispatches to the family-appropriate EVR-aware library: Debian
// policy ordering for Ubuntu, RPM policy ordering for Red Hat. Both
// implement the three-phase epoch/upstream/release algorithm spec.md
// §4.6 describes; reimplementing it by hand here would just be a worse
// copy of what these libraries already get right.
func lessThan(family wazuh.Family, installed, operand string) (bool, error) {
	switch family {
	case wazuh.Ubuntu:
		a, err := debversion.NewVersion(installed)
		if err != nil {
			return false, err
		}
		b, err := debversion.NewVersion(operand)
		if err != nil {
			return false, err
		}
		return a.LessThan(b), nil
	default:
		a := rpmversion.NewVersion(installed)
		b := rpmversion.NewVersion(operand)
		return a.LessThan(b), nil
	}
}
