// Package oval implements the feed-refresh half of the engine: a
// streaming preparser that discards irrelevant regions of a vendor OVAL
// document (spec.md §4.3), and a parser that tree-walks the remainder
// into a normalized, transient in-memory model (spec.md §4.4).
package oval

import "github.com/rtkjbillo/wazuh"

// Vulnerability is one row per (CVE × package) mapping discovered while
// walking a <definition>. A definition with N criterion siblings produces
// N of these, all sharing CveID (spec.md §3).
type Vulnerability struct {
	CveID       string
	StateID     string // the criterion's test ref; chased through Tests and States during persistence
	PackageName string
	Pending     bool // test_ref contained the literal substring "tst:10"
}

// InfoTest maps an OVAL test identifier to the state identifier it
// references. Absent state resolves to the sentinel "exists".
type InfoTest struct {
	ID    string
	State string
}

const ExistsSentinel = "exists"

// InfoState is the comparator operation and operand named by one OVAL
// state element.
type InfoState struct {
	ID             string
	Operation      string
	OperationValue string
}

// InfoCve is the display metadata for one CVE as read from a definition's
// <metadata> block.
type InfoCve struct {
	CveID       string
	Title       string
	Severity    wazuh.Severity
	Published   string
	Updated     string
	Reference   string
	Description string
}

// Metadata is the one-row-per-feed provenance block.
type Metadata struct {
	ProductName    string
	ProductVersion string
	SchemaVersion  string
	Timestamp      string
}

// ParsedOval is the container the Parser fills for one feed refresh. It is
// transient: built fully in memory, consumed row-by-row by the catalog's
// ReplaceOS, then discarded (spec.md §3 Lifecycle, §5 ordering
// guarantees).
type ParsedOval struct {
	OS              wazuh.Distro
	Metadata        Metadata
	Vulnerabilities []Vulnerability
	Tests           []InfoTest
	States          []InfoState
	Cves            []InfoCve
}

// Discard drops every Vulnerability whose StateID never got assigned,
// matching the invariant in spec.md §3: "A Vulnerability with no state_id
// after parsing is considered discarded and MUST NOT be persisted."
func (p *ParsedOval) Discard() {
	kept := p.Vulnerabilities[:0]
	for _, v := range p.Vulnerabilities {
		if v.StateID == "" {
			continue
		}
		kept = append(kept, v)
	}
	p.Vulnerabilities = kept
}
