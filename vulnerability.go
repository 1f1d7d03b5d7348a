package wazuh

// CveInfo is the display metadata for one CVE, scoped to a single OS
// (spec.md §3, table cve_info).
type CveInfo struct {
	CveID       string
	OS          Distro
	Title       string
	Severity    Severity
	Published   string
	Updated     string
	Reference   string
	Description string
}

// VulnerableOperation names a comparator operation extracted from an OVAL
// state (spec.md §3, InfoState.operation). The engine only ever sees
// "less than" in practice, but the column is free text straight from the
// feed, so it's kept as a string rather than a closed enum.
type VulnerableOperation string

const LessThan VulnerableOperation = "less than"

// CatalogVulnerability is one (cve_id, OS, package_name) row as persisted
// in the catalog's vulnerabilities table, after all three state_id
// rewrites described in spec.md §3 have settled.
type CatalogVulnerability struct {
	CveID          string
	OS             Distro
	PackageName    string
	Pending        bool
	Operation      VulnerableOperation
	OperationValue string // empty means "not fixable" (no operand)
}
