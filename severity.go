package wazuh

// Severity is a pass-through label from the feed; the engine does not
// compute or normalize scores of its own (spec.md §1 Non-goals).
type Severity string

// UnknownSeverity is the default applied when the feed's <severity>
// element is empty (spec.md §3, §4.4).
const UnknownSeverity Severity = "Unknown"

// Value implements database/sql/driver.Valuer so Severity can be written
// directly into the catalog's cve_info.severity column.
func (s Severity) Value() (interface{}, error) {
	if s == "" {
		return string(UnknownSeverity), nil
	}
	return string(s), nil
}

// Scan implements sql.Scanner.
func (s *Severity) Scan(v interface{}) error {
	switch t := v.(type) {
	case string:
		*s = Severity(t)
	case []byte:
		*s = Severity(t)
	case nil:
		*s = UnknownSeverity
	default:
		return NewError("Severity.Scan", ErrStorageConstraint, "unexpected column type", nil)
	}
	if *s == "" {
		*s = UnknownSeverity
	}
	return nil
}
