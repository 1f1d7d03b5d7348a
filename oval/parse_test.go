package oval

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/rtkjbillo/wazuh"
)

const ubuntuFixture = `<?xml version="1.0"?>
<oval_definitions>
<generator>
  <product_name>testgen</product_name>
  <product_version>1.0</product_version>
  <schema_version>5.10</schema_version>
  <timestamp>2021-01-02T03:04:05</timestamp>
</generator>
<definitions>
<definition id="oval:com.ubuntu.xenial:def:1" class="vulnerability">
  <metadata>
    <title>CVE-2020-100: Some vulnerability title</title>
    <description>a description</description>
    <reference ref_url="https://example.com/cve-2020-100"/>
    <severity>High</severity>
    <issued date="2020-01-01"/>
  </metadata>
  <criteria operator="OR">
    <criterion test_ref="oval:com.ubuntu.xenial:tst:1" comment="'foo' package in xenial is affected"/>
    <criterion test_ref="oval:com.ubuntu.xenial:tst:2" comment="'bar' package in xenial is affected"/>
  </criteria>
</definition>
</definitions>
<tests>
<dpkginfo_test id="oval:com.ubuntu.xenial:tst:1" comment="foo test">
  <state state_ref="oval:com.ubuntu.xenial:ste:1"/>
</dpkginfo_test>
<dpkginfo_test id="oval:com.ubuntu.xenial:tst:2" comment="bar test">
  <state state_ref="oval:com.ubuntu.xenial:ste:2"/>
</dpkginfo_test>
</tests>
<states>
<dpkginfo_state id="oval:com.ubuntu.xenial:ste:1">
  <evr operation="less than">1.0-2</evr>
</dpkginfo_state>
<dpkginfo_state id="oval:com.ubuntu.xenial:ste:2">
  <evr operation="less than">2.0-1</evr>
</dpkginfo_state>
</states>
</oval_definitions>
`

func TestParseUbuntuCveGrouping(t *testing.T) {
	p := Parser{OS: wazuh.UbuntuXenial, Family: wazuh.Ubuntu}
	got, err := p.Parse(strings.NewReader(ubuntuFixture))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if len(got.Vulnerabilities) != 2 {
		t.Fatalf("got %d vulnerabilities, want 2 (one per criterion)", len(got.Vulnerabilities))
	}
	for _, v := range got.Vulnerabilities {
		if v.CveID != "CVE-2020-100" {
			t.Errorf("vulnerability CveID = %q, want CVE-2020-100", v.CveID)
		}
	}
	names := []string{got.Vulnerabilities[0].PackageName, got.Vulnerabilities[1].PackageName}
	if diff := cmp.Diff([]string{"foo", "bar"}, names); diff != "" {
		t.Errorf("package names mismatch (-want +got):\n%s", diff)
	}

	if len(got.Cves) != 1 {
		t.Fatalf("got %d cve_info rows, want 1", len(got.Cves))
	}
	cve := got.Cves[0]
	if cve.CveID != "CVE-2020-100" {
		t.Errorf("cve.CveID = %q, want CVE-2020-100", cve.CveID)
	}
	if cve.Severity != "High" {
		t.Errorf("cve.Severity = %q, want High", cve.Severity)
	}
	if cve.Published != "2020-01-01" {
		t.Errorf("cve.Published = %q, want 2020-01-01", cve.Published)
	}
	if cve.Updated != "2020-01-01" {
		t.Errorf("cve.Updated = %q, want defaulted to Published", cve.Updated)
	}
	if cve.Reference != "https://example.com/cve-2020-100" {
		t.Errorf("cve.Reference = %q, want the ref_url", cve.Reference)
	}

	if got.Metadata.Timestamp != "2021-01-02 03:04:05" {
		t.Errorf("Metadata.Timestamp = %q, want T replaced with space", got.Metadata.Timestamp)
	}

	if len(got.Tests) != 2 || len(got.States) != 2 {
		t.Fatalf("got %d tests / %d states, want 2/2", len(got.Tests), len(got.States))
	}
	byID := map[string]InfoState{}
	for _, s := range got.States {
		byID[s.ID] = s
	}
	st, ok := byID["oval:com.ubuntu.xenial:ste:1"]
	if !ok {
		t.Fatalf("missing state oval:com.ubuntu.xenial:ste:1")
	}
	if st.Operation != "less than" || st.OperationValue != "1.0-2" {
		t.Errorf("state 1 = %+v, want operation=less than value=1.0-2", st)
	}
}

func TestParseEmptySeverityDefaultsToUnknown(t *testing.T) {
	doc := `<oval_definitions>
<definitions>
<definition id="oval:1" class="vulnerability">
  <metadata>
    <title>CVE-2020-1: title</title>
    <severity></severity>
  </metadata>
  <criteria>
    <criterion test_ref="oval:tst:1" comment="'pkg' affected"/>
  </criteria>
</definition>
</definitions>
</oval_definitions>
`
	p := Parser{OS: wazuh.UbuntuXenial, Family: wazuh.Ubuntu}
	got, err := p.Parse(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(got.Cves) != 1 {
		t.Fatalf("got %d cves, want 1", len(got.Cves))
	}
	if got.Cves[0].Severity != wazuh.UnknownSeverity {
		t.Errorf("Severity = %q, want Unknown", got.Cves[0].Severity)
	}
}

func TestParseTitleWithoutSpaceFails(t *testing.T) {
	doc := `<oval_definitions>
<definitions>
<definition id="oval:1" class="vulnerability">
  <metadata><title>NoSpaceTitle</title></metadata>
</definition>
</definitions>
</oval_definitions>
`
	p := Parser{OS: wazuh.UbuntuXenial, Family: wazuh.Ubuntu}
	_, err := p.Parse(strings.NewReader(doc))
	if err == nil {
		t.Fatal("Parse: expected FeedMalformed error for space-less title, got nil")
	}
	var e *wazuh.Error
	if !errors.As(err, &e) || e.Kind != wazuh.ErrFeedMalformed {
		t.Errorf("Parse error = %v, want ErrFeedMalformed", err)
	}
}

func TestParseBadCriteriaOperatorFails(t *testing.T) {
	doc := `<oval_definitions>
<definitions>
<definition id="oval:1" class="vulnerability">
  <metadata><title>CVE-2020-1: title</title></metadata>
  <criteria operator="XOR">
    <criterion test_ref="oval:tst:1" comment="'pkg' affected"/>
  </criteria>
</definition>
</definitions>
</oval_definitions>
`
	p := Parser{OS: wazuh.UbuntuXenial, Family: wazuh.Ubuntu}
	_, err := p.Parse(strings.NewReader(doc))
	if err == nil {
		t.Fatal("Parse: expected FeedMalformed error for bad operator, got nil")
	}
}

func TestDiscardDropsVulnerabilitiesWithoutStateID(t *testing.T) {
	p := &ParsedOval{
		Vulnerabilities: []Vulnerability{
			{CveID: "CVE-1", StateID: "oval:tst:1", PackageName: "foo"},
			{CveID: "CVE-1", StateID: "", PackageName: "bar"},
		},
	}
	p.Discard()
	if len(p.Vulnerabilities) != 1 {
		t.Fatalf("got %d vulnerabilities after Discard, want 1", len(p.Vulnerabilities))
	}
	if p.Vulnerabilities[0].PackageName != "foo" {
		t.Errorf("surviving vulnerability = %+v, want package foo", p.Vulnerabilities[0])
	}
}
