package catalog

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/rtkjbillo/wazuh"
	"github.com/rtkjbillo/wazuh/oval"
)

func TestResolveChasesTestThenState(t *testing.T) {
	parsed := &oval.ParsedOval{
		OS: wazuh.UbuntuXenial,
		Vulnerabilities: []oval.Vulnerability{
			{CveID: "CVE-2020-1", StateID: "tst:1", PackageName: "foo"},
		},
		Tests: []oval.InfoTest{
			{ID: "tst:1", State: "ste:1"},
		},
		States: []oval.InfoState{
			{ID: "ste:1", Operation: "less than", OperationValue: "1.0-2"},
		},
	}

	got, err := resolve(parsed)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	want := []resolvedVuln{
		{CveID: "CVE-2020-1", PackageName: "foo", Operation: wazuh.LessThan, OperationValue: "1.0-2"},
	}
	if diff := cmp.Diff(want, got, cmp.AllowUnexported(resolvedVuln{})); diff != "" {
		t.Errorf("resolve mismatch (-want +got):\n%s", diff)
	}
}

func TestResolveTestWithoutStateUsesExistsSentinel(t *testing.T) {
	parsed := &oval.ParsedOval{
		Vulnerabilities: []oval.Vulnerability{
			{CveID: "CVE-2020-2", StateID: "tst:1", PackageName: "bar"},
		},
		Tests: []oval.InfoTest{
			{ID: "tst:1", State: ""},
		},
	}

	got, err := resolve(parsed)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d resolved vulnerabilities, want 1", len(got))
	}
	if got[0].Operation != "" || got[0].OperationValue != "" {
		t.Errorf("got %+v, want empty operation/operand (exists sentinel never resolves to a comparator op)", got[0])
	}
}

func TestResolveSkipsVulnerabilitiesWithoutStateID(t *testing.T) {
	parsed := &oval.ParsedOval{
		Vulnerabilities: []oval.Vulnerability{
			{CveID: "CVE-2020-3", StateID: "", PackageName: "baz"},
		},
	}
	got, err := resolve(parsed)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("got %d resolved vulnerabilities, want 0 (state_id-less rows are discarded)", len(got))
	}
}

func TestResolveUnresolvableReferenceIsNotFixable(t *testing.T) {
	parsed := &oval.ParsedOval{
		Vulnerabilities: []oval.Vulnerability{
			{CveID: "CVE-2020-4", StateID: "tst:missing", PackageName: "qux"},
		},
	}
	got, err := resolve(parsed)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d resolved vulnerabilities, want 1", len(got))
	}
	if got[0].OperationValue != "" {
		t.Errorf("got OperationValue = %q, want empty for an unresolvable reference", got[0].OperationValue)
	}
}
