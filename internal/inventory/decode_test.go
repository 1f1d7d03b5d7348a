package inventory

import (
	"errors"
	"strings"
	"testing"

	"github.com/rtkjbillo/wazuh"
)

func TestDecodeTwoCompleteObjects(t *testing.T) {
	stream := `{
"program": {"name": "foo", "version": "1.0-1", "arch": "amd64"}
},
{
"program": {"name": "bar", "version": "2.0", "arch": "amd64"}
}
`
	pkgs, err := Decode(strings.NewReader(stream))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(pkgs) != 2 {
		t.Fatalf("got %d packages, want 2", len(pkgs))
	}
	if pkgs[0].Name != "foo" || pkgs[0].Version != "1.0-1" || pkgs[0].Arch != "amd64" {
		t.Errorf("pkgs[0] = %+v, want foo/1.0-1/amd64", pkgs[0])
	}
	if pkgs[1].Name != "bar" {
		t.Errorf("pkgs[1].Name = %q, want bar", pkgs[1].Name)
	}
}

func TestDecodeToleratesTruncatedTrailingObject(t *testing.T) {
	stream := `{
"program": {"name": "foo", "version": "1.0-1", "arch": "amd64"}
},
{
"program": {"name": "bar", "version": "2.0"
`
	pkgs, err := Decode(strings.NewReader(stream))
	if len(pkgs) != 1 || pkgs[0].Name != "foo" {
		t.Fatalf("got %+v, want exactly the one complete object (foo) returned despite truncation", pkgs)
	}
	var e *wazuh.Error
	if !errors.As(err, &e) || e.Kind != wazuh.ErrInventoryMissing {
		t.Errorf("Decode error = %v, want ErrInventoryMissing reporting the truncation", err)
	}
}

func TestDecodeMalformedObjectIsHardFailure(t *testing.T) {
	stream := `{
"program": not valid json at all
}
`
	pkgs, err := Decode(strings.NewReader(stream))
	if len(pkgs) != 0 {
		t.Errorf("got %d packages from a malformed object, want 0", len(pkgs))
	}
	var e *wazuh.Error
	if !errors.As(err, &e) || e.Kind != wazuh.ErrInventoryMissing {
		t.Errorf("Decode error = %v, want ErrInventoryMissing", err)
	}
}

func TestDecodeEmptyStreamReturnsNoPackagesNoError(t *testing.T) {
	pkgs, err := Decode(strings.NewReader(""))
	if err != nil {
		t.Fatalf("Decode(empty): %v", err)
	}
	if len(pkgs) != 0 {
		t.Errorf("got %d packages from an empty stream, want 0", len(pkgs))
	}
}
