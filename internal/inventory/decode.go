// Package inventory decodes the wire format the external inventory
// provider emits (spec.md §6): a stream of concatenated
// `{program: {name, version, arch}}` objects separated by `},` and
// terminated by `}`, read line by line rather than as one JSON document.
package inventory

import (
	"bufio"
	"encoding/json"
	"io"
	"strings"

	"github.com/rtkjbillo/wazuh"
)

// programEntry is the shape of one object in the stream.
type programEntry struct {
	Program struct {
		Name    string `json:"name"`
		Version string `json:"version"`
		Arch    string `json:"arch"`
	} `json:"program"`
}

// Decode reads every complete `{program: {...}}` object from r and
// returns the packages they describe. A truncated trailing object at
// EOF (the provider died mid-write) is dropped rather than failing the
// whole decode, but is reported via ErrInventoryMissing so the caller
// can log it; packages decoded before the truncation are still
// returned.
func Decode(r io.Reader) ([]wazuh.Package, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)

	var pkgs []wazuh.Package
	var buf strings.Builder
	var truncated error

	flush := func() error {
		raw := strings.TrimSpace(buf.String())
		buf.Reset()
		if raw == "" {
			return nil
		}
		raw = strings.TrimSuffix(raw, ",")
		var entry programEntry
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			return err
		}
		pkgs = append(pkgs, wazuh.Package{
			Name:    entry.Program.Name,
			Version: entry.Program.Version,
			Arch:    entry.Program.Arch,
		})
		return nil
	}

	for sc.Scan() {
		line := sc.Text()
		buf.WriteString(line)
		trimmed := strings.TrimSpace(line)
		if trimmed == "}" || trimmed == "}," {
			if err := flush(); err != nil {
				// A malformed-but-not-truncated object is still a hard
				// failure; only EOF-adjacent truncation is tolerated.
				return pkgs, wazuh.NewError("inventory.Decode", wazuh.ErrInventoryMissing,
					"malformed inventory object", err)
			}
		}
	}
	if err := sc.Err(); err != nil {
		return pkgs, wazuh.NewError("inventory.Decode", wazuh.ErrInventoryMissing, "reading inventory stream", err)
	}

	if strings.TrimSpace(buf.String()) != "" {
		truncated = wazuh.NewError("inventory.Decode", wazuh.ErrInventoryMissing,
			"inventory stream ended mid-object", nil)
	}

	return pkgs, truncated
}
