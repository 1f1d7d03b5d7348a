package oval

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/rtkjbillo/wazuh"
)

// Preparser implements the single-pass, line-oriented filter described in
// spec.md §4.3: a small deterministic FSM, keyed by the current section of
// the document, that discards feed regions the engine never needs before
// the Parser ever sees a byte of XML.
//
// Preparse is purely textual; it does not validate well-formedness. The
// Parser is the validator (spec.md §4.3, last paragraph).
type Preparser interface {
	Preparse(r io.Reader, w io.Writer) error
}

const maxLineBuffer = 1 << 24 // 16MiB; a single OVAL element rarely exceeds this

func newScanner(r io.Reader) *bufio.Scanner {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBuffer)
	return sc
}

func writeLine(w io.Writer, line string) error {
	_, err := fmt.Fprintln(w, line)
	return err
}

// UbuntuPreparser drops the <objects> block and any <definition> the
// vendor has marked as "not affected" (negated) or explicitly ignored.
type UbuntuPreparser struct{}

var (
	reNegateTrue = regexp.MustCompile(`negate\s*=\s*"?true"?`)
)

func (UbuntuPreparser) Preparse(r io.Reader, w io.Writer) error {
	sc := newScanner(r)
	var inObjects bool
	var inDefinition bool
	var defBuf []string

	for sc.Scan() {
		line := sc.Text()

		if inObjects {
			if strings.Contains(line, "</objects>") {
				inObjects = false
			}
			continue
		}
		if strings.Contains(line, "<objects>") {
			inObjects = true
			continue
		}

		if inDefinition {
			defBuf = append(defBuf, line)
			if strings.Contains(line, "</definition>") {
				inDefinition = false
				if !ubuntuDropDefinition(defBuf) {
					for _, l := range defBuf {
						if err := writeLine(w, l); err != nil {
							return err
						}
					}
				}
				defBuf = defBuf[:0]
			}
			continue
		}
		if strings.Contains(line, "<definition ") {
			inDefinition = true
			defBuf = append(defBuf[:0], line)
			continue
		}

		if err := writeLine(w, line); err != nil {
			return err
		}
	}
	return sc.Err()
}

func ubuntuDropDefinition(lines []string) bool {
	joined := strings.Join(lines, "\n")
	if strings.Contains(joined, "a decision has been made to ignore it") {
		return true
	}
	if strings.Contains(joined, "is not affected") && reNegateTrue.MatchString(joined) {
		return true
	}
	return false
}

// RHELPreparser drops the <objects> block, <description> blocks,
// signature tests, and platform gating lines. The feed arrives via
// net/http, which already strips any HTTP status line and headers
// before Preparse ever sees a byte, so the body starts at the document
// itself.
type RHELPreparser struct{}

func (RHELPreparser) Preparse(r io.Reader, w io.Writer) error {
	sc := newScanner(r)

	var inObjects, inDescription bool
	var section string // "", "tests", "definitions"
	var inRpmTest bool
	var rpmTestBuf []string

	for sc.Scan() {
		line := sc.Text()

		if inObjects {
			if strings.Contains(line, "</objects>") {
				inObjects = false
			}
			continue
		}
		if strings.Contains(line, "<objects>") {
			inObjects = true
			continue
		}

		if inDescription {
			if strings.Contains(line, "</description>") {
				inDescription = false
			}
			continue
		}
		if strings.Contains(line, "<description>") {
			inDescription = !strings.Contains(line, "</description>")
			continue
		}

		switch {
		case strings.Contains(line, "<tests>"):
			section = "tests"
		case strings.Contains(line, "</tests>"):
			section = ""
		case strings.Contains(line, "<definitions>"):
			section = "definitions"
		case strings.Contains(line, "</definitions>"):
			section = ""
		}

		if section == "tests" {
			if inRpmTest {
				rpmTestBuf = append(rpmTestBuf, line)
				if strings.Contains(line, "</rpminfo_test>") {
					inRpmTest = false
					if !strings.Contains(strings.Join(rpmTestBuf, "\n"), "is signed with") {
						for _, l := range rpmTestBuf {
							if err := writeLine(w, l); err != nil {
								return err
							}
						}
					}
					rpmTestBuf = rpmTestBuf[:0]
				}
				continue
			}
			if strings.Contains(line, "<rpminfo_test ") {
				inRpmTest = true
				rpmTestBuf = append(rpmTestBuf[:0], line)
				if strings.Contains(line, "</rpminfo_test>") {
					// self-contained single-line element
					inRpmTest = false
					if strings.Contains(line, "is signed with") {
						rpmTestBuf = rpmTestBuf[:0]
						continue
					}
					if err := writeLine(w, line); err != nil {
						return err
					}
					rpmTestBuf = rpmTestBuf[:0]
				}
				continue
			}
		}

		if section == "definitions" {
			if strings.Contains(line, "is installed") && strings.Contains(line, "Red Hat Enterprise Linux") {
				continue
			}
			if strings.Contains(line, "is signed with") {
				continue
			}
		}

		if err := writeLine(w, line); err != nil {
			return err
		}
	}
	return sc.Err()
}

// ForFamily returns the Preparser implementing the spec.md §4.3 rules for
// family f.
func ForFamily(f wazuh.Family) Preparser {
	switch f {
	case wazuh.Ubuntu:
		return UbuntuPreparser{}
	default:
		return RHELPreparser{}
	}
}
