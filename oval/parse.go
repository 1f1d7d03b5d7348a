package oval

import (
	"encoding/xml"
	"fmt"
	"io"
	"strings"

	"github.com/rtkjbillo/wazuh"
	"github.com/rtkjbillo/wazuh/internal/xmlutil"
)

// Parser tree-walks a preparsed OVAL document and builds the ParsedOval
// container (spec.md §4.4). It implements element handling by recursing
// over XML tokens while tracking the "most recently pushed" State, Test,
// Vulnerability, and Cve, exactly as the element table in spec.md §4.4
// describes — each push is position-dependent, not reference-resolved,
// which is why this is a hand-rolled walker rather than a schema-bound
// unmarshal.
type Parser struct {
	OS     wazuh.Distro
	Family wazuh.Family
}

// Parse reads r to completion and returns the normalized model, or an
// *wazuh.Error tagged ErrFeedMalformed if the document doesn't match the
// expected shape.
func (p Parser) Parse(r io.Reader) (*ParsedOval, error) {
	dec := xml.NewDecoder(r)
	dec.CharsetReader = xmlutil.CharsetReader

	out := &ParsedOval{OS: p.OS}
	tw := &treeWalker{family: p.Family, out: out}

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, malformed("oval.Parse", err)
		}
		if start, ok := tok.(xml.StartElement); ok {
			if err := tw.handle(dec, start); err != nil {
				return nil, err
			}
		}
	}

	out.Discard()
	return out, nil
}

// treeWalker carries the "most recently pushed" pointers the element
// table in spec.md §4.4 refers to.
type treeWalker struct {
	family wazuh.Family
	out    *ParsedOval

	curState *InfoState
	curTest  *InfoTest
	curVuln  *Vulnerability
	curCve   *InfoCve

	inDefinition       bool
	firstCriterionDone bool
}

func malformed(op string, err error) error {
	return wazuh.NewError(op, wazuh.ErrFeedMalformed, "unexpected document shape", err)
}

func localName(n string) string {
	if i := strings.IndexByte(n, ':'); i >= 0 {
		return n[i+1:]
	}
	return n
}

func attr(start xml.StartElement, name string) string {
	for _, a := range start.Attr {
		if localName(a.Name.Local) == name {
			return a.Value
		}
	}
	return ""
}

// readText consumes the remainder of the current element, concatenating
// character data and skipping over any (unexpected) child elements,
// returning once the matching end tag is reached.
func readText(dec *xml.Decoder) (string, error) {
	var b strings.Builder
	for {
		tok, err := dec.Token()
		if err != nil {
			return "", malformed("oval.readText", err)
		}
		switch t := tok.(type) {
		case xml.CharData:
			b.Write(t)
		case xml.StartElement:
			if err := dec.Skip(); err != nil {
				return "", malformed("oval.readText", err)
			}
		case xml.EndElement:
			return b.String(), nil
		}
	}
}

// walkChildren dispatches handle for every child element until the
// matching end tag closes the current element.
func (tw *treeWalker) walkChildren(dec *xml.Decoder) error {
	for {
		tok, err := dec.Token()
		if err != nil {
			return malformed("oval.walkChildren", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if err := tw.handle(dec, t); err != nil {
				return err
			}
		case xml.EndElement:
			return nil
		}
	}
}

func (tw *treeWalker) handle(dec *xml.Decoder, start xml.StartElement) error {
	name := localName(start.Name.Local)
	switch name {
	case "dpkginfo_state", "rpminfo_state":
		tw.out.States = append(tw.out.States, InfoState{ID: attr(start, "id")})
		tw.curState = &tw.out.States[len(tw.out.States)-1]
		return tw.walkChildren(dec)

	case "evr", "version", "signature_keyid":
		text, err := readText(dec)
		if err != nil {
			return err
		}
		if tw.curState != nil {
			tw.curState.Operation = attr(start, "operation")
			tw.curState.OperationValue = text
		}
		return nil

	case "dpkginfo_test", "rpminfo_test":
		tw.out.Tests = append(tw.out.Tests, InfoTest{ID: attr(start, "id")})
		tw.curTest = &tw.out.Tests[len(tw.out.Tests)-1]
		return tw.walkChildren(dec)

	case "state":
		if tw.curTest != nil {
			ref := attr(start, "state_ref")
			if ref == "" {
				ref = ExistsSentinel
			}
			tw.curTest.State = ref
		}
		return dec.Skip()

	case "definition":
		class := attr(start, "class")
		if class == "vulnerability" || class == "patch" {
			tw.out.Vulnerabilities = append(tw.out.Vulnerabilities, Vulnerability{})
			tw.curVuln = &tw.out.Vulnerabilities[len(tw.out.Vulnerabilities)-1]
			tw.out.Cves = append(tw.out.Cves, InfoCve{})
			tw.curCve = &tw.out.Cves[len(tw.out.Cves)-1]
		} else {
			tw.curVuln = nil
			tw.curCve = nil
		}
		tw.inDefinition = true
		tw.firstCriterionDone = false
		err := tw.walkChildren(dec)
		tw.inDefinition = false
		return err

	case "metadata", "oval_definitions", "definitions", "tests", "states",
		"advisory", "generator":
		return tw.walkChildren(dec)

	case "reference":
		if tw.curCve != nil && tw.curCve.Reference == "" {
			tw.curCve.Reference = attr(start, "ref_url")
		}
		return dec.Skip()

	case "title":
		text, err := readText(dec)
		if err != nil {
			return err
		}
		idx := strings.IndexByte(text, ' ')
		if idx < 0 {
			return wazuh.NewError("oval.Parse", wazuh.ErrFeedMalformed,
				fmt.Sprintf("title %q has no space-delimited CVE id", text), nil)
		}
		cveID := strings.TrimSuffix(text[:idx], ":")
		if tw.curVuln != nil {
			tw.curVuln.CveID = cveID
		}
		if tw.curCve != nil {
			tw.curCve.CveID = cveID
			tw.curCve.Title = text
		}
		return nil

	case "criteria":
		op := attr(start, "operator")
		if op != "" && op != "AND" && op != "OR" {
			return wazuh.NewError("oval.Parse", wazuh.ErrFeedMalformed,
				fmt.Sprintf("criteria operator %q is neither AND nor OR", op), nil)
		}
		return tw.walkChildren(dec)

	case "criterion":
		testRef := attr(start, "test_ref")
		comment := attr(start, "comment")
		if tw.curVuln != nil {
			if tw.firstCriterionDone {
				tw.out.Vulnerabilities = append(tw.out.Vulnerabilities, Vulnerability{CveID: tw.curVuln.CveID})
				tw.curVuln = &tw.out.Vulnerabilities[len(tw.out.Vulnerabilities)-1]
			}
			tw.curVuln.StateID = testRef
			tw.curVuln.PackageName = extractPackageName(comment, tw.family)
			tw.curVuln.Pending = strings.Contains(testRef, "tst:10")
			tw.firstCriterionDone = true
		}
		return dec.Skip()

	case "severity":
		text, err := readText(dec)
		if err != nil {
			return err
		}
		if text == "" {
			text = string(wazuh.UnknownSeverity)
		}
		if tw.curCve != nil {
			tw.curCve.Severity = wazuh.Severity(text)
		}
		return nil

	case "issued", "public_date":
		date := attr(start, "date")
		if date == "" {
			var err error
			date, err = readText(dec)
			if err != nil {
				return err
			}
		} else if err := dec.Skip(); err != nil {
			return malformed("oval.Parse", err)
		}
		if tw.curCve != nil {
			tw.curCve.Published = date
			if tw.curCve.Updated == "" {
				tw.curCve.Updated = date
			}
		}
		return nil

	case "updated":
		date := attr(start, "date")
		if date == "" {
			var err error
			date, err = readText(dec)
			if err != nil {
				return err
			}
		} else if err := dec.Skip(); err != nil {
			return malformed("oval.Parse", err)
		}
		if tw.curCve != nil {
			tw.curCve.Updated = date
		}
		return nil

	case "description":
		text, err := readText(dec)
		if err != nil {
			return err
		}
		if tw.curCve != nil {
			tw.curCve.Description = text
		}
		return nil

	case "product_name":
		text, err := readText(dec)
		if err != nil {
			return err
		}
		tw.out.Metadata.ProductName = text
		return nil

	case "product_version":
		text, err := readText(dec)
		if err != nil {
			return err
		}
		tw.out.Metadata.ProductVersion = text
		return nil

	case "schema_version":
		text, err := readText(dec)
		if err != nil {
			return err
		}
		tw.out.Metadata.SchemaVersion = text
		return nil

	case "timestamp":
		text, err := readText(dec)
		if err != nil {
			return err
		}
		tw.out.Metadata.Timestamp = strings.Replace(text, "T", " ", 1)
		return nil

	default:
		// Unknown element: skip it wholesale so the walk stays robust
		// against dialect extensions the engine doesn't care about.
		return dec.Skip()
	}
}

// extractPackageName implements the family-specific comment parsing rule
// in spec.md §4.4.
func extractPackageName(comment string, family wazuh.Family) string {
	if family == wazuh.Ubuntu {
		i := strings.IndexByte(comment, '\'')
		if i < 0 {
			return comment
		}
		rest := comment[i+1:]
		j := strings.IndexByte(rest, '\'')
		if j < 0 {
			return comment
		}
		return rest[:j]
	}
	if idx := strings.IndexByte(comment, ' '); idx >= 0 {
		return comment[:idx]
	}
	return comment
}
