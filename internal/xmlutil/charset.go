// Package xmlutil provides small helpers shared by the OVAL parser for
// dealing with the encoding/xml package.
package xmlutil

import (
	"io"

	"golang.org/x/net/html/charset"
)

// CharsetReader is installed as an [encoding/xml.Decoder]'s CharsetReader
// so feeds declaring a non-UTF-8 encoding (vendor feeds are inconsistent
// about this) still decode instead of erroring out.
func CharsetReader(cs string, r io.Reader) (io.Reader, error) {
	return charset.NewReaderLabel(cs, r)
}
