// Package fetch implements the Fetcher component (spec.md §4.2, C2): it
// obtains the raw OVAL document for one distribution over TLS, and
// short-circuits the caller out of a parse/insert pass when the feed's
// embedded timestamp is not newer than the catalog's.
package fetch

import (
	"bufio"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/quay/zlog"

	"github.com/rtkjbillo/wazuh"
	"github.com/rtkjbillo/wazuh/internal/tmp"
)

// MaxTimestampAttempts bounds how many lines the Fetcher will inspect
// looking for the feed's <timestamp> element before giving up with
// ErrFeedMalformed (spec.md §4.2 step 4, "VU_MAX_TIMESTAMP_ATTEMPS").
const MaxTimestampAttempts = 10

// Sources maps a Distro to the URL used to fetch its OVAL document.
// Ubuntu feeds are named by codename, Red Hat feeds by numeric major
// version (spec.md §4.2 step 1).
type Sources map[wazuh.Distro]string

// DefaultSources is the out-of-the-box feed map; a caller may pass a
// different Sources map to New.
var DefaultSources = Sources{
	wazuh.UbuntuPrecise: "https://people.canonical.com/~ubuntu-security/oval/com.ubuntu.precise.cve.oval.xml",
	wazuh.UbuntuTrusty:  "https://people.canonical.com/~ubuntu-security/oval/com.ubuntu.trusty.cve.oval.xml",
	wazuh.UbuntuXenial:  "https://people.canonical.com/~ubuntu-security/oval/com.ubuntu.xenial.cve.oval.xml",
	wazuh.RHEL5:         "https://www.redhat.com/security/data/oval/v2/RHEL5/rhel-5.oval.xml",
	wazuh.RHEL6:         "https://www.redhat.com/security/data/oval/v2/RHEL6/rhel-6.oval.xml",
	wazuh.RHEL7:         "https://www.redhat.com/security/data/oval/v2/RHEL7/rhel-7.oval.xml",
}

// TimestampLookup returns the most recent metadata.timestamp the catalog
// holds for a given OS, or "" if no catalog row exists yet for it.
type TimestampLookup func(os wazuh.Distro) (string, error)

// Result is the outcome of one Fetch call.
type Result struct {
	// File holds the raw document, staged to a temp file, ready for the
	// Preparser. Nil when UpToDate is true. Caller must Close it.
	File *tmp.File
	// UpToDate is set when the feed's embedded timestamp is not strictly
	// newer than the catalog's stored timestamp for this OS; the caller
	// skips the parse/insert pass entirely (spec.md §4.2 step 3).
	UpToDate bool
}

// Fetcher obtains OVAL documents over TLS 1.0+. SSLv2 is disallowed
// implicitly: crypto/tls has never implemented it.
type Fetcher struct {
	Client  *http.Client
	Sources Sources
}

// New builds a Fetcher with the TLS floor and source map spec.md §4.2
// requires.
func New(sources Sources) *Fetcher {
	if sources == nil {
		sources = DefaultSources
	}
	return &Fetcher{
		Client: &http.Client{
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{MinVersion: tls.VersionTLS10},
			},
			Timeout: 10 * time.Minute,
		},
		Sources: sources,
	}
}

// Fetch implements spec.md §4.2: dial, stream, short-circuit on an
// unchanged timestamp, or stage the full body to a temp file.
func (f *Fetcher) Fetch(ctx context.Context, d wazuh.Distro, lookup TimestampLookup) (*Result, error) {
	ctx = zlog.ContextWithValues(ctx, "component", "fetch.Fetcher.Fetch", "os", string(d))

	url, ok := f.Sources[d]
	if !ok {
		return nil, wazuh.NewError("fetch.Fetch", wazuh.ErrConfigInvalid,
			fmt.Sprintf("no feed source configured for %s", d), nil)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, wazuh.NewError("fetch.Fetch", wazuh.ErrNetwork, "building request", err)
	}

	resp, err := f.Client.Do(req)
	if err != nil {
		if isTLSError(err) {
			return nil, wazuh.NewError("fetch.Fetch", wazuh.ErrTls, "TLS handshake failed", err)
		}
		return nil, wazuh.NewError("fetch.Fetch", wazuh.ErrNetwork, "GET failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, wazuh.NewError("fetch.Fetch", wazuh.ErrNetwork,
			fmt.Sprintf("unexpected response: %s", resp.Status), nil)
	}

	stored, err := lookup(d)
	if err != nil {
		return nil, wazuh.NewError("fetch.Fetch", wazuh.ErrIo, "reading stored timestamp", err)
	}

	tf, err := tmp.NewFile("", "oval-raw-"+string(d)+"-")
	if err != nil {
		return nil, wazuh.NewError("fetch.Fetch", wazuh.ErrIo, "creating temp file", err)
	}

	br := bufio.NewReaderSize(resp.Body, 32*1024)
	var feedTS string
	tsFound := false

	for attempt := 0; ; attempt++ {
		line, rerr := br.ReadString('\n')
		if len(line) == 0 && rerr != nil {
			break
		}

		if !tsFound {
			if idx := strings.Index(line, "timestamp>"); idx >= 0 {
				tsFound = true
				rest := line[idx+len("timestamp>"):]
				end := strings.IndexByte(rest, '<')
				if end < 0 {
					end = len(rest)
				}
				feedTS = rest[:end]

				if !isNewer(feedTS, stored) {
					tf.Close()
					zlog.Info(ctx).Str("feed_ts", feedTS).Str("stored_ts", stored).
						Msg("catalog already up to date")
					return &Result{UpToDate: true}, nil
				}
			} else if attempt+1 >= MaxTimestampAttempts {
				tf.Close()
				return nil, wazuh.NewError("fetch.Fetch", wazuh.ErrFeedMalformed,
					"timestamp element not found within attempt budget", nil)
			}
		}

		if _, werr := tf.WriteString(line); werr != nil {
			tf.Close()
			return nil, wazuh.NewError("fetch.Fetch", wazuh.ErrIo, "writing temp file", werr)
		}
		if rerr != nil {
			break
		}
	}
	if !tsFound {
		tf.Close()
		return nil, wazuh.NewError("fetch.Fetch", wazuh.ErrFeedMalformed,
			"timestamp element not found within attempt budget", nil)
	}

	if err := tf.Sync(); err != nil {
		tf.Close()
		return nil, wazuh.NewError("fetch.Fetch", wazuh.ErrIo, "flushing temp file", err)
	}
	if _, err := tf.Seek(0, io.SeekStart); err != nil {
		tf.Close()
		return nil, wazuh.NewError("fetch.Fetch", wazuh.ErrIo, "rewinding temp file", err)
	}

	return &Result{File: tf}, nil
}

// isNewer compares two OVAL timestamps character-by-character after
// stripping the separators "- : T" and space (spec.md §4.2 step 3). It
// returns true when feed is strictly newer than stored (or stored is
// empty, meaning no catalog row exists yet for this OS).
func isNewer(feed, stored string) bool {
	if stored == "" {
		return true
	}
	return stripSeparators(stored) < stripSeparators(feed)
}

func stripSeparators(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '-', ':', 'T', ' ':
			return -1
		}
		return r
	}, s)
}

func isTLSError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "tls:") || strings.Contains(msg, "x509:")
}
