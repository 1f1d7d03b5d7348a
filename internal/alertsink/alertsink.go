// Package alertsink delivers vulnerability alerts to an external message
// bus (spec.md §6, "Alert sink"): a named queue opened for writing,
// messages framed as header+payload, tagged with the "secure" priority.
// Delivery is at-least-once (spec.md §4.7): the engine never dedupes
// across scan cycles.
package alertsink

import (
	"encoding/json"
	"fmt"

	"github.com/rtkjbillo/wazuh"
)

// Priority mirrors the vendor SECURE_MQ tag named in spec.md §6. The
// engine only ever sends at this priority, but the type exists because
// the wire framing includes it explicitly.
type Priority string

const SecurePriority Priority = "secure"

// Alert is one (agent, CVE) finding ready for delivery (spec.md §4.7).
type Alert struct {
	AgentID     string   `json:"-"`
	AgentName   string   `json:"-"`
	AgentIP     string   `json:"-"`
	CveID       string   `json:"cve_id"`
	Title       string   `json:"title"`
	Severity    string   `json:"severity"`
	Published   string   `json:"published"`
	Updated     string   `json:"updated"`
	Reference   string   `json:"reference"`
	Description string   `json:"description"`
	Packages    []string `json:"package_list"`
}

// Sink delivers a framed alert. Implementations own their own
// reconnection policy; Send must attempt exactly one reopen-and-retry on
// a transient failure, per spec.md §4.7's "reopens the sink once".
type Sink interface {
	Send(a Alert, priority Priority) error
	Close() error
}

// header formats the header line spec.md §4.7 requires: agent_id,
// agent_name, agent_ip.
func header(a Alert) string {
	return fmt.Sprintf("%s:%s:%s", a.AgentID, a.AgentName, a.AgentIP)
}

// frame renders one wire message: a header line, a newline, and the JSON
// payload.
func frame(a Alert, priority Priority) ([]byte, error) {
	payload, err := json.Marshal(a)
	if err != nil {
		return nil, wazuh.NewError("alertsink.frame", wazuh.ErrQueueFatal, "marshaling alert payload", err)
	}
	msg := header(a) + ":" + string(priority) + "\n" + string(payload) + "\n"
	return []byte(msg), nil
}
