// Package inventoryhttp is the default wazuh.InventoryProvider: it asks
// a local inventory service for the agent roster and, per agent, the
// package stream described in spec.md §6. The provider itself is named
// an external collaborator out of scope for this specification; this
// client is the thin adapter the engine uses to reach it.
package inventoryhttp

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rtkjbillo/wazuh"
	"github.com/rtkjbillo/wazuh/internal/inventory"
)

// Client implements wazuh.InventoryProvider against an HTTP inventory
// service.
type Client struct {
	Addr   string
	HTTP   *http.Client
}

// NewClient builds a Client pointed at addr (host:port).
func NewClient(addr string) *Client {
	return &Client{
		Addr: addr,
		HTTP: &http.Client{Timeout: 30 * time.Second},
	}
}

type agentRecord struct {
	ID   string      `json:"id"`
	Name string      `json:"name"`
	IP   string      `json:"ip"`
	OS   wazuh.Distro `json:"os"`
}

// Agents fetches the fleet roster.
func (c *Client) Agents() ([]wazuh.Agent, error) {
	resp, err := c.HTTP.Get(fmt.Sprintf("http://%s/agents", c.Addr))
	if err != nil {
		return nil, wazuh.NewError("inventoryhttp.Agents", wazuh.ErrNetwork, "listing agents", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, wazuh.NewError("inventoryhttp.Agents", wazuh.ErrNetwork,
			fmt.Sprintf("unexpected response: %s", resp.Status), nil)
	}

	var records []agentRecord
	if err := json.NewDecoder(resp.Body).Decode(&records); err != nil {
		return nil, wazuh.NewError("inventoryhttp.Agents", wazuh.ErrIo, "decoding agent roster", err)
	}

	agents := make([]wazuh.Agent, len(records))
	for i, r := range records {
		agents[i] = wazuh.Agent{ID: r.ID, Name: r.Name, IP: r.IP, OS: r.OS}
	}
	return agents, nil
}

// Inventory streams and decodes one agent's package list (spec.md §6's
// concatenated-object wire format).
func (c *Client) Inventory(agentID string) ([]wazuh.Package, error) {
	resp, err := c.HTTP.Get(fmt.Sprintf("http://%s/agents/%s/inventory", c.Addr, agentID))
	if err != nil {
		return nil, wazuh.NewError("inventoryhttp.Inventory", wazuh.ErrInventoryMissing, "fetching inventory", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, wazuh.NewError("inventoryhttp.Inventory", wazuh.ErrInventoryMissing,
			fmt.Sprintf("unexpected response: %s", resp.Status), nil)
	}

	pkgs, err := inventory.Decode(resp.Body)
	if err != nil {
		return pkgs, err
	}
	return pkgs, nil
}

var _ wazuh.InventoryProvider = (*Client)(nil)
