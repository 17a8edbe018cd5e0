package vault

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"strings"
)

// Mount describes a secrets engine mount.
type Mount struct {
	Path        string `json:"path"`
	Description string `json:"description"`
	Type        string `json:"type"`
}

type mountInfo struct {
	Type        string            `json:"type"`
	Description string            `json:"description"`
	Options     map[string]string `json:"options"`
}

// KVMounts lists the KV version 2 mounts visible to token.
func (c *Client) KVMounts(ctx context.Context, token string) ([]Mount, error) {
	resp, err := c.Do(ctx, http.MethodGet, "sys/mounts", token, nil)
	if err != nil {
		return nil, err
	}

	// Newer servers nest the table under "data"; older ones return it at the
	// top level next to request metadata.
	var wrapped struct {
		Data map[string]json.RawMessage `json:"data"`
	}
	if err := resp.Decode(&wrapped); err != nil {
		return nil, err
	}
	table := wrapped.Data
	if len(table) == 0 {
		if err := resp.Decode(&table); err != nil {
			return nil, err
		}
	}

	mounts := []Mount{}
	for path, raw := range table {
		var info mountInfo
		if err := json.Unmarshal(raw, &info); err != nil || info.Type == "" {
			continue
		}
		if info.Type != "kv" || info.Options["version"] != "2" {
			continue
		}
		desc := info.Description
		if desc == "" {
			desc = "No description"
		}
		mounts = append(mounts, Mount{
			Path:        strings.TrimSuffix(path, "/"),
			Description: desc,
			Type:        info.Type,
		})
	}
	sort.Slice(mounts, func(i, j int) bool { return mounts[i].Path < mounts[j].Path })
	return mounts, nil
}

// AuditDevices returns the raw sys/audit answer.
func (c *Client) AuditDevices(ctx context.Context, token string) (*Response, error) {
	return c.Raw(ctx, http.MethodGet, "sys/audit", token, nil)
}
