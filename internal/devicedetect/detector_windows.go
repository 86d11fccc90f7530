//go:build windows

package devicedetect

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
)

type detector struct{}

type pnpCamera struct {
	InstanceId string `json:"InstanceId"`
	FriendlyName string `json:"FriendlyName"`
}

// Detect queries PnP device classes Camera and Image, the same
// powershell-exec approach the LAN discovery code uses for WMI/NetAdapter
// lookups. Enumeration order from Get-PnpDevice becomes the index.
func (detector) Detect(ctx context.Context) ([]Camera, error) {
	ctx, cancel := withBudget(ctx)
	defer cancel()

	script := `
$ErrorActionPreference = 'SilentlyContinue'
$devs = Get-PnpDevice -Class Camera, Image -Status OK | Select-Object InstanceId, FriendlyName
$devs | ConvertTo-Json -Compress
`
	cmd := exec.CommandContext(ctx, "powershell", "-NoProfile", "-Command", script)
	out, err := cmd.Output()
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("devicedetect: timed out after %v", Budget)
		}
		return nil, fmt.Errorf("devicedetect: powershell execution failed: %w", err)
	}
	if len(out) == 0 {
		return nil, nil
	}

	var raw []pnpCamera
	// Get-PnpDevice emits a bare object (not an array) when exactly one
	// device matches; normalize both shapes.
	if out[0] != '[' {
		var single pnpCamera
		if err := json.Unmarshal(out, &single); err != nil {
			return nil, fmt.Errorf("devicedetect: failed to parse PnP output: %w", err)
		}
		raw = []pnpCamera{single}
	} else if err := json.Unmarshal(out, &raw); err != nil {
		return nil, fmt.Errorf("devicedetect: failed to parse PnP output: %w", err)
	}

	cams := make([]Camera, 0, len(raw))
	for i, d := range raw {
		name := d.FriendlyName
		if name == "" {
			name = d.InstanceId
		}
		cams = append(cams, Camera{Index: i, Name: name})
	}
	return cams, nil
}
