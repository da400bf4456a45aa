// Package dlink is the datalink driver (spec.md §4.A): a thin capability
// layer over the host's simnet/vnic primitives. It shells out to dladm via
// an internal/shell.Runner rather than linking against a datalink library,
// the way the rest of Falcon's host-facing packages shell out to zfs and
// bhyvectl.
package dlink

import (
	"context"
	"strings"
	"time"

	"falcon/falconerr"
	"falcon/internal/falconlog"
	"falcon/internal/shell"
)

const (
	deleteRetryAttempts = 30
	deleteRetryInterval = time.Second
)

// Driver creates and destroys simnet and vnic host links.
type Driver struct {
	run shell.Runner
}

// New builds a Driver that shells out via run. Pass shell.Default for the
// real host, or a fake in tests.
func New(run shell.Runner) *Driver {
	return &Driver{run: run}
}

// CreateSimnet creates a simnet datalink named name, returning its host
// identifier (the name itself; dladm simnets are addressed by name).
func (d *Driver) CreateSimnet(ctx context.Context, name string) (string, error) {
	if _, _, err := d.run.Run(ctx, "dladm", "create-simnet", "-t", name); err != nil {
		return "", falconerr.New(falconerr.Datalink, "create-simnet "+name, err)
	}
	return name, nil
}

// CreateVnic creates a vnic named name over overLink (a simnet or physical
// host interface), optionally pinning its MAC address, and disables
// promiscuous filtering on it.
func (d *Driver) CreateVnic(ctx context.Context, name, overLink, mac string) (string, error) {
	args := []string{"create-vnic", "-t", "-l", overLink}
	if mac != "" {
		args = append(args, "-m", mac)
	}
	args = append(args, name)

	if _, _, err := d.run.Run(ctx, "dladm", args...); err != nil {
		return "", falconerr.New(falconerr.Datalink, "create-vnic "+name, err)
	}

	if _, _, err := d.run.Run(ctx, "dladm", "set-linkprop", "-t", "-p", "promisc-filtered=off", name); err != nil {
		return "", falconerr.New(falconerr.Datalink, "set promisc-filtered=off on "+name, err)
	}

	return name, nil
}

// ConnectSimnetPeers establishes point-to-point semantics between two
// simnets, making a back-to-back internal Link.
func (d *Driver) ConnectSimnetPeers(ctx context.Context, a, b string) error {
	if _, _, err := d.run.Run(ctx, "dladm", "modify-simnet", "-p", "-o", b, a); err != nil {
		return falconerr.New(falconerr.Datalink, "connect-simnet-peers "+a+" <-> "+b, err)
	}
	return nil
}

// Delete removes a datalink (simnet or vnic) by name. It is idempotent on
// absence and retries for up to 30s at 1s cadence, since a freshly-destroyed
// VM backend may briefly hold the vnic open (spec.md §4.A).
func (d *Driver) Delete(ctx context.Context, name string) error {
	var lastErr error

	for attempt := 1; attempt <= deleteRetryAttempts; attempt++ {
		_, stderr, err := d.run.Run(ctx, "dladm", "delete-link", name)
		if err == nil {
			return nil
		}
		if isAlreadyAbsent(stderr) {
			return nil
		}

		lastErr = err
		falconlog.Warn("delete datalink %s attempt %d/%d failed: %v", name, attempt, deleteRetryAttempts, lastErr)

		select {
		case <-ctx.Done():
			return falconerr.New(falconerr.Datalink, "delete "+name, ctx.Err())
		case <-time.After(deleteRetryInterval):
		}
	}

	return falconerr.New(falconerr.Datalink, "delete "+name, lastErr)
}

func isAlreadyAbsent(stderr []byte) bool {
	s := string(stderr)
	return strings.Contains(s, "not found") || strings.Contains(s, "no such")
}
