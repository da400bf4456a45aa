// Package topo is the topology engine (spec.md §4.E): it resolves a
// Deployment into concrete host state — datalinks, disk clones, running
// hypervisor instances, and configured guests — and tears that state back
// down idempotently. Node launch fans out with a join barrier using
// golang.org/x/sync/errgroup, the way phenix's scheduler fans out
// per-component actions across an experiment.
package topo

import (
	"context"
	"fmt"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"falcon/config"
	"falcon/falconerr"
	"falcon/internal/dlink"
	"falcon/internal/falconlog"
	"falcon/internal/fetch"
	"falcon/internal/imagestore"
	"falcon/internal/serial"
	"falcon/internal/shell"
	"falcon/internal/vmctl"
	"falcon/store"
	"falcon/types"
)

// Engine ties together every component the topology lifecycle needs.
type Engine struct {
	cfg     *config.Config
	ws      *store.Workspace
	run     shell.Runner
	fetcher *fetch.Fetcher
	dlink   *dlink.Driver
	images  *imagestore.Store

	// diskPaths is populated by Preflight: node name -> materialized
	// primary block device/file path, reused by Launch so the disk isn't
	// cloned or copied twice.
	diskPaths map[string]string
}

// New builds an Engine for cfg, opening (and creating if necessary) its
// workspace.
func New(cfg *config.Config, run shell.Runner) (*Engine, error) {
	ws, err := store.Open(cfg.Workspace)
	if err != nil {
		return nil, err
	}

	fetcher := fetch.New()

	return &Engine{
		cfg:     cfg,
		ws:      ws,
		run:     run,
		fetcher: fetcher,
		dlink:   dlink.New(run),
		images:  imagestore.New(run, fetcher, cfg.Dataset, cfg.AssetBaseURL),
	}, nil
}

// Workspace exposes the engine's underlying workspace for callers that
// need direct sidecar access (e.g. to read back a discovered port).
func (e *Engine) Workspace() *store.Workspace { return e.ws }

// Preflight runs every step that must succeed before any host resource is
// mutated: binaries present and sane, workspace created, topology
// persisted, and every node's primary disk materialized.
func (e *Engine) Preflight(ctx context.Context, dep *types.Deployment) (string, string, error) {
	binaryPath, err := e.ensureBinary(ctx, e.cfg.Propolis, "propolis")
	if err != nil {
		return "", "", err
	}

	firmwarePath, err := e.ensureBinary(ctx, e.cfg.Firmware, "ovmf-code.fd")
	if err != nil {
		return "", "", err
	}

	if _, _, err := e.run.Run(ctx, binaryPath, "--version"); err != nil {
		return "", "", falconerr.New(falconerr.Hypervisor, "hypervisor sanity check", err)
	}

	if err := e.ws.SaveTopology(dep); err != nil {
		return "", "", err
	}

	seenImages := map[string]bool{}
	for _, n := range dep.Nodes {
		if n.Image == "" || seenImages[n.Image] {
			continue
		}
		seenImages[n.Image] = true
		if err := e.images.EnsureBaseImage(ctx, n.Image, e.ws.BinPath(""), nil); err != nil {
			return "", "", err
		}
	}

	e.diskPaths = make(map[string]string, len(dep.Nodes))
	for _, n := range dep.Nodes {
		path, err := e.images.MaterializeNode(ctx, dep.Name, n.Name, n)
		if err != nil {
			return "", "", err
		}
		e.diskPaths[n.Name] = path
	}

	return binaryPath, firmwarePath, nil
}

// ensureBinary returns userSupplied if set, otherwise guarantees name is
// cached in the workspace bin/ directory, downloading and digest-verifying
// it first if absent.
func (e *Engine) ensureBinary(ctx context.Context, userSupplied, name string) (string, error) {
	if userSupplied != "" {
		return userSupplied, nil
	}

	dest := e.ws.BinPath(name)
	url := e.cfg.AssetBaseURL + "/" + name

	if err := e.fetcher.GetVerified(ctx, url, dest, nil); err != nil {
		return "", err
	}

	if err := os.Chmod(dest, 0755); err != nil {
		return "", falconerr.New(falconerr.IO, "chmod cached "+name, err)
	}

	return dest, nil
}

// Launch runs Preflight, then creates all datalinks, then launches every
// node concurrently with a join barrier, then runs first-boot setup on
// nodes that request it.
func (e *Engine) Launch(ctx context.Context, dep *types.Deployment) error {
	binaryPath, firmwarePath, err := e.Preflight(ctx, dep)
	if err != nil {
		return err
	}

	if err := e.createDatalinks(ctx, dep); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	for i := range dep.Nodes {
		n := dep.Nodes[i]
		ref := types.NodeRef(i)
		g.Go(func() error {
			return e.launchNode(gctx, dep, ref, n, binaryPath, firmwarePath)
		})
	}

	if err := g.Wait(); err != nil {
		falconlog.Error("launch failed: %v", err)
		return err
	}

	return nil
}

func (e *Engine) launchNode(ctx context.Context, dep *types.Deployment, ref types.NodeRef, n types.Node, binaryPath, firmwarePath string) error {
	diskPath, ok := e.diskPaths[n.Name]
	if !ok {
		return falconerr.New(falconerr.Config, "launch "+n.Name, fmt.Errorf("no materialized disk path (preflight not run?)"))
	}

	spec, err := dep.BuildInstanceSpec(ref, diskPath)
	if err != nil {
		return falconerr.New(falconerr.Config, "build instance spec for "+n.Name, err)
	}
	spec.Board.CPUs = n.CPUs
	spec.Board.MemoryMB = n.MemoryMB
	spec.SMBIOS = n.SMBIOS

	handle, err := vmctl.LaunchVM(ctx, e.ws, binaryPath, firmwarePath, n.Name, spec, n.VNCPort)
	if err != nil {
		return falconerr.New(falconerr.Hypervisor, "launch "+n.Name, err)
	}

	if !n.DoSetup {
		return nil
	}

	return e.firstBootSetup(ctx, dep, n, handle)
}

// firstBootSetup logs into the node's serial console and runs the
// first-boot sequence: mounts in declared order, hostname, /etc/hosts,
// /etc/nodename, then logs out (spec.md §4.E).
func (e *Engine) firstBootSetup(ctx context.Context, dep *types.Deployment, n types.Node, handle *vmctl.Handle) error {
	cmdr := serial.New(n.Name)
	addr := fmt.Sprintf("[::1]:%d", handle.Port)
	if err := cmdr.Connect(ctx, addr); err != nil {
		return falconerr.New(falconerr.Exec, "first-boot login for "+n.Name, err)
	}
	defer cmdr.Close()

	for _, m := range n.Mounts {
		cmd := mountCommand(m)
		if _, err := cmdr.Exec(ctx, cmd, 30*time.Second); err != nil {
			return falconerr.New(falconerr.Exec, "mount "+m.Dest+" on "+n.Name, err)
		}
	}

	if _, err := cmdr.Exec(ctx, "hostname "+n.Name, 10*time.Second); err != nil {
		return falconerr.New(falconerr.Exec, "set hostname on "+n.Name, err)
	}

	hostsLine := fmt.Sprintf(`echo '127.0.0.1 localhost %s' >> /etc/hosts`, n.Name)
	if _, err := cmdr.Exec(ctx, hostsLine, 10*time.Second); err != nil {
		return falconerr.New(falconerr.Exec, "append /etc/hosts on "+n.Name, err)
	}

	nodenameLine := fmt.Sprintf(`echo '%s' > /etc/nodename`, n.Name)
	if _, err := cmdr.Exec(ctx, nodenameLine, 10*time.Second); err != nil {
		return falconerr.New(falconerr.Exec, "write /etc/nodename on "+n.Name, err)
	}

	if _, err := cmdr.Exec(ctx, "logout", 10*time.Second); err != nil {
		falconlog.Warn("logout on %s did not complete cleanly: %v", n.Name, err)
	}

	return nil
}

func mountCommand(m types.Mount) string {
	if m.Mechanism == types.NineP {
		return fmt.Sprintf("mkdir -p %s && mount -F 9p %s %s", m.Dest, m.Source, m.Dest)
	}
	return fmt.Sprintf("mkdir -p %s && p9kp pull %s %s", m.Dest, m.Source, m.Dest)
}

// CreateDatalinks creates every simnet/vnic pair for internal Links,
// sequentially, then every external vnic for ExtLinks, without launching
// any nodes.
func (e *Engine) CreateDatalinks(ctx context.Context, dep *types.Deployment) error {
	return e.createDatalinks(ctx, dep)
}

// DestroyDatalinks removes every datalink (vnics then simnets, reverse
// declaration order) for dep's Links and ExtLinks, without touching nodes.
// Best-effort: failures are warned and swallowed, so this never returns an
// error; the return type exists only so callers can use it uniformly with
// the rest of the Engine's lifecycle methods.
func (e *Engine) DestroyDatalinks(ctx context.Context, dep *types.Deployment) error {
	for _, el := range dep.ExtLinks {
		if err := e.dlink.Delete(ctx, dep.VnicName(el.Endpoint)); err != nil {
			falconlog.Warn("delete vnic %s: %v", dep.VnicName(el.Endpoint), err)
		}
	}

	for i := len(dep.Links) - 1; i >= 0; i-- {
		l := dep.Links[i]
		for _, ep := range l.Endpoints() {
			if err := e.dlink.Delete(ctx, dep.VnicName(ep)); err != nil {
				falconlog.Warn("delete vnic %s: %v", dep.VnicName(ep), err)
			}
			if err := e.dlink.Delete(ctx, dep.SimnetName(ep)); err != nil {
				falconlog.Warn("delete simnet %s: %v", dep.SimnetName(ep), err)
			}
		}
	}

	return nil
}

// createDatalinks creates every simnet/vnic pair for internal Links,
// sequentially, then every external vnic for ExtLinks.
func (e *Engine) createDatalinks(ctx context.Context, dep *types.Deployment) error {
	for _, l := range dep.Links {
		for _, ep := range l.Endpoints() {
			simnet := dep.SimnetName(ep)
			if _, err := e.dlink.CreateSimnet(ctx, simnet); err != nil {
				return err
			}
			vnic := dep.VnicName(ep)
			if _, err := e.dlink.CreateVnic(ctx, vnic, simnet, ep.MAC); err != nil {
				return err
			}
		}

		a, b := dep.SimnetName(l.A), dep.SimnetName(l.B)
		if err := e.dlink.ConnectSimnetPeers(ctx, a, b); err != nil {
			return err
		}
	}

	for _, el := range dep.ExtLinks {
		vnic := dep.VnicName(el.Endpoint)
		if _, err := e.dlink.CreateVnic(ctx, vnic, el.HostInterface, el.Endpoint.MAC); err != nil {
			return err
		}
	}

	return nil
}

// Snapshot turns node's current disk state into a new, reusable base image
// named tag (spec.md §4.F). Only ZvolClone-backed nodes can be snapshotted:
// a FileCopy-backed node's disk is a plain file, not a ZFS dataset.
func (e *Engine) Snapshot(ctx context.Context, dep *types.Deployment, node, tag string) error {
	var n *types.Node
	for i := range dep.Nodes {
		if dep.Nodes[i].Name == node {
			n = &dep.Nodes[i]
			break
		}
	}
	if n == nil {
		return falconerr.New(falconerr.NotFound, "snapshot", fmt.Errorf("no such node %q", node))
	}
	if n.Backing == types.FileCopy {
		return falconerr.New(falconerr.Config, "snapshot "+node, fmt.Errorf("file-backed nodes have no ZFS dataset to snapshot"))
	}

	return e.images.SnapshotNode(ctx, dep.Name, node, tag)
}

// Destroy tears down every node and datalink in reverse order, best
// effort: every step continues past errors from the prior one. It
// converges to success as long as the workspace directory itself is
// removed at the end, even if individual sub-steps warned.
func (e *Engine) Destroy(ctx context.Context, dep *types.Deployment) error {
	for i := len(dep.Nodes) - 1; i >= 0; i-- {
		n := dep.Nodes[i]
		vmctl.Kill(e.ws, n.Name)
		vmctl.DestroyVM(ctx, e.run, e.ws, n.Name)
	}

	_ = e.DestroyDatalinks(ctx, dep)

	for _, n := range dep.Nodes {
		if err := e.images.DestroyNodeDisk(ctx, dep.Name, n.Name, n); err != nil {
			falconlog.Warn("destroy: %v", err)
		}
		e.ws.RemoveSidecars(n.Name)
	}

	if err := e.ws.Clean(); err != nil {
		return falconerr.New(falconerr.IO, "clean workspace", err)
	}

	return nil
}
