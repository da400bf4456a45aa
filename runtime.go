// Package falcon is a declarative network-topology harness: describe a
// graph of VMs and point-to-point links, and Falcon launches,
// interconnects, and drives those VMs on a single host using a hypervisor
// and host datalink facilities.
package falcon

import (
	"context"
	"fmt"
	"time"

	"falcon/config"
	"falcon/internal/serial"
	"falcon/internal/shell"
	"falcon/internal/topo"
	"falcon/internal/vmctl"
	"falcon/types"
)

// Runtime owns one Deployment's host-side state for the lifetime of a
// process. It is the package's sole exported entry point; every component
// underneath internal/ is an implementation detail.
type Runtime struct {
	cfg    *config.Config
	engine *topo.Engine
	dep    *types.Deployment

	// Persistent, if set before Close, skips the best-effort destroy a
	// dropped Runtime otherwise performs (spec.md §9).
	Persistent bool

	closed bool
}

// Open resolves cfg and builds a Runtime bound to dep, ready for
// Preflight/Launch.
func Open(cfg *config.Config, dep *types.Deployment) (*Runtime, error) {
	engine, err := topo.New(cfg, shell.Default)
	if err != nil {
		return nil, err
	}

	return &Runtime{cfg: cfg, engine: engine, dep: dep}, nil
}

// Resume rebuilds a Runtime for an already-launched deployment by loading
// its topology back out of the workspace, the way `destroy`/`exec` operate
// without the original builder calls in scope.
func Resume(cfg *config.Config) (*Runtime, error) {
	engine, err := topo.New(cfg, shell.Default)
	if err != nil {
		return nil, err
	}

	dep, err := engine.Workspace().LoadTopology()
	if err != nil {
		return nil, err
	}

	return &Runtime{cfg: cfg, engine: engine, dep: dep}, nil
}

// Deployment returns the topology this Runtime is bound to.
func (r *Runtime) Deployment() *types.Deployment { return r.dep }

// Preflight ensures binaries, workspace, and per-node disks are ready
// without launching anything.
func (r *Runtime) Preflight(ctx context.Context) error {
	_, _, err := r.engine.Preflight(ctx, r.dep)
	return err
}

// Launch preflights, wires datalinks, and brings up every node.
func (r *Runtime) Launch(ctx context.Context) error {
	return r.engine.Launch(ctx, r.dep)
}

// Destroy tears down every node and datalink for this deployment,
// best-effort and idempotent.
func (r *Runtime) Destroy(ctx context.Context) error {
	return r.engine.Destroy(ctx, r.dep)
}

// CreateLinks creates datalinks for the deployment's Links/ExtLinks
// without launching any nodes, for operators who want to stage networking
// ahead of `launch`.
func (r *Runtime) CreateLinks(ctx context.Context) error {
	return r.engine.CreateDatalinks(ctx, r.dep)
}

// DestroyLinks removes every datalink for the deployment without touching
// running nodes.
func (r *Runtime) DestroyLinks(ctx context.Context) error {
	return r.engine.DestroyDatalinks(ctx, r.dep)
}

// Exec opens a serial session to node, runs cmd, and returns its output.
func (r *Runtime) Exec(ctx context.Context, node, cmd string, timeout time.Duration) (string, error) {
	port, err := r.engine.Workspace().ReadPort(node)
	if err != nil {
		return "", err
	}

	cmdr := serial.New(node)
	if err := cmdr.Connect(ctx, fmt.Sprintf("[::1]:%d", port)); err != nil {
		return "", err
	}
	defer cmdr.Close()

	return cmdr.Exec(ctx, cmd, timeout)
}

// Serial opens an interactive serial session to node and returns it for
// the caller to drive directly (used by the CLI's `serial` subcommand).
func (r *Runtime) Serial(ctx context.Context, node string) (*serial.Commander, error) {
	port, err := r.engine.Workspace().ReadPort(node)
	if err != nil {
		return nil, err
	}

	cmdr := serial.New(node)
	if err := cmdr.Connect(ctx, fmt.Sprintf("[::1]:%d", port)); err != nil {
		return nil, err
	}
	return cmdr, nil
}

// Reboot restarts node's hypervisor instance via the control API.
func (r *Runtime) Reboot(ctx context.Context, node string) error {
	port, err := r.engine.Workspace().ReadPort(node)
	if err != nil {
		return err
	}
	client := vmctl.NewControlClient(fmt.Sprintf("http://[::1]:%d", port))
	return client.SetState(ctx, "reboot")
}

// SetPower sets node's instance power state ("run" or "stop") via the
// control API — the backing for the CLI's hyperstart/hyperstop
// subcommands.
func (r *Runtime) SetPower(ctx context.Context, node string, on bool) error {
	port, err := r.engine.Workspace().ReadPort(node)
	if err != nil {
		return err
	}
	client := vmctl.NewControlClient(fmt.Sprintf("http://[::1]:%d", port))

	state := "stop"
	if on {
		state = "run"
	}
	return client.SetState(ctx, state)
}

// Info summarizes every node's recorded pid/uuid/port for the CLI's
// `info` subcommand.
type Info struct {
	Node string
	PID  int
	UUID string
	Port uint16
}

// Info returns recorded sidecar state for every node; nodes with no
// recorded state (never launched, or already destroyed) are omitted.
func (r *Runtime) Info() []Info {
	ws := r.engine.Workspace()

	var out []Info
	for _, n := range r.dep.Nodes {
		pid, err := ws.ReadPID(n.Name)
		if err != nil {
			continue
		}
		uuid, _ := ws.ReadUUID(n.Name)
		port, _ := ws.ReadPort(n.Name)
		out = append(out, Info{Node: n.Name, PID: pid, UUID: uuid, Port: port})
	}
	return out
}

// Snapshot turns node's current disk into a new, reusable base image named
// name, for the CLI's `snapshot` subcommand.
func (r *Runtime) Snapshot(ctx context.Context, node, name string) error {
	return r.engine.Snapshot(ctx, r.dep, node, name)
}

// Close performs a best-effort destroy unless Persistent is set, matching
// the reference implementation's destructor semantics (spec.md §9).
func (r *Runtime) Close(ctx context.Context) error {
	if r.closed {
		return nil
	}
	r.closed = true

	if r.Persistent {
		return nil
	}

	return r.engine.Destroy(ctx, r.dep)
}
