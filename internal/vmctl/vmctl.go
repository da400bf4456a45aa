// Package vmctl is the VM controller (spec.md §4.D): it spawns a
// hypervisor subprocess for one node, discovers the control-API port it
// bound, and drives that API to bring the instance up. Port discovery
// follows phenix's web/log.go pattern of tailing a growing log file with
// github.com/hpcloud/tail rather than parsing the process's stdout pipe
// directly.
package vmctl

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"regexp"
	"syscall"
	"time"

	"github.com/hpcloud/tail"

	"falcon/falconerr"
	"falcon/internal/falconlog"
	"falcon/internal/shell"
	"falcon/store"
	"falcon/types"
)

const (
	portDiscoveryDeadline = 10 * time.Second
	portDiscoveryPoll     = 10 * time.Millisecond
	ensureRetryAttempts   = 30
	ensureRetryInterval   = time.Second
)

var localAddrRegex = regexp.MustCompile(`"local_addr":"(\[::\]|\[::1\]):(\d+)"`)

// Handle is a running hypervisor process bound to one node.
type Handle struct {
	Node string
	PID  int
	UUID string
	Port uint16

	cmd *exec.Cmd
}

// LaunchVM spawns binary as the node's hypervisor process against
// firmwarePath, discovers its control-API port, persists sidecar state to
// the workspace, and instance-ensures spec against the resulting client.
func LaunchVM(ctx context.Context, ws *store.Workspace, binary, firmwarePath, node string, spec types.InstanceSpec, vncPort *int) (*Handle, error) {
	outFile, err := os.Create(ws.OutPath(node))
	if err != nil {
		return nil, falconerr.New(falconerr.IO, "create "+node+".out", err)
	}
	defer outFile.Close()

	errFile, err := os.Create(ws.ErrPath(node))
	if err != nil {
		return nil, falconerr.New(falconerr.IO, "create "+node+".err", err)
	}
	defer errFile.Close()

	args := []string{"run", firmwarePath, "[::]:0"}
	if vncPort != nil {
		args = append(args, fmt.Sprintf("[::]:%d", *vncPort))
	}

	cmd := exec.CommandContext(ctx, binary, args...)
	cmd.Stdout = outFile
	cmd.Stderr = errFile

	if err := cmd.Start(); err != nil {
		return nil, falconerr.New(falconerr.Exec, "spawn hypervisor for "+node, err)
	}

	if err := ws.WritePID(node, cmd.Process.Pid); err != nil {
		return nil, err
	}

	port, err := discoverPort(ws.OutPath(node))
	if err != nil {
		return nil, falconerr.New(falconerr.Exec, "discover control port for "+node, err)
	}
	if err := ws.WritePort(node, port); err != nil {
		return nil, err
	}

	if err := ws.WriteUUID(node, spec.UUID); err != nil {
		return nil, err
	}

	client := NewControlClient(fmt.Sprintf("http://[::1]:%d", port))
	if err := client.EnsureInstance(ctx, spec); err != nil {
		return nil, err
	}
	if err := client.SetState(ctx, "run"); err != nil {
		return nil, err
	}

	return &Handle{Node: node, PID: cmd.Process.Pid, UUID: spec.UUID, Port: port, cmd: cmd}, nil
}

// discoverPort tails path (the hypervisor's stdout file) for the first
// line naming its bound local address, tolerating partial lines since the
// file is still growing, bounded by a 10s deadline.
func discoverPort(path string) (uint16, error) {
	deadline := time.Now().Add(portDiscoveryDeadline)

	for {
		if time.Now().After(deadline) {
			return 0, fmt.Errorf("no control port discovered in %s within %s", path, portDiscoveryDeadline)
		}

		port, found, err := scanForPort(path)
		if err != nil {
			return 0, err
		}
		if found {
			return port, nil
		}

		time.Sleep(portDiscoveryPoll)
	}
}

// scanForPort reopens path from the start and scans its lines for the
// local_addr marker, matching spec.md §4.D's "on EOF without a match it
// sleeps 10ms and reopens the file from the start" tolerance for a
// concurrently-growing file. A trailing partial line is scanned too, but
// cannot match until the marker's closing quote has been written. A file
// that does not exist yet is reported as not found.
func scanForPort(path string) (uint16, bool, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return 0, false, nil
		}
		return 0, false, falconerr.New(falconerr.IO, "stat "+path, err)
	}

	t, err := tail.TailFile(path, tail.Config{Follow: false, MustExist: false})
	if err != nil {
		if os.IsNotExist(err) {
			return 0, false, nil
		}
		return 0, false, falconerr.New(falconerr.IO, "tail "+path, err)
	}
	defer t.Stop()

	for line := range t.Lines {
		if line.Err != nil {
			continue
		}
		if m := localAddrRegex.FindStringSubmatch(line.Text); m != nil {
			var port uint16
			if _, err := fmt.Sscanf(m[2], "%d", &port); err != nil {
				continue
			}
			return port, true, nil
		}
	}

	return 0, false, nil
}

// Kill sends SIGKILL to the process recorded for node. A missing pid file
// is logged and skipped, not treated as an error (spec.md §4.D).
func Kill(ws *store.Workspace, node string) {
	pid, err := ws.ReadPID(node)
	if err != nil {
		falconlog.Warn("destroy %s: no pid on record, skipping kill: %v", node, err)
		return
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		falconlog.Warn("destroy %s: process %d not found: %v", node, pid, err)
		return
	}

	if err := proc.Signal(syscall.SIGKILL); err != nil {
		falconlog.Warn("destroy %s: SIGKILL to %d failed: %v", node, pid, err)
	}
}

// DestroyVM invokes `bhyvectl --destroy --vm={uuid}` for node via run. A
// missing uuid or failing bhyvectl is warned and swallowed, matching
// destroy's warn-and-continue policy.
func DestroyVM(ctx context.Context, run shell.Runner, ws *store.Workspace, node string) {
	uuid, err := ws.ReadUUID(node)
	if err != nil {
		falconlog.Warn("destroy %s: no uuid on record, skipping bhyvectl: %v", node, err)
		return
	}

	if _, _, err := run.Run(ctx, "bhyvectl", "--destroy", "--vm="+uuid); err != nil {
		falconlog.Warn("destroy %s: bhyvectl --destroy failed: %v", node, err)
	}
}

// ControlClient speaks the hypervisor's control API.
type ControlClient struct {
	base   string
	client *http.Client
}

// NewControlClient builds a client against base (e.g. "http://[::1]:4200").
func NewControlClient(base string) *ControlClient {
	return &ControlClient{base: base, client: &http.Client{Timeout: 5 * time.Second}}
}

// EnsureInstance calls instance_ensure(spec), retrying up to 30 times at
// 1s cadence, then one final un-retried call whose error propagates
// (spec.md §5).
func (c *ControlClient) EnsureInstance(ctx context.Context, spec types.InstanceSpec) error {
	body, err := json.Marshal(spec)
	if err != nil {
		return falconerr.New(falconerr.Parse, "marshal instance spec", err)
	}

	var lastErr error
	for attempt := 1; attempt <= ensureRetryAttempts; attempt++ {
		if err := c.do(ctx, http.MethodPost, "/instance/ensure", body); err == nil {
			return nil
		} else {
			lastErr = err
			falconlog.Warn("instance-ensure attempt %d/%d for %s failed: %v", attempt, ensureRetryAttempts, spec.Name, err)
		}

		select {
		case <-ctx.Done():
			return falconerr.New(falconerr.Hypervisor, "instance-ensure "+spec.Name, ctx.Err())
		case <-time.After(ensureRetryInterval):
		}
	}

	if err := c.do(ctx, http.MethodPost, "/instance/ensure", body); err != nil {
		return falconerr.New(falconerr.Hypervisor, "instance-ensure "+spec.Name, err)
	}

	return nil
}

// SetState calls instance_state_put(state) (e.g. "run", "stop", "reboot").
func (c *ControlClient) SetState(ctx context.Context, state string) error {
	body, err := json.Marshal(map[string]string{"state": state})
	if err != nil {
		return falconerr.New(falconerr.Parse, "marshal instance state", err)
	}

	if err := c.do(ctx, http.MethodPut, "/instance/state", body); err != nil {
		return falconerr.New(falconerr.Hypervisor, "instance-state-put "+state, err)
	}
	return nil
}

func (c *ControlClient) do(ctx context.Context, method, path string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %s from %s", resp.Status, path)
	}
	return nil
}
