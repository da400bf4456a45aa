// Package store implements Falcon's workspace: a per-deployment directory
// holding the serialized topology plus one small sidecar file per VM (pid,
// uuid, port). Every file is plain ASCII so external tools can read them
// without linking against this package (spec.md §4.F/§6).
package store

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	homedir "github.com/mitchellh/go-homedir"

	"falcon/falconerr"
	"falcon/types"
)

const topologyFile = "topology.ron"

// preservedDirs are not removed by Clean.
var preservedDirs = []string{"bin"}

// Workspace is the per-deployment working directory.
type Workspace struct {
	Dir string
}

// Open resolves dir (expanding a leading "~") and ensures it exists,
// creating it (and a bin/ subdirectory for cached binaries) if necessary.
func Open(dir string) (*Workspace, error) {
	expanded, err := homedir.Expand(dir)
	if err != nil {
		return nil, falconerr.New(falconerr.IO, "expand workspace path", err)
	}

	if err := os.MkdirAll(filepath.Join(expanded, "bin"), 0755); err != nil {
		return nil, falconerr.New(falconerr.IO, "create workspace", err)
	}

	return &Workspace{Dir: expanded}, nil
}

func (w *Workspace) path(elem ...string) string {
	return filepath.Join(append([]string{w.Dir}, elem...)...)
}

// SaveTopology serializes dep to {workspace}/topology.ron.
func (w *Workspace) SaveTopology(dep *types.Deployment) error {
	data, err := types.Marshal(dep)
	if err != nil {
		return falconerr.New(falconerr.Parse, "marshal topology", err)
	}

	if err := os.WriteFile(w.path(topologyFile), data, 0644); err != nil {
		return falconerr.New(falconerr.IO, "write topology.ron", err)
	}

	return nil
}

// LoadTopology reconstitutes a Deployment from {workspace}/topology.ron,
// the way `destroy`/`exec` do when the original program that built the
// Deployment is no longer in scope.
func (w *Workspace) LoadTopology() (*types.Deployment, error) {
	data, err := os.ReadFile(w.path(topologyFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, falconerr.New(falconerr.NotFound, "topology.ron", err)
		}
		return nil, falconerr.New(falconerr.IO, "read topology.ron", err)
	}

	dep, err := types.Unmarshal(data)
	if err != nil {
		return nil, falconerr.New(falconerr.Parse, "parse topology.ron", err)
	}

	return dep, nil
}

// sidecar file kinds, one per node.
const (
	sidecarPID  = "pid"
	sidecarUUID = "uuid"
	sidecarPort = "port"
)

func (w *Workspace) sidecarPath(node, kind string) string {
	return w.path(fmt.Sprintf("%s.%s", node, kind))
}

// OutPath and ErrPath are the hypervisor process's stdout/stderr files.
func (w *Workspace) OutPath(node string) string { return w.path(node + ".out") }
func (w *Workspace) ErrPath(node string) string { return w.path(node + ".err") }

func writeSidecar(path, value string) error {
	if err := os.WriteFile(path, []byte(value+"\n"), 0644); err != nil {
		return falconerr.New(falconerr.IO, "write "+filepath.Base(path), err)
	}
	return nil
}

func readSidecar(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", falconerr.New(falconerr.NotFound, filepath.Base(path), err)
		}
		return "", falconerr.New(falconerr.IO, "read "+filepath.Base(path), err)
	}
	return strings.TrimSpace(string(data)), nil
}

func (w *Workspace) WritePID(node string, pid int) error {
	return writeSidecar(w.sidecarPath(node, sidecarPID), strconv.Itoa(pid))
}

func (w *Workspace) ReadPID(node string) (int, error) {
	s, err := readSidecar(w.sidecarPath(node, sidecarPID))
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(s)
	if err != nil {
		return 0, falconerr.New(falconerr.Parse, node+".pid", err)
	}
	return pid, nil
}

func (w *Workspace) WriteUUID(node, uuid string) error {
	return writeSidecar(w.sidecarPath(node, sidecarUUID), uuid)
}

func (w *Workspace) ReadUUID(node string) (string, error) {
	return readSidecar(w.sidecarPath(node, sidecarUUID))
}

func (w *Workspace) WritePort(node string, port uint16) error {
	return writeSidecar(w.sidecarPath(node, sidecarPort), strconv.Itoa(int(port)))
}

func (w *Workspace) ReadPort(node string) (uint16, error) {
	s, err := readSidecar(w.sidecarPath(node, sidecarPort))
	if err != nil {
		return 0, err
	}
	port, err := strconv.ParseUint(s, 10, 16)
	if err != nil {
		return 0, falconerr.New(falconerr.Parse, node+".port", err)
	}
	return uint16(port), nil
}

// RemoveSidecars deletes every sidecar file for node. Missing files are
// not an error: destroy must be idempotent.
func (w *Workspace) RemoveSidecars(node string) {
	for _, kind := range []string{sidecarPID, sidecarUUID, sidecarPort} {
		os.Remove(w.sidecarPath(node, kind))
	}
	os.Remove(w.OutPath(node))
	os.Remove(w.ErrPath(node))
}

// BinPath returns the path a cached, digest-verified binary (hypervisor or
// firmware) should live at within the workspace.
func (w *Workspace) BinPath(name string) string {
	return w.path("bin", name)
}

// Clean wipes the workspace directory except for the preserved bin/
// subtree, per spec.md §4.D/§4.F. It's best-effort and idempotent: it
// doesn't fail if entries are already gone.
func (w *Workspace) Clean() error {
	entries, err := os.ReadDir(w.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return falconerr.New(falconerr.IO, "read workspace", err)
	}

	for _, e := range entries {
		if contains(preservedDirs, e.Name()) {
			continue
		}
		os.RemoveAll(w.path(e.Name()))
	}

	return nil
}

func contains(haystack []string, needle string) bool {
	for _, h := range haystack {
		if h == needle {
			return true
		}
	}
	return false
}
