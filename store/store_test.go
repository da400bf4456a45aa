package store

import (
	"os"
	"path/filepath"
	"testing"

	"falcon/types"
)

func TestSidecarRoundTripTrimsWhitespace(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	if err := w.WritePID("violin", 4242); err != nil {
		t.Fatal(err)
	}
	if err := w.WriteUUID("violin", "e9f8c1b2-0000-4000-8000-000000000000"); err != nil {
		t.Fatal(err)
	}
	if err := w.WritePort("violin", 54321); err != nil {
		t.Fatal(err)
	}

	// Simulate an externally-edited file with trailing whitespace.
	path := w.sidecarPath("violin", sidecarPID)
	if err := os.WriteFile(path, []byte("4242  \n"), 0644); err != nil {
		t.Fatal(err)
	}

	pid, err := w.ReadPID("violin")
	if err != nil || pid != 4242 {
		t.Fatalf("ReadPID = %d, %v, want 4242, nil", pid, err)
	}

	uuid, err := w.ReadUUID("violin")
	if err != nil || uuid != "e9f8c1b2-0000-4000-8000-000000000000" {
		t.Fatalf("ReadUUID = %q, %v", uuid, err)
	}

	port, err := w.ReadPort("violin")
	if err != nil || port != 54321 {
		t.Fatalf("ReadPort = %d, %v, want 54321, nil", port, err)
	}
}

func TestMissingSidecarIsNotFound(t *testing.T) {
	w, err := Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	if _, err := w.ReadPID("ghost"); err == nil {
		t.Fatal("expected error reading missing sidecar")
	}
}

func TestCleanPreservesBinSubtree(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}

	if err := w.WritePID("violin", 1); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(w.BinPath("propolis"), []byte("binary"), 0755); err != nil {
		t.Fatal(err)
	}

	if err := w.Clean(); err != nil {
		t.Fatalf("Clean: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name() != "bin" {
		t.Fatalf("expected only bin/ to remain, got %v", entries)
	}

	if _, err := os.Stat(w.BinPath("propolis")); err != nil {
		t.Fatalf("expected cached binary to survive Clean: %v", err)
	}
}

func TestTopologyRoundTrip(t *testing.T) {
	w, err := Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	dep, err := types.NewDeployment("solo")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := dep.AddNode(types.Node{Name: "violin", CPUs: 1, MemoryMB: 512}); err != nil {
		t.Fatal(err)
	}

	if err := w.SaveTopology(dep); err != nil {
		t.Fatalf("SaveTopology: %v", err)
	}

	if _, err := os.Stat(filepath.Join(dir(w), topologyFile)); err != nil {
		t.Fatalf("expected topology.ron to exist: %v", err)
	}

	got, err := w.LoadTopology()
	if err != nil {
		t.Fatalf("LoadTopology: %v", err)
	}
	if got.Name != dep.Name || len(got.Nodes) != len(dep.Nodes) {
		t.Fatalf("loaded topology mismatch: %+v", got)
	}
}

func dir(w *Workspace) string { return w.Dir }
