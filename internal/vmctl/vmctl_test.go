package vmctl

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"falcon/store"
	"falcon/types"
)

func TestScanForPortFindsLocalAddrLine(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "violin.out")
	if err := os.WriteFile(path, []byte("starting\n{\"local_addr\":\"[::]:4242\",\"ok\":true}\n"), 0644); err != nil {
		t.Fatal(err)
	}

	port, found, err := scanForPort(path)
	if err != nil {
		t.Fatalf("scanForPort: %v", err)
	}
	if !found || port != 4242 {
		t.Fatalf("port=%d found=%v, want 4242 true", port, found)
	}
}

func TestScanForPortMatchesIPv6LoopbackVariant(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "violin.out")
	if err := os.WriteFile(path, []byte(`{"local_addr":"[::1]:9000"}`+"\n"), 0644); err != nil {
		t.Fatal(err)
	}

	port, found, err := scanForPort(path)
	if err != nil {
		t.Fatalf("scanForPort: %v", err)
	}
	if !found || port != 9000 {
		t.Fatalf("port=%d found=%v, want 9000 true", port, found)
	}
}

func TestScanForPortMissingFileIsNotFoundNotError(t *testing.T) {
	_, found, err := scanForPort(filepath.Join(t.TempDir(), "ghost.out"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if found {
		t.Fatal("expected not found for missing file")
	}
}

func TestDiscoverPortToleratesPartialLineThenRetries(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "violin.out")
	if err := os.WriteFile(path, []byte("booting up, no addr yet\n{\"local_addr\":\"[::]:55"), 0644); err != nil {
		t.Fatal(err)
	}

	done := make(chan struct{})
	go func() {
		time.Sleep(30 * time.Millisecond)
		os.WriteFile(path, []byte("booting up, no addr yet\n{\"local_addr\":\"[::]:5555\"}\n"), 0644)
		close(done)
	}()

	port, err := discoverPort(path)
	<-done
	if err != nil {
		t.Fatalf("discoverPort: %v", err)
	}
	if port != 5555 {
		t.Errorf("port = %d, want 5555", port)
	}
}

func TestControlClientEnsureInstanceAndSetState(t *testing.T) {
	var ensureCalls, stateCalls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/instance/ensure":
			ensureCalls++
			w.WriteHeader(http.StatusOK)
		case "/instance/state":
			stateCalls++
			var body map[string]string
			json.NewDecoder(r.Body).Decode(&body)
			if body["state"] != "run" {
				t.Errorf("unexpected state body: %v", body)
			}
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := NewControlClient(srv.URL)
	if err := c.EnsureInstance(context.Background(), types.InstanceSpec{Name: "violin"}); err != nil {
		t.Fatalf("EnsureInstance: %v", err)
	}
	if err := c.SetState(context.Background(), "run"); err != nil {
		t.Fatalf("SetState: %v", err)
	}
	if ensureCalls != 1 || stateCalls != 1 {
		t.Errorf("ensureCalls=%d stateCalls=%d, want 1 1", ensureCalls, stateCalls)
	}
}

func TestKillSkipsWhenNoPidRecorded(t *testing.T) {
	ws, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	// Should log a warning and return without panicking.
	Kill(ws, "ghost")
}
