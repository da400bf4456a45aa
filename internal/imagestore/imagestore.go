// Package imagestore manages Falcon's base-image cache and per-node disk
// materialization (spec.md §4.B): one shared "@base" ZFS snapshot per image
// tag, cloned or copied out to each node's own backing store at preflight.
package imagestore

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"falcon/falconerr"
	"falcon/internal/fetch"
	"falcon/internal/shell"
	"falcon/types"
)

const (
	blockSize         = 4096
	zvolBlockSz       = "4096"
	defaultFileBackingRoot = "/var/falcon/dsk"
)

// Store manages base images and node backing stores under one ZFS dataset
// root (e.g. "rpool/falcon").
type Store struct {
	run             shell.Runner
	fetcher         *fetch.Fetcher
	dataset         string
	assetBaseURL    string
	fileBackingRoot string
}

// New builds a Store rooted at dataset (e.g. "rpool/falcon"), downloading
// base image assets from assetBaseURL. File-backed nodes are materialized
// under /var/falcon/dsk; use WithFileBackingRoot to override, e.g. in tests.
func New(run shell.Runner, fetcher *fetch.Fetcher, dataset, assetBaseURL string) *Store {
	return &Store{run: run, fetcher: fetcher, dataset: dataset, assetBaseURL: assetBaseURL, fileBackingRoot: defaultFileBackingRoot}
}

// WithFileBackingRoot overrides the root directory file-backed node disks
// are materialized under, returning s for chaining.
func (s *Store) WithFileBackingRoot(dir string) *Store {
	s.fileBackingRoot = dir
	return s
}

func (s *Store) baseDataset(tag string) string {
	return fmt.Sprintf("%s/img/%s", s.dataset, tag)
}

func (s *Store) baseSnapshot(tag string) string {
	return s.baseDataset(tag) + "@base"
}

// EnsureBaseImage guarantees a named snapshot exists at
// {dataset}/img/{tag}@base, downloading and materializing it from the
// asset base URL if it doesn't. workDir is a scratch directory for the
// downloaded/decompressed asset (typically the workspace's bin/ or a tmp
// subdirectory).
func (s *Store) EnsureBaseImage(ctx context.Context, tag, workDir string, progress fetch.ProgressFunc) error {
	if s.snapshotExists(ctx, s.baseSnapshot(tag)) {
		return nil
	}

	archivePath := filepath.Join(workDir, tag+"_0.raw.xz")
	rawPath := filepath.Join(workDir, tag+"_0.raw")

	url := s.assetBaseURL + "/" + tag + "_0.raw.xz"
	if err := s.fetcher.GetVerified(ctx, url, archivePath, progress); err != nil {
		return err
	}

	if err := s.decompress(ctx, archivePath, rawPath); err != nil {
		return err
	}

	info, err := os.Stat(rawPath)
	if err != nil {
		return falconerr.New(falconerr.IO, "stat decompressed image", err)
	}
	allocSize := ceilToBlock(info.Size(), blockSize)

	if err := s.createZvol(ctx, s.baseDataset(tag), allocSize); err != nil {
		return err
	}

	if err := s.streamInto(rawPath, zvolDevPath(s.baseDataset(tag)), progress); err != nil {
		return err
	}

	if _, _, err := s.run.Run(ctx, "zfs", "snapshot", s.baseSnapshot(tag)); err != nil {
		return falconerr.New(falconerr.Hypervisor, "snapshot base image "+tag, err)
	}

	return nil
}

// MaterializeNode prepares node n's backing store, returning the device or
// file path the hypervisor should use as its primary disk.
func (s *Store) MaterializeNode(ctx context.Context, deployment, node string, n types.Node) (string, error) {
	switch n.Backing {
	case types.FileCopy:
		return s.materializeFileBacking(ctx, deployment, node, n)
	default:
		return s.materializeCloneBacking(ctx, deployment, node, n)
	}
}

func (s *Store) materializeCloneBacking(ctx context.Context, deployment, node string, n types.Node) (string, error) {
	target := fmt.Sprintf("%s/topo/%s/%s", s.dataset, deployment, node)

	if _, _, err := s.run.Run(ctx, "zfs", "clone", s.baseSnapshot(n.Image), target); err != nil {
		return "", falconerr.New(falconerr.Hypervisor, "clone base image for "+node, err)
	}

	volsize := fmt.Sprintf("%dG", n.ReservedGB)
	if _, _, err := s.run.Run(ctx, "zfs", "set", "volsize="+volsize, target); err != nil {
		return "", falconerr.New(falconerr.Hypervisor, "set volsize for "+node, err)
	}
	if _, _, err := s.run.Run(ctx, "zfs", "set", "reservation="+volsize, target); err != nil {
		return "", falconerr.New(falconerr.Hypervisor, "set reservation for "+node, err)
	}
	if _, _, err := s.run.Run(ctx, "zfs", "set", "sync=disabled", target); err != nil {
		return "", falconerr.New(falconerr.Hypervisor, "set sync=disabled for "+node, err)
	}

	return zvolDevPath(target), nil
}

func (s *Store) materializeFileBacking(ctx context.Context, deployment, node string, n types.Node) (string, error) {
	dir := filepath.Join(s.fileBackingRoot, deployment)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", falconerr.New(falconerr.IO, "create file-backing directory", err)
	}
	dest := filepath.Join(dir, node)

	src := zvolDevPath(s.baseDataset(n.Image))
	if _, _, err := s.run.Run(ctx, "dd", "if="+src, "of="+dest, "bs=1024M"); err != nil {
		return "", falconerr.New(falconerr.HostCommand, "copy base image for "+node, err)
	}

	size := fmt.Sprintf("%dG", n.ReservedGB)
	if _, _, err := s.run.Run(ctx, "truncate", "-s", size, dest); err != nil {
		return "", falconerr.New(falconerr.HostCommand, "truncate file backing for "+node, err)
	}

	return dest, nil
}

// SnapshotNode turns node's current running clone into a new, independent
// reusable base image named tag (spec.md §4.F "snapshot"): it snapshots the
// node's clone, clones that snapshot out to {dataset}/img/{tag}, promotes
// the clone so it no longer depends on the node's dataset, then snapshots
// the promoted clone @base so EnsureBaseImage/MaterializeNode can use tag
// exactly like any downloaded base image.
func (s *Store) SnapshotNode(ctx context.Context, deployment, node, tag string) error {
	nodeDataset := fmt.Sprintf("%s/topo/%s/%s", s.dataset, deployment, node)
	nodeSnapshot := nodeDataset + "@base"
	imgDataset := s.baseDataset(tag)

	if _, _, err := s.run.Run(ctx, "zfs", "snapshot", nodeSnapshot); err != nil {
		return falconerr.New(falconerr.Hypervisor, "snapshot node clone for "+node, err)
	}

	if _, _, err := s.run.Run(ctx, "zfs", "clone", nodeSnapshot, imgDataset); err != nil {
		return falconerr.New(falconerr.Hypervisor, "clone node snapshot to "+imgDataset, err)
	}

	if _, _, err := s.run.Run(ctx, "zfs", "promote", imgDataset); err != nil {
		return falconerr.New(falconerr.Hypervisor, "promote "+imgDataset, err)
	}

	if _, _, err := s.run.Run(ctx, "zfs", "snapshot", s.baseSnapshot(tag)); err != nil {
		return falconerr.New(falconerr.Hypervisor, "snapshot new base image "+tag, err)
	}

	return nil
}

// DestroyNodeDisk removes node's materialized backing store: the ZFS
// dataset for a ZvolClone-backed node, or the plain file for a FileCopy-
// backed one. Best-effort, matching Destroy's warn-and-continue policy: the
// caller decides whether to treat a failure here as fatal.
func (s *Store) DestroyNodeDisk(ctx context.Context, deployment, node string, n types.Node) error {
	if n.Backing == types.FileCopy {
		dest := filepath.Join(s.fileBackingRoot, deployment, node)
		if err := os.Remove(dest); err != nil && !os.IsNotExist(err) {
			return falconerr.New(falconerr.IO, "remove file-backed disk for "+node, err)
		}
		return nil
	}

	target := fmt.Sprintf("%s/topo/%s/%s", s.dataset, deployment, node)
	if _, _, err := s.run.Run(ctx, "zfs", "destroy", "-r", target); err != nil {
		return falconerr.New(falconerr.Hypervisor, "destroy "+target, err)
	}
	return nil
}

func (s *Store) snapshotExists(ctx context.Context, snapshot string) bool {
	_, _, err := s.run.Run(ctx, "zfs", "list", "-H", "-o", "name", snapshot)
	return err == nil
}

func (s *Store) createZvol(ctx context.Context, dataset string, size int64) error {
	if _, _, err := s.run.Run(ctx, "zfs", "create",
		"-V", fmt.Sprintf("%d", size),
		"-b", zvolBlockSz,
		dataset,
	); err != nil {
		return falconerr.New(falconerr.Hypervisor, "create base zvol "+dataset, err)
	}
	return nil
}

// decompress shells out to unxz rather than linking against a compression
// library: the corpus has no xz-format decoder, and the hypervisor images
// Falcon fetches are only ever distributed as .xz archives. unxz -k
// decompresses archivePath in place, writing the result alongside it with
// the ".xz" suffix stripped — which is exactly destPath, since destPath is
// always archivePath without its ".xz" suffix.
func (s *Store) decompress(ctx context.Context, archivePath, destPath string) error {
	if _, _, err := s.run.Run(ctx, "unxz", "-k", "-f", archivePath); err != nil {
		return falconerr.New(falconerr.HostCommand, "decompress "+archivePath, err)
	}
	if _, err := os.Stat(destPath); err != nil {
		return falconerr.New(falconerr.IO, "locate decompressed image", err)
	}
	return nil
}

// streamInto copies src into dst (a raw block device or file) using
// native io.Copy rather than shelling out to dd, so progress can be
// reported per spec.md §4.B step 4.
func (s *Store) streamInto(src, dst string, progress fetch.ProgressFunc) error {
	in, err := os.Open(src)
	if err != nil {
		return falconerr.New(falconerr.IO, "open decompressed image", err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY, 0)
	if err != nil {
		return falconerr.New(falconerr.IO, "open block device "+dst, err)
	}
	defer out.Close()

	info, err := in.Stat()
	if err != nil {
		return falconerr.New(falconerr.IO, "stat decompressed image", err)
	}

	var written int64
	buf := make([]byte, 1<<20)
	for {
		n, rerr := in.Read(buf)
		if n > 0 {
			if _, werr := out.Write(buf[:n]); werr != nil {
				return falconerr.New(falconerr.IO, "write block device "+dst, werr)
			}
			written += int64(n)
			if progress != nil {
				progress(written, info.Size())
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return falconerr.New(falconerr.IO, "read decompressed image", rerr)
		}
	}

	return nil
}

func ceilToBlock(n int64, block int64) int64 {
	if n%block == 0 {
		return n
	}
	return (n/block + 1) * block
}

func zvolDevPath(dataset string) string {
	return "/dev/zvol/rdsk/" + dataset
}
