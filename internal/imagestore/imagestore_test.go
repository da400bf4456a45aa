package imagestore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/golang/mock/gomock"

	"falcon/internal/fetch"
	"falcon/internal/shell"
	"falcon/types"
)

func TestCeilToBlockRoundsUpToBlockBoundary(t *testing.T) {
	cases := []struct{ n, want int64 }{
		{0, 0},
		{1, 4096},
		{4096, 4096},
		{4097, 8192},
	}
	for _, c := range cases {
		if got := ceilToBlock(c.n, blockSize); got != c.want {
			t.Errorf("ceilToBlock(%d) = %d, want %d", c.n, got, c.want)
		}
	}
}

func TestEnsureBaseImageSkipsWhenSnapshotExists(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	m := shell.NewMockRunner(ctrl)
	m.EXPECT().
		Run(gomock.Any(), "zfs", "list", "-H", "-o", "name", "rpool/falcon/img/helios-2.5@base").
		Return([]byte("rpool/falcon/img/helios-2.5@base\n"), []byte(nil), nil)

	s := New(m, fetch.New(), "rpool/falcon", "https://assets.example.test")
	if err := s.EnsureBaseImage(context.Background(), "helios-2.5", t.TempDir(), nil); err != nil {
		t.Fatalf("EnsureBaseImage: %v", err)
	}
}

func TestMaterializeCloneBackingSetsVolPropsAndReturnsZvolPath(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	m := shell.NewMockRunner(ctrl)
	dataset := "rpool/falcon/topo/duo/violin"
	m.EXPECT().Run(gomock.Any(), "zfs", "clone", "rpool/falcon/img/helios-2.5@base", dataset).
		Return([]byte(nil), []byte(nil), nil)
	m.EXPECT().Run(gomock.Any(), "zfs", "set", "volsize=10G", dataset).
		Return([]byte(nil), []byte(nil), nil)
	m.EXPECT().Run(gomock.Any(), "zfs", "set", "reservation=10G", dataset).
		Return([]byte(nil), []byte(nil), nil)
	m.EXPECT().Run(gomock.Any(), "zfs", "set", "sync=disabled", dataset).
		Return([]byte(nil), []byte(nil), nil)

	s := New(m, fetch.New(), "rpool/falcon", "https://assets.example.test")
	path, err := s.MaterializeNode(context.Background(), "duo", "violin", types.Node{
		Image: "helios-2.5", ReservedGB: 10, Backing: types.ZvolClone,
	})
	if err != nil {
		t.Fatalf("MaterializeNode: %v", err)
	}
	if want := "/dev/zvol/rdsk/" + dataset; path != want {
		t.Errorf("path = %q, want %q", path, want)
	}
}

func TestMaterializeFileBackingCopiesAndTruncates(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	m := shell.NewMockRunner(ctrl)
	src := "/dev/zvol/rdsk/rpool/falcon/img/helios-2.5"
	root := t.TempDir()
	dest := filepath.Join(root, "duo", "violin")
	m.EXPECT().Run(gomock.Any(), "dd", "if="+src, "of="+dest, "bs=1024M").
		Return([]byte(nil), []byte(nil), nil)
	m.EXPECT().Run(gomock.Any(), "truncate", "-s", "20G", dest).
		Return([]byte(nil), []byte(nil), nil)

	s := New(m, fetch.New(), "rpool/falcon", "https://assets.example.test").WithFileBackingRoot(root)
	path, err := s.MaterializeNode(context.Background(), "duo", "violin", types.Node{
		Image: "helios-2.5", ReservedGB: 20, Backing: types.FileCopy,
	})
	if err != nil {
		t.Fatalf("MaterializeNode: %v", err)
	}
	if path != dest {
		t.Errorf("path = %q, want %q", path, dest)
	}
}

func TestSnapshotNodeClonesPromotesAndSnapshots(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	m := shell.NewMockRunner(ctrl)
	nodeDataset := "rpool/falcon/topo/duo/violin"
	imgDataset := "rpool/falcon/img/violin-snap1"

	gomock.InOrder(
		m.EXPECT().Run(gomock.Any(), "zfs", "snapshot", nodeDataset+"@base").
			Return([]byte(nil), []byte(nil), nil),
		m.EXPECT().Run(gomock.Any(), "zfs", "clone", nodeDataset+"@base", imgDataset).
			Return([]byte(nil), []byte(nil), nil),
		m.EXPECT().Run(gomock.Any(), "zfs", "promote", imgDataset).
			Return([]byte(nil), []byte(nil), nil),
		m.EXPECT().Run(gomock.Any(), "zfs", "snapshot", imgDataset+"@base").
			Return([]byte(nil), []byte(nil), nil),
	)

	s := New(m, fetch.New(), "rpool/falcon", "https://assets.example.test")
	if err := s.SnapshotNode(context.Background(), "duo", "violin", "violin-snap1"); err != nil {
		t.Fatalf("SnapshotNode: %v", err)
	}
}

func TestStreamIntoReportsProgress(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "image.raw")
	dst := filepath.Join(dir, "device")

	content := make([]byte, 3<<20)
	for i := range content {
		content[i] = byte(i)
	}
	if err := os.WriteFile(src, content, 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(dst, make([]byte, len(content)), 0644); err != nil {
		t.Fatal(err)
	}

	s := &Store{}
	var lastRead, lastTotal int64
	if err := s.streamInto(src, dst, func(read, total int64) {
		lastRead, lastTotal = read, total
	}); err != nil {
		t.Fatalf("streamInto: %v", err)
	}

	if lastRead != int64(len(content)) || lastTotal != int64(len(content)) {
		t.Errorf("progress read=%d total=%d, want %d", lastRead, lastTotal, len(content))
	}

	got, err := os.ReadFile(dst)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != string(content) {
		t.Error("destination content mismatch")
	}
}
