package shell

import (
	"context"
	"testing"

	"github.com/golang/mock/gomock"
)

func TestMockRunnerRecordsArgv(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	m := NewMockRunner(ctrl)
	m.EXPECT().
		Run(gomock.Any(), "zfs", "list", "-H", "-o", "name", "rpool/falcon/img/helios-2.5@base").
		Return([]byte("rpool/falcon/img/helios-2.5@base\n"), []byte(nil), nil)

	stdout, _, err := m.Run(context.Background(), "zfs", "list", "-H", "-o", "name", "rpool/falcon/img/helios-2.5@base")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(stdout) != "rpool/falcon/img/helios-2.5@base\n" {
		t.Fatalf("unexpected stdout: %q", stdout)
	}
}

func TestRealRunCapturesStderrOnFailure(t *testing.T) {
	r := Real{}

	_, stderr, err := r.Run(context.Background(), "sh", "-c", "echo boom >&2; exit 1")
	if err == nil {
		t.Fatal("expected error from non-zero exit")
	}
	if string(stderr) != "boom\n" {
		t.Fatalf("unexpected stderr: %q", stderr)
	}
}
