package shell

// Code generated by mockgen-style hand authoring for Runner. Kept alongside
// the interface rather than in a mocks/ subpackage, matching how small this
// interface is.

import (
	"context"
	"reflect"

	"github.com/golang/mock/gomock"
)

// MockRunner is a gomock-compatible mock of Runner.
type MockRunner struct {
	ctrl     *gomock.Controller
	recorder *MockRunnerRecorder
}

type MockRunnerRecorder struct {
	mock *MockRunner
}

func NewMockRunner(ctrl *gomock.Controller) *MockRunner {
	m := &MockRunner{ctrl: ctrl}
	m.recorder = &MockRunnerRecorder{m}
	return m
}

func (m *MockRunner) EXPECT() *MockRunnerRecorder {
	return m.recorder
}

func (m *MockRunner) Run(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	m.ctrl.T.Helper()

	varArgs := []interface{}{ctx, name}
	for _, a := range args {
		varArgs = append(varArgs, a)
	}

	ret := m.ctrl.Call(m, "Run", varArgs...)

	stdout, _ := ret[0].([]byte)
	stderr, _ := ret[1].([]byte)
	err, _ := ret[2].(error)

	return stdout, stderr, err
}

func (mr *MockRunnerRecorder) Run(ctx, name interface{}, args ...interface{}) *gomock.Call {
	mr.mock.ctrl.T.Helper()

	varArgs := append([]interface{}{ctx, name}, args...)

	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "Run", reflect.TypeOf((*MockRunner)(nil).Run), varArgs...)
}
