// Package falconerr defines the error-kind taxonomy shared by every Falcon
// component, so callers can test `errors.As`/`Is` and the `Kind` field against a stable set
// of categories instead of matching on message text.
package falconerr

import "fmt"

// Kind categorizes a Falcon error. It does not replace the underlying error
// (Err), it just says which bucket of spec.md §7 the failure belongs to.
type Kind int

const (
	Unknown Kind = iota
	Config
	NotFound
	HostCommand
	Datalink
	IO
	Hypervisor
	Exec
	Parse
)

func (k Kind) String() string {
	switch k {
	case Config:
		return "config"
	case NotFound:
		return "not-found"
	case HostCommand:
		return "host-command"
	case Datalink:
		return "datalink"
	case IO:
		return "io"
	case Hypervisor:
		return "hypervisor"
	case Exec:
		return "exec"
	case Parse:
		return "parse"
	default:
		return "unknown"
	}
}

// Error wraps an underlying cause with a Kind and the operation that was
// being attempted when it occurred.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.Op)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New constructs an *Error for the given kind/op/cause. cause may be nil.
func New(kind Kind, op string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Err: cause}
}

// Is reports whether err (or something it wraps) is a Falcon *Error of the
// given Kind.
func Is(err error, kind Kind) bool {
	for err != nil {
		if fe, ok := err.(*Error); ok && fe.Kind == kind {
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
