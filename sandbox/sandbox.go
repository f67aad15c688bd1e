// Package sandbox provides a trivial optics.Sandbox implementation for
// local testing and the cmd/pgo CLI. Pigeon Optics treats the sandbox as
// an opaque, externally-supplied collaborator (spec.md §4.10's sandbox
// contract); no sandboxing/scripting library appears anywhere in the
// retrieval pack (see DESIGN.md), so this package does not attempt to
// interpret real user-supplied code. Identity instead runs a single
// built-in transform chosen by name, which is enough to exercise and test
// the lens engine end to end.
package sandbox

import (
	"context"
	"fmt"

	"github.com/bobg/pigeon-optics"
)

// Identity is a Sandbox whose "mapFunctionSource" is interpreted as the
// name of a registered builtin transform rather than executable code.
type Identity struct {
	builtins map[string]func(recordID string, value optics.StructuredValue) ([]optics.MapEntry, error)
}

// New returns an Identity sandbox with the standard builtins registered:
// "identity" (re-emit the input record unchanged under its own ID) and
// "drop" (emit nothing, for testing deletion-on-disappear).
func New() *Identity {
	s := &Identity{builtins: map[string]func(string, optics.StructuredValue) ([]optics.MapEntry, error){}}
	s.Register("identity", func(recordID string, value optics.StructuredValue) ([]optics.MapEntry, error) {
		return []optics.MapEntry{{ID: recordID, Value: value}}, nil
	})
	s.Register("drop", func(string, optics.StructuredValue) ([]optics.MapEntry, error) {
		return nil, nil
	})
	return s
}

// Register adds or replaces a named builtin.
func (s *Identity) Register(name string, fn func(recordID string, value optics.StructuredValue) ([]optics.MapEntry, error)) {
	s.builtins[name] = fn
}

// Run implements optics.Sandbox.
func (s *Identity) Run(ctx context.Context, mapFunctionSource, recordID string, value optics.StructuredValue, deps optics.DependencyReader) ([]optics.MapEntry, []string, error) {
	fn, ok := s.builtins[mapFunctionSource]
	if !ok {
		return nil, nil, &optics.SandboxError{
			Input:   recordID,
			Message: fmt.Sprintf("unknown builtin transform %q", mapFunctionSource),
		}
	}
	entries, err := fn(recordID, value)
	if err != nil {
		return nil, nil, &optics.SandboxError{Input: recordID, Message: err.Error()}
	}
	return entries, nil, nil
}
