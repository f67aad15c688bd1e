package optics

import "context"

// AuthContext identifies the owner of a request. The core never validates
// credentials itself; it is handed an already-authenticated identity by the
// external HTTP layer (spec.md §1).
type AuthContext interface {
	// User is the dataset-owning username this request is acting as.
	User() string
}

// Clock supplies timestamps. Production code uses a Clock backed by
// time.Now; tests use a fixed or steppable Clock so DatasetMeta.Created /
// Updated are deterministic.
type Clock interface {
	Now() (unixMillis int64)
}

// MapEntry is one [outputID, outputValue] pair emitted by a lens map
// function for a single input record (spec.md §4.10).
type MapEntry struct {
	ID    string
	Value StructuredValue
}

// Sandbox evaluates a user-supplied map function against one input record.
// The core treats the sandbox as opaque: it assumes function invocations
// are isolated and resource-limited, and that runtime faults come back as
// an error satisfying the shape of SandboxError (spec.md §4.10's sandbox
// contract). DependencyReader lets the map function read declared
// dependency datasets by record ID during the call.
type Sandbox interface {
	Run(ctx context.Context, mapFunctionSource string, recordID string, value StructuredValue, deps DependencyReader) (entries []MapEntry, logs []string, err error)
}

// DependencyReader lets a running lens map function read a record from one
// of its declared dependency datasets, read-only.
type DependencyReader interface {
	ReadDependency(ctx context.Context, datasetPath, recordID string) (StructuredValue, bool, error)
}
