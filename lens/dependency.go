package lens

import (
	"context"
	"fmt"

	"github.com/bobg/pigeon-optics"
	"github.com/bobg/pigeon-optics/objhash"
)

// dependencyReader implements optics.DependencyReader for one build pass,
// restricting reads to the lens's declared inputs and dependencies
// (spec.md §4.10's sandbox contract).
type dependencyReader struct {
	engine  *Engine
	allowed []string
}

func (d *dependencyReader) ReadDependency(ctx context.Context, datasetPath, recordID string) (optics.StructuredValue, bool, error) {
	if !containsString(d.allowed, datasetPath) {
		return optics.StructuredValue{}, false, fmt.Errorf("lens: %q is not a declared input or dependency", datasetPath)
	}
	source, u, n, _, err := objhash.SplitPath(datasetPath)
	if err != nil {
		return optics.StructuredValue{}, false, err
	}
	store := d.engine.storeFor(source)
	if store == nil {
		return optics.StructuredValue{}, false, fmt.Errorf("lens: unsupported dependency source %q", source)
	}
	return store.Read(ctx, u, n, recordID)
}
