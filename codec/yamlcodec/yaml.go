// Package yamlcodec implements the YAML codec of spec.md §4.1 on
// gopkg.in/yaml.v3, grounded on its use in both bureau-foundation-bureau
// and maruel-mddb's go.mod. YAML is not canonical; it follows yaml.v3's
// native conventions (binary scalars tagged !!binary, RFC 3339 timestamps).
package yamlcodec

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/bobg/pigeon-optics"
	"github.com/bobg/pigeon-optics/codec"
	"github.com/bobg/pigeon-optics/codec/wire"
)

type codecImpl struct{}

// Codec is the YAML codec instance, registered under name "yaml".
var Codec codec.Codec = codecImpl{}

func init() {
	codec.Register("yaml", Codec)
}

func (codecImpl) MediaTypes() []string {
	return []string{"application/yaml", "application/x-yaml", "text/yaml"}
}
func (codecImpl) Extensions() []string { return []string{"yaml", "yml"} }
func (codecImpl) Canonical() bool      { return false }

func (codecImpl) Encode(v optics.StructuredValue) ([]byte, error) {
	w, err := wire.ToAny(v, wire.PassthroughBytes{})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", optics.ErrCodec, err)
	}
	b, err := yaml.Marshal(w)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", optics.ErrCodec, err)
	}
	return b, nil
}

func (codecImpl) Decode(data []byte) (optics.StructuredValue, error) {
	var w interface{}
	if err := yaml.Unmarshal(data, &w); err != nil {
		return optics.StructuredValue{}, fmt.Errorf("%w: %v", optics.ErrCodec, err)
	}
	sv, err := wire.FromAny(normalizeYAML(w), wire.PassthroughBytes{})
	if err != nil {
		return optics.StructuredValue{}, fmt.Errorf("%w: %v", optics.ErrCodec, err)
	}
	return sv, nil
}

// normalizeYAML converts the map[string]interface{} yaml.v3 produces for
// mappings with non-string-typed-but-string-valued keys (it always uses
// map[string]interface{} for %TAG-less mappings, but nested sequences of
// such maps need the same treatment recursively) so wire.FromAny's type
// switch sees the shapes it expects.
func normalizeYAML(w interface{}) interface{} {
	switch x := w.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(x))
		for k, v := range x {
			out[k] = normalizeYAML(v)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(x))
		for i, v := range x {
			out[i] = normalizeYAML(v)
		}
		return out
	default:
		return w
	}
}
