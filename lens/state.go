package lens

import (
	"github.com/bobg/pigeon-optics"
)

// Reserved DatasetMeta.Config keys a lens stores its own bookkeeping
// under (spec.md §3's "LensMeta extends DatasetMeta"; this module has no
// structural extension, so the lens-specific fields live in the open
// Config map under a reserved prefix instead — see DESIGN.md). Caller
// config (e.g. a "memo" field) must avoid this prefix.
const (
	keyCode         = "lens.code"
	keyInputs       = "lens.inputs"
	keyDependencies = "lens.dependencies"
	keyVersions     = "lens.versions"     // inputPath -> lastProcessedVersion
	keySnapshots    = "lens.snapshots"    // inputPath -> (recordID -> hash hex)
	keyProduces     = "lens.produces"     // "inputPath|recordID" -> [outputID...]
	keyReverseIndex = "lens.reverseIndex" // outputID -> ["inputPath|recordID"...]
)

// state is the in-memory form of a lens's bookkeeping, decoded from and
// re-encoded into a DatasetMeta.Config map on every build.
type state struct {
	Code         string
	Inputs       []string
	Dependencies []string
	Versions     map[string]uint64
	Snapshots    map[string]map[string]optics.Hash
	Produces     map[string][]string
	ReverseIndex map[string][]string
}

func newState(code string, inputs, dependencies []string) state {
	return state{
		Code:         code,
		Inputs:       inputs,
		Dependencies: dependencies,
		Versions:     map[string]uint64{},
		Snapshots:    map[string]map[string]optics.Hash{},
		Produces:     map[string][]string{},
		ReverseIndex: map[string][]string{},
	}
}

func encodeStringSeq(ss []string) optics.StructuredValue {
	seq := make([]optics.StructuredValue, len(ss))
	for i, s := range ss {
		seq[i] = optics.String(s)
	}
	return optics.Seq(seq...)
}

func decodeStringSeq(v optics.StructuredValue) []string {
	if v.Kind != optics.KindSeq {
		return nil
	}
	out := make([]string, len(v.Seq))
	for i, e := range v.Seq {
		out[i] = e.Str
	}
	return out
}

func encodeUint64Map(m map[string]uint64) optics.StructuredValue {
	fields := make(map[string]optics.StructuredValue, len(m))
	var order []string
	for k, v := range m {
		fields[k] = optics.Int(int64(v))
		order = append(order, k)
	}
	return optics.Map(fields, order)
}

func decodeUint64Map(v optics.StructuredValue) map[string]uint64 {
	out := map[string]uint64{}
	if v.Kind != optics.KindMap {
		return out
	}
	for k, e := range v.Map {
		out[k] = uint64(e.Int)
	}
	return out
}

func encodeStringSliceMap(m map[string][]string) optics.StructuredValue {
	fields := make(map[string]optics.StructuredValue, len(m))
	var order []string
	for k, v := range m {
		fields[k] = encodeStringSeq(v)
		order = append(order, k)
	}
	return optics.Map(fields, order)
}

func decodeStringSliceMap(v optics.StructuredValue) map[string][]string {
	out := map[string][]string{}
	if v.Kind != optics.KindMap {
		return out
	}
	for k, e := range v.Map {
		out[k] = decodeStringSeq(e)
	}
	return out
}

func encodeSnapshots(m map[string]map[string]optics.Hash) optics.StructuredValue {
	fields := make(map[string]optics.StructuredValue, len(m))
	var order []string
	for inputPath, byRecord := range m {
		inner := make(map[string]optics.StructuredValue, len(byRecord))
		var innerOrder []string
		for id, h := range byRecord {
			inner[id] = optics.String(h.String())
			innerOrder = append(innerOrder, id)
		}
		fields[inputPath] = optics.Map(inner, innerOrder)
		order = append(order, inputPath)
	}
	return optics.Map(fields, order)
}

func decodeSnapshots(v optics.StructuredValue) map[string]map[string]optics.Hash {
	out := map[string]map[string]optics.Hash{}
	if v.Kind != optics.KindMap {
		return out
	}
	for inputPath, inner := range v.Map {
		byRecord := map[string]optics.Hash{}
		if inner.Kind == optics.KindMap {
			for id, hv := range inner.Map {
				h, err := optics.HashFromHex(hv.Str)
				if err == nil {
					byRecord[id] = h
				}
			}
		}
		out[inputPath] = byRecord
	}
	return out
}

// decodeState reads a lens's bookkeeping out of a DatasetMeta.Config map.
// A missing key decodes to its zero value, which is what a freshly
// Created lens (with no build yet) looks like.
func decodeState(config map[string]optics.StructuredValue) state {
	s := newState("", nil, nil)
	if v, ok := config[keyCode]; ok {
		s.Code = v.Str
	}
	if v, ok := config[keyInputs]; ok {
		s.Inputs = decodeStringSeq(v)
	}
	if v, ok := config[keyDependencies]; ok {
		s.Dependencies = decodeStringSeq(v)
	}
	if v, ok := config[keyVersions]; ok {
		s.Versions = decodeUint64Map(v)
	}
	if v, ok := config[keySnapshots]; ok {
		s.Snapshots = decodeSnapshots(v)
	}
	if v, ok := config[keyProduces]; ok {
		s.Produces = decodeStringSliceMap(v)
	}
	if v, ok := config[keyReverseIndex]; ok {
		s.ReverseIndex = decodeStringSliceMap(v)
	}
	return s
}

// encodeInto writes s's reserved keys into config, leaving every other
// (user-supplied) key untouched.
func (s state) encodeInto(config map[string]optics.StructuredValue) {
	config[keyCode] = optics.String(s.Code)
	config[keyInputs] = encodeStringSeq(s.Inputs)
	config[keyDependencies] = encodeStringSeq(s.Dependencies)
	config[keyVersions] = encodeUint64Map(s.Versions)
	config[keySnapshots] = encodeSnapshots(s.Snapshots)
	config[keyProduces] = encodeStringSliceMap(s.Produces)
	config[keyReverseIndex] = encodeStringSliceMap(s.ReverseIndex)
}
