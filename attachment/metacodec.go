package attachment

import (
	"fmt"

	"github.com/bobg/pigeon-optics"
)

func encodeMeta(m Meta) optics.StructuredValue {
	linkers := make([]optics.StructuredValue, len(m.Linkers))
	for i, l := range m.Linkers {
		linkers[i] = optics.String(l)
	}
	fields := map[string]optics.StructuredValue{
		"created": optics.Int(m.Created),
		"updated": optics.Int(m.Updated),
		"mime":    optics.String(m.MIME),
		"size":    optics.Int(m.Size),
		"linkers": optics.Seq(linkers...),
	}
	order := []string{"created", "updated", "mime", "size", "linkers"}
	return optics.Map(fields, order)
}

func decodeMeta(v optics.StructuredValue) (Meta, error) {
	if v.Kind != optics.KindMap {
		return Meta{}, fmt.Errorf("%w: attachment meta: expected a map", optics.ErrCodec)
	}
	var m Meta
	if f, ok := v.Get("created"); ok {
		m.Created = f.Int
	}
	if f, ok := v.Get("updated"); ok {
		m.Updated = f.Int
	}
	if f, ok := v.Get("mime"); ok {
		m.MIME = f.Str
	}
	if f, ok := v.Get("size"); ok {
		m.Size = f.Int
	}
	if f, ok := v.Get("linkers"); ok && f.Kind == optics.KindSeq {
		m.Linkers = make([]string, len(f.Seq))
		for i, e := range f.Seq {
			m.Linkers[i] = e.Str
		}
	}
	return m, nil
}
