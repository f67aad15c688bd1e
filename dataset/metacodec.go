package dataset

import (
	"fmt"
	"sort"

	"github.com/bobg/pigeon-optics"
)

// encodeMeta renders a DatasetMeta as the StructuredValue stored under
// <source>/<user>/<name>/meta.cbor (spec.md §6.2).
func encodeMeta(m DatasetMeta) optics.StructuredValue {
	fields := map[string]optics.StructuredValue{
		"version": optics.Int(int64(m.Version)),
		"created": optics.Int(m.Created),
		"updated": optics.Int(m.Updated),
		"config":  encodeConfig(m.Config),
		"records": encodeRecords(m.Records),
	}
	order := []string{"version", "created", "updated", "config", "records"}
	return optics.Map(fields, order)
}

func encodeConfig(c map[string]optics.StructuredValue) optics.StructuredValue {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return optics.Map(c, keys)
}

func encodeRecords(recs map[string]RecordMeta) optics.StructuredValue {
	ids := make([]string, 0, len(recs))
	for id := range recs {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make(map[string]optics.StructuredValue, len(recs))
	for _, id := range ids {
		out[id] = encodeRecord(recs[id])
	}
	return optics.Map(out, ids)
}

func encodeRecord(r RecordMeta) optics.StructuredValue {
	links := make([]optics.StructuredValue, len(r.Links))
	for i, l := range r.Links {
		links[i] = optics.HashURLValue(l)
	}
	fields := map[string]optics.StructuredValue{
		"hash":    optics.String(r.Hash.String()),
		"links":   optics.Seq(links...),
		"version": optics.Int(int64(r.Version)),
	}
	return optics.Map(fields, []string{"hash", "links", "version"})
}

// decodeMeta is the inverse of encodeMeta.
func decodeMeta(v optics.StructuredValue) (DatasetMeta, error) {
	if v.Kind != optics.KindMap {
		return DatasetMeta{}, fmt.Errorf("%w: dataset meta: expected a map", optics.ErrCodec)
	}

	m := DatasetMeta{Config: map[string]optics.StructuredValue{}, Records: map[string]RecordMeta{}}

	if f, ok := v.Get("version"); ok {
		m.Version = uint64(f.Int)
	}
	if f, ok := v.Get("created"); ok {
		m.Created = f.Int
	}
	if f, ok := v.Get("updated"); ok {
		m.Updated = f.Int
	}
	if f, ok := v.Get("config"); ok && f.Kind == optics.KindMap {
		for k, cv := range f.Map {
			m.Config[k] = cv
		}
	}
	if f, ok := v.Get("records"); ok && f.Kind == optics.KindMap {
		for id, rv := range f.Map {
			r, err := decodeRecord(rv)
			if err != nil {
				return DatasetMeta{}, fmt.Errorf("record %q: %w", id, err)
			}
			m.Records[id] = r
		}
	}
	return m, nil
}

func decodeRecord(v optics.StructuredValue) (RecordMeta, error) {
	if v.Kind != optics.KindMap {
		return RecordMeta{}, fmt.Errorf("%w: record meta: expected a map", optics.ErrCodec)
	}
	var r RecordMeta

	hv, ok := v.Get("hash")
	if !ok || hv.Kind != optics.KindString {
		return RecordMeta{}, fmt.Errorf("%w: record meta: missing hash", optics.ErrCodec)
	}
	h, err := optics.HashFromHex(hv.Str)
	if err != nil {
		return RecordMeta{}, fmt.Errorf("%w: record meta: %v", optics.ErrCodec, err)
	}
	r.Hash = h

	if lv, ok := v.Get("links"); ok && lv.Kind == optics.KindSeq {
		r.Links = make([]optics.HashURL, len(lv.Seq))
		for i, e := range lv.Seq {
			if e.Kind != optics.KindHashURL {
				return RecordMeta{}, fmt.Errorf("%w: record meta: link %d is not a hash url", optics.ErrCodec, i)
			}
			r.Links[i] = e.HashURL
		}
	}
	if vv, ok := v.Get("version"); ok {
		r.Version = uint64(vv.Int)
	}
	return r, nil
}
