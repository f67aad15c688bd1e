package wire

import "time"

// asTime reports whether w is a time.Time (or *time.Time, as some YAML
// decoders produce), per library.
func asTime(w interface{}) (time.Time, bool) {
	switch t := w.(type) {
	case time.Time:
		return t, true
	case *time.Time:
		if t == nil {
			return time.Time{}, false
		}
		return *t, true
	default:
		return time.Time{}, false
	}
}
