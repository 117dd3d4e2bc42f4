// Package codec centralizes the encoding of record metadata inside snapshots.
//
// Codec selection is a compatibility boundary: snapshots store the codec name
// in their header, and a snapshot written with one codec must be opened with
// the same one. ByName resolves the header name back to a codec on load.
package codec

// Codec encodes/decodes values.
// Implementations must be safe for concurrent use.
type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
	Name() string
}

// ByName returns a built-in codec by its stable name.
//
// Snapshot headers record the codec name so that files remain
// self-describing across codec default changes.
func ByName(name string) (Codec, bool) {
	switch name {
	case "json":
		return JSON{}, true
	case "go-json":
		return GoJSON{}, true
	default:
		return nil, false
	}
}

// Default is the codec used when none is configured.
//
// This affects newly written snapshots only; existing files are opened with
// the codec named in their header.
var Default Codec = GoJSON{}
