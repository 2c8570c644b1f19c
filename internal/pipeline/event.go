// internal/pipeline/event.go
package pipeline

// Kind classifies a FileChangeEvent once, when it is created.
type Kind int

const (
	// KindContent carries a payload to create or overwrite the asset.
	KindContent Kind = iota
	// KindDeletion has no payload; the asset is removed.
	KindDeletion
	// KindUnsupported is a payload the pipeline cannot buffer, such as a pipe or device.
	KindUnsupported
)

// Kinds lists every Kind in display order.
var Kinds = []Kind{KindUnsupported, KindContent, KindDeletion}

func (k Kind) String() string {
	switch k {
	case KindContent:
		return "content"
	case KindDeletion:
		return "deletion"
	case KindUnsupported:
		return "unsupported"
	default:
		return "invalid"
	}
}

// Event is one file change flowing through the pipeline. It is never modified after creation.
type Event struct {
	Path    string
	Kind    Kind
	payload []byte
}

// ContentEvent is a create or update of path. payload is copied.
func ContentEvent(path string, payload []byte) Event {
	p := make([]byte, len(payload))
	copy(p, payload)
	return Event{Path: path, Kind: KindContent, payload: p}
}

func DeletionEvent(path string) Event {
	return Event{Path: path, Kind: KindDeletion}
}

func UnsupportedEvent(path string) Event {
	return Event{Path: path, Kind: KindUnsupported}
}

// Payload returns the content bytes; nil unless Kind is KindContent.
// Callers must not modify the returned slice.
func (e Event) Payload() []byte {
	return e.payload
}
