package drive

import "time"

// Operation is the kind of drive change.
type Operation int

const (
	// OpCreate indicates a new file appeared.
	OpCreate Operation = iota
	// OpModify indicates an existing file changed.
	OpModify
	// OpDelete indicates a file is gone.
	OpDelete
	// OpRename indicates a file moved; OldPath carries the previous path.
	OpRename
)

// String returns a human-readable representation of the operation.
func (op Operation) String() string {
	switch op {
	case OpCreate:
		return "FILE_CREATED"
	case OpModify:
		return "FILE_MODIFIED"
	case OpDelete:
		return "FILE_DELETED"
	case OpRename:
		return "FILE_RENAMED"
	default:
		return "UNKNOWN"
	}
}

// Event is one drive change, paths drive-relative.
type Event struct {
	// Path is the drive-relative path of the file.
	Path string

	// OldPath is the previous path for rename events, empty otherwise.
	OldPath string

	// Operation is the kind of change.
	Operation Operation

	// Timestamp is when the change was detected.
	Timestamp time.Time
}
