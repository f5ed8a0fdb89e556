// Package editor defines the tree-edit protocol: a push-style, depth-first
// sequence of operations a driver issues against a consumer to transform one
// tree snapshot into another. Consumers implement the three capability
// interfaces below against their own backing store; drivers depend only on
// the interfaces.
//
// The legal call grammar, per scope:
//
//	Session   ::= SetTargetRevision? OpenRoot Directory Close
//	Directory ::= (DeleteEntry | AddDir Directory | OpenDir Directory
//	               | AbsentDir | AddFile File | OpenFile File
//	               | AbsentFile | ChangeProp)* Close
//	File      ::= ApplyTextDelta? ChangeProp* Close
//
// Sibling scopes never interleave: a child scope runs its whole lifecycle
// before the parent opens the next one. Abort is legal from any non-terminal
// state and voids the session. Guard wraps any consumer with structural
// enforcement of all of the above.
package editor

import (
	"fmt"

	"drift/internal/checksum"
	"drift/internal/delta"
)

// Revision is an opaque, totally-ordered tree version marker. None means "no
// prior version", as used during a full import.
type Revision int64

const None Revision = -1

func (r Revision) IsNone() bool {
	return r < 0
}

func (r Revision) String() string {
	if r.IsNone() {
		return "none"
	}
	return fmt.Sprintf("r%d", int64(r))
}

// CopySource makes an added node start as a copy of an existing node rather
// than empty.
type CopySource struct {
	Path string
	Rev  Revision
}

// TreeEditor is the top-level consumer contract for one edit. Close succeeds
// only once everything under the root has closed; Abort voids the edit and
// the consumer must never present the result as complete.
type TreeEditor interface {
	// SetTargetRevision is optional and informational; when used it must
	// precede OpenRoot.
	SetTargetRevision(rev Revision) error

	// OpenRoot opens the root directory scope exactly once. base identifies
	// the prior version being edited (None for a full import).
	OpenRoot(base Revision) (DirEditor, error)

	Close() error
	Abort() error
}

// DirEditor is the per-directory consumer contract. All paths are relative
// to this directory and valid only within this scope. Within one scope a
// child path is introduced at most once, by exactly one of add or open;
// deleting then adding the same path is a replacement and is allowed.
type DirEditor interface {
	// DeleteEntry removes an existing child. rev, when not None, is an
	// optimistic-concurrency check against the child's last-known revision.
	DeleteEntry(path string, rev Revision) error

	AddDir(path string, copy *CopySource) (DirEditor, error)
	OpenDir(path string, base Revision) (DirEditor, error)

	AddFile(path string, copy *CopySource) (FileEditor, error)
	OpenFile(path string, base Revision) (FileEditor, error)

	// AbsentDir and AbsentFile declare a child known to exist but
	// intentionally omitted from this edit (for example access-restricted).
	// Distinct from deletion; consumers must not report it as data loss.
	AbsentDir(path string) error
	AbsentFile(path string) error

	// ChangeProp sets a named property on this directory; a nil value
	// removes it. Callable any number of times before Close.
	ChangeProp(name string, value []byte) error

	Close() error
}

// FileEditor is the per-file consumer contract. At most one ApplyTextDelta
// call is permitted; the returned sink must be finished before Close.
type FileEditor interface {
	// ApplyTextDelta requests a content change. base, when set, must match
	// the file's current content before any window applies.
	ApplyTextDelta(base checksum.Checksum) (delta.WindowSink, error)

	// ChangeProp is as for directories, independent of content changes.
	ChangeProp(name string, value []byte) error

	// Close finalizes the file; final, when set, must match the fully
	// applied content.
	Close(final checksum.Checksum) error
}
