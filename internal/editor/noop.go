package editor

import (
	"drift/internal/checksum"
	"drift/internal/delta"
)

// Noop returns a consumer that accepts any well-formed edit and discards it.
// Window streams are drained through the codec's validating no-op sink, so
// malformed framing still surfaces as a decode error. Wrap with Guard when
// grammar enforcement is wanted.
func Noop() TreeEditor {
	return noopSession{}
}

type noopSession struct{}

func (noopSession) SetTargetRevision(Revision) error     { return nil }
func (noopSession) OpenRoot(Revision) (DirEditor, error) { return noopDir{}, nil }
func (noopSession) Close() error                         { return nil }
func (noopSession) Abort() error                         { return nil }

type noopDir struct{}

func (noopDir) DeleteEntry(string, Revision) error          { return nil }
func (noopDir) AddDir(string, *CopySource) (DirEditor, error) { return noopDir{}, nil }
func (noopDir) OpenDir(string, Revision) (DirEditor, error) { return noopDir{}, nil }
func (noopDir) AddFile(string, *CopySource) (FileEditor, error) {
	return noopFile{}, nil
}
func (noopDir) OpenFile(string, Revision) (FileEditor, error) { return noopFile{}, nil }
func (noopDir) AbsentDir(string) error                        { return nil }
func (noopDir) AbsentFile(string) error                       { return nil }
func (noopDir) ChangeProp(string, []byte) error               { return nil }
func (noopDir) Close() error                                  { return nil }

type noopFile struct{}

func (noopFile) ApplyTextDelta(checksum.Checksum) (delta.WindowSink, error) {
	return delta.NopSink(), nil
}
func (noopFile) ChangeProp(string, []byte) error { return nil }
func (noopFile) Close(checksum.Checksum) error   { return nil }
