package editor

import (
	"context"

	"drift/internal/checksum"
	"drift/internal/delta"
	"drift/internal/errors"
)

// WithCancel wraps a consumer so the context is polled before every call.
// Once ctx is done each call fails with a backing-store error carrying
// ctx.Err(); the driver's correct response is to abort the session.
// Cancellation never interrupts an in-flight call.
func WithCancel(ctx context.Context, inner TreeEditor) TreeEditor {
	return &cancelSession{ctx: ctx, inner: inner}
}

func poll(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return errors.BackingStore("edit cancelled", ctx.Err())
	default:
		return nil
	}
}

type cancelSession struct {
	ctx   context.Context
	inner TreeEditor
}

func (c *cancelSession) SetTargetRevision(rev Revision) error {
	if err := poll(c.ctx); err != nil {
		return err
	}
	return c.inner.SetTargetRevision(rev)
}

func (c *cancelSession) OpenRoot(base Revision) (DirEditor, error) {
	if err := poll(c.ctx); err != nil {
		return nil, err
	}
	dir, err := c.inner.OpenRoot(base)
	if err != nil {
		return nil, err
	}
	return &cancelDir{ctx: c.ctx, inner: dir}, nil
}

func (c *cancelSession) Close() error {
	if err := poll(c.ctx); err != nil {
		return err
	}
	return c.inner.Close()
}

// Abort is never blocked by cancellation; it is how a cancelled edit ends.
func (c *cancelSession) Abort() error {
	return c.inner.Abort()
}

type cancelDir struct {
	ctx   context.Context
	inner DirEditor
}

func (c *cancelDir) DeleteEntry(path string, rev Revision) error {
	if err := poll(c.ctx); err != nil {
		return err
	}
	return c.inner.DeleteEntry(path, rev)
}

func (c *cancelDir) AddDir(path string, copy *CopySource) (DirEditor, error) {
	if err := poll(c.ctx); err != nil {
		return nil, err
	}
	dir, err := c.inner.AddDir(path, copy)
	if err != nil {
		return nil, err
	}
	return &cancelDir{ctx: c.ctx, inner: dir}, nil
}

func (c *cancelDir) OpenDir(path string, base Revision) (DirEditor, error) {
	if err := poll(c.ctx); err != nil {
		return nil, err
	}
	dir, err := c.inner.OpenDir(path, base)
	if err != nil {
		return nil, err
	}
	return &cancelDir{ctx: c.ctx, inner: dir}, nil
}

func (c *cancelDir) AddFile(path string, copy *CopySource) (FileEditor, error) {
	if err := poll(c.ctx); err != nil {
		return nil, err
	}
	file, err := c.inner.AddFile(path, copy)
	if err != nil {
		return nil, err
	}
	return &cancelFile{ctx: c.ctx, inner: file}, nil
}

func (c *cancelDir) OpenFile(path string, base Revision) (FileEditor, error) {
	if err := poll(c.ctx); err != nil {
		return nil, err
	}
	file, err := c.inner.OpenFile(path, base)
	if err != nil {
		return nil, err
	}
	return &cancelFile{ctx: c.ctx, inner: file}, nil
}

func (c *cancelDir) AbsentDir(path string) error {
	if err := poll(c.ctx); err != nil {
		return err
	}
	return c.inner.AbsentDir(path)
}

func (c *cancelDir) AbsentFile(path string) error {
	if err := poll(c.ctx); err != nil {
		return err
	}
	return c.inner.AbsentFile(path)
}

func (c *cancelDir) ChangeProp(name string, value []byte) error {
	if err := poll(c.ctx); err != nil {
		return err
	}
	return c.inner.ChangeProp(name, value)
}

func (c *cancelDir) Close() error {
	if err := poll(c.ctx); err != nil {
		return err
	}
	return c.inner.Close()
}

type cancelFile struct {
	ctx   context.Context
	inner FileEditor
}

func (c *cancelFile) ApplyTextDelta(base checksum.Checksum) (delta.WindowSink, error) {
	if err := poll(c.ctx); err != nil {
		return nil, err
	}
	sink, err := c.inner.ApplyTextDelta(base)
	if err != nil {
		return nil, err
	}
	return &cancelSink{ctx: c.ctx, inner: sink}, nil
}

func (c *cancelFile) ChangeProp(name string, value []byte) error {
	if err := poll(c.ctx); err != nil {
		return err
	}
	return c.inner.ChangeProp(name, value)
}

func (c *cancelFile) Close(final checksum.Checksum) error {
	if err := poll(c.ctx); err != nil {
		return err
	}
	return c.inner.Close(final)
}

type cancelSink struct {
	ctx   context.Context
	inner delta.WindowSink
}

func (c *cancelSink) Window(w *delta.Window) error {
	if err := poll(c.ctx); err != nil {
		return err
	}
	return c.inner.Window(w)
}

func (c *cancelSink) Finish() error {
	if err := poll(c.ctx); err != nil {
		return err
	}
	return c.inner.Finish()
}
