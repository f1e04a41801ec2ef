package executor

import "sync"

// cappedBuffer collects up to MaxCaptureBytes of a stream and records
// whether more bytes were produced than captured, matching the teacher's
// io.LimitReader(resp.Body, 10<<20) pattern (task_executor.go, plugins.go)
// but shared by all three executor kinds instead of being reimplemented
// per kind, and usable as an io.Writer for the shell executor's live
// process output as well as the io.Copy destination for HTTP response
// bodies.
type cappedBuffer struct {
	mu        sync.Mutex
	buf       []byte
	truncated bool
	limit     int
}

func newCappedBuffer(limit int) *cappedBuffer {
	return &cappedBuffer{limit: limit}
}

// Write implements io.Writer, discarding bytes past the cap and setting
// truncated instead of erroring — callers (os/exec's Cmd.Stdout/Stderr)
// must never see a write error from a full buffer.
func (c *cappedBuffer) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := len(p)
	if len(c.buf) >= c.limit {
		c.truncated = true
		return n, nil
	}
	room := c.limit - len(c.buf)
	if len(p) > room {
		c.buf = append(c.buf, p[:room]...)
		c.truncated = true
	} else {
		c.buf = append(c.buf, p...)
	}
	return n, nil
}

func (c *cappedBuffer) String() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return string(c.buf)
}

func (c *cappedBuffer) Truncated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.truncated
}
