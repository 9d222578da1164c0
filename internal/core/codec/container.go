package codec

// ByteContainer is a read cursor over an encoded byte slice.
type ByteContainer struct {
	data []byte
	pos  int
}

// NewByteContainer creates a container reading data from the start.
func NewByteContainer(data []byte) *ByteContainer {
	return &ByteContainer{data: data}
}

// Position returns the read offset.
func (c *ByteContainer) Position() int {
	return c.pos
}

// Len returns the total length of the underlying slice.
func (c *ByteContainer) Len() int {
	return len(c.data)
}

// Remaining returns the number of unread bytes.
func (c *ByteContainer) Remaining() int {
	return len(c.data) - c.pos
}

// Exhausted reports whether every byte has been consumed.
func (c *ByteContainer) Exhausted() bool {
	return c.pos >= len(c.data)
}

// Unread returns the unread bytes without consuming them.
func (c *ByteContainer) Unread() []byte {
	return c.data[c.pos:]
}

// Next consumes n bytes. It returns false, consuming nothing, when fewer than n
// bytes remain.
func (c *ByteContainer) Next(n int) ([]byte, bool) {
	if n < 0 || c.Remaining() < n {
		return nil, false
	}
	b := c.data[c.pos : c.pos+n]
	c.pos += n
	return b, true
}

// Skip advances the cursor by n bytes.
func (c *ByteContainer) Skip(n int) bool {
	_, ok := c.Next(n)
	return ok
}

// Sub consumes n bytes and returns them as an independent container.
func (c *ByteContainer) Sub(n int) (*ByteContainer, bool) {
	b, ok := c.Next(n)
	if !ok {
		return nil, false
	}
	return NewByteContainer(b), true
}

// Rewind moves the cursor back to pos, a value previously returned by Position.
func (c *ByteContainer) Rewind(pos int) {
	if pos >= 0 && pos <= c.pos {
		c.pos = pos
	}
}
