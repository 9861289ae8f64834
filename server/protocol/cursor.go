package protocol

// lineStatus is the outcome of scanning for one CRLF-terminated line.
type lineStatus int

const (
	lineOK   lineStatus = iota // a complete line is available
	lineOpen                   // terminator not buffered yet, wait for more bytes
	lineBad                    // malformed terminator sequence
)

// cursor walks the filled region of the receive buffer one line at a time.
// pos is the next unchecked byte, mark the start of the line currently
// being assembled; 0 <= mark <= pos <= len(buf) always holds, so a slice
// taken through the cursor can never run past the filled region.
type cursor struct {
	buf  []byte
	pos  int
	mark int
}

// next scans forward from pos for "\r\n" and returns the line without its
// terminator. A lone CR at the end of the data is lineOpen (the LF may
// still arrive); a CR followed by anything else, or a bare LF, is lineBad.
func (c *cursor) next() ([]byte, lineStatus) {
	for ; c.pos < len(c.buf); c.pos++ {
		switch c.buf[c.pos] {
		case '\r':
			if c.pos+1 == len(c.buf) {
				return nil, lineOpen
			}
			if c.buf[c.pos+1] != '\n' {
				return nil, lineBad
			}
			line := c.buf[c.mark:c.pos]
			c.pos += 2
			c.mark = c.pos
			return line, lineOK
		case '\n':
			// a legal LF is consumed together with its CR above
			return nil, lineBad
		}
	}
	return nil, lineOpen
}

// have reports whether at least n unchecked bytes are buffered.
func (c *cursor) have(n int) bool {
	return len(c.buf)-c.pos >= n
}

// take consumes the next n bytes as an opaque span. Callers must check
// have(n) first.
func (c *cursor) take(n int) []byte {
	b := c.buf[c.pos : c.pos+n]
	c.pos += n
	c.mark = c.pos
	return b
}
