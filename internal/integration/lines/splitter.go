// Package lines reassembles arbitrary byte chunks into complete lines.
//
// A Splitter carries the unterminated tail of a stream between calls to
// Feed, so a line split across two reads is still emitted once and whole.
// Any run of CR and LF bytes counts as a single separator, including a run
// that straddles a chunk boundary. Feeding the chunks of a stream one by one
// therefore yields the same lines as splitting the concatenated stream.
//
// A Splitter is not safe for concurrent use. Each stream (stdout, stderr,
// socket) owns its own instance.
package lines

import "bytes"

// Splitter turns a stream of byte chunks into complete lines plus a
// trailing partial fragment.
type Splitter struct {
	buf bytes.Buffer

	// inSep is true while the stream is inside a run of separators.
	inSep bool
}

// Feed appends chunk to the carried fragment and returns the lines
// completed by it, in order, along with the new pending fragment.
//
// Line terminators are stripped. A chunk without separators returns no
// lines and a longer fragment; a chunk ending exactly on a separator
// returns an empty fragment.
func (s *Splitter) Feed(chunk []byte) (lines []string, fragment string) {
	for len(chunk) > 0 {
		if s.inSep {
			n := 0
			for n < len(chunk) && isSeparator(chunk[n]) {
				n++
			}
			chunk = chunk[n:]
			if len(chunk) == 0 {
				break
			}
			s.inSep = false
		}

		i := bytes.IndexAny(chunk, "\r\n")
		if i < 0 {
			s.buf.Write(chunk)
			break
		}

		s.buf.Write(chunk[:i])
		lines = append(lines, s.buf.String())
		s.buf.Reset()
		s.inSep = true
		chunk = chunk[i+1:]
	}

	return lines, s.buf.String()
}

// Fragment returns the pending, unterminated fragment.
func (s *Splitter) Fragment() string {
	return s.buf.String()
}

// Flush ends the stream. It returns the pending fragment and true when the
// fragment is non-empty; an empty fragment at end of stream emits nothing.
// The Splitter is reset and may be reused for a new stream.
func (s *Splitter) Flush() (string, bool) {
	rest := s.buf.String()
	s.Reset()
	return rest, rest != ""
}

// Reset discards any pending fragment and separator state.
func (s *Splitter) Reset() {
	s.buf.Reset()
	s.inSep = false
}

// Split splits a complete buffer at once. It is equivalent to feeding data
// to a fresh Splitter in a single chunk.
func Split(data []byte) (lines []string, fragment string) {
	var s Splitter
	return s.Feed(data)
}

func isSeparator(b byte) bool {
	return b == '\r' || b == '\n'
}
