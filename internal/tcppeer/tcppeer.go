// Package tcppeer implements the ancillary TCP peer protocol's framing:
// a 4-byte ASCII tag, a 4-byte big-endian length, and a payload. Framing
// and incremental parsing is implemented; interpretation of frame contents
// is out of the core's scope, so Handle simply logs and discards.
package tcppeer

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/kadnet/kad/log"
)

const headerLen = 8

// MaxFrameLen bounds a single frame's payload so a malformed or hostile
// peer cannot force unbounded buffering.
const MaxFrameLen = 1 << 20

var ErrFrameTooLarge = errors.New("tcppeer: frame length exceeds maximum")

// Frame is one parsed ancillary-protocol message.
type Frame struct {
	Tag     [4]byte
	Payload []byte
}

// Parser incrementally reassembles frames from a TCP byte stream, across
// however many Feed calls the event loop's recv chunks require.
type Parser struct {
	buf []byte
}

// Feed appends newly received bytes and returns every complete frame that
// can now be extracted, leaving any partial trailing frame buffered.
func (p *Parser) Feed(chunk []byte) ([]Frame, error) {
	p.buf = append(p.buf, chunk...)

	var frames []Frame
	for {
		if len(p.buf) < headerLen {
			return frames, nil
		}
		length := binary.BigEndian.Uint32(p.buf[4:8])
		if length > MaxFrameLen {
			return frames, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, length)
		}
		total := headerLen + int(length)
		if len(p.buf) < total {
			return frames, nil
		}
		var f Frame
		copy(f.Tag[:], p.buf[0:4])
		f.Payload = append([]byte(nil), p.buf[headerLen:total]...)
		frames = append(frames, f)
		p.buf = p.buf[total:]
	}
}

// Handle logs and discards f: the ancillary protocol's semantics beyond
// framing are out of the core's scope.
func Handle(l *log.Logger, f Frame) {
	if l == nil {
		l = log.Default()
	}
	l.Module("tcppeer").Debug("discarding ancillary frame", "tag", string(f.Tag[:]), "len", len(f.Payload))
}
