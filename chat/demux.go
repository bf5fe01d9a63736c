// Package chat runs one conversational turn end to end: chat
// bookkeeping, retrieval, prompt assembly, model streaming, and
// persistence, emitting progress events to a client sink.
package chat

import "strings"

const (
	thinkOpen  = "<think>"
	thinkClose = "</think>"
)

// Demux splits a model output stream into think and answer streams.
// The delimiters <think> and </think> may straddle chunk boundaries.
// The zero value starts in answer mode.
type Demux struct {
	thinking bool
	buf      string
}

// Feed consumes one chunk and returns the think and answer text it
// released. A tail shorter than a delimiter stays buffered until the
// next Feed or Flush.
func (d *Demux) Feed(chunk string) (think, answer string) {
	d.buf += chunk
	for {
		if d.thinking {
			i := strings.Index(d.buf, thinkClose)
			if i < 0 {
				think += d.holdTail(len(thinkClose))
				return think, answer
			}
			think += d.buf[:i]
			d.buf = d.buf[i+len(thinkClose):]
			d.thinking = false
		} else {
			i := strings.Index(d.buf, thinkOpen)
			if i < 0 {
				answer += d.holdTail(len(thinkOpen))
				return think, answer
			}
			answer += d.buf[:i]
			d.buf = d.buf[i+len(thinkOpen):]
			d.thinking = true
		}
	}
}

// holdTail releases everything except the last delimLen-1 bytes, which
// could be the start of a delimiter split across chunks.
func (d *Demux) holdTail(delimLen int) string {
	keep := delimLen - 1
	if len(d.buf) <= keep {
		return ""
	}
	out := d.buf[:len(d.buf)-keep]
	d.buf = d.buf[len(d.buf)-keep:]
	return out
}

// Flush drains the buffer into the current mode's stream. Callers must
// flush at end of stream or trailing bytes are lost.
func (d *Demux) Flush() (think, answer string) {
	out := d.buf
	d.buf = ""
	if d.thinking {
		return out, ""
	}
	return "", out
}
