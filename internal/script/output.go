package script

import (
	"strings"
	"sync/atomic"
	"time"

	"github.com/hedzr/go-ringbuf/v2/mpmc"
)

// OutputBufferSize is how many print records an engine retains.
const OutputBufferSize uint32 = 64

// OutputRecord is one print call made by a script.
type OutputRecord struct {
	Time    time.Time
	Source  string
	Content string
}

// outputBuffer keeps the most recent print records. Older records are
// overwritten once the buffer is full.
type outputBuffer struct {
	buffer      mpmc.RichOverlappedRingBuffer[OutputRecord]
	overwritten atomic.Int64
}

func newOutputBuffer(size uint32) *outputBuffer {
	return &outputBuffer{buffer: mpmc.NewOverlappedRingBuffer[OutputRecord](size)}
}

func (b *outputBuffer) add(rec OutputRecord) {
	// EnqueueM only fails on a closed buffer, which this one never is.
	overwrites, _ := b.buffer.EnqueueM(rec)
	b.overwritten.Add(int64(overwrites))
}

func (b *outputBuffer) drain() []OutputRecord {
	var out []OutputRecord
	for !b.buffer.IsEmpty() {
		rec, err := b.buffer.Dequeue()
		if err != nil {
			break
		}
		out = append(out, rec)
	}
	return out
}

// Output drains and returns the print records retained since the last call,
// oldest first.
func (e *Engine) Output() []OutputRecord {
	return e.output.drain()
}

// OutputOverwritten reports how many print records were dropped because
// nobody drained them in time.
func (e *Engine) OutputOverwritten() int64 {
	return e.output.overwritten.Load()
}

// recentOutput drains the retained output as newline-separated text.
func (e *Engine) recentOutput() string {
	records := e.Output()
	lines := make([]string, len(records))
	for i, rec := range records {
		lines[i] = rec.Content
	}
	return strings.Join(lines, "\n")
}
