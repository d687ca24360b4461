package imagebuild

import (
	"fmt"
	"time"
)

const (
	buildLogRepeatFlushInterval = 5 * time.Second
	buildLogBufferSize          = 100
	buildLogTail                = 40
)

// buildLogAggregator collapses consecutive identical lines and keeps a ring
// of the most recent emitted lines.
type buildLogAggregator struct {
	emit     func(string)
	now      func() time.Time
	last     string
	repeats  int
	lastEmit time.Time
	maxDelay time.Duration
	buffer   []string
	bufSize  int
}

func newBuildLogAggregator(emit func(string)) *buildLogAggregator {
	return &buildLogAggregator{
		emit:     emit,
		now:      time.Now,
		maxDelay: buildLogRepeatFlushInterval,
		bufSize:  buildLogBufferSize,
	}
}

func (a *buildLogAggregator) Add(line string) {
	if a == nil || line == "" {
		return
	}
	now := a.now()
	if a.last == "" {
		a.last = line
		a.repeats = 0
		a.emitLine(line, now)
		return
	}
	if line == a.last {
		a.repeats++
		if a.maxDelay > 0 && now.Sub(a.lastEmit) >= a.maxDelay {
			a.flushRepeatsAt(now)
		}
		return
	}
	a.flushRepeatsAt(now)
	a.last = line
	a.repeats = 0
	a.emitLine(line, now)
}

func (a *buildLogAggregator) Flush() {
	if a == nil {
		return
	}
	a.flushRepeatsAt(a.now())
}

func (a *buildLogAggregator) flushRepeatsAt(now time.Time) {
	if a.repeats == 0 || a.last == "" {
		return
	}
	msg := fmt.Sprintf("%s (repeated %d more times)", a.last, a.repeats)
	a.repeats = 0
	a.emitLine(msg, now)
}

func (a *buildLogAggregator) emitLine(line string, now time.Time) {
	if a.emit != nil {
		a.emit(line)
	}
	a.record(line)
	a.lastEmit = now
}

func (a *buildLogAggregator) record(line string) {
	if a.bufSize <= 0 || line == "" {
		return
	}
	if len(a.buffer) < a.bufSize {
		a.buffer = append(a.buffer, line)
		return
	}
	a.buffer = append(a.buffer[1:], line)
}

func (a *buildLogAggregator) Snapshot(limit int) []string {
	if a == nil || len(a.buffer) == 0 {
		return nil
	}
	if limit <= 0 || limit >= len(a.buffer) {
		return append([]string(nil), a.buffer...)
	}
	return append([]string(nil), a.buffer[len(a.buffer)-limit:]...)
}
