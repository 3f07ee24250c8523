package sshclient

import (
	"fmt"
	"sync/atomic"

	"github.com/jpillora/sizestr"
)

// ConnStats tracks open and total connection counts and cumulative bytes for
// a forwarder or proxy, grounded on the teacher's share/connstats.go,
// extended with byte counters so close-time log lines can report human
// readable sizes via sizestr, exactly as share/ssh.go's HandleTCPStream does.
type ConnStats struct {
	total int32
	open  int32
	sent  int64
	recvd int64
}

// NewConnStats returns a zero-valued ConnStats ready to use.
func NewConnStats() *ConnStats { return &ConnStats{} }

// New records a new connection attempt.
func (c *ConnStats) New() int32 { return atomic.AddInt32(&c.total, 1) }

// Open records a connection becoming active.
func (c *ConnStats) Open() { atomic.AddInt32(&c.open, 1) }

// Close records a connection ending, accumulating the bytes it moved.
func (c *ConnStats) Close(sent, recvd int64) {
	atomic.AddInt32(&c.open, -1)
	atomic.AddInt64(&c.sent, sent)
	atomic.AddInt64(&c.recvd, recvd)
}

func (c *ConnStats) String() string {
	return fmt.Sprintf("[%d/%d, sent %s, recvd %s]",
		atomic.LoadInt32(&c.open), atomic.LoadInt32(&c.total),
		sizestr.ToString(atomic.LoadInt64(&c.sent)), sizestr.ToString(atomic.LoadInt64(&c.recvd)))
}
