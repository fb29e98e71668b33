// Package id generates the identifiers used across the core: snowflake-style
// 64-bit time-ordered ids for entities and ULIDs for events.
package id

import (
	"crypto/rand"
	"encoding/binary"
	"strconv"
	"sync"
	"time"
)

const (
	nodeBits     = 10
	sequenceBits = 12

	maxNode     = -1 ^ (-1 << nodeBits)
	maxSequence = -1 ^ (-1 << sequenceBits)

	timeShift = nodeBits + sequenceBits
	nodeShift = sequenceBits
)

// epoch is 2023-01-01T00:00:00Z in unix milliseconds. Keeping the epoch
// recent leaves 69 years of headroom in the 41 timestamp bits.
const epoch int64 = 1672531200000

// Generator produces unique, roughly time-ordered 64-bit ids. Ids generated
// by one Generator are strictly increasing; across nodes they are unique as
// long as node ids differ.
type Generator struct {
	mu       sync.Mutex
	node     int64
	lastMs   int64
	sequence int64
	nowFn    func() time.Time
}

// Option configures a Generator.
type Option func(*Generator)

// WithNode pins the node id (0..1023). Without it a random node id is drawn.
func WithNode(node int64) Option {
	return func(g *Generator) {
		g.node = node & maxNode
	}
}

// WithClock replaces the wall clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(g *Generator) {
		g.nowFn = now
	}
}

// NewGenerator creates a snowflake generator. The default node id is drawn
// from crypto/rand so independent processes are unlikely to collide.
func NewGenerator(opts ...Option) *Generator {
	g := &Generator{
		node:  randomNode(),
		nowFn: time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func randomNode() int64 {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic(err)
	}
	return int64(binary.BigEndian.Uint64(b[:])) & maxNode
}

// Next returns the next id. If the sequence overflows within one millisecond
// the call spins until the next millisecond; if the clock runs backwards the
// generator keeps issuing from the last observed millisecond.
func (g *Generator) Next() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()

	ms := g.nowFn().UnixMilli()
	if ms < g.lastMs {
		ms = g.lastMs
	}

	if ms == g.lastMs {
		g.sequence = (g.sequence + 1) & maxSequence
		if g.sequence == 0 {
			for ms <= g.lastMs {
				ms = g.nowFn().UnixMilli()
				if ms < g.lastMs {
					ms = g.lastMs + 1
				}
			}
		}
	} else {
		g.sequence = 0
	}
	g.lastMs = ms

	return (ms-epoch)<<timeShift | g.node<<nodeShift | g.sequence
}

// NextString returns the next id formatted as a decimal string, the form all
// aggregate ids take on the wire and in storage.
func (g *Generator) NextString() string {
	return strconv.FormatInt(g.Next(), 10)
}

// Timestamp extracts the creation time encoded in an id.
func Timestamp(id int64) time.Time {
	return time.UnixMilli((id >> timeShift) + epoch)
}
