// Package pipespace implements PipeSpace (spec §4.5): a per-session
// registry mapping pipeId → *pipe.Pipe, with parity-based collision-free
// ID allocation between the primary and secondary peer.
package pipespace

import (
	basesync "github.com/gostdlib/base/concurrency/sync"

	"github.com/asterisque/asterisque/pipe"
	"github.com/asterisque/asterisque/wire"
)

// primaryBit is the high bit of a 16-bit pipe id. Primary peers allocate
// ids with this bit set; secondary peers leave it clear. This splits the
// id space into two disjoint 32768-value halves so neither side needs to
// coordinate allocation with the other.
const primaryBit = uint16(1) << 15

// PipeSpace is the per-session pipe registry. The zero value is not
// usable; use New.
type PipeSpace struct {
	primary  bool
	pipeOpts []pipe.Option

	mu       basesync.Mutex
	pipes    map[wire.PipeID]*pipe.Pipe
	lastScan uint16
}

// New constructs a PipeSpace. primary selects which half of the id space
// this side allocates from. pipeOpts are applied to every Pipe the space
// creates, e.g. pipe.WithBlockBufferSize to override the default inbound
// Block buffer depth (spec §9 open question).
func New(primary bool, pipeOpts ...pipe.Option) *PipeSpace {
	return &PipeSpace{
		primary:  primary,
		pipeOpts: pipeOpts,
		pipes:    make(map[wire.PipeID]*pipe.Pipe),
	}
}

// Allocate picks an unused id in this side's half of the space and
// registers a new Pipe under it, posting via poster. It returns
// ResourceExhausted if the entire half is occupied.
func (s *PipeSpace) Allocate(priority wire.Priority, poster pipe.Poster) (*pipe.Pipe, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := uint16(0); i < 1<<15; i++ {
		candidate := s.lastScan + 1 + i
		candidate &= (1 << 15) - 1 // confine to the 0..32767 half-range
		if candidate == 0 {
			// pipeId 0 is reserved for Control; never allocate it.
			continue
		}
		id := wire.PipeID(s.ownBit() | candidate)
		if _, exists := s.pipes[id]; !exists {
			s.lastScan = candidate
			p := pipe.New(id, priority, poster, s.pipeOpts...)
			s.pipes[id] = p
			return p, nil
		}
	}
	return nil, pipe.ResourceExhaustedErr("pipe-id space exhausted")
}

// Create is the server-side admission path for a remotely-initiated Open:
// it rejects as a duplicate if the id is already registered, else creates
// and registers a Pipe for subsequent Block routing.
func (s *PipeSpace) Create(id wire.PipeID, priority wire.Priority, poster pipe.Poster) (p *pipe.Pipe, duplicate bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.pipes[id]; exists {
		return nil, true
	}
	p = pipe.New(id, priority, poster, s.pipeOpts...)
	s.pipes[id] = p
	return p, false
}

// Lookup returns the Pipe registered under id, if any.
func (s *PipeSpace) Lookup(id wire.PipeID) (*pipe.Pipe, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pipes[id]
	return p, ok
}

// Destroy removes id's entry. It is a no-op if id is not registered.
func (s *PipeSpace) Destroy(id wire.PipeID) {
	s.mu.Lock()
	delete(s.pipes, id)
	s.mu.Unlock()
}

// Len returns the number of live pipes, for diagnostics and tests.
func (s *PipeSpace) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pipes)
}

// All returns a snapshot of every currently registered Pipe. Used by
// Session to tear every pipe down on session close.
func (s *PipeSpace) All() []*pipe.Pipe {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*pipe.Pipe, 0, len(s.pipes))
	for _, p := range s.pipes {
		out = append(out, p)
	}
	return out
}

func (s *PipeSpace) ownBit() uint16 {
	if s.primary {
		return uint16(primaryBit)
	}
	return 0
}
