// Package bftstate holds the consensus bookkeeping for a validator's
// current height: the per-round propose registry, prevote and precommit
// tallies, the prevote lock, and the buffer of messages queued for
// heights and rounds the node has not reached.
//
// State is pure data with small derivations and does no I/O.
// It must only ever be touched from the engine's single event loop,
// so it carries no locks.
package bftstate

import (
	"bytes"
	"fmt"

	"github.com/bits-and-blooms/bitset"

	"github.com/obelisk-engine/obelisk/bft/bftconsensus"
)

// State is the consensus bookkeeping for one validator.
type State struct {
	vs bftconsensus.ValidatorSet

	height   uint64
	round    uint32
	lastHash []byte

	// One propose per round; a second, different propose for a
	// registered round is a protocol violation.
	proposes map[uint32]bftconsensus.Propose

	prevotes   map[voteBucket]*tally[bftconsensus.Prevote]
	precommits map[voteBucket]*tally[bftconsensus.Precommit]

	// lockRound is zero when unlocked; protocol rounds start at 1.
	lockRound uint32
	lockHash  []byte

	// queued holds future-height messages in receipt order.
	queued []bftconsensus.Message
}

// voteBucket scopes a tally. BlockHash is empty for prevotes.
type voteBucket struct {
	Round       uint32
	ProposeHash string
	BlockHash   string
}

type tally[V any] struct {
	ids   *bitset.BitSet
	votes []V
}

// New returns a State at the given height, chaining from lastHash,
// with the round at 1 and no lock.
func New(vs bftconsensus.ValidatorSet, height uint64, lastHash []byte) *State {
	return &State{
		vs:         vs,
		height:     height,
		round:      1,
		lastHash:   append([]byte(nil), lastHash...),
		proposes:   make(map[uint32]bftconsensus.Propose),
		prevotes:   make(map[voteBucket]*tally[bftconsensus.Prevote]),
		precommits: make(map[voteBucket]*tally[bftconsensus.Precommit]),
	}
}

// Height returns the current height.
func (s *State) Height() uint64 { return s.height }

// Round returns the current round within the height.
func (s *State) Round() uint32 { return s.round }

// LastHash returns the hash of the last committed block.
func (s *State) LastHash() []byte { return s.lastHash }

// NextRound advances to the next round without changing height.
// The lock, registries, and tallies for earlier rounds are retained.
//
// It returns the queued messages now addressed to a reached round of
// the current height, in their original receipt order, for immediate
// replay. Future-height messages stay queued.
func (s *State) NextRound() (uint32, []bftconsensus.Message) {
	s.round++

	var replay []bftconsensus.Message
	var still []bftconsensus.Message
	for _, m := range s.queued {
		if m.MessageHeight() == s.height && m.MessageRound() <= s.round {
			replay = append(replay, m)
		} else {
			still = append(still, m)
		}
	}
	s.queued = still
	return s.round, replay
}

// AddPropose registers a propose for its round and returns its hash.
//
// Re-registering the identical propose is a harmless duplicate and
// succeeds. A different propose for an already registered round is a
// byzantine double-propose; it returns [DoubleProposeError] and the
// original propose remains the round's propose.
func (s *State) AddPropose(p bftconsensus.Propose) ([]byte, error) {
	if p.Height != s.height {
		return nil, fmt.Errorf(
			"propose height %d does not match state height %d", p.Height, s.height,
		)
	}

	h := p.Hash()
	if existing, ok := s.proposes[p.Round]; ok {
		if bytes.Equal(existing.Hash(), h) {
			return h, nil
		}
		return nil, DoubleProposeError{
			Round:        p.Round,
			ExistingHash: existing.Hash(),
			OfferedHash:  h,
			ValidatorID:  p.ValidatorID,
		}
	}

	s.proposes[p.Round] = p
	return h, nil
}

// ProposeFor returns the registered propose for a round, if any.
func (s *State) ProposeFor(round uint32) (bftconsensus.Propose, bool) {
	p, ok := s.proposes[round]
	return p, ok
}

// ProposeByHash returns the registered propose with the given hash,
// searching every round of the current height. A quorum may reference
// a propose from an earlier round than the one the quorum formed in,
// once a lock carries it forward.
func (s *State) ProposeByHash(hash []byte) (bftconsensus.Propose, bool) {
	for _, p := range s.proposes {
		if bytes.Equal(p.Hash(), hash) {
			return p, true
		}
	}
	return bftconsensus.Propose{}, false
}

// AddPrevote tallies a prevote and reports whether this vote is the
// one that completes a byzantine quorum for its (round, propose hash)
// bucket while the node's lock round is still below that round.
//
// Duplicate votes from the same validator never count twice, and a
// bucket that already reached quorum never reports true again.
func (s *State) AddPrevote(v bftconsensus.Prevote) bool {
	if v.Height != s.height {
		return false
	}

	b := voteBucket{Round: v.Round, ProposeHash: string(v.ProposeHash)}
	ta := s.prevotes[b]
	if ta == nil {
		ta = &tally[bftconsensus.Prevote]{ids: bitset.New(uint(s.vs.Len()))}
		s.prevotes[b] = ta
	}

	if ta.ids.Test(uint(v.ValidatorID)) {
		return false
	}
	ta.ids.Set(uint(v.ValidatorID))
	ta.votes = append(ta.votes, v)

	return uint64(ta.ids.Count()) == s.vs.Quorum() && s.lockRound < v.Round
}

// AddPrecommit tallies a precommit and reports whether this vote is
// the one that completes a byzantine quorum for its
// (round, propose hash, block hash) bucket.
func (s *State) AddPrecommit(c bftconsensus.Precommit) bool {
	if c.Height != s.height {
		return false
	}

	b := voteBucket{
		Round:       c.Round,
		ProposeHash: string(c.ProposeHash),
		BlockHash:   string(c.BlockHash),
	}
	ta := s.precommits[b]
	if ta == nil {
		ta = &tally[bftconsensus.Precommit]{ids: bitset.New(uint(s.vs.Len()))}
		s.precommits[b] = ta
	}

	if ta.ids.Test(uint(c.ValidatorID)) {
		return false
	}
	ta.ids.Set(uint(c.ValidatorID))
	ta.votes = append(ta.votes, c)

	return uint64(ta.ids.Count()) == s.vs.Quorum()
}

// PrecommitsFor returns the tallied precommits for a bucket,
// for assembling a commit proof.
func (s *State) PrecommitsFor(round uint32, proposeHash, blockHash []byte) []bftconsensus.Precommit {
	ta := s.precommits[voteBucket{
		Round:       round,
		ProposeHash: string(proposeHash),
		BlockHash:   string(blockHash),
	}]
	if ta == nil {
		return nil
	}
	return append([]bftconsensus.Precommit(nil), ta.votes...)
}

// Lock records the prevote lock. The lock round only moves forward;
// an attempt to lock a round at or below the current lock is ignored.
func (s *State) Lock(round uint32, proposeHash []byte) {
	if round <= s.lockRound {
		return
	}
	s.lockRound = round
	s.lockHash = append([]byte(nil), proposeHash...)
}

// Locked returns the current lock, if any.
func (s *State) Locked() (round uint32, proposeHash []byte, ok bool) {
	if s.lockRound == 0 {
		return 0, nil, false
	}
	return s.lockRound, s.lockHash, true
}

// Queue buffers a message the node has not reached yet: one addressed
// to a future height, or to an unreached round of the current height.
// Replay happens through [State.NewHeight] and [State.NextRound].
// The caller is responsible for gating: messages for past heights must
// be discarded before they reach the queue.
func (s *State) Queue(m bftconsensus.Message) {
	s.queued = append(s.queued, m)
}

// QueuedLen returns the number of buffered future messages.
func (s *State) QueuedLen() int { return len(s.queued) }

// NewHeight advances to the next height after a commit: the round
// resets to 1, the registries, tallies, and lock are cleared, and
// lastHash becomes the committed block's hash.
//
// It returns the queued messages now addressed to the new current
// height, in their original receipt order, for immediate replay.
// Replayed messages may address rounds beyond the reset round 1; the
// caller's round gating re-queues those. Queued messages for heights
// at or below the committed height are dropped; later heights stay
// queued.
func (s *State) NewHeight(committedBlockHash []byte) []bftconsensus.Message {
	s.height++
	s.round = 1
	s.lastHash = append([]byte(nil), committedBlockHash...)

	s.proposes = make(map[uint32]bftconsensus.Propose)
	s.prevotes = make(map[voteBucket]*tally[bftconsensus.Prevote])
	s.precommits = make(map[voteBucket]*tally[bftconsensus.Precommit])
	s.lockRound = 0
	s.lockHash = nil

	var replay []bftconsensus.Message
	var still []bftconsensus.Message
	for _, m := range s.queued {
		switch {
		case m.MessageHeight() == s.height:
			replay = append(replay, m)
		case m.MessageHeight() > s.height:
			still = append(still, m)
		}
	}
	s.queued = still
	return replay
}
