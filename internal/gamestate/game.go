// Package gamestate implements the per-game state machine: the seen[]
// patron stream, the derived attribute/accept counters, and the
// Running -> Terminal{Won,Lost} transitions driven by verdict submission.
package gamestate

import (
	"github.com/bits-and-blooms/bitset"

	"github.com/rawblock/berghain-engine/internal/apierr"
	"github.com/rawblock/berghain-engine/internal/goalprog"
	"github.com/rawblock/berghain-engine/internal/rng"
	"github.com/rawblock/berghain-engine/internal/sampler"
)

const (
	// AcceptedLimit is the venue capacity: a game ends once this many
	// patrons have been accepted, and is won only if every goal holds.
	AcceptedLimit = 1000
	// LossLimit is the total-reviewed cap at which the game ends; it is
	// lost unless every goal happens to hold at that point.
	LossLimit = 20000 + AcceptedLimit

	// acceptBit is the reserved bit in each seen[] byte marking that the
	// patron at that position was accepted. Carried over from the original
	// MAX_ATTRS=7 byte encoding: a game type's attribute count must leave
	// this bit free, so New rejects n > 7 even though the Attribute
	// Sampler itself (internal/sampler) supports up to 32.
	acceptBit = 1 << 7
	// MaxSeenAttrs is the largest attribute count the byte-packed seen[]
	// stream can carry alongside the reserved accept bit.
	MaxSeenAttrs = 7
)

// Params is one immutable, registered game type: its generator
// configuration, derived distribution parameters, and goal programs.
type Params struct {
	Type int

	N int
	T []float64
	A []float64

	Marginals []float64
	Corr      []float64 // N*N row-major

	Goals [][]uint32
}

// Game is the mutable per-game state described in spec §3.
type Game struct {
	Name   string
	ID     uint32
	UserID uint32
	Type   int
	Params *Params

	Seen     []byte
	Count    uint32
	Accepted uint32
	AttrN    []uint32

	HasNext bool
	Next    uint8

	GoalsSatisfied bool
}

// New constructs a fresh Game for the given params and owner, with no
// patron yet drawn. Rejects a params.N that would collide with the
// reserved accept bit in the byte-packed seen[] encoding.
func New(name string, id, userID uint32, params *Params) (*Game, error) {
	if params.N <= 0 || params.N > MaxSeenAttrs {
		return nil, apierr.Newf(apierr.InvalidArity, "game type supports at most %d attributes, got %d", MaxSeenAttrs, params.N)
	}
	return &Game{
		Name:   name,
		ID:     id,
		UserID: userID,
		Type:   params.Type,
		Params: params,
		AttrN:  make([]uint32, params.N),
	}, nil
}

// Restore rebuilds a Game from persisted state — the seen[] byte stream
// plus the pending patron, if any — the way every handler must: a game's
// in-memory view is assembled fresh per request from the store, never held
// across requests. Counters are recomputed from seen, identically to every
// other transition.
func Restore(name string, id, userID uint32, params *Params, seen []byte, hasNext bool, next uint8) *Game {
	g := &Game{
		Name:    name,
		ID:      id,
		UserID:  userID,
		Type:    params.Type,
		Params:  params,
		Seen:    seen,
		Count:   uint32(len(seen)),
		AttrN:   make([]uint32, params.N),
		HasNext: hasNext,
		Next:    next,
	}
	g.recompute()
	return g
}

// IsFinished reports whether the game has reached a terminal state.
func (g *Game) IsFinished() bool {
	return g.Accepted >= AcceptedLimit || g.Count >= LossLimit
}

// CreateNextPerson draws the next patron and stages it as pending. It is a
// no-op (intentionally — there is nothing left to review) once the game is
// already finished.
func (g *Game) CreateNextPerson(gen *rng.Generator) error {
	if g.IsFinished() {
		return nil
	}
	attrs, err := sampler.GenerateAttributes(gen, g.Params.N, g.Params.T, g.Params.A)
	if err != nil {
		return err
	}
	g.Next = uint8(attrs)
	g.HasNext = true
	return nil
}

// ProcessNextPerson applies a verdict to the pending patron, identified by
// personIndex (which must equal Count — the server's ordering contract).
// On success it appends to seen[], recomputes counters, and clears the
// pending patron; callers are responsible for drawing the next one via
// CreateNextPerson when the game is not yet finished.
func (g *Game) ProcessNextPerson(personIndex uint32, verdict bool) error {
	if g.IsFinished() {
		return apierr.New(apierr.GameFinished, "game finished")
	}
	if !g.HasNext {
		return apierr.New(apierr.NoPendingPatron, "no patron available")
	}
	if personIndex != g.Count {
		return apierr.New(apierr.WrongPerson, "wrong person")
	}

	attr := g.Next
	if verdict {
		attr |= acceptBit
	}
	g.Seen = append(g.Seen, attr)
	g.Count++
	g.HasNext = false
	g.recompute()
	return nil
}

// recompute rebuilds Accepted and AttrN from scratch by scanning
// seen[0:Count), per spec §4.5 ("recomputed-from-scratch version is the
// reference semantics"). One bitset per attribute (plus one for the accept
// flag) is populated from the byte stream and reduced with Count(), giving
// a real popcount implementation instead of a hand-rolled bit loop.
func (g *Game) recompute() {
	n := g.Params.N
	acceptBits := bitset.New(uint(g.Count))
	attrBits := make([]*bitset.BitSet, n)
	for i := range attrBits {
		attrBits[i] = bitset.New(uint(g.Count))
	}

	for idx := uint32(0); idx < g.Count; idx++ {
		b := g.Seen[idx]
		if b&acceptBit != 0 {
			acceptBits.Set(uint(idx))
		}
		for i := 0; i < n; i++ {
			if b&(1<<uint(i)) != 0 {
				attrBits[i].Set(uint(idx))
			}
		}
	}

	g.Accepted = uint32(acceptBits.Count())
	for i := 0; i < n; i++ {
		g.AttrN[i] = uint32(attrBits[i].Count())
	}

	if g.IsFinished() {
		g.GoalsSatisfied = goalprog.AllSatisfied(g.Params.Goals, g.AttrN)
	}
}
