// Package signal turns standardized spreads and price bands into position signals
package signal

import (
	"fmt"
	"time"

	"github.com/homebox25/Quant-Tutorials/pkg/stats"
)

// State 期望的方向性敞口
type State int8

const (
	Short State = -1 // SHORT_SPREAD
	Flat  State = 0  // FLAT
	Long  State = 1  // LONG_SPREAD
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case Long:
		return "LONG"
	case Short:
		return "SHORT"
	default:
		return "FLAT"
	}
}

// Signal is a per-timestamp state aligned 1:1 with its source series.
type Signal struct {
	index  *stats.Series
	states []State
}

// NewSignal attaches states to the index of source.
func NewSignal(source *stats.Series, states []State) (*Signal, error) {
	if len(states) != source.Len() {
		return nil, fmt.Errorf("%w: %d states for %d points", stats.ErrLengthMismatch, len(states), source.Len())
	}
	cp := make([]State, len(states))
	copy(cp, states)
	return &Signal{index: source, states: cp}, nil
}

// Len 返回信号长度
func (s *Signal) Len() int { return len(s.states) }

// At returns the i-th state.
func (s *Signal) At(i int) State { return s.states[i] }

// Time returns the i-th timestamp.
func (s *Signal) Time(i int) time.Time { return s.index.Time(i) }

// States returns a copy of the states.
func (s *Signal) States() []State {
	out := make([]State, len(s.states))
	copy(out, s.states)
	return out
}

// Series returns the signal as a float series on the source index.
func (s *Signal) Series() *stats.Series {
	vals := make([]float64, len(s.states))
	for i, st := range s.states {
		vals[i] = float64(st)
	}
	out, _ := s.index.WithValues("signal", vals)
	return out
}

// Entries counts transitions from FLAT (or the opposite side) into a position.
func (s *Signal) Entries() int {
	n := 0
	prev := Flat
	for _, st := range s.states {
		if st != Flat && st != prev {
			n++
		}
		prev = st
	}
	return n
}
