package game

import (
	"math"
	"strconv"
)

// --- Fixed-point combat strength ---

// Strength is a Q16.16 fixed-point value. Battle outcomes are computed only
// with integer operations so every machine replays the same history.
type Strength int32

const (
	StrengthShift = 16
	// Unit is the strength of one owned node (1.0).
	Unit Strength = 1 << StrengthShift
)

// Add saturates instead of wrapping.
func (s Strength) Add(o Strength) Strength {
	sum := int64(s) + int64(o)
	if sum > math.MaxInt32 {
		return math.MaxInt32
	}
	if sum < math.MinInt32 {
		return math.MinInt32
	}
	return Strength(sum)
}

// Div divides by an integer factor, truncating toward zero. Both sides of a
// comparison must be divided by the same factor.
func (s Strength) Div(n int32) Strength {
	if n <= 0 {
		return 0
	}
	return s / Strength(n)
}

// Half is the share of strength a supporter lends.
func (s Strength) Half() Strength { return s.Div(2) }

// Float is for display only.
func (s Strength) Float() float64 { return float64(s) / float64(Unit) }

func (s Strength) String() string {
	return strconv.FormatFloat(s.Float(), 'f', 4, 64)
}
