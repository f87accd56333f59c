package types

import (
	"fmt"
	"math"
	"strconv"
)

// PlayerRef is an optional player index. The zero value refers to no player.
type PlayerRef struct {
	index uint32
	valid bool
}

// NoPlayer is the empty reference (unowned node, no winner).
var NoPlayer = PlayerRef{}

// WireNone is how NoPlayer is written in text records.
const WireNone = math.MaxUint32

func PlayerAt(i int) PlayerRef {
	if i < 0 || uint64(i) >= WireNone {
		return NoPlayer
	}
	return PlayerRef{index: uint32(i), valid: true}
}

func (p PlayerRef) Index() (int, bool) { return int(p.index), p.valid }

func (p PlayerRef) Valid() bool { return p.valid }

// Is reports whether p refers to player i.
func (p PlayerRef) Is(i int) bool { return p.valid && int(p.index) == i }

// Wire returns the record encoding of p.
func (p PlayerRef) Wire() uint32 {
	if !p.valid {
		return WireNone
	}
	return p.index
}

func PlayerFromWire(v uint32) PlayerRef {
	if v == WireNone {
		return NoPlayer
	}
	return PlayerRef{index: v, valid: true}
}

func (p PlayerRef) String() string {
	if !p.valid {
		return "none"
	}
	return strconv.FormatUint(uint64(p.index), 10)
}

// Color is a player's display color.
type Color struct {
	R, G, B uint8
}

// ParseColor reads "#RRGGBB" in either case.
func ParseColor(s string) (Color, error) {
	if len(s) != 7 || s[0] != '#' {
		return Color{}, fmt.Errorf("color %q: want #RRGGBB", s)
	}
	v, err := strconv.ParseUint(s[1:], 16, 32)
	if err != nil {
		return Color{}, fmt.Errorf("color %q: %w", s, err)
	}
	return Color{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v)}, nil
}

func (c Color) String() string {
	return fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B)
}

// Distance is the Euclidean distance between c and o in RGB space.
func (c Color) Distance(o Color) float64 {
	dr := float64(c.R) - float64(o.R)
	dg := float64(c.G) - float64(o.G)
	db := float64(c.B) - float64(o.B)
	return math.Sqrt(dr*dr + dg*dg + db*db)
}

var (
	Black = Color{}
	White = Color{R: 255, G: 255, B: 255}
)
