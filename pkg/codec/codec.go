// Package codec is the canonical text encoding of a game record. The same
// grammar is used on disk and on the wire; the audience only decides which
// secrets and which open-turn orders are written.
package codec

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"strconv"

	"officewars/pkg/geom"
	"officewars/pkg/types"
)

// ErrCorrupt marks a record that does not follow the grammar.
var ErrCorrupt = errors.New("codec: corrupt record")

// Decimals of every position coordinate.
const Decimals = 5

const (
	maxNodes   = 4096
	maxPlayers = 1 << 10
	maxTurns   = 1 << 20
	maxOrders  = 1 << 16
)

type audienceKind uint8

const (
	kindAll audienceKind = iota
	kindPublic
	kindPlayer
)

// Audience selects what a record reveals.
type Audience struct {
	kind   audienceKind
	player int
}

var (
	// All is lossless and used for storage.
	All = Audience{kind: kindAll}
	// Public redacts every secret and the open turn's orders.
	Public = Audience{kind: kindPublic}
)

// ForPlayer reveals player's own secret and own pending orders.
func ForPlayer(player int) Audience {
	return Audience{kind: kindPlayer, player: player}
}

func (a Audience) String() string {
	switch a.kind {
	case kindAll:
		return "all"
	case kindPublic:
		return "public"
	}
	return "player " + strconv.Itoa(a.player)
}

func (a Audience) secret(i int, p types.Player) string {
	if a.kind == kindAll || (a.kind == kindPlayer && a.player == i) {
		return p.Secret
	}
	return types.Redacted
}

// openOrders filters the orders of the open turn.
func (a Audience) openOrders(orders []types.Order) []types.Order {
	switch a.kind {
	case kindAll:
		return orders
	case kindPublic:
		return nil
	}
	var out []types.Order
	for _, o := range orders {
		if o.Player == a.player {
			out = append(out, o)
		}
	}
	return out
}

// --- Encoding ---

type encoder struct {
	w *bufio.Writer
}

func (e *encoder) line(s string) { e.w.WriteString(s); e.w.WriteByte('\n') }
func (e *encoder) num(v int)     { e.line(strconv.Itoa(v)) }
func (e *encoder) wire(v uint32) { e.line(strconv.FormatUint(uint64(v), 10)) }

// FormatPosition renders a position the way records store it.
func FormatPosition(v geom.Vec3) string {
	f := func(x float64) string { return strconv.FormatFloat(x, 'f', Decimals, 64) }
	return f(v.X) + "," + f(v.Y) + "," + f(v.Z)
}

// Encode writes one record of g for aud.
func Encode(w io.Writer, g *types.GameState, aud Audience) error {
	bw := bufio.NewWriter(w)
	encodeTo(&encoder{w: bw}, g, aud)
	return bw.Flush()
}

func encodeTo(e *encoder, g *types.GameState, aud Audience) {
	e.line(g.ID)
	e.line(g.Name)
	e.num(int(g.Meta))
	e.wire(g.Winner.Wire())

	e.num(len(g.Players))
	for i, p := range g.Players {
		e.line(p.Name)
		e.line(p.Color.String())
		e.line(aud.secret(i, p))
	}

	n := g.NodeCount()
	e.num(n)
	row := make([]byte, n)
	for a := 0; a < n; a++ {
		for b := 0; b < n; b++ {
			row[b] = '0'
			if g.Connected(a, b) {
				row[b] = '1'
			}
		}
		e.line(string(row))
	}
	for a := 0; a < n; a++ {
		e.line(FormatPosition(g.Position(a)))
	}
	for a := 0; a < n; a++ {
		owner := types.NoPlayer
		if a < len(g.ControlledByInitial) {
			owner = g.ControlledByInitial[a]
		}
		e.wire(owner.Wire())
	}

	e.num(len(g.Turns))
	for t, turn := range g.Turns {
		orders := turn.Orders
		if t == len(g.Turns)-1 {
			orders = aud.openOrders(orders)
		}
		e.num(len(orders))
		for _, o := range orders {
			e.num(o.Player)
			e.num(o.From)
			e.num(o.To)
			e.num(int(o.Type))
		}
	}
}

// EncodeList writes a count followed by one record per game.
func EncodeList(w io.Writer, games []*types.GameState, aud Audience) error {
	bw := bufio.NewWriter(w)
	e := &encoder{w: bw}
	e.num(len(games))
	for _, g := range games {
		encodeTo(e, g, aud)
	}
	return bw.Flush()
}

// Marshal returns the record of g for aud.
func Marshal(g *types.GameState, aud Audience) ([]byte, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, g, aud); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Unmarshal decodes exactly one record.
func Unmarshal(data []byte) (*types.GameState, error) {
	d := NewDecoder(bytes.NewReader(data))
	g, err := d.Decode()
	if err != nil {
		return nil, err
	}
	if _, err := d.r.ReadByte(); err != io.EOF {
		return nil, d.corrupt("trailing data after record")
	}
	return g, nil
}
