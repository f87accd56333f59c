package codec

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"officewars/pkg/geom"
	"officewars/pkg/graph"
	"officewars/pkg/types"
)

// Decoder reads records in any audience; redacted secrets come back as the
// literal marker.
type Decoder struct {
	r    *bufio.Reader
	line int
}

func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: bufio.NewReader(r)}
}

func (d *Decoder) corrupt(format string, args ...any) error {
	return fmt.Errorf("%w: line %d: %s", ErrCorrupt, d.line, fmt.Sprintf(format, args...))
}

// next returns the next newline-terminated line without its terminator.
func (d *Decoder) next() (string, error) {
	d.line++
	s, err := d.r.ReadString('\n')
	if err != nil {
		if errors.Is(err, io.EOF) {
			return "", d.corrupt("truncated record")
		}
		return "", fmt.Errorf("codec: line %d: %w", d.line, err)
	}
	s = strings.TrimSuffix(s, "\n")
	return strings.TrimSuffix(s, "\r"), nil
}

// natural parses a decimal in the form the encoder writes it: digits only,
// no sign and no leading zeros.
func natural(s string) (uint64, bool) {
	if s == "" || len(s) > 1 && s[0] == '0' {
		return 0, false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return 0, false
		}
	}
	v, err := strconv.ParseUint(s, 10, 64)
	return v, err == nil
}

func (d *Decoder) count(what string, limit int) (int, error) {
	s, err := d.next()
	if err != nil {
		return 0, err
	}
	v, ok := natural(s)
	if !ok || v > uint64(limit) {
		return 0, d.corrupt("bad %s %q", what, s)
	}
	return int(v), nil
}

func (d *Decoder) index(what string, limit int) (int, error) {
	s, err := d.next()
	if err != nil {
		return 0, err
	}
	v, ok := natural(s)
	if !ok || v >= uint64(max(limit, 0)) {
		return 0, d.corrupt("%s %q out of range", what, s)
	}
	return int(v), nil
}

// player reads a wire player id, accepting the no-player sentinel.
func (d *Decoder) player(players int) (types.PlayerRef, error) {
	s, err := d.next()
	if err != nil {
		return types.NoPlayer, err
	}
	v, ok := natural(s)
	if !ok || v > math.MaxUint32 {
		return types.NoPlayer, d.corrupt("bad player id %q", s)
	}
	ref := types.PlayerFromWire(uint32(v))
	if i, ok := ref.Index(); ok && i >= players {
		return types.NoPlayer, d.corrupt("player %d of %d", i, players)
	}
	return ref, nil
}

// Decode reads the next record.
func (d *Decoder) Decode() (*types.GameState, error) {
	g := &types.GameState{}
	var err error

	if g.ID, err = d.next(); err != nil {
		return nil, err
	}
	if g.Name, err = d.next(); err != nil {
		return nil, err
	}
	meta, err := d.index("meta state", int(types.PostGame)+1)
	if err != nil {
		return nil, err
	}
	g.Meta = types.MetaGameState(meta)
	winnerLine := d.line + 1
	winner, err := d.player(maxPlayers)
	if err != nil {
		return nil, err
	}

	if err := d.players(g); err != nil {
		return nil, err
	}
	if i, ok := winner.Index(); ok && i >= len(g.Players) {
		return nil, fmt.Errorf("%w: line %d: winner %d of %d players", ErrCorrupt, winnerLine, i, len(g.Players))
	}
	g.Winner = winner

	if err := d.nodes(g); err != nil {
		return nil, err
	}
	if err := d.turns(g); err != nil {
		return nil, err
	}
	return g, nil
}

func (d *Decoder) players(g *types.GameState) error {
	n, err := d.count("player count", maxPlayers)
	if err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		var p types.Player
		if p.Name, err = d.next(); err != nil {
			return err
		}
		if p.Name == "" {
			return d.corrupt("empty player name")
		}
		s, err := d.next()
		if err != nil {
			return err
		}
		if p.Color, err = types.ParseColor(s); err != nil {
			return d.corrupt("%v", err)
		}
		if p.Secret, err = d.next(); err != nil {
			return err
		}
		if p.Secret == "" {
			return d.corrupt("empty secret")
		}
		g.Players = append(g.Players, p)
	}
	return nil
}

func (d *Decoder) nodes(g *types.GameState) error {
	n, err := d.count("node count", maxNodes)
	if err != nil {
		return err
	}
	if n == 0 {
		return nil
	}

	g.Graph = graph.New(n)
	for a := 0; a < n; a++ {
		row, err := d.next()
		if err != nil {
			return err
		}
		if len(row) != n {
			return d.corrupt("adjacency row has %d columns, want %d", len(row), n)
		}
		for b := 0; b < n; b++ {
			switch row[b] {
			case '1':
				if a == b {
					return d.corrupt("self loop on node %d", a)
				}
				if b < a && !g.Graph.Connected(a, b) {
					return d.corrupt("asymmetric edge %d-%d", a, b)
				}
				g.Graph.Connect(a, b)
			case '0':
				if b < a && g.Graph.Connected(a, b) {
					return d.corrupt("asymmetric edge %d-%d", a, b)
				}
			default:
				return d.corrupt("bad adjacency cell %q", row[b])
			}
		}
	}

	g.Positions = make([]geom.Vec3, n)
	for a := 0; a < n; a++ {
		s, err := d.next()
		if err != nil {
			return err
		}
		parts := strings.Split(s, ",")
		if len(parts) != 3 {
			return d.corrupt("position %q", s)
		}
		var xyz [3]float64
		for i, part := range parts {
			xyz[i], err = strconv.ParseFloat(part, 64)
			if err != nil || math.IsNaN(xyz[i]) || math.IsInf(xyz[i], 0) {
				return d.corrupt("position %q", s)
			}
		}
		g.Positions[a] = geom.Vec3{X: xyz[0], Y: xyz[1], Z: xyz[2]}
	}

	g.ControlledByInitial = make([]types.PlayerRef, n)
	for a := 0; a < n; a++ {
		if g.ControlledByInitial[a], err = d.player(len(g.Players)); err != nil {
			return err
		}
	}
	return nil
}

func (d *Decoder) turns(g *types.GameState) error {
	n, err := d.count("turn count", maxTurns)
	if err != nil {
		return err
	}
	nodes, players := g.NodeCount(), len(g.Players)
	if n > 0 && nodes == 0 {
		return d.corrupt("turns without a galaxy")
	}
	if n > 0 {
		g.Turns = make([]types.Turn, n)
	}
	for t := 0; t < n; t++ {
		count, err := d.count("order count", maxOrders)
		if err != nil {
			return err
		}
		for i := 0; i < count; i++ {
			var o types.Order
			if o.Player, err = d.index("issuing player", players); err != nil {
				return err
			}
			if o.From, err = d.index("source node", nodes); err != nil {
				return err
			}
			s, err := d.next()
			if err != nil {
				return err
			}
			to, ok := natural(s)
			if !ok || to > maxNodes {
				return d.corrupt("bad target %q", s)
			}
			o.To = int(to)
			typ, err := d.index("order type", int(types.Surrender)+1)
			if err != nil {
				return err
			}
			o.Type = types.OrderType(typ)
			limit := nodes
			if o.Type == types.Surrender {
				limit = players
			}
			if o.To < 0 || o.To >= limit {
				return fmt.Errorf("%w: line %d: target %d out of range", ErrCorrupt, d.line-1, o.To)
			}
			g.Turns[t].Orders = append(g.Turns[t].Orders, o)
		}
	}
	return nil
}

// DecodeList reads a count followed by that many records.
func DecodeList(r io.Reader) ([]*types.GameState, error) {
	d := NewDecoder(r)
	n, err := d.count("record count", maxTurns)
	if err != nil {
		return nil, err
	}
	games := make([]*types.GameState, 0, n)
	for i := 0; i < n; i++ {
		g, err := d.Decode()
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		games = append(games, g)
	}
	return games, nil
}
