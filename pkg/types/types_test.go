package types

import (
	"os"
	"path/filepath"
	"testing"
)

func TestPlayerRef(t *testing.T) {
	if NoPlayer.Valid() || NoPlayer.Wire() != WireNone {
		t.Fatal("zero PlayerRef must be the wire sentinel")
	}
	p := PlayerAt(3)
	if !p.Is(3) || p.Is(2) || p.Wire() != 3 {
		t.Fatalf("PlayerAt(3) = %+v", p)
	}
	if PlayerFromWire(WireNone) != NoPlayer || PlayerFromWire(0) != PlayerAt(0) {
		t.Fatal("wire decoding mismatch")
	}
	if PlayerAt(-1) != NoPlayer {
		t.Fatal("negative index must be no player")
	}
}

func TestParseColor(t *testing.T) {
	c, err := ParseColor("#A0ff0C")
	if err != nil {
		t.Fatal(err)
	}
	if c != (Color{0xa0, 0xff, 0x0c}) || c.String() != "#a0ff0c" {
		t.Fatalf("got %v (%s)", c, c)
	}
	for _, bad := range []string{"", "a0ff0c", "#a0ff0", "#zzzzzz", "#+12345"} {
		if _, err := ParseColor(bad); err == nil {
			t.Errorf("ParseColor(%q) accepted", bad)
		}
	}
	if d := White.Distance(Black); d < 441 || d > 442 {
		t.Fatalf("white-black distance = %v", d)
	}
}

func TestOwnerFallsBackToInitial(t *testing.T) {
	g := NewPreGame("ABCDEF", "test")
	g.ControlledByInitial = []PlayerRef{PlayerAt(0), NoPlayer}
	if !g.Owner(0).Is(0) {
		t.Fatal("initial owner not reported before replay")
	}
	g.ControlledBy = []PlayerRef{NoPlayer, PlayerAt(0)}
	if g.Owner(0).Valid() || !g.Owner(1).Is(0) {
		t.Fatal("derived ownership should win once present")
	}
	if g.Owner(7).Valid() {
		t.Fatal("out of range node has an owner")
	}
}

func TestPlayerBySecret(t *testing.T) {
	g := NewPreGame("ABCDEF", "test")
	g.Players = []Player{{Name: "aa", Secret: "QWERTY"}, {Name: "bb", Secret: "ASDFGH"}}
	if g.PlayerBySecret("ASDFGH") != 1 {
		t.Fatal("secret lookup failed")
	}
	if g.PlayerBySecret(Redacted) != -1 || g.PlayerBySecret("") != -1 {
		t.Fatal("redaction marker must never authenticate")
	}
}

func TestLoadRules(t *testing.T) {
	r, err := LoadRules("")
	if err != nil || r != DefaultRules() {
		t.Fatalf("empty path: %+v %v", r, err)
	}
	path := filepath.Join(t.TempDir(), "rules.yaml")
	if err := os.WriteFile(path, []byte("nodes_per_player: 6\nneutral_strength: 0\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	r, err = LoadRules(path)
	if err != nil {
		t.Fatal(err)
	}
	if r.NodesPerPlayer != 6 || r.NeutralStrength != 0 || r.MaxConnections != 5 {
		t.Fatalf("override not applied over defaults: %+v", r)
	}
	if err := os.WriteFile(path, []byte("max_connections: 1\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadRules(path); err == nil {
		t.Fatal("max below min accepted")
	}
}
