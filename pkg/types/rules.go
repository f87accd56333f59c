package types

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Rules are the tunable constants of galaxy generation and turn resolution.
type Rules struct {
	NodesPerPlayer int `yaml:"nodes_per_player"`
	MinConnections int `yaml:"min_connections"`
	MaxConnections int `yaml:"max_connections"`
	MinPlayers     int `yaml:"min_players"`
	MaxPlayers     int `yaml:"max_players"`

	// Generation budgets
	PlacementTries     int `yaml:"placement_tries"`
	GenerationAttempts int `yaml:"generation_attempts"`
	RepulsionRounds    int `yaml:"repulsion_rounds"`
	LayoutIterations   int `yaml:"layout_iterations"`

	// NeutralStrength is the Q16.16 defence of an unowned node.
	NeutralStrength int32 `yaml:"neutral_strength"`

	// The game ends once fewer than min(SurvivorThreshold, players) players
	// hold territory and a turn passes with no ownership change.
	SurvivorThreshold int `yaml:"survivor_threshold"`

	// Minimum RGB distance between a player color and black, white or
	// another player's color.
	ColorDistance float64 `yaml:"color_distance"`
}

// DefaultRules returns the standard rule set.
func DefaultRules() Rules {
	return Rules{
		NodesPerPlayer:     4,
		MinConnections:     2,
		MaxConnections:     5,
		MinPlayers:         2,
		MaxPlayers:         32,
		PlacementTries:     200,
		GenerationAttempts: 25,
		RepulsionRounds:    8,
		LayoutIterations:   100,
		NeutralStrength:    1 << 15,
		SurvivorThreshold:  3,
		ColorDistance:      20,
	}
}

// Validate rejects rule sets the generator or engine cannot work with.
func (r Rules) Validate() error {
	switch {
	case r.NodesPerPlayer < 1:
		return fmt.Errorf("rules: nodes_per_player must be positive")
	case r.MinConnections < 1:
		return fmt.Errorf("rules: min_connections must be positive")
	case r.MaxConnections < r.MinConnections:
		return fmt.Errorf("rules: max_connections below min_connections")
	case r.MinPlayers < 1 || r.MaxPlayers < r.MinPlayers:
		return fmt.Errorf("rules: bad player limits %d..%d", r.MinPlayers, r.MaxPlayers)
	case r.MaxPlayers*r.NodesPerPlayer > 4096:
		return fmt.Errorf("rules: galaxy of %d nodes is too large", r.MaxPlayers*r.NodesPerPlayer)
	case r.PlacementTries < 1 || r.GenerationAttempts < 1:
		return fmt.Errorf("rules: retry budgets must be positive")
	case r.NeutralStrength < 0:
		return fmt.Errorf("rules: neutral_strength must not be negative")
	case r.SurvivorThreshold < 2:
		return fmt.Errorf("rules: survivor_threshold must be at least 2")
	case r.ColorDistance < 0 || r.ColorDistance > 200:
		return fmt.Errorf("rules: color_distance out of range")
	}
	return nil
}

// LoadRules reads a YAML rules file over the defaults. An empty path returns
// the defaults.
func LoadRules(path string) (Rules, error) {
	r := DefaultRules()
	if path == "" {
		return r, nil
	}
	f, err := os.ReadFile(path)
	if err != nil {
		return r, fmt.Errorf("read rules: %w", err)
	}
	if err := yaml.Unmarshal(f, &r); err != nil {
		return r, fmt.Errorf("parse rules: %w", err)
	}
	if err := r.Validate(); err != nil {
		return r, err
	}
	return r, nil
}
