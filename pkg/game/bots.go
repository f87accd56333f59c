package game

import (
	"math/rand/v2"

	"officewars/pkg/types"
)

// BotOrders picks one random order for every node player owns: an attack on
// a foreign neighbour when there is one, otherwise support for a friendly
// neighbour. Ownership must be current.
func BotOrders(g *types.GameState, player int, rng *rand.Rand) []types.Order {
	var orders []types.Order
	for node := 0; node < g.NodeCount(); node++ {
		if !g.Owner(node).Is(player) {
			continue
		}
		var foreign, friendly []int
		for _, nb := range g.Neighbors(node) {
			if g.Owner(nb).Is(player) {
				friendly = append(friendly, nb)
			} else {
				foreign = append(foreign, nb)
			}
		}
		switch {
		case len(foreign) > 0:
			orders = append(orders, types.Order{Player: player, From: node, To: foreign[rng.IntN(len(foreign))], Type: types.Attack})
		case len(friendly) > 0:
			orders = append(orders, types.Order{Player: player, From: node, To: friendly[rng.IntN(len(friendly))], Type: types.Support})
		}
	}
	return orders
}
