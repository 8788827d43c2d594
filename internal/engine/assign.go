package engine

import (
	"math/rand/v2"
	"slices"
)

// SelectImposters picks count distinct players, favouring players that
// were Imposter less often. Each player gets weight max(history)-h+1 and
// appears that many times in a shuffled pool; the pool is drained until
// count distinct names are collected.
func SelectImposters(rng *rand.Rand, players []string, history map[string]int, count int) ([]string, error) {
	if count < 1 || count >= len(players) {
		return nil, ErrInvalidImposterCount
	}

	var pool []string
	for _, p := range players {
		for range Weight(players, history, p) {
			pool = append(pool, p)
		}
	}
	shuffle(rng, pool)

	chosen := make([]string, 0, count)
	for len(chosen) < count && len(pool) > 0 {
		last := pool[len(pool)-1]
		pool = pool[:len(pool)-1]
		if !slices.Contains(chosen, last) {
			chosen = append(chosen, last)
		}
	}
	return chosen, nil
}

// Weight is the selection weight SelectImposters gives to player.
func Weight(players []string, history map[string]int, player string) int {
	maxSeen := 0
	for _, p := range players {
		maxSeen = max(maxSeen, history[p])
	}
	return max(maxSeen-history[player]+1, 1)
}

// AssignTasksEvenly deals perCrewmate distinct tasks to every crewmate
// from a shuffled copy of tasks, round-robin. The same task may go to
// several crewmates when the pool is small.
func AssignTasksEvenly(rng *rand.Rand, crewmates, tasks []string, perCrewmate int) (map[string][]string, error) {
	if perCrewmate < 1 {
		return nil, ErrInvalidConfig
	}
	tasks = dedupe(tasks)
	if len(tasks) < perCrewmate {
		return nil, ErrTooFewTasks
	}

	deck := slices.Clone(tasks)
	shuffle(rng, deck)

	out := make(map[string][]string, len(crewmates))
	for _, c := range crewmates {
		out[c] = make([]string, 0, perCrewmate)
	}
	if len(crewmates) == 0 {
		return out, nil
	}

	next := 0
	for round := 0; round < perCrewmate; round++ {
		for _, c := range crewmates {
			// At most len(deck) probes; at least one task is always new
			// because len(out[c]) < perCrewmate <= len(deck).
			for range deck {
				t := deck[next%len(deck)]
				next++
				if !slices.Contains(out[c], t) {
					out[c] = append(out[c], t)
					break
				}
			}
		}
	}
	return out, nil
}

func shuffle(rng *rand.Rand, s []string) {
	if rng == nil {
		rand.Shuffle(len(s), func(i, j int) { s[i], s[j] = s[j], s[i] })
		return
	}
	rng.Shuffle(len(s), func(i, j int) { s[i], s[j] = s[j], s[i] })
}
