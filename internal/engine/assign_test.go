package engine

import (
	"math/rand/v2"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSelectImposters_ReturnsDistinctMembers(t *testing.T) {
	players := []string{"a", "b", "c", "d", "e", "f"}
	history := map[string]int{"a": 2, "c": 1}

	for seed := uint64(0); seed < 200; seed++ {
		rng := rand.New(rand.NewPCG(seed, seed+1))
		for count := 1; count < len(players); count++ {
			got, err := SelectImposters(rng, players, history, count)
			require.NoError(t, err)
			require.Len(t, got, count)

			seen := map[string]bool{}
			for _, p := range got {
				assert.Contains(t, players, p)
				assert.False(t, seen[p], "duplicate imposter %q", p)
				seen[p] = true
			}
		}
	}
}

func TestSelectImposters_RejectsInvalidCount(t *testing.T) {
	players := []string{"a", "b", "c"}
	cases := []struct {
		name  string
		count int
	}{
		{"zero", 0},
		{"negative", -1},
		{"no crewmate left", 3},
		{"more than players", 4},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := SelectImposters(nil, players, nil, tc.count)
			assert.ErrorIs(t, err, ErrInvalidImposterCount)
		})
	}
}

func TestSelectImposters_FavoursLessFrequentImposters(t *testing.T) {
	players := []string{"veteran", "rookie"}
	history := map[string]int{"veteran": 3}
	rng := rand.New(rand.NewPCG(7, 11))

	picks := map[string]int{}
	for range 2000 {
		got, err := SelectImposters(rng, players, history, 1)
		require.NoError(t, err)
		picks[got[0]]++
	}

	// weights are 1 and 4
	assert.Greater(t, picks["rookie"], 2*picks["veteran"])
	assert.Greater(t, picks["veteran"], 0)
}

func TestWeight(t *testing.T) {
	players := []string{"a", "b", "c"}
	history := map[string]int{"a": 3, "b": 1}

	assert.Equal(t, 1, Weight(players, history, "a"))
	assert.Equal(t, 3, Weight(players, history, "b"))
	assert.Equal(t, 4, Weight(players, history, "c"))
	assert.Equal(t, 1, Weight(players, nil, "a"))
}

func TestAssignTasksEvenly(t *testing.T) {
	cases := []struct {
		name      string
		crewmates []string
		tasks     []string
		per       int
	}{
		{"pool smaller than demand", []string{"a", "b", "c", "d"}, []string{"x", "y", "z"}, 2},
		{"exact pool", []string{"a", "b"}, []string{"x", "y"}, 2},
		{"large pool", []string{"a", "b", "c"}, []string{"1", "2", "3", "4", "5", "6", "7", "8"}, 3},
		{"single task each", []string{"a"}, []string{"x", "y"}, 1},
		{"duplicate tasks in pool", []string{"a", "b"}, []string{"x", "x", "y"}, 2},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			for seed := uint64(0); seed < 50; seed++ {
				rng := rand.New(rand.NewPCG(seed, 99))
				got, err := AssignTasksEvenly(rng, tc.crewmates, tc.tasks, tc.per)
				require.NoError(t, err)
				require.Len(t, got, len(tc.crewmates))

				for _, c := range tc.crewmates {
					assigned := got[c]
					require.Len(t, assigned, tc.per, "crewmate %s", c)
					assert.Len(t, dedupe(assigned), tc.per, "crewmate %s has repeats", c)
					for _, task := range assigned {
						assert.True(t, slices.Contains(tc.tasks, task))
					}
				}
			}
		})
	}
}

func TestAssignTasksEvenly_Rejects(t *testing.T) {
	_, err := AssignTasksEvenly(nil, []string{"a"}, []string{"x"}, 2)
	assert.ErrorIs(t, err, ErrTooFewTasks)

	_, err = AssignTasksEvenly(nil, []string{"a"}, []string{"x", "x"}, 2)
	assert.ErrorIs(t, err, ErrTooFewTasks)

	_, err = AssignTasksEvenly(nil, []string{"a"}, []string{"x"}, 0)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestAssignTasksEvenly_NoCrewmates(t *testing.T) {
	got, err := AssignTasksEvenly(nil, nil, []string{"x"}, 1)
	require.NoError(t, err)
	assert.Empty(t, got)
}
