package document

import (
	"errors"
	"testing"

	"github.com/DoyleJ11/fake-tasker-backend/internal/engine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyOps(t *testing.T) {
	base := map[string]any{
		"players":  []any{"a", "b"},
		"votes":    map[string]any{"a": "b"},
		"killList": []any{},
	}

	cases := []struct {
		name  string
		ops   engine.Update
		check func(t *testing.T, doc map[string]any)
	}{
		{
			name: "union appends only new items",
			ops:  engine.Update{}.Union(engine.Field("players"), "b", "c"),
			check: func(t *testing.T, doc map[string]any) {
				assert.Equal(t, []any{"a", "b", "c"}, doc["players"])
			},
		},
		{
			name: "remove drops items",
			ops:  engine.Update{}.Remove(engine.Field("players"), "a"),
			check: func(t *testing.T, doc map[string]any) {
				assert.Equal(t, []any{"b"}, doc["players"])
			},
		},
		{
			name: "nested set creates the entry",
			ops:  engine.Update{}.Set(engine.Field("votes", "b"), "skip"),
			check: func(t *testing.T, doc map[string]any) {
				assert.Equal(t, map[string]any{"a": "b", "b": "skip"}, doc["votes"])
			},
		},
		{
			name: "nested set works with dotted names",
			ops:  engine.Update{}.Set(engine.Field("votes", "j.r."), "a"),
			check: func(t *testing.T, doc map[string]any) {
				assert.Equal(t, "a", doc["votes"].(map[string]any)["j.r."])
			},
		},
		{
			name: "increment starts from zero",
			ops: engine.Update{}.
				Increment(engine.Field("imposterHistory", "a"), 1).
				Increment(engine.Field("imposterHistory", "a"), 1),
			check: func(t *testing.T, doc map[string]any) {
				assert.Equal(t, int64(2), doc["imposterHistory"].(map[string]any)["a"])
			},
		},
		{
			name: "delete of missing nested field is a no-op",
			ops:  engine.Update{}.Delete(engine.Field("nothing", "here")),
			check: func(t *testing.T, doc map[string]any) {
				assert.NotContains(t, doc, "nothing")
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			doc, err := ApplyOps(base, tc.ops.Ops)
			require.NoError(t, err)
			tc.check(t, doc)
			assert.Equal(t, []any{"a", "b"}, base["players"], "input must not be modified")
		})
	}
}

func TestApplyOps_RejectsPathThroughScalar(t *testing.T) {
	_, err := ApplyOps(map[string]any{"creator": "a"}, engine.Update{}.Set(engine.Field("creator", "x"), 1).Ops)
	require.True(t, errors.Is(err, ErrInvalidPath), "got %v", err)
}

func TestApplyUpdate_UnionIsIdempotent(t *testing.T) {
	doc := map[string]any{"killList": []any{}}
	u := engine.Update{}.Union(engine.Field("killList"), "b")

	once, changed, err := ApplyUpdate(doc, 1, u)
	require.NoError(t, err)
	assert.True(t, changed)

	twice, changed, err := ApplyUpdate(once, 2, u)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, []any{"b"}, twice["killList"])
}
