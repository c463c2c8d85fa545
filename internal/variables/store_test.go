package variables

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnknownKeyIsNil(t *testing.T) {
	s := New()
	assert.Nil(t, s.Get("missing"))
	assert.False(t, s.Has("missing"))
}

func TestSeedSnapshotWinsAndDeepMerges(t *testing.T) {
	defaults := map[string]any{
		"name": "default",
		"prefs": map[string]any{
			"lang":  "en",
			"theme": "light",
		},
	}
	snapshot := map[string]any{
		"name": "alice",
		"prefs": map[string]any{
			"theme": "dark",
		},
	}

	s, err := Seed(defaults, snapshot)
	require.NoError(t, err)

	assert.Equal(t, "alice", s.Get("name"))
	prefs, ok := s.Get("prefs").(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "dark", prefs["theme"])
	assert.Equal(t, "en", prefs["lang"])
}

func TestAliasResolution(t *testing.T) {
	s := New()
	s.Set("step_42", 10)
	s.RegisterAlias("total", "step_42")

	assert.Equal(t, 10, s.Get("total"))
	s.Set("total", 11)
	assert.Equal(t, 11, s.Get("step_42"))

	s.Delete("total")
	assert.False(t, s.Has("step_42"))
}

func TestGetAllIsASnapshot(t *testing.T) {
	s := New()
	s.Set("a", 1)
	snap := s.GetAll()
	s.Set("a", 2)
	assert.Equal(t, 1, snap["a"])
	assert.Equal(t, 2, s.Get("a"))
}

func TestMergeAppliesBatch(t *testing.T) {
	s := New()
	s.Set("a", 1)
	s.Merge(map[string]any{"a": 2, "b": 3})
	assert.Equal(t, 2, s.Get("a"))
	assert.Equal(t, 3, s.Get("b"))
	assert.Equal(t, 2, s.Len())

	s.Merge(nil)
	assert.Equal(t, 2, s.Len())
}
