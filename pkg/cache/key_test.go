package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuildKey(t *testing.T) {
	t.Run("EmptyFilters", func(t *testing.T) {
		assert.Equal(t, "manager_dashboard:{}", BuildKey(NamespaceManager, nil))
		assert.Equal(t, "manager_dashboard:{}", BuildKey(NamespaceManager, map[string]string{}))
	})

	t.Run("SortedEncoding", func(t *testing.T) {
		key := BuildKey(NamespaceManager, map[string]string{
			"period":  "30D",
			"project": "EDP",
			"owner":   "alice",
		})
		assert.Equal(t, "manager_dashboard:{owner:alice,period:30D,project:EDP}", key)
	})

	t.Run("OrderIndependent", func(t *testing.T) {
		a := BuildKey(NamespaceCost, map[string]string{"period": "7D", "project": "X"})
		b := BuildKey(NamespaceCost, map[string]string{"project": "X", "period": "7D"})
		assert.Equal(t, a, b)
	})

	t.Run("DifferentFiltersDifferentKeys", func(t *testing.T) {
		a := BuildKey(NamespaceCost, map[string]string{"period": "7D"})
		b := BuildKey(NamespaceCost, map[string]string{"period": "30D"})
		assert.NotEqual(t, a, b)
	})
}

func TestNamespace(t *testing.T) {
	assert.Equal(t, "manager_dashboard", Namespace("manager_dashboard:{period:30D}"))
	assert.Equal(t, "plain", Namespace("plain"))
}

func TestMatchPattern(t *testing.T) {
	key := BuildKey(NamespaceManager, map[string]string{"period": "30D"})

	assert.True(t, MatchPattern("manager_dashboard:*", key))
	assert.True(t, MatchPattern(key, key))
	assert.True(t, MatchPattern("*", key))
	assert.False(t, MatchPattern("cost_dashboard:*", key))
	assert.False(t, MatchPattern("manager_dashboard:{period:7D}", key))
}
