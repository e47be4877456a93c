package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerfedge/scenecache/pkg/types"
)

func TestNewPolicyFallsBackToLRU(t *testing.T) {
	p := NewPolicy(types.EvictionPolicy("bogus"), 10)
	_, ok := p.(*lruPolicy)
	assert.True(t, ok)
}

func TestLRUVictimOrder(t *testing.T) {
	p := newLRUPolicy()
	for _, key := range []string{"a", "b", "c"} {
		p.Prepare(key)
		p.OnPut(key)
	}
	p.OnGet("a") // a is now most recent

	key, ok := p.Victim()
	require.True(t, ok)
	assert.Equal(t, "b", key)

	key, ok = p.Victim()
	require.True(t, ok)
	assert.Equal(t, "c", key)

	key, ok = p.Victim()
	require.True(t, ok)
	assert.Equal(t, "a", key)

	_, ok = p.Victim()
	assert.False(t, ok)
}

func TestLFUVictimLowestCount(t *testing.T) {
	p := newLFUPolicy()
	for _, key := range []string{"a", "b", "c"} {
		p.OnPut(key)
	}
	p.OnGet("a")
	p.OnGet("a")
	p.OnGet("c")

	key, ok := p.Victim()
	require.True(t, ok)
	assert.Equal(t, "b", key)
}

func TestLFUTieBrokenByOldestInsertion(t *testing.T) {
	p := newLFUPolicy()
	p.OnPut("first")
	p.OnPut("second")

	key, ok := p.Victim()
	require.True(t, ok)
	assert.Equal(t, "first", key)
}

func TestLFUOverwriteCountsAsAccess(t *testing.T) {
	p := newLFUPolicy()
	p.OnPut("a")
	p.OnPut("b")
	p.OnPut("a") // overwrite bumps a's count

	key, ok := p.Victim()
	require.True(t, ok)
	assert.Equal(t, "b", key)
}

func TestFIFOIgnoresAccess(t *testing.T) {
	p := newFIFOPolicy()
	p.OnPut("a")
	p.OnPut("b")
	p.OnGet("a")
	p.OnPut("a") // overwrite keeps the original position

	key, ok := p.Victim()
	require.True(t, ok)
	assert.Equal(t, "a", key)
}

func TestPolicyOnRemoveDropsKey(t *testing.T) {
	for _, variant := range []types.EvictionPolicy{
		types.EvictionLRU, types.EvictionLFU, types.EvictionFIFO, types.EvictionAdaptive,
	} {
		t.Run(string(variant), func(t *testing.T) {
			p := NewPolicy(variant, 10)
			p.Prepare("a")
			p.OnPut("a")
			p.OnRemove("a")

			_, ok := p.Victim()
			assert.False(t, ok)
		})
	}
}
