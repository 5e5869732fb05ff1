package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCacheLifecycle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c := NewCache(10, time.Minute)

	_, ok, err := c.Get(ctx, "tok")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, Player{Token: "tok", ConnID: "c1", UserID: "u1", Balance: 100}))
	p, ok, err := c.Get(ctx, "tok")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "c1", p.ConnID)

	require.NoError(t, c.Delete(ctx, "tok"))
	_, ok, _ = c.Get(ctx, "tok")
	assert.False(t, ok)
}

func TestCacheReconnectKeepsRoomAndBalance(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c := NewCache(10, time.Minute)
	require.NoError(t, c.Set(ctx, Player{Token: "tok", ConnID: "c1", RoomID: "101", Balance: 80}))

	p, ok, err := c.Update(ctx, "tok", func(p *Player) { p.ConnID = "c2" })
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "c2", p.ConnID)
	assert.Equal(t, "101", p.RoomID)
	assert.Equal(t, 80.0, p.Balance)
}

func TestCacheUpdateMissing(t *testing.T) {
	t.Parallel()

	c := NewCache(10, time.Minute)
	_, ok, err := c.Update(context.Background(), "nobody", func(p *Player) { p.Balance = 1 })
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Zero(t, c.Len())
}

func TestCacheConcurrentUpdates(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c := NewCache(10, time.Minute)
	require.NoError(t, c.Set(ctx, Player{Token: "tok"}))

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, _ = c.Update(ctx, "tok", func(p *Player) { p.Balance++ })
		}()
	}
	wg.Wait()

	p, _, _ := c.Get(ctx, "tok")
	assert.Equal(t, 100.0, p.Balance)
}
