// Package session caches per-player state for live connections. Entries are
// keyed by the player's auth token so a reconnect finds the same session;
// the live connection id is a separate field that is replaced on reconnect.
package session

import (
	"context"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

// Player is the cached state of one authenticated player.
type Player struct {
	Token      string  `json:"token"`
	ConnID     string  `json:"socketId"`
	UserID     string  `json:"userId"`
	OperatorID string  `json:"operatorId"`
	GameID     string  `json:"game_id"`
	Balance    float64 `json:"balance"`
	RoomID     string  `json:"roomId"`
	IP         string  `json:"ip"`
}

// Store is the session cache used by the game.
type Store interface {
	Get(ctx context.Context, token string) (Player, bool, error)
	Set(ctx context.Context, p Player) error
	// Update applies fn to the cached player atomically and returns the result.
	// It reports false when no session exists for token.
	Update(ctx context.Context, token string, fn func(*Player)) (Player, bool, error)
	Delete(ctx context.Context, token string) error
}

const (
	DefaultTTL        = time.Hour
	DefaultMaxEntries = 100_000
)

// Cache is an in-process Store with a fixed TTL per entry.
type Cache struct {
	mu  sync.Mutex
	lru *lru.LRU[string, Player]
}

// NewCache returns a Cache holding at most size sessions, each expiring ttl
// after its last write.
func NewCache(size int, ttl time.Duration) *Cache {
	if size <= 0 {
		size = DefaultMaxEntries
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{lru: lru.NewLRU[string, Player](size, nil, ttl)}
}

func (c *Cache) Get(_ context.Context, token string) (Player, bool, error) {
	p, ok := c.lru.Get(token)
	return p, ok, nil
}

func (c *Cache) Set(_ context.Context, p Player) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Add(p.Token, p)
	return nil
}

func (c *Cache) Update(_ context.Context, token string, fn func(*Player)) (Player, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.lru.Get(token)
	if !ok {
		return Player{}, false, nil
	}
	fn(&p)
	p.Token = token
	c.lru.Add(token, p)
	return p, true, nil
}

func (c *Cache) Delete(_ context.Context, token string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Remove(token)
	return nil
}

// Len returns the number of live sessions.
func (c *Cache) Len() int {
	return c.lru.Len()
}
