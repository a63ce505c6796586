// Package state, tam olarak bir kez çalışması gereken yan etkiler için kilitleri yönetir.
package state

import (
	"context"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// DefaultGuardTTL, bildirim kilitlerinin yaşam süresidir; kayıt hazır geri çağrıları bu süreden çok önce gelir.
const DefaultGuardTTL = 24 * time.Hour

// Guard, bir anahtarı ilk talep edene true döndüren kilit arayüzüdür.
type Guard interface {
	Claim(ctx context.Context, key string) (bool, error)
}

// RedisGuard, kilitleri Redis SetNX ile tutar; birden fazla süreç aynı anahtarı yalnızca bir kez kazanır.
type RedisGuard struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisGuard(rdb *redis.Client) *RedisGuard {
	return &RedisGuard{rdb: rdb, ttl: DefaultGuardTTL}
}

func (g *RedisGuard) RedisClient() *redis.Client {
	return g.rdb
}

func (g *RedisGuard) Claim(ctx context.Context, key string) (bool, error) {
	return g.rdb.SetNX(ctx, key, time.Now().UTC().Format(time.RFC3339), g.ttl).Result()
}

// MemoryGuard, Redis yapılandırılmadığında kullanılan süreç içi kilittir.
type MemoryGuard struct {
	mu      sync.Mutex
	claimed map[string]time.Time
	ttl     time.Duration
	now     func() time.Time
}

func NewMemoryGuard() *MemoryGuard {
	return &MemoryGuard{
		claimed: make(map[string]time.Time),
		ttl:     DefaultGuardTTL,
		now:     time.Now,
	}
}

func (g *MemoryGuard) Claim(_ context.Context, key string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.now()
	if at, ok := g.claimed[key]; ok && now.Sub(at) < g.ttl {
		return false, nil
	}
	g.claimed[key] = now
	g.sweep(now)
	return true, nil
}

func (g *MemoryGuard) sweep(now time.Time) {
	for k, at := range g.claimed {
		if now.Sub(at) >= g.ttl {
			delete(g.claimed, k)
		}
	}
}
