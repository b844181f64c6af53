// Package redisstore caches computed dashboard payloads. Aggregation walks
// every message in the window, so repeated dashboard loads within the TTL
// are served from the cache instead of re-scanning.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const dashboardTTL = 30 * time.Second

type Store struct {
	rdb *redis.Client
}

func New(addr, password string, db int) *Store {
	return &Store{rdb: redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})}
}

func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

func (s *Store) Close() error {
	return s.rdb.Close()
}

// DashboardKey derives the cache key from the filter triple; truncating
// bounds to the second keeps semantically equal requests on the same key.
func DashboardKey(userID string, from, to time.Time) string {
	return fmt.Sprintf("dashboard:%s:%d:%d", userID, from.Unix(), to.Unix())
}

// GetDashboard returns the cached JSON payload, or ok=false on a miss.
func (s *Store) GetDashboard(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := s.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return b, true, nil
}

// SetDashboard stores a computed payload under the short dashboard TTL.
func (s *Store) SetDashboard(ctx context.Context, key string, payload []byte) error {
	return s.rdb.Set(ctx, key, payload, dashboardTTL).Err()
}
