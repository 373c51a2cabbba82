package syncpresence

import (
	"context"
	"time"

	"chatpresence/internal/presence"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	onlineKey     = "presence:online"
	roomKeyPrefix = "presence:room:"
	snapshotTTL   = 30 * time.Second
	syncPeriod    = 10 * time.Second
)

// Run mirrors the in-memory presence tables into Redis every 10 s so other
// services (and operators) can inspect who is online without talking to the
// gateway. Keys expire, so a crashed instance's snapshot fades on its own.
func Run(ctx context.Context, rdc *redis.Client, idx *presence.Index) {
	tk := time.NewTicker(syncPeriod)
	go func() {
		defer tk.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-tk.C:
				syncOnce(ctx, rdc, idx)
			}
		}
	}()
}

func syncOnce(ctx context.Context, rdc *redis.Client, idx *presence.Index) {
	online := idx.OnlineUsers()
	rooms := idx.Rooms()

	// one pipelined round-trip for the whole snapshot
	pipe := rdc.Pipeline()
	pipe.Del(ctx, onlineKey)
	if len(online) > 0 {
		members := make([]any, len(online))
		for i, u := range online {
			members[i] = u
		}
		pipe.SAdd(ctx, onlineKey, members...)
		pipe.Expire(ctx, onlineKey, snapshotTTL)
	}
	for room := range rooms {
		key := roomKeyPrefix + room
		pipe.Del(ctx, key)
		users := idx.UsersIn(room)
		if len(users) == 0 {
			continue
		}
		members := make([]any, len(users))
		for i, u := range users {
			members[i] = u
		}
		pipe.SAdd(ctx, key, members...)
		pipe.Expire(ctx, key, snapshotTTL)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		zap.L().Warn("syncpresence.pipeline", zap.Error(err))
	}
}
