package synchistory

import (
	"context"
	"database/sql"
	"strconv"
	"time"

	"chatpresence/internal/services/history"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const createTable = `
CREATE TABLE IF NOT EXISTS messages (
    id      BIGSERIAL PRIMARY KEY,
    room    TEXT        NOT NULL,
    sender  TEXT        NOT NULL,
    content TEXT        NOT NULL,
    sent_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// Run tails the chat stream and persists every message into Postgres.
// The websocket path only ever appends to the stream, so a slow database
// never backs up into a room broadcast.
func Run(ctx context.Context, rdc *redis.Client, db *sql.DB) {
	if _, err := db.ExecContext(ctx, createTable); err != nil {
		zap.L().Error("synchistory.schema", zap.Error(err))
	}

	go func() {
		lastID := "0-0"
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			// block up to 2 s for new entries
			res, err := rdc.XRead(ctx, &redis.XReadArgs{
				Streams: []string{history.Stream, lastID},
				Count:   100,
				Block:   2000 * time.Millisecond,
			}).Result()
			if err != nil && err != redis.Nil {
				zap.L().Warn("synchistory.xread", zap.Error(err))
				time.Sleep(time.Second)
				continue
			}
			if len(res) == 0 {
				continue
			}
			entries := res[0].Messages
			if err := persist(ctx, db, entries); err != nil {
				zap.L().Warn("synchistory.persist", zap.Error(err))
			}
			lastID = entries[len(entries)-1].ID
		}
	}()
}

func persist(ctx context.Context, db *sql.DB, msgs []redis.XMessage) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	const ins = `INSERT INTO messages (room, sender, content, sent_at)
	             VALUES ($1, $2, $3, to_timestamp($4::double precision / 1000))`
	for _, m := range msgs {
		room, _ := m.Values["room"].(string)
		sender, _ := m.Values["sender"].(string)
		content, _ := m.Values["content"].(string)
		at, _ := m.Values["at"].(string)

		ts, _ := strconv.ParseInt(at, 10, 64)
		if _, err := tx.ExecContext(ctx, ins, room, sender, content, ts); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}
