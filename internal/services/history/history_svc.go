package history

import (
	"context"
	"database/sql"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Stream is the Redis stream chat messages are appended to. A background
// persister tails it into Postgres, so Record never waits on the database.
const Stream = "chat_stream"

const recordTimeout = 2 * time.Second

// Entry is one persisted chat message.
type Entry struct {
	ID      int64     `json:"id"`
	Room    string    `json:"room"`
	Sender  string    `json:"sender"`
	Content string    `json:"content"`
	SentAt  time.Time `json:"sent_at"`
}

type IHistoryService interface {
	Record(room, sender, content string, ts time.Time)
	ListMessages(ctx context.Context, room string, limit, offset int) ([]Entry, error)
}

type historyService struct {
	rdc *redis.Client
	db  *sql.DB
}

func NewHistoryService(rdc *redis.Client, db *sql.DB) IHistoryService {
	return &historyService{rdc: rdc, db: db}
}

// Record appends the message to the chat stream, fire-and-forget: the caller
// never learns about persistence failures, they are only logged.
func (svc *historyService) Record(room, sender, content string, ts time.Time) {
	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()

	err := svc.rdc.XAdd(ctx, &redis.XAddArgs{
		Stream: Stream,
		Values: []any{
			"room", room,
			"sender", sender,
			"content", content,
			"at", ts.UnixMilli(),
		},
	}).Err()
	if err != nil {
		zap.L().Warn("history.xadd", zap.String("room", room), zap.Error(err))
	}
}

func (svc *historyService) ListMessages(ctx context.Context, room string,
	limit, offset int) ([]Entry, error) {

	if limit == 0 {
		limit = 50
	}
	const q = `SELECT id, room, sender, content, sent_at
	             FROM messages
	            WHERE room = $1
	            ORDER BY sent_at DESC, id DESC
	            LIMIT $2 OFFSET $3`
	rows, err := svc.db.QueryContext(ctx, q, room, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	list := make([]Entry, 0, limit)
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.Room, &e.Sender, &e.Content, &e.SentAt); err != nil {
			return nil, err
		}
		list = append(list, e)
	}
	return list, rows.Err()
}
