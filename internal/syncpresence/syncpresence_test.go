package syncpresence

import (
	"context"
	"testing"

	"chatpresence/internal/presence"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
)

func TestSyncOnceMirrorsSnapshot(t *testing.T) {
	rdc, mock := redismock.NewClientMock()
	idx := presence.NewIndex()
	idx.MarkOnline("alice")
	idx.MarkOnline("bob")
	idx.Join("alice", "general")
	idx.Join("bob", "general")

	mock.ExpectDel(onlineKey).SetVal(1)
	mock.ExpectSAdd(onlineKey, "alice", "bob").SetVal(2)
	mock.ExpectExpire(onlineKey, snapshotTTL).SetVal(true)
	mock.ExpectDel(roomKeyPrefix + "general").SetVal(1)
	mock.ExpectSAdd(roomKeyPrefix+"general", "alice", "bob").SetVal(2)
	mock.ExpectExpire(roomKeyPrefix+"general", snapshotTTL).SetVal(true)

	syncOnce(context.Background(), rdc, idx)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSyncOnceEmptySnapshot(t *testing.T) {
	rdc, mock := redismock.NewClientMock()
	idx := presence.NewIndex()

	mock.ExpectDel(onlineKey).SetVal(0)

	syncOnce(context.Background(), rdc, idx)
	assert.NoError(t, mock.ExpectationsWereMet())
}
