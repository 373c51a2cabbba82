package synchistory

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPersistInsertsEveryMessage(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	msgs := []redis.XMessage{
		{ID: "1-0", Values: map[string]any{
			"room": "general", "sender": "alice", "content": "hi", "at": "1700000000000",
		}},
		{ID: "2-0", Values: map[string]any{
			"room": "general", "sender": "bob", "content": "hello", "at": "1700000001000",
		}},
	}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO messages").
		WithArgs("general", "alice", "hi", int64(1700000000000)).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO messages").
		WithArgs("general", "bob", "hello", int64(1700000001000)).
		WillReturnResult(sqlmock.NewResult(2, 1))
	mock.ExpectCommit()

	require.NoError(t, persist(context.Background(), db, msgs))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPersistRollsBackOnFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	msgs := []redis.XMessage{
		{ID: "1-0", Values: map[string]any{
			"room": "general", "sender": "alice", "content": "hi", "at": "1700000000000",
		}},
	}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO messages").
		WithArgs("general", "alice", "hi", int64(1700000000000)).
		WillReturnError(assert.AnError)
	mock.ExpectRollback()

	assert.Error(t, persist(context.Background(), db, msgs))
	assert.NoError(t, mock.ExpectationsWereMet())
}
