package presencehandler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"chatpresence/internal/presence"
	"chatpresence/internal/services/history"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubHistory struct {
	entries []history.Entry
	err     error
	gotRoom string
	gotLim  int
	gotOff  int
}

func (s *stubHistory) Record(string, string, string, time.Time) {}

func (s *stubHistory) ListMessages(_ context.Context, room string, limit, offset int) ([]history.Entry, error) {
	s.gotRoom, s.gotLim, s.gotOff = room, limit, offset
	return s.entries, s.err
}

func setup(idx *presence.Index, hist history.IHistoryService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	engine := gin.New()
	New(idx, hist).Register(engine)
	return engine
}

func get(engine *gin.Engine, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	engine.ServeHTTP(w, req)
	return w
}

func TestOnlineEndpoint(t *testing.T) {
	idx := presence.NewIndex()
	idx.MarkOnline("alice")
	idx.MarkOnline("bob")
	engine := setup(idx, &stubHistory{})

	w := get(engine, "/presence/online")
	require.Equal(t, http.StatusOK, w.Code)

	var resp OnlineUsersResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, []string{"alice", "bob"}, resp.Users)
	assert.Equal(t, 2, resp.Count)
}

func TestRoomsEndpoint(t *testing.T) {
	idx := presence.NewIndex()
	idx.Join("alice", "general")
	idx.Join("bob", "general")
	idx.Join("carol", "random")
	engine := setup(idx, &stubHistory{})

	w := get(engine, "/presence/rooms")
	require.Equal(t, http.StatusOK, w.Code)

	var resp []RoomSummary
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, []RoomSummary{
		{Room: "general", Members: 2},
		{Room: "random", Members: 1},
	}, resp)
}

func TestRoomPresenceEndpointUnknownRoom(t *testing.T) {
	engine := setup(presence.NewIndex(), &stubHistory{})

	w := get(engine, "/presence/rooms/nowhere")
	require.Equal(t, http.StatusOK, w.Code, "unknown room is a valid empty result")

	var resp RoomPresenceResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "nowhere", resp.Room)
	assert.Empty(t, resp.Users)
}

func TestMessagesEndpoint(t *testing.T) {
	hist := &stubHistory{entries: []history.Entry{
		{ID: 1, Room: "general", Sender: "alice", Content: "hi"},
	}}
	engine := setup(presence.NewIndex(), hist)

	w := get(engine, "/rooms/general/messages?limit=10&offset=5")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "general", hist.gotRoom)
	assert.Equal(t, 10, hist.gotLim)
	assert.Equal(t, 5, hist.gotOff)

	var resp []history.Entry
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp, 1)
	assert.Equal(t, "alice", resp[0].Sender)
}

func TestMessagesEndpointRejectsBadQuery(t *testing.T) {
	engine := setup(presence.NewIndex(), &stubHistory{})

	w := get(engine, "/rooms/general/messages?limit=-1")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
