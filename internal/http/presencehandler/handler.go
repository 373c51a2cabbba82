package presencehandler

import (
	"net/http"
	"sort"

	"chatpresence/internal/presence"
	"chatpresence/internal/services/history"

	"github.com/gin-gonic/gin"
)

// Handler exposes read-only presence queries and room history over REST.
// Presence answers come straight from the in-memory index; queries never
// mutate state.
type Handler struct {
	idx        *presence.Index
	historySvc history.IHistoryService
}

func New(idx *presence.Index, historySvc history.IHistoryService) *Handler {
	return &Handler{idx: idx, historySvc: historySvc}
}

func (h *Handler) Register(r gin.IRoutes) {
	r.GET("/presence/online", h.online)
	r.GET("/presence/rooms", h.rooms)
	r.GET("/presence/rooms/:room", h.roomPresence)
	r.GET("/rooms/:room/messages", h.messages)
}

func (h *Handler) online(c *gin.Context) {
	users := h.idx.OnlineUsers()
	c.JSON(http.StatusOK, OnlineUsersResponse{Users: users, Count: len(users)})
}

func (h *Handler) rooms(c *gin.Context) {
	counts := h.idx.Rooms()
	list := make([]RoomSummary, 0, len(counts))
	for room, members := range counts {
		list = append(list, RoomSummary{Room: room, Members: members})
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Room < list[j].Room })
	c.JSON(http.StatusOK, list)
}

func (h *Handler) roomPresence(c *gin.Context) {
	room := c.Param("room")
	// Unknown rooms are a valid empty result, not a 404.
	c.JSON(http.StatusOK, RoomPresenceResponse{
		Room:  room,
		Users: h.idx.UsersIn(room),
	})
}

func (h *Handler) messages(c *gin.Context) {
	var q ListMessagesQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}
	out, err := h.historySvc.ListMessages(c.Request.Context(), c.Param("room"), q.Limit, q.Offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, out)
}
