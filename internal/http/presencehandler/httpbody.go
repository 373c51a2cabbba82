package presencehandler

type OnlineUsersResponse struct {
	Users []string `json:"users"`
	Count int      `json:"count"`
} // @name OnlineUsersResponse

type RoomSummary struct {
	Room    string `json:"room"`
	Members int    `json:"members"`
} // @name RoomSummary

type RoomPresenceResponse struct {
	Room  string   `json:"room"`
	Users []string `json:"users"`
} // @name RoomPresenceResponse

type ErrorResponse struct {
	Error string `json:"error"`
} // @name ErrorResponse

type ListMessagesQuery struct {
	Limit  int `form:"limit,default=50"  binding:"gte=0,lte=200"`
	Offset int `form:"offset,default=0"  binding:"gte=0"`
} // @name ListMessagesQuery
