package protocol

const (
	ActionRequestBoardFeed     = "requestBoardFeed"
	ActionStopBoardFeed        = "stopBoardFeed"
	ActionRequestWatchListFeed = "requestWatchListFeed"
	ActionStopWatchListFeed    = "stopWatchListFeed"
)

const (
	TypeBoard          = "board"
	TypeTick           = "tick"
	TypeWatchListBatch = "watchlist:batch"
	TypeError          = "error"
)

const (
	CodeAuthRequired        = "AUTH_REQUIRED"
	CodeHoldingsUnavailable = "HOLDINGS_UNAVAILABLE"
	CodeUnknownAction       = "UNKNOWN_ACTION"
	CodeInvalidMessage      = "INVALID_MESSAGE"
)

type WSRequest struct {
	Action string `json:"action"`
	ID     string `json:"id,omitempty"`
}

type WSResponse struct {
	Type string      `json:"type"`         // "board", "tick", "watchlist:batch", "error"
	ID   string      `json:"id,omitempty"` // Matches request ID
	Data interface{} `json:"data,omitempty"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}

// Error builds an error event answering request id.
func Error(id, code, msg string) WSResponse {
	return WSResponse{Type: TypeError, ID: id, Data: ErrorPayload{Code: code, Message: msg}}
}
