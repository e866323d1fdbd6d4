package api

// Request and response types for REST endpoints. Amounts travel as decimal
// strings so wei-scale values survive JSON number precision.

// ==============================
// Requests
// ==============================

// NativeDepositRequest credits the attached value. Amount is the value the
// transport actually received alongside the call.
type NativeDepositRequest struct {
	Owner  string `json:"owner"`
	Amount string `json:"amount"`
}

// TokenDepositRequest pulls tokens from the owner's external holdings.
// Requires prior external authorization to the exchange's custody account.
type TokenDepositRequest struct {
	Token  string `json:"token"`
	Owner  string `json:"owner"`
	Amount string `json:"amount"`
}

type WithdrawRequest struct {
	Asset  string `json:"asset"`
	Owner  string `json:"owner"`
	Amount string `json:"amount"`
}

type CreateOrderRequest struct {
	Creator    string `json:"creator"`
	AssetGet   string `json:"assetGet"`
	AmountGet  string `json:"amountGet"`
	AssetGive  string `json:"assetGive"`
	AmountGive string `json:"amountGive"`
}

// OrderActionRequest identifies the caller of a cancel or fill.
type OrderActionRequest struct {
	Caller string `json:"caller"`
}

// ==============================
// Responses
// ==============================

type BalanceInfo struct {
	Asset   string `json:"asset"`
	Owner   string `json:"owner"`
	Balance string `json:"balance"`
}

type OrderInfo struct {
	ID         uint64 `json:"id"`
	Creator    string `json:"creator"`
	AssetGet   string `json:"assetGet"`
	AmountGet  string `json:"amountGet"`
	AssetGive  string `json:"assetGive"`
	AmountGive string `json:"amountGive"`
	Timestamp  int64  `json:"timestamp"`
	Filled     bool   `json:"filled"`
	Cancelled  bool   `json:"cancelled"`
}

// OrderStatusInfo reports the terminal flags; unknown ids read as both false.
type OrderStatusInfo struct {
	ID        uint64 `json:"id"`
	Filled    bool   `json:"filled"`
	Cancelled bool   `json:"cancelled"`
}

type OrderCountInfo struct {
	Count uint64 `json:"count"`
}

// ConfigInfo exposes the construction-time configuration.
type ConfigInfo struct {
	FeeAccount string `json:"feeAccount"`
	FeePercent uint64 `json:"feePercent"`
}

type ErrorResponse struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

// ==============================
// WebSocket
// ==============================

// WSSubscribeRequest is sent by a client to narrow its event stream.
// Channels are event type names ("Deposit", "Withdraw", "Order", "Cancel",
// "Trade"); a client with no subscriptions receives everything.
type WSSubscribeRequest struct {
	Op       string   `json:"op"` // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"`
}
