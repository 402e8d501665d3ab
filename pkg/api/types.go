package api

// API response types for REST endpoints and WebSocket messages

// ==============================
// REST Response Types
// ==============================

// MarketInfo represents a market's static configuration
type MarketInfo struct {
	ID       string   `json:"id"`       // e.g., "us-election-2028"
	Title    string   `json:"title"`    // Human readable title
	Outcomes []string `json:"outcomes"` // e.g., ["Yes", "No"]
	Status   string   `json:"status"`   // "Active", "Paused", "Resolved"
}

// PriceLevel represents [price, quantity] at one level
type PriceLevel struct {
	Price int64 `json:"price"` // Fixed point, 1e6 = 1.000000
	Size  int64 `json:"size"`  // Aggregate open quantity
}

// BookSnapshot represents current book state for one (market, outcome)
type BookSnapshot struct {
	Market    string       `json:"market"`
	Outcome   uint32       `json:"outcome"`
	Bids      []PriceLevel `json:"bids"` // Sorted high to low
	Asks      []PriceLevel `json:"asks"` // Sorted low to high
	BestBid   int64        `json:"bestBid"` // 0 when side empty
	BestAsk   int64        `json:"bestAsk"`
	Timestamp int64        `json:"timestamp"` // Unix seconds
}

// OrderInfo represents an order (open or historical)
type OrderInfo struct {
	ID        string `json:"id"`
	Maker     string `json:"maker"`
	Market    string `json:"market"`
	Outcome   uint32 `json:"outcome"`
	Side      string `json:"side"` // "buy" or "sell"
	Price     int64  `json:"price"`
	Amount    int64  `json:"amount"`
	Filled    int64  `json:"filled"`
	Remaining int64  `json:"remaining"`
	Status    string `json:"status"` // "open", "partially_filled", "filled", "cancelled", "expired"
	Salt      uint64 `json:"salt"`
	Expiry    int64  `json:"expiry"` // Unix seconds, 0 = none
	Timestamp int64  `json:"timestamp"`
}

// TradeInfo represents one execution
type TradeInfo struct {
	ID           string `json:"id"`
	Market       string `json:"market"`
	Outcome      uint32 `json:"outcome"`
	MakerOrderID string `json:"makerOrderId"`
	TakerOrderID string `json:"takerOrderId"`
	Price        int64  `json:"price"` // Maker's price
	Size         int64  `json:"size"`
	State        string `json:"state"` // "proposed", "confirmed", "reverted"
	Timestamp    int64  `json:"timestamp"`
}

// SubmitOrderResponse is the response from order submission
type SubmitOrderResponse struct {
	Status    string      `json:"status"` // "accepted"
	OrderID   string      `json:"orderId"`
	Remaining int64       `json:"remaining"`
	Trades    []TradeInfo `json:"trades"`
}

// CancelOrderResponse is the response from a cancel request
type CancelOrderResponse struct {
	Status          string `json:"status"` // Final order status
	OrderID         string `json:"orderId"`
	AlreadyTerminal bool   `json:"alreadyTerminal"`
}

// ErrorResponse is returned for all errors
type ErrorResponse struct {
	Error   string `json:"error"`   // Machine readable reason code
	Message string `json:"message"` // Human readable detail
}

// ==============================
// WebSocket Message Types
// ==============================

// WSSubscribeRequest is sent by client to subscribe to channels
type WSSubscribeRequest struct {
	Op       string   `json:"op"`       // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"` // e.g., ["book:us-election-2028:0", "trades:us-election-2028"]
}

// BookUpdate is broadcast when a book's depth changes
type BookUpdate struct {
	Type      string       `json:"type"` // "book"
	Market    string       `json:"market"`
	Outcome   uint32       `json:"outcome"`
	Bids      []PriceLevel `json:"bids"`
	Asks      []PriceLevel `json:"asks"`
	Timestamp int64        `json:"timestamp"`
}

// TradeUpdate is broadcast when a trade executes
type TradeUpdate struct {
	Type      string `json:"type"` // "trade"
	TradeID   string `json:"tradeId"`
	Market    string `json:"market"`
	Outcome   uint32 `json:"outcome"`
	Price     int64  `json:"price"`
	Size      int64  `json:"size"`
	State     string `json:"state"`
	Timestamp int64  `json:"timestamp"`
}
