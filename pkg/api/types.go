package api

// REST request/response types. Addresses are 0x-hex; prices and
// quantities are integer ticks and lots, balances integer base units.

// PoolInfo is a pool's static configuration.
type PoolInfo struct {
	Base         string `json:"base"`
	Quote        string `json:"quote"`
	TickSize     int64  `json:"tickSize"`
	LotSize      int64  `json:"lotSize"`
	MinOrderSize int64  `json:"minOrderSize"`
	MinNotional  int64  `json:"minNotional"`
	MakerFeeBps  int64  `json:"makerFeeBps"`
	TakerFeeBps  int64  `json:"takerFeeBps"`
}

// BookLevel is one aggregated price level.
type BookLevel struct {
	Price  int64 `json:"price"`
	Volume int64 `json:"volume"`
	Count  int   `json:"count"`
}

// BookSnapshot is the depth view of one pool.
type BookSnapshot struct {
	Base      string      `json:"base"`
	Quote     string      `json:"quote"`
	Bids      []BookLevel `json:"bids"` // best (highest) first
	Asks      []BookLevel `json:"asks"` // best (lowest) first
	Timestamp int64       `json:"timestamp"`
}

// OrderInfo is an order record, resting or terminal.
type OrderInfo struct {
	ID        uint64 `json:"id"`
	Owner     string `json:"owner"`
	Side      string `json:"side"`
	Type      string `json:"type"`
	Price     int64  `json:"price"`
	Qty       int64  `json:"qty"`
	Filled    int64  `json:"filled"`
	Remaining int64  `json:"remaining"`
	Status    string `json:"status"`
}

// BalanceInfo is one owner's balance in one currency.
type BalanceInfo struct {
	Owner     string `json:"owner"`
	Currency  string `json:"currency"`
	Available int64  `json:"available"`
	Locked    int64  `json:"locked"`
}

// PlaceOrderRequest submits a limit or market order, optionally depositing
// collateral first.
type PlaceOrderRequest struct {
	Base    string `json:"base"`
	Quote   string `json:"quote"`
	Owner   string `json:"owner"`
	Side    string `json:"side"` // "buy" | "sell"
	Type    string `json:"type"` // "limit" | "market"
	Price   int64  `json:"price,omitempty"`
	Qty     int64  `json:"qty"`
	Deposit int64  `json:"deposit,omitempty"`
}

// PlaceOrderResponse returns the assigned id and resulting fills.
type PlaceOrderResponse struct {
	OrderID uint64     `json:"orderId"`
	Status  string     `json:"status"`
	Fills   []FillInfo `json:"fills"`
}

// FillInfo is one fill of the submitted order.
type FillInfo struct {
	Price   int64  `json:"price"`
	Qty     int64  `json:"qty"`
	MakerID uint64 `json:"makerOrderId"`
}

// CancelOrderRequest cancels a resting order.
type CancelOrderRequest struct {
	Base    string `json:"base"`
	Quote   string `json:"quote"`
	Caller  string `json:"caller"`
	OrderID uint64 `json:"orderId"`
}

// SwapRequest executes a slippage-guarded market swap.
type SwapRequest struct {
	Caller    string `json:"caller"`
	Src       string `json:"src"`
	Dst       string `json:"dst"`
	AmountIn  int64  `json:"amountIn"`
	MinOut    int64  `json:"minOut"`
	Recipient string `json:"recipient,omitempty"` // defaults to caller
}

// SwapResponse reports the realized output.
type SwapResponse struct {
	AmountOut int64 `json:"amountOut"`
}

// QuoteRequest estimates swap output without touching state.
type QuoteRequest struct {
	Src         string `json:"src"`
	Dst         string `json:"dst"`
	AmountIn    int64  `json:"amountIn"`
	SlippageBps int64  `json:"slippageBps"`
}

// QuoteResponse is the advisory minOut bound.
type QuoteResponse struct {
	MinOut int64 `json:"minOut"`
}

// TransferRequest deposits or withdraws owner funds.
type TransferRequest struct {
	Owner    string `json:"owner"`
	Currency string `json:"currency"`
	Amount   int64  `json:"amount"`
}

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
