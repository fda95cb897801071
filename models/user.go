package models

// OrderSide, OrderType and friends are the exchange's enum strings.
type (
	OrderSide         string
	OrderType         string
	TimeInForce       string
	ExecutionType     string
	OrderStatus       string
	OrderRejectReason string
)

const (
	SideBuy  OrderSide = "BUY"
	SideSell OrderSide = "SELL"

	OrderTypeMarket          OrderType = "MARKET"
	OrderTypeLimit           OrderType = "LIMIT"
	OrderTypeStopLoss        OrderType = "STOP_LOSS"
	OrderTypeStopLossLimit   OrderType = "STOP_LOSS_LIMIT"
	OrderTypeTakeProfit      OrderType = "TAKE_PROFIT"
	OrderTypeTakeProfitLimit OrderType = "TAKE_PROFIT_LIMIT"
	OrderTypeLimitMaker      OrderType = "LIMIT_MAKER"

	TimeInForceGTC TimeInForce = "GTC"
	TimeInForceIOC TimeInForce = "IOC"
	TimeInForceFOK TimeInForce = "FOK"

	ExecutionNew      ExecutionType = "NEW"
	ExecutionCanceled ExecutionType = "CANCELED"
	ExecutionReplaced ExecutionType = "REPLACED"
	ExecutionRejected ExecutionType = "REJECTED"
	ExecutionTrade    ExecutionType = "TRADE"
	ExecutionExpired  ExecutionType = "EXPIRED"

	StatusNew             OrderStatus = "NEW"
	StatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	StatusFilled          OrderStatus = "FILLED"
	StatusCanceled        OrderStatus = "CANCELED"
	StatusPendingCancel   OrderStatus = "PENDING_CANCEL"
	StatusRejected        OrderStatus = "REJECTED"
	StatusExpired         OrderStatus = "EXPIRED"

	RejectNone OrderRejectReason = "NONE"
)

// AccountUpdate is the balance snapshot pushed on the user data stream.
type AccountUpdate struct {
	EventType            string    `json:"e"`
	EventTime            int64     `json:"E"`
	MakerCommissionRate  int64     `json:"m"`
	TakerCommissionRate  int64     `json:"t"`
	BuyerCommissionRate  int64     `json:"b"`
	SellerCommissionRate int64     `json:"s"`
	CanTrade             bool      `json:"T"`
	CanWithdraw          bool      `json:"W"`
	CanDeposit           bool      `json:"D"`
	LastUpdateTime       int64     `json:"u"`
	Balances             []Balance `json:"B"`
}

// Balance is one asset entry of an AccountUpdate.
type Balance struct {
	Asset  string  `json:"a"`
	Free   Decimal `json:"f"`
	Locked Decimal `json:"l"`
}

// OrderUpdate is the execution report pushed on the user data stream.
// OrigClientOrderID and CommissionAsset are absent or null for some
// execution types.
type OrderUpdate struct {
	EventType                string            `json:"e"`
	EventTime                int64             `json:"E"`
	Symbol                   string            `json:"s"`
	ClientOrderID            string            `json:"c"`
	Side                     OrderSide         `json:"S"`
	Type                     OrderType         `json:"o"`
	TimeInForce              TimeInForce       `json:"f"`
	Quantity                 Decimal           `json:"q"`
	Price                    Decimal           `json:"p"`
	StopPrice                Decimal           `json:"P"`
	IcebergQuantity          Decimal           `json:"F"`
	OrderListID              int64             `json:"g"`
	OrigClientOrderID        *string           `json:"C,omitempty"`
	ExecutionType            ExecutionType     `json:"x"`
	Status                   OrderStatus       `json:"X"`
	RejectReason             OrderRejectReason `json:"r"`
	OrderID                  int64             `json:"i"`
	LastExecutedQuantity     Decimal           `json:"l"`
	CumulativeFilledQuantity Decimal           `json:"z"`
	LastExecutedPrice        Decimal           `json:"L"`
	Commission               Decimal           `json:"n"`
	CommissionAsset          *string           `json:"N,omitempty"`
	TransactionTime          int64             `json:"T"`
	TradeID                  int64             `json:"t"`
	IsWorking                bool              `json:"w"`
	IsMaker                  bool              `json:"m"`
	CreationTime             int64             `json:"O"`
	CumulativeQuoteQuantity  Decimal           `json:"Z"`
	LastQuoteQuantity        Decimal           `json:"Y"`
	QuoteOrderQuantity       *Decimal          `json:"Q,omitempty"`
	WorkingTime              *int64            `json:"W,omitempty"`
	SelfTradePreventionMode  string            `json:"V,omitempty"`
	IgnoreI                  int64             `json:"I,omitempty"`
	IgnoreM                  bool              `json:"M,omitempty"`
}
