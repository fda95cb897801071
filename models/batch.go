package models

import "time"

// Record is one normalized market-data row derived from a trade, aggregate
// trade or candle event. Candle columns are zero for trades and vice versa.
type Record struct {
	Symbol       string    `json:"symbol"`
	Kind         EventKind `json:"kind"`
	EventTime    int64     `json:"event_time"`
	TradeID      int64     `json:"trade_id,omitempty"`
	Price        Decimal   `json:"price"`
	Quantity     Decimal   `json:"quantity"`
	IsBuyerMaker bool      `json:"is_buyer_maker,omitempty"`
	Interval     string    `json:"interval,omitempty"`
	OpenTime     int64     `json:"open_time,omitempty"`
	CloseTime    int64     `json:"close_time,omitempty"`
	Open         Decimal   `json:"open"`
	High         Decimal   `json:"high"`
	Low          Decimal   `json:"low"`
	Closed       bool      `json:"closed,omitempty"`
	ReceivedTime int64     `json:"received_time"`
}

// Batch groups records of one kind and symbol for persistence.
type Batch struct {
	BatchID     string    `json:"batch_id"`
	Kind        EventKind `json:"kind"`
	Symbol      string    `json:"symbol"`
	Records     []Record  `json:"records"`
	RecordCount int       `json:"record_count"`
	Timestamp   time.Time `json:"timestamp"`
	ProcessedAt time.Time `json:"processed_at"`
}

// AccountInfo is the REST account snapshot.
type AccountInfo struct {
	MakerCommission  int64     `json:"makerCommission"`
	TakerCommission  int64     `json:"takerCommission"`
	BuyerCommission  int64     `json:"buyerCommission"`
	SellerCommission int64     `json:"sellerCommission"`
	CanTrade         bool      `json:"canTrade"`
	CanWithdraw      bool      `json:"canWithdraw"`
	CanDeposit       bool      `json:"canDeposit"`
	Balances         []Balance `json:"balances"`
}
