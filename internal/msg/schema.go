package msg

// TradeMsg is a closed round-trip trade published to the results stream
type TradeMsg struct {
	RunID           string  `json:"run_id"`
	TradeID         string  `json:"trade_id"`
	PairID          string  `json:"pair_id"`
	Symbol          string  `json:"symbol"`
	Side            string  `json:"side"` // "BUY" or "SELL" (the closing side)
	Qty             int64   `json:"qty"`
	EntryPrice      float64 `json:"entry_price"`
	ExitPrice       float64 `json:"exit_price"`
	EntryUnixMillis int64   `json:"entry_unix_millis"`
	ExitUnixMillis  int64   `json:"exit_unix_millis"`
	PnL             float64 `json:"pnl"`
	Commission      float64 `json:"commission"`
	Group           int64   `json:"group"`
}

// EquityMsg is one equity-curve sample published to the results stream
type EquityMsg struct {
	RunID          string  `json:"run_id"`
	TsUnixMillis   int64   `json:"ts_unix_millis"`
	Equity         float64 `json:"equity"`
	Cash           float64 `json:"cash"`
	PositionsValue float64 `json:"positions_value"`
}

// RunDoneMsg marks the end of a run's result stream
type RunDoneMsg struct {
	RunID         string  `json:"run_id"`
	TradeCount    int     `json:"trade_count"`
	FinalEquity   float64 `json:"final_equity"`
	EndUnixMillis int64   `json:"end_unix_millis"`
}
