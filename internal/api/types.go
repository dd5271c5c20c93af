package api

import "botsync/internal/model"

// APIBot is the wire format for bot records.
type APIBot struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Symbol    string `json:"symbol"`
	Timeframe string `json:"timeframe"`
	Status    string `json:"status"`
}

// APICandle is the wire format for candle records.
type APICandle struct {
	Time   int64   `json:"time"` // Epoch seconds, timeframe-aligned
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
}

// APISignal is the wire format for signal records.
type APISignal struct {
	ID         string  `json:"id"`
	BotID      string  `json:"bot_id"`
	Symbol     string  `json:"symbol"`
	Decision   string  `json:"decision"`
	Price      float64 `json:"price"`
	Confidence float64 `json:"confidence"`
	Status     string  `json:"status"`
	CreatedTS  int64   `json:"created_ts"` // Epoch milliseconds
}

// BotsResponse wraps the bot list endpoint.
type BotsResponse struct {
	Bots []APIBot `json:"bots"`
}

// CandlesResponse wraps the candle history endpoint.
type CandlesResponse struct {
	Symbol    string      `json:"symbol"`
	Timeframe string      `json:"timeframe"`
	Candles   []APICandle `json:"candles"`
}

// SignalsResponse wraps the signal history endpoint.
type SignalsResponse struct {
	Signals []APISignal `json:"signals"`
}

// StatusResponse wraps the backend liveness endpoint.
type StatusResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Uptime  int64  `json:"uptime"` // Seconds
}

// ToModel converts an API bot to the internal representation.
func (b APIBot) ToModel() model.Bot {
	return model.Bot{
		ID:        b.ID,
		Name:      b.Name,
		Symbol:    b.Symbol,
		Timeframe: b.Timeframe,
		Status:    b.Status,
	}
}

// ToModel converts an API candle to the internal representation.
func (c APICandle) ToModel() model.Candle {
	return model.Candle{
		Time:   c.Time,
		Open:   c.Open,
		High:   c.High,
		Low:    c.Low,
		Close:  c.Close,
		Volume: c.Volume,
	}
}

// ToModel converts an API signal to the internal representation.
func (s APISignal) ToModel() model.Signal {
	return model.Signal{
		ID:         s.ID,
		BotID:      s.BotID,
		Symbol:     s.Symbol,
		Decision:   model.Decision(s.Decision),
		Price:      s.Price,
		Confidence: s.Confidence,
		Status:     model.SignalStatus(s.Status),
		CreatedTS:  s.CreatedTS,
	}
}
