package feed

import "pulseboard/internal/domain"

// Wire message types exchanged with a feed server.
const (
	MsgStart        = "start"
	MsgWarmupBatch  = "warmup_batch"
	MsgPriceUpdates = "price_updates"
)

// StartRequest is the client's first frame: warm-up parameters.
type StartRequest struct {
	Type             string `json:"type"`
	CountPerCategory int    `json:"countPerCategory"`
	BatchSize        int    `json:"batchSize"`
	BatchDelayMs     int64  `json:"batchDelayMs"`
}

// Message is one server frame: either a warm-up batch or a delta batch.
type Message struct {
	Type     string               `json:"type"`
	Category domain.Category      `json:"category,omitempty"`
	Tokens   []*domain.Token      `json:"tokens,omitempty"`
	Complete bool                 `json:"complete,omitempty"`
	Updates  []domain.PriceUpdate `json:"updates,omitempty"`
}
