package feed

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"
)

// ProductEvent announces that a radar product became available.
type ProductEvent struct {
	ProductType string // upper case
	TimestampMs int64  // epoch milliseconds
}

// Time returns the product timestamp in UTC.
func (e ProductEvent) Time() time.Time {
	return time.UnixMilli(e.TimestampMs).UTC()
}

func (e ProductEvent) String() string {
	return fmt.Sprintf("%s@%d", e.ProductType, e.TimestampMs)
}

// Handler receives decoded events. HandleEvent runs on the read loop and must not block.
type Handler interface {
	HandleEvent(ev ProductEvent)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ev ProductEvent)

func (f HandlerFunc) HandleEvent(ev ProductEvent) { f(ev) }

type messageBody struct {
	ProductType string   `json:"productType"`
	Time        *float64 `json:"time"`
}

// ParseProductEvent decodes a MESSAGE body such as {"productType":"VMI","time":1700000000000}.
func ParseProductEvent(body []byte) (ProductEvent, error) {
	var msg messageBody
	if err := json.Unmarshal(body, &msg); err != nil {
		return ProductEvent{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}

	productType := strings.ToUpper(strings.TrimSpace(msg.ProductType))
	if productType == "" {
		return ProductEvent{}, fmt.Errorf("%w: missing productType", ErrMalformedEvent)
	}
	if msg.Time == nil {
		return ProductEvent{}, fmt.Errorf("%w: missing time", ErrMalformedEvent)
	}
	ms := *msg.Time
	// float64(math.MaxInt64) rounds up to 2^63, which itself does not fit.
	if ms != math.Trunc(ms) || ms < math.MinInt64 || ms >= math.MaxInt64 {
		return ProductEvent{}, fmt.Errorf("%w: time %v is not an integral epoch millisecond", ErrMalformedEvent, ms)
	}

	return ProductEvent{
		ProductType: productType,
		TimestampMs: int64(ms),
	}, nil
}
