package event

// Topic identifies a bus channel. Every payload type maps to exactly one topic.
type Topic string

const (
	TopicMarketData       Topic = "market_data"
	TopicIndicatorUpdated Topic = "indicator_updated"
	TopicSignalGenerated  Topic = "signal_generated"
	TopicOrderCreated     Topic = "order_created"
	TopicOrderFilled      Topic = "order_filled"
	TopicPositionOpened   Topic = "position_opened"
	TopicPositionUpdated  Topic = "position_updated"
	TopicPositionClosed   Topic = "position_closed"
	TopicRiskAlert        Topic = "risk_alert"
)

// Topics lists every topic the core produces or consumes, in pipeline order.
func Topics() []Topic {
	return []Topic{
		TopicMarketData,
		TopicIndicatorUpdated,
		TopicSignalGenerated,
		TopicOrderCreated,
		TopicOrderFilled,
		TopicPositionOpened,
		TopicPositionUpdated,
		TopicPositionClosed,
		TopicRiskAlert,
	}
}

// IsAvailable reports whether t is one of the known topics.
func (t Topic) IsAvailable() bool {
	switch t {
	case TopicMarketData, TopicIndicatorUpdated, TopicSignalGenerated,
		TopicOrderCreated, TopicOrderFilled,
		TopicPositionOpened, TopicPositionUpdated, TopicPositionClosed,
		TopicRiskAlert:
		return true
	default:
		return false
	}
}
