package model

// ConversionEnvelope is the payload published to the conversions Kafka topic
// (via the outbox relay). It carries everything the forwarder needs so the
// worker never re-reads the funnel.
type ConversionEnvelope struct {
	EventID   string  `json:"event_id"` // attribution event ULID, doubles as dedup key
	AccountID int64   `json:"account_id"`
	PixelRef  string  `json:"pixel_ref"` // internal pixels.id, re-checked for suppression
	PixelID   string  `json:"pixel_id"`  // platform pixel ID
	EventName string  `json:"event_name"`
	VisitorID string  `json:"visitor_id"`
	FBC       *string `json:"fbc,omitempty"`
	FBP       *string `json:"fbp,omitempty"`
	IP        string  `json:"ip"`
	UserAgent string  `json:"user_agent"`
	EventTime int64   `json:"event_time"` // unix seconds
}
