package amqp

import (
	"encoding/json"
	"fmt"
	"time"

	"wastelog/internal/core"
)

// ReportVerifiedMessage announces that a month of the ledger was verified.
// The worker treats it as a notification and reads the current row itself.
type ReportVerifiedMessage struct {
	MonthIndex  int       `json:"month_index"`
	KgGenerated float64   `json:"kg_generated"`
	FileURL     string    `json:"file_url,omitempty"`
	LastUpdated string    `json:"last_updated"`
	Timestamp   time.Time `json:"timestamp"`
}

func NewReportVerifiedMessage(r core.MonthlyReport) *ReportVerifiedMessage {
	return &ReportVerifiedMessage{
		MonthIndex:  r.MonthIndex,
		KgGenerated: r.KgGenerated,
		FileURL:     r.FileURL,
		LastUpdated: r.LastUpdated.String(),
		Timestamp:   time.Now().UTC(),
	}
}

func (m *ReportVerifiedMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// ReportVerifiedMessageFromJSON decodes and validates a message body.
func ReportVerifiedMessageFromJSON(data []byte) (*ReportVerifiedMessage, error) {
	var msg ReportVerifiedMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if !core.ValidMonth(msg.MonthIndex) {
		return nil, fmt.Errorf("%w: month index %d", core.ErrValidation, msg.MonthIndex)
	}
	return &msg, nil
}
