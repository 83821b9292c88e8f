package journal

import (
	"encoding/json"
	"time"

	"sessiongate.local/gateway/internal/adapter"
	"sessiongate.local/gateway/internal/events"
)

type notificationRow struct {
	ID          string    `gorm:"primaryKey;size:64"`
	Sequence    int64     `gorm:"autoIncrement:false;index:idx_journal_tenant_seq,priority:2;not null"`
	TenantID    string    `gorm:"size:64;index:idx_journal_tenant_seq,priority:1;not null"`
	Type        string    `gorm:"size:64;not null"`
	Status      string    `gorm:"size:32"`
	Previous    string    `gorm:"size:32"`
	Detail      string    `gorm:"type:text"`
	MessageJSON string    `gorm:"type:text"`
	OccurredAt  time.Time `gorm:"not null"`
}

func (notificationRow) TableName() string {
	return "session_notifications"
}

func rowFromNotification(n events.Notification, sequence int64) (notificationRow, error) {
	row := notificationRow{
		ID:         n.ID,
		Sequence:   sequence,
		TenantID:   n.TenantID,
		Type:       string(n.Type),
		Status:     n.Status,
		Previous:   n.Previous,
		Detail:     n.Detail,
		OccurredAt: n.OccurredAt,
	}
	if n.Message != nil {
		encoded, err := json.Marshal(n.Message)
		if err != nil {
			return notificationRow{}, err
		}
		row.MessageJSON = string(encoded)
	}
	return row, nil
}

func (r notificationRow) toNotification() (events.Notification, error) {
	n := events.Notification{
		ID:         r.ID,
		Type:       events.Type(r.Type),
		TenantID:   r.TenantID,
		OccurredAt: r.OccurredAt.UTC(),
		Status:     r.Status,
		Previous:   r.Previous,
		Detail:     r.Detail,
	}
	if r.MessageJSON != "" {
		var msg adapter.InboundMessage
		if err := json.Unmarshal([]byte(r.MessageJSON), &msg); err != nil {
			return events.Notification{}, err
		}
		n.Message = &msg
	}
	return n, nil
}
