package outbox

import (
	"database/sql/driver"
	"errors"
	"fmt"

	"github.com/MarcoPoloResearchLab/overlay/internal/compiler"
)

const (
	// ChangesTable is the shared outbox table written by the generated triggers.
	ChangesTable = compiler.OutboxTable
	// NotifyChannel is signalled once per appended change.
	NotifyChannel = compiler.NotifyChannel
)

var (
	// ErrInvalidCursor indicates a negative resume position.
	ErrInvalidCursor = errors.New("outbox: invalid cursor")
	// ErrInvalidConsumer indicates an empty consumer name.
	ErrInvalidConsumer = errors.New("outbox: invalid consumer name")
)

// ChangeRecord is one row of the changes table. Table is empty for outboxes
// generated without a table_name column.
type ChangeRecord struct {
	ID            int64   `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	Table         string  `gorm:"column:table_name" json:"table_name,omitempty"`
	Operation     string  `gorm:"column:operation;not null" json:"operation"`
	Value         Payload `gorm:"column:value;not null" json:"value"`
	WriteID       string  `gorm:"column:write_id;not null" json:"write_id"`
	TransactionID int64   `gorm:"column:transaction_id;not null" json:"transaction_id"`
}

func (ChangeRecord) TableName() string {
	return ChangesTable
}

// Cursor persists the last change a named consumer has handled.
type Cursor struct {
	Consumer         string `gorm:"column:consumer;primaryKey;size:190;not null"`
	AfterID          int64  `gorm:"column:after_id;not null"`
	UpdatedAtSeconds int64  `gorm:"column:updated_at_s;not null"`
}

func (Cursor) TableName() string {
	return "overlay_outbox_cursors"
}

// Payload is the JSON body of a change. Postgres drivers hand jsonb back as
// text or bytes depending on the protocol, so both scan.
type Payload []byte

func (p *Payload) Scan(src any) error {
	switch value := src.(type) {
	case nil:
		*p = nil
	case []byte:
		*p = append((*p)[:0], value...)
	case string:
		*p = Payload(value)
	default:
		return fmt.Errorf("outbox: cannot scan %T into payload", src)
	}
	return nil
}

func (p Payload) Value() (driver.Value, error) {
	if p == nil {
		return nil, nil
	}
	return string(p), nil
}

func (p Payload) MarshalJSON() ([]byte, error) {
	if len(p) == 0 {
		return []byte("null"), nil
	}
	return p, nil
}

func (p *Payload) UnmarshalJSON(data []byte) error {
	*p = append((*p)[:0], data...)
	return nil
}
