package memory

import (
	"context"
	"time"

	"gorm.io/gorm"
)

// TurnRecord is one row of the conversation log. ID order is occurrence order.
type TurnRecord struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID    string    `gorm:"type:varchar(128);index;not null" json:"user_id"`
	Role      string    `gorm:"type:varchar(16);not null" json:"role"`
	Text      string    `gorm:"type:text;not null" json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

func (TurnRecord) TableName() string { return "conversation_turns" }

// SQLPersister stores turns as append-only rows; a multi-turn append is one transaction.
type SQLPersister struct {
	db *gorm.DB
}

func NewSQLPersister(db *gorm.DB) (*SQLPersister, error) {
	if err := db.AutoMigrate(&TurnRecord{}); err != nil {
		return nil, err
	}
	return &SQLPersister{db: db}, nil
}

func (p *SQLPersister) LoadAll(ctx context.Context) (map[string][]Turn, error) {
	var rows []TurnRecord
	if err := p.db.WithContext(ctx).Order("id ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := map[string][]Turn{}
	for _, r := range rows {
		out[r.UserID] = append(out[r.UserID], Turn{Role: r.Role, Text: r.Text})
	}
	return out, nil
}

func (p *SQLPersister) Append(ctx context.Context, userID string, turns []Turn) error {
	rows := make([]TurnRecord, 0, len(turns))
	for _, t := range turns {
		rows = append(rows, TurnRecord{UserID: userID, Role: t.Role, Text: t.Text})
	}
	return p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(&rows).Error
	})
}
