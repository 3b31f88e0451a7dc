package knowledge

import "time"

// Chunk is one indexed knowledge passage with its embedding.
type Chunk struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	SourceID  string    `gorm:"type:varchar(128);index;not null" json:"source_id"`
	Text      string    `gorm:"type:text;not null" json:"text"`
	Embedding []byte    `gorm:"type:blob;not null" json:"-"`
	Metadata  string    `gorm:"type:text" json:"-"`
	CreatedAt time.Time `json:"created_at"`
}

func (Chunk) TableName() string { return "knowledge_chunks" }

type ChunkTag struct {
	ChunkID uint64 `gorm:"primaryKey;autoIncrement:false"`
	Tag     string `gorm:"type:varchar(64);primaryKey;index"`
}

func (ChunkTag) TableName() string { return "knowledge_chunk_tags" }

// Document is one corpus entry before embedding.
type Document struct {
	Source   string            `yaml:"source" json:"source"`
	Text     string            `yaml:"text" json:"text"`
	Tags     []string          `yaml:"tags" json:"tags"`
	Metadata map[string]string `yaml:"metadata" json:"metadata"`
}
