package model

import "time"

// WorkItem is one inbound message tracked through the pipeline
type WorkItem struct {
	ID                  uint        `json:"id" gorm:"primaryKey;autoIncrement"`
	MessageID           string      `json:"message_id" gorm:"type:varchar(255);not null;uniqueIndex"`
	Sender              string      `json:"sender" gorm:"type:varchar(512)"`
	Subject             string      `json:"subject" gorm:"type:varchar(1024)"`
	BodyOriginal        string      `json:"body_original" gorm:"type:text"`
	BodyRedacted        *string     `json:"body_redacted" gorm:"type:text"`
	Analysis            Analysis    `json:"analysis" gorm:"type:text"`
	Priority            *string     `json:"priority" gorm:"type:varchar(20)"`
	PriorityReason      *string     `json:"priority_reason" gorm:"type:varchar(512)"`
	Reply               *string     `json:"reply" gorm:"type:text"`
	NoReplyReason       *string     `json:"no_reply_reason" gorm:"type:varchar(64);index"`
	Status              Status      `json:"status" gorm:"type:varchar(20);not null;default:PENDING;index:idx_work_items_claim,priority:1"`
	ReplyStatus         ReplyStatus `json:"reply_status" gorm:"type:varchar(20);not null;default:PENDING"`
	ClaimedBy           *string     `json:"claimed_by" gorm:"type:varchar(128)"`
	ReceivedAt          time.Time   `json:"received_at"`
	IngestedAt          time.Time   `json:"ingested_at" gorm:"index:idx_work_items_claim,priority:2"`
	ProcessingStartedAt *time.Time  `json:"processing_started_at"`
	ProcessedAt         *time.Time  `json:"processed_at"`
	RepliedAt           *time.Time  `json:"replied_at"`
}

// TableName specifies the table name for WorkItem
func (WorkItem) TableName() string {
	return "work_items"
}

// NewItem carries the fields needed to enqueue a message
type NewItem struct {
	MessageID  string
	Sender     string
	Subject    string
	Body       string
	ReceivedAt time.Time
}
