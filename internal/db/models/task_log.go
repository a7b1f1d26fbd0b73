package models

// TaskLog stores one orchestrator result for auditing.
type TaskLog struct {
	ID           string `gorm:"primaryKey" json:"id"`
	BatchID      string `gorm:"index" json:"batch_id,omitempty"`
	Timestamp    int64  `gorm:"index" json:"timestamp"`
	Kind         string `gorm:"index" json:"kind"`
	Platform     string `gorm:"index" json:"platform"`
	AccountKey   string `gorm:"index" json:"account_key"`
	State        string `json:"state"`
	Success      bool   `json:"success"`
	Attempts     int    `json:"attempts"`
	Duration     int64  `json:"duration"` // milliseconds
	PublishedURL string `json:"published_url,omitempty"`
	Errors       string `gorm:"type:text" json:"errors,omitempty"` // JSON array
}

// TaskStats holds aggregated statistics for task logs
type TaskStats struct {
	TotalTasks   int64 `json:"total_tasks"`
	SuccessCount int64 `json:"success_count"`
	FailureCount int64 `json:"failure_count"`
}
