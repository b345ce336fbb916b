package domain

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// JobStatus represents the lifecycle state of a segmentation job.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusDone       JobStatus = "done"
	JobStatusFailed     JobStatus = "failed"
)

// Terminal reports whether no further transitions can occur from s.
func (s JobStatus) Terminal() bool {
	return s == JobStatusDone || s == JobStatusFailed
}

// ClipURLs is an ordered list of clip locations stored as a JSONB column.
// Order is temporal: ClipURLs[i] precedes ClipURLs[i+1] in source time.
type ClipURLs []string

// Value implements driver.Valuer for JSONB storage.
func (c ClipURLs) Value() (driver.Value, error) {
	if c == nil {
		return nil, nil
	}
	return json.Marshal(c)
}

// Scan implements sql.Scanner for JSONB retrieval.
func (c *ClipURLs) Scan(src any) error {
	if src == nil {
		*c = nil
		return nil
	}
	var b []byte
	switch v := src.(type) {
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return fmt.Errorf("scan clip_urls: unsupported type %T", src)
	}
	return json.Unmarshal(b, c)
}

// Job represents one video segmentation request tracked through its lifecycle.
//
// Backing table:
//
//	CREATE TABLE video_jobs (
//	    id          TEXT PRIMARY KEY,
//	    status      TEXT NOT NULL DEFAULT 'pending',
//	    input_url   TEXT,
//	    clip_urls   JSONB,
//	    error       TEXT,
//	    created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
//	    updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
//	);
type Job struct {
	ID        string    `json:"jobId" db:"id"`
	Status    JobStatus `json:"status" db:"status"`
	InputURL  string    `json:"inputUrl" db:"input_url"`
	ClipURLs  ClipURLs  `json:"clipUrls" db:"clip_urls"`
	Error     *string   `json:"error" db:"error"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
}
