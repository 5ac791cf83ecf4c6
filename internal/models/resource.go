package models

import "time"

// Resource is an uploaded study material.
type Resource struct {
	ID            string    `db:"id" json:"id"`
	UploaderID    string    `db:"uploader_id" json:"uploader_id"`
	Title         string    `db:"title" json:"title"`
	Description   string    `db:"description" json:"description"`
	Grade         string    `db:"grade" json:"grade"`
	Subject       string    `db:"subject" json:"subject"`
	ResourceType  string    `db:"resource_type" json:"resource_type"`
	FilePath      string    `db:"file_path" json:"-"`
	FileType      string    `db:"file_type" json:"file_type"`
	FileSize      int64     `db:"file_size" json:"file_size"`
	DownloadCount int       `db:"download_count" json:"download_count"`
	Active        bool      `db:"active" json:"active"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time `db:"updated_at" json:"updated_at"`
}

// Download records a paid (or free) acquisition of a resource by a user.
// Repeat downloads of the same resource are free and do not add rows.
type Download struct {
	ID         string    `db:"id" json:"id"`
	UserID     string    `db:"user_id" json:"user_id"`
	ResourceID string    `db:"resource_id" json:"resource_id"`
	PointsCost int64     `db:"points_cost" json:"points_cost"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// ResourceFilter captures filtering criteria for resource listings.
type ResourceFilter struct {
	Grade        string
	Subject      string
	ResourceType string
	UploaderID   string
	Search       string
	Page         int
	PageSize     int
	SortBy       string
	SortOrder    string
}
