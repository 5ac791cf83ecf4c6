package models

import "time"

// BountyStatus enumerates the bounty lifecycle states.
type BountyStatus string

const (
	BountyActive    BountyStatus = "active"
	BountyCompleted BountyStatus = "completed"
	BountyExpired   BountyStatus = "expired"
)

// Bounty is a request for a study resource with points escrowed from the
// creator at creation time. The stored status may lag behind the wall clock:
// an active bounty past ExpiresAt is treated as expired on every read path.
type Bounty struct {
	ID                string       `db:"id" json:"id"`
	CreatorID         string       `db:"creator_id" json:"creator_id"`
	Title             string       `db:"title" json:"title"`
	Description       string       `db:"description" json:"description"`
	Grade             string       `db:"grade" json:"grade"`
	Subject           string       `db:"subject" json:"subject"`
	PointsReward      int64        `db:"points_reward" json:"points_reward"`
	Status            BountyStatus `db:"status" json:"status"`
	WinnerID          *string      `db:"winner_id" json:"winner_id,omitempty"`
	WinningResourceID *string      `db:"winning_resource_id" json:"winning_resource_id,omitempty"`
	ExpiresAt         time.Time    `db:"expires_at" json:"expires_at"`
	CreatedAt         time.Time    `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time    `db:"updated_at" json:"updated_at"`
}

// ExpiredAt reports whether the bounty should be treated as expired at the
// given instant, regardless of the persisted status field.
func (b *Bounty) ExpiredAt(now time.Time) bool {
	return b.Status == BountyActive && now.After(b.ExpiresAt)
}

// BountyResponse offers a resource in answer to a bounty. At most one
// response exists per (bounty, responder) pair and at most one response per
// bounty may be selected.
type BountyResponse struct {
	ID          string    `db:"id" json:"id"`
	BountyID    string    `db:"bounty_id" json:"bounty_id"`
	ResponderID string    `db:"responder_id" json:"responder_id"`
	ResourceID  string    `db:"resource_id" json:"resource_id"`
	Message     *string   `db:"message" json:"message,omitempty"`
	Selected    bool      `db:"selected" json:"selected"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// BountyFilter captures filtering criteria for bounty listings.
type BountyFilter struct {
	Status    BountyStatus
	Grade     string
	Subject   string
	CreatorID string
	Page      int
	PageSize  int
}
