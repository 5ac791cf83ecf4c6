package models

import "time"

// UserRole represents the available roles for the RBAC system.
type UserRole string

const (
	RoleAdmin  UserRole = "ADMIN"
	RoleMember UserRole = "MEMBER"
)

// User represents a platform account stored in the users table. The points
// column is a denormalized running sum of the account's ledger entries and is
// only ever written together with a matching point_transactions insert.
type User struct {
	ID                   string     `db:"id" json:"id"`
	Phone                string     `db:"phone" json:"phone"`
	PasswordHash         string     `db:"password_hash" json:"-"`
	Nickname             string     `db:"nickname" json:"nickname"`
	AvatarURL            *string    `db:"avatar_url" json:"avatar_url,omitempty"`
	City                 *string    `db:"city" json:"city,omitempty"`
	Role                 UserRole   `db:"role" json:"role"`
	ChildGrade           string     `db:"child_grade" json:"child_grade"`
	Points               int64      `db:"points" json:"points"`
	Level                string     `db:"level" json:"level"`
	DailyDownloads       int        `db:"daily_downloads" json:"daily_downloads"`
	LastDownloadDate     *time.Time `db:"last_download_date" json:"last_download_date,omitempty"`
	LastSignInDate       *time.Time `db:"last_signin_date" json:"last_signin_date,omitempty"`
	LastGradeUpgradeYear *int       `db:"last_grade_upgrade_year" json:"last_grade_upgrade_year,omitempty"`
	Active               bool       `db:"active" json:"active"`
	CreatedAt            time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt            time.Time  `db:"updated_at" json:"updated_at"`
}

// UserFilter captures filtering criteria for listing users.
type UserFilter struct {
	Role      *UserRole
	Active    *bool
	Grade     string
	Search    string
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}

// UpdateProfileRequest is the allow-listed set of profile fields a user may
// change. Balance, level and quota counters are deliberately not reachable
// through this path.
type UpdateProfileRequest struct {
	Nickname   *string `json:"nickname" validate:"omitempty,min=1,max=50"`
	AvatarURL  *string `json:"avatar_url" validate:"omitempty,url"`
	City       *string `json:"city" validate:"omitempty,max=50"`
	ChildGrade *string `json:"child_grade" validate:"omitempty,max=20"`
}

// UserStats aggregates a user's activity for the profile page.
type UserStats struct {
	TotalUploads      int   `json:"total_uploads"`
	TotalDownloads    int   `json:"total_downloads"`
	TotalPointsEarned int64 `json:"total_points_earned"`
	TotalPointsSpent  int64 `json:"total_points_spent"`
	BountiesCreated   int   `json:"bounties_created"`
	BountiesWon       int   `json:"bounties_won"`
}

// Pagination contains pagination metadata returned in list responses.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
}
