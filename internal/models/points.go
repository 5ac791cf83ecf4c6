package models

import "time"

// TxKind is the closed enumeration of ledger entry kinds.
type TxKind string

const (
	TxRegister        TxKind = "register"
	TxUpload          TxKind = "upload"
	TxDownload        TxKind = "download"
	TxDownloadReward  TxKind = "download_reward"
	TxSignIn          TxKind = "signin"
	TxBountyCreate    TxKind = "bounty_create"
	TxBountyReward    TxKind = "bounty_reward"
	TxTransferIn      TxKind = "transfer_in"
	TxTransferOut     TxKind = "transfer_out"
	TxAdminAdjustment TxKind = "admin_adjustment"
)

// Valid reports whether the kind is part of the enumeration.
func (k TxKind) Valid() bool {
	switch k {
	case TxRegister, TxUpload, TxDownload, TxDownloadReward, TxSignIn,
		TxBountyCreate, TxBountyReward, TxTransferIn, TxTransferOut, TxAdminAdjustment:
		return true
	}
	return false
}

// PointTransaction is a single append-only ledger entry. Amount is signed:
// positive entries credit the account, negative entries debit it. Entries are
// never updated or deleted; the users.points column equals the sum of an
// account's entries after every committed operation.
type PointTransaction struct {
	ID           string    `db:"id" json:"id"`
	UserID       string    `db:"user_id" json:"user_id"`
	Kind         TxKind    `db:"kind" json:"kind"`
	Amount       int64     `db:"amount" json:"amount"`
	BalanceAfter int64     `db:"balance_after" json:"balance_after"`
	Description  string    `db:"description" json:"description"`
	ResourceID   *string   `db:"resource_id" json:"resource_id,omitempty"`
	BountyID     *string   `db:"bounty_id" json:"bounty_id,omitempty"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// TxRefs carries optional references attached to a ledger entry.
type TxRefs struct {
	ResourceID *string
	BountyID   *string
}

// TransactionFilter captures filtering for ledger history listings.
type TransactionFilter struct {
	UserID   string
	Kind     TxKind
	Page     int
	PageSize int
}

// UnlimitedQuota is the sentinel daily quota meaning "no limit". The same
// sentinel on Tier.MaxPoints means "no upper bound".
const UnlimitedQuota = -1

// Tier is one row of the static level table.
type Tier struct {
	Name               string `json:"name"`
	MinPoints          int64  `json:"min_points"`
	MaxPoints          int64  `json:"max_points"`
	DailyDownloadQuota int    `json:"daily_download_quota"`
}

// TierTable is the ordered level configuration, lowest tier first. It is
// constructed once at startup and injected; it is never mutated afterwards.
type TierTable []Tier

// DefaultTierTable mirrors the production level ladder.
func DefaultTierTable() TierTable {
	return TierTable{
		{Name: "Novice", MinPoints: 0, MaxPoints: 499, DailyDownloadQuota: 5},
		{Name: "Active", MinPoints: 500, MaxPoints: 1999, DailyDownloadQuota: 15},
		{Name: "Senior", MinPoints: 2000, MaxPoints: 4999, DailyDownloadQuota: 30},
		{Name: "Expert", MinPoints: 5000, MaxPoints: UnlimitedQuota, DailyDownloadQuota: UnlimitedQuota},
	}
}

// Classify maps a balance to a tier name. A balance that matches no
// configured tier indicates a gap in the table; the lowest tier is returned
// so a bad configuration degrades instead of failing the operation.
func (t TierTable) Classify(balance int64) string {
	for _, tier := range t {
		if balance < tier.MinPoints {
			continue
		}
		if tier.MaxPoints == UnlimitedQuota || balance <= tier.MaxPoints {
			return tier.Name
		}
	}
	if len(t) == 0 {
		return ""
	}
	return t[0].Name
}

// QuotaFor returns the daily download quota of the named tier. Unknown tier
// names fall back to the lowest tier's quota.
func (t TierTable) QuotaFor(name string) int {
	for _, tier := range t {
		if tier.Name == name {
			return tier.DailyDownloadQuota
		}
	}
	if len(t) == 0 {
		return 0
	}
	return t[0].DailyDownloadQuota
}
