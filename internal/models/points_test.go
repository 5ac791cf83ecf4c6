package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTierTableClassifyBoundaries(t *testing.T) {
	tiers := DefaultTierTable()

	cases := []struct {
		balance int64
		want    string
	}{
		{0, "Novice"},
		{499, "Novice"},
		{500, "Active"},
		{1999, "Active"},
		{2000, "Senior"},
		{4999, "Senior"},
		{5000, "Expert"},
		{1_000_000, "Expert"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, tiers.Classify(tc.balance), "balance %d", tc.balance)
	}
}

func TestTierTableClassifyGapFallsBackToLowest(t *testing.T) {
	tiers := TierTable{
		{Name: "Low", MinPoints: 0, MaxPoints: 99, DailyDownloadQuota: 3},
		{Name: "High", MinPoints: 200, MaxPoints: UnlimitedQuota, DailyDownloadQuota: UnlimitedQuota},
	}

	assert.Equal(t, "Low", tiers.Classify(150))
}

func TestTierTableClassifyEmpty(t *testing.T) {
	assert.Equal(t, "", TierTable{}.Classify(100))
}

func TestTierTableQuotaFor(t *testing.T) {
	tiers := DefaultTierTable()

	assert.Equal(t, 5, tiers.QuotaFor("Novice"))
	assert.Equal(t, 30, tiers.QuotaFor("Senior"))
	assert.Equal(t, UnlimitedQuota, tiers.QuotaFor("Expert"))
	assert.Equal(t, 5, tiers.QuotaFor("no-such-tier"))
}

func TestTxKindValid(t *testing.T) {
	for _, kind := range []TxKind{
		TxRegister, TxUpload, TxDownload, TxDownloadReward, TxSignIn,
		TxBountyCreate, TxBountyReward, TxTransferIn, TxTransferOut, TxAdminAdjustment,
	} {
		assert.True(t, kind.Valid(), string(kind))
	}
	assert.False(t, TxKind("refund").Valid())
	assert.False(t, TxKind("").Valid())
}
