package round

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/swarm-blackjack/table-server/internal/ledger"
)

func TestSettlePlayerBlackjackBeatsDealer(t *testing.T) {
	payout, reason := settlePlayer(100, []string{"AS", "KH"}, []string{"10C", "9D"}, 1.5)
	assert.Equal(t, int64(250), payout)
	assert.Equal(t, reasonBlackjack, reason)
}

func TestSettlePlayerBlackjackBonusRoundsUp(t *testing.T) {
	// 15 * 1.5 = 22.5, bonus rounds up to 23
	payout, reason := settlePlayer(15, []string{"AS", "QH"}, []string{"9C", "9D"}, 1.5)
	assert.Equal(t, int64(38), payout)
	assert.Equal(t, reasonBlackjack, reason)
}

func TestSettlePlayerBothBlackjackPushes(t *testing.T) {
	payout, reason := settlePlayer(100, []string{"AS", "KH"}, []string{"AC", "QD"}, 1.5)
	assert.Equal(t, int64(100), payout)
	assert.Equal(t, reasonPush, reason)
}

func TestSettlePlayerDealerBlackjackLoses(t *testing.T) {
	payout, reason := settlePlayer(100, []string{"9S", "8H"}, []string{"AC", "QD"}, 1.5)
	assert.Equal(t, int64(0), payout)
	assert.Equal(t, reasonDealerBlackjack, reason)
}

func TestSettlePlayerBustLosesRegardlessOfDealer(t *testing.T) {
	payout, reason := settlePlayer(100, []string{"10S", "10H", "5C"}, []string{"10C", "9D", "5S"}, 1.5)
	assert.Equal(t, int64(0), payout)
	assert.Equal(t, reasonBust, reason)
}

func TestSettlePlayerDealerBustPaysEven(t *testing.T) {
	payout, reason := settlePlayer(100, []string{"10S", "8H"}, []string{"10C", "9D", "5S"}, 1.5)
	assert.Equal(t, int64(200), payout)
	assert.Equal(t, reasonDealerBust, reason)
}

func TestSettlePlayerHigherTotalWins(t *testing.T) {
	payout, reason := settlePlayer(100, []string{"10S", "9H"}, []string{"10C", "8D"}, 1.5)
	assert.Equal(t, int64(200), payout)
	assert.Equal(t, reasonWin, reason)
}

func TestSettlePlayerLowerTotalLoses(t *testing.T) {
	payout, reason := settlePlayer(100, []string{"10S", "7H"}, []string{"10C", "8D"}, 1.5)
	assert.Equal(t, int64(0), payout)
	assert.Equal(t, reasonLose, reason)
}

func TestSettlePlayerEqualTotalsPush(t *testing.T) {
	payout, reason := settlePlayer(100, []string{"10S", "8H"}, []string{"9C", "9D"}, 1.5)
	assert.Equal(t, int64(100), payout)
	assert.Equal(t, reasonPush, reason)
}

func TestLedgerEntryTypeMapping(t *testing.T) {
	assert.Equal(t, ledger.EntryBlackjackWin, ledgerEntryType(reasonBlackjack))
	assert.Equal(t, ledger.EntryWin, ledgerEntryType(reasonWin))
	assert.Equal(t, ledger.EntryWin, ledgerEntryType(reasonDealerBust))
	assert.Equal(t, ledger.EntryPush, ledgerEntryType(reasonPush))
	assert.Equal(t, ledger.EntryLoss, ledgerEntryType(reasonLose))
	assert.Equal(t, ledger.EntryLoss, ledgerEntryType(reasonBust))
	assert.Equal(t, ledger.EntryLoss, ledgerEntryType(reasonDealerBlackjack))
}

func TestSettleAnnouncementTone(t *testing.T) {
	tone, title := settleAnnouncement(reasonBlackjack)
	assert.Equal(t, "win", tone)
	assert.Equal(t, "BLACKJACK!", title)

	tone, title = settleAnnouncement(reasonPush)
	assert.Equal(t, "neutral", tone)
	assert.Equal(t, "PUSH", title)

	tone, _ = settleAnnouncement(reasonLose)
	assert.Equal(t, "loss", tone)
}
