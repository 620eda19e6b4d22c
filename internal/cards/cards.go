// Package cards implements shoe generation and hand evaluation: the
// card representation, shuffle, and soft/hard total math shared by the
// round engine and the strategy analyzer.
package cards

import "math/rand"

var ranks = []string{"A", "2", "3", "4", "5", "6", "7", "8", "9", "10", "J", "Q", "K"}
var suits = []string{"S", "H", "D", "C"}

// NewShoe returns a freshly shuffled shoe of decks*52 cards. Each card is
// coded as "RankSuit" ("AS", "10H", "KC", ...).
func NewShoe(decks int) []string {
	shoe := make([]string, 0, decks*52)
	for d := 0; d < decks; d++ {
		for _, r := range ranks {
			for _, s := range suits {
				shoe = append(shoe, r+s)
			}
		}
	}
	rand.Shuffle(len(shoe), func(i, j int) {
		shoe[i], shoe[j] = shoe[j], shoe[i]
	})
	return shoe
}

// rank strips the trailing suit character off a card code.
func rank(card string) string {
	if len(card) < 2 {
		return card
	}
	return card[:len(card)-1]
}

// CardValue returns the blackjack pip value of a card's rank. Aces
// count as 1 here; soft promotion is handled by Value.
func CardValue(r string) int {
	switch r {
	case "J", "Q", "K":
		return 10
	case "A":
		return 1
	default:
		n := 0
		for _, c := range r {
			n = n*10 + int(c-'0')
		}
		return n
	}
}

// Value computes the best total and soft-hand flag for a set of cards:
// sum with every ace counted as 1, then promote aces to 11 one at a
// time while doing so keeps the total at or under 21.
func Value(cardCodes []string) (total int, isSoft bool) {
	aces := 0
	for _, c := range cardCodes {
		r := rank(c)
		if r == "A" {
			aces++
		}
		total += CardValue(r)
	}
	for aces > 0 && total+10 <= 21 {
		total += 10
		aces--
		isSoft = true
	}
	return total, isSoft
}

// IsBlackjack reports whether a freshly-dealt two-card hand totals 21.
func IsBlackjack(cardCodes []string) bool {
	total, _ := Value(cardCodes)
	return len(cardCodes) == 2 && total == 21
}
