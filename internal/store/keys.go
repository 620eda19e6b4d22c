package store

import "fmt"

// Redis key layout. Centralized here so an operator inspecting the
// backing store with redis-cli finds everything under one bj: prefix.

func keyMeta(tid string) string { return fmt.Sprintf("bj:table:%s:meta", tid) }

func keyPlayers(tid string) string { return fmt.Sprintf("bj:table:%s:players", tid) }

func keySeats(tid string) string { return fmt.Sprintf("bj:table:%s:seats", tid) }

func keyReady(tid string) string { return fmt.Sprintf("bj:table:%s:ready", tid) }

func keyPlayer(tid, pid string) string { return fmt.Sprintf("bj:table:%s:player:%s", tid, pid) }

func keyHand(tid, handID string) string { return fmt.Sprintf("bj:table:%s:hand:%s", tid, handID) }

func keyShoe(tid string) string { return fmt.Sprintf("bj:table:%s:shoe", tid) }

func keyShoeMeta(tid string) string { return fmt.Sprintf("bj:table:%s:shoe:meta", tid) }

func keyVote(tid string, roundID int) string { return fmt.Sprintf("bj:table:%s:vote:%d", tid, roundID) }

func keyEvents(tid string) string { return fmt.Sprintf("bj:table:%s:events", tid) }

func keyRequest(tid, requestID string) string {
	return fmt.Sprintf("bj:table:%s:req:%s", tid, requestID)
}

func keyReconnect(token string) string { return fmt.Sprintf("bj:reconnect:%s", token) }

func keyTablesSet() string { return "bj:tables" }

func keyLock(tid string) string { return fmt.Sprintf("bj:lock:%s", tid) }
