// Package model はドメインモデルを定義する。
package model

import "time"

// SyncResult は1接続に対する同期パス1回分の結果を表す。
type SyncResult struct {
	ConnectionID string
	Created      int
	Updated      int
	Deleted      int
	Skipped      int
	FullResync   bool
	Success      bool
	Err          error
}

// SyncSummary はスケジューリングパス1回分の集計結果を表す。
type SyncSummary struct {
	Attempted int
	Succeeded int
	Failed    int
	Created   int
	Updated   int
	Deleted   int
	Duration  time.Duration
}

// Add は接続ごとの結果をサマリーに加算する。
func (s *SyncSummary) Add(r SyncResult) {
	s.Attempted++
	if r.Success {
		s.Succeeded++
	} else {
		s.Failed++
	}
	s.Created += r.Created
	s.Updated += r.Updated
	s.Deleted += r.Deleted
}
