// Package model はドメインモデルを定義する。
package model

import "time"

// WorkingHours はユーザーの曜日ごとの勤務時間テンプレートを表す。
// StartMinute/EndMinuteはリクエストのタイムゾーンにおける0時からの分数。
// 例: 9:00-17:00 は StartMinute=540, EndMinute=1020。
type WorkingHours struct {
	UserID      string
	Weekday     time.Weekday
	StartMinute int
	EndMinute   int
}

// AvailabilityRequest は空き時間計算のリクエストを表す。
type AvailabilityRequest struct {
	Date            string // "2006-01-02" 形式。Timezoneで解釈される。
	DurationMinutes int
	Timezone        string // IANAタイムゾーン名（例: "Asia/Tokyo"）
	UserIDs         []string
	AgentID         string // 省略可能。呼び出し元の音声エージェントID。
}

// Slot は予約可能な空き時間枠を表す。
type Slot struct {
	StartsAt time.Time
	EndsAt   time.Time
	UserID   string
}

// SlotList は空き時間計算の結果を表す。
// Summaryは音声エージェントがそのまま読み上げ可能な要約文。
type SlotList struct {
	Slots   []Slot
	Count   int
	Summary string
}
