// Package availability は空き時間枠の計算を提供する。
// ソルバーは純粋な区間計算で、外部I/Oを一切行わない。
package availability

import (
	"sort"
	"time"

	"github.com/hitoshi/calman/internal/model"
)

// Interval は絶対時刻による半開区間 [Start, End) を表す。
type Interval struct {
	Start time.Time
	End   time.Time
}

// MergeIntervals は重なり・隣接する区間を統合して最小の互いに素な集合を返す。
// 入力はコピーされ、破壊されない。結果は開始時刻の昇順。
func MergeIntervals(intervals []Interval) []Interval {
	if len(intervals) == 0 {
		return nil
	}

	sorted := make([]Interval, len(intervals))
	copy(sorted, intervals)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Start.Before(sorted[j].Start)
	})

	merged := []Interval{sorted[0]}
	for _, next := range sorted[1:] {
		current := &merged[len(merged)-1]
		// 隣接（next.Start == current.End）も統合する
		if !next.Start.After(current.End) {
			if next.End.After(current.End) {
				current.End = next.End
			}
			continue
		}
		merged = append(merged, next)
	}
	return merged
}

// ExpandBuffer は各ビジー区間の前後にbufferを加えて広げる。
// 会議の前後に移動や準備の時間を確保するためのもの。
func ExpandBuffer(intervals []Interval, buffer time.Duration) []Interval {
	if buffer <= 0 || len(intervals) == 0 {
		return intervals
	}
	expanded := make([]Interval, len(intervals))
	for i, iv := range intervals {
		expanded[i] = Interval{
			Start: iv.Start.Add(-buffer),
			End:   iv.End.Add(buffer),
		}
	}
	return expanded
}

// overlaps は区間 [start, end) がivと重なるかを判定する。
func overlaps(start, end time.Time, iv Interval) bool {
	return start.Before(iv.End) && iv.Start.Before(end)
}

// DaySlots は勤務時間内の候補枠を一定の刻み幅で生成し、
// ビジー区間と重ならないものだけを返す。
// busyはMergeIntervals済みであることを前提とする。
func DaySlots(userID string, workStart, workEnd time.Time, busy []Interval, duration, granularity time.Duration) []model.Slot {
	if duration <= 0 || granularity <= 0 {
		return nil
	}

	var slots []model.Slot
	for start := workStart; !start.Add(duration).After(workEnd); start = start.Add(granularity) {
		end := start.Add(duration)
		free := true
		for _, iv := range busy {
			if overlaps(start, end, iv) {
				free = false
				break
			}
			// busyはソート済みなので枠より後ろの区間は見なくてよい
			if !iv.Start.Before(end) {
				break
			}
		}
		if free {
			slots = append(slots, model.Slot{
				StartsAt: start,
				EndsAt:   end,
				UserID:   userID,
			})
		}
	}
	return slots
}

// SortSlots は枠を開始時刻の昇順、同時刻はユーザーIDの昇順で並べ替える。
// 複数候補者の結果を結合した後でも決定的な出力になる。
func SortSlots(slots []model.Slot) {
	sort.Slice(slots, func(i, j int) bool {
		if !slots[i].StartsAt.Equal(slots[j].StartsAt) {
			return slots[i].StartsAt.Before(slots[j].StartsAt)
		}
		return slots[i].UserID < slots[j].UserID
	})
}
