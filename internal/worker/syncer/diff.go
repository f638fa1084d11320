package syncer

import (
	"github.com/hitoshi/calman/internal/model"
)

// Changes はローカルミラーに適用すべき差分を表す。
type Changes struct {
	// Create はローカルに存在しない新規イベント。
	Create []model.RemoteEvent
	// Update はフィールドを上書き済みの既存イベント。
	Update []*model.Event
	// Delete は削除すべきイベントのexternal_id。
	Delete []string
	// Unchanged は変更のなかったイベント数。
	Unchanged int
}

// Diff はローカルミラーとリモートイベントを突き合わせて差分を計算する。
// localはexternal_idをキーとしたローカルイベントのマップ。
// baseline=trueの場合はremoteが全量スナップショットであることを意味し、
// remoteに現れないローカルイベントも削除対象になる。
// baseline=falseの場合はremoteが増分であり、削除は明示的なDeletedマーカーのみ。
// 同じexternal_idに対して同一の差分を再適用しても結果は変わらない（冪等）。
func Diff(local map[string]*model.Event, remote []model.RemoteEvent, baseline bool) Changes {
	var changes Changes
	seen := make(map[string]bool, len(remote))

	for _, r := range remote {
		// 同一IDが複数回現れた場合は後勝ちにせず最初の1件だけを採用する
		if seen[r.ExternalID] {
			continue
		}
		seen[r.ExternalID] = true

		existing, ok := local[r.ExternalID]

		if r.Deleted {
			if ok {
				changes.Delete = append(changes.Delete, r.ExternalID)
			}
			continue
		}

		if !ok {
			changes.Create = append(changes.Create, r)
			continue
		}

		if eventChanged(existing, r) {
			updated := *existing
			updated.Title = r.Title
			updated.StartsAt = r.StartsAt
			updated.EndsAt = r.EndsAt
			updated.Busy = r.Busy
			updated.Etag = r.Etag
			changes.Update = append(changes.Update, &updated)
		} else {
			changes.Unchanged++
		}
	}

	if baseline {
		for externalID := range local {
			if !seen[externalID] {
				changes.Delete = append(changes.Delete, externalID)
			}
		}
	}

	return changes
}

// eventChanged はローカルイベントとリモートイベントの内容差分を判定する。
// 両者がEtagを持つ場合はEtag比較だけで済ませ、
// そうでない場合はフィールドを直接比較する。
func eventChanged(local *model.Event, remote model.RemoteEvent) bool {
	if local.Etag != "" && remote.Etag != "" {
		return local.Etag != remote.Etag
	}
	return local.Title != remote.Title ||
		!local.StartsAt.Equal(remote.StartsAt) ||
		!local.EndsAt.Equal(remote.EndsAt) ||
		local.Busy != remote.Busy
}
