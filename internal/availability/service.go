package availability

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/calman/internal/metrics"
	"github.com/hitoshi/calman/internal/model"
	"github.com/hitoshi/calman/internal/repository"
)

const (
	// minDurationMinutes は受け付ける所要時間の下限（分）。
	minDurationMinutes = 5
	// maxDurationMinutes は受け付ける所要時間の上限（分）。
	maxDurationMinutes = 480
	// dateLayout はリクエスト日付の形式。
	dateLayout = "2006-01-02"
)

// Service は空き時間計算のリクエスト境界を担う。
// 入力の検証とタイムゾーン変換を行い、区間計算は純粋関数のソルバーに委ねる。
// ローカルミラーと確定予約のみを参照し、リモートプロバイダーには一切触れない。
type Service struct {
	events       repository.EventRepository
	bookings     repository.BookingRepository
	workingHours repository.WorkingHoursRepository
	collector    metrics.MetricsCollector
	logger       *slog.Logger
	granularity  time.Duration
	buffer       time.Duration
}

// NewService はServiceの新しいインスタンスを生成する。
// granularityが0以下の場合はデフォルト値30分を使用する。
func NewService(
	events repository.EventRepository,
	bookings repository.BookingRepository,
	workingHours repository.WorkingHoursRepository,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
	granularity time.Duration,
	buffer time.Duration,
) *Service {
	if granularity <= 0 {
		granularity = 30 * time.Minute
	}
	return &Service{
		events:       events,
		bookings:     bookings,
		workingHours: workingHours,
		collector:    collector,
		logger:       logger,
		granularity:  granularity,
		buffer:       buffer,
	}
}

// FindSlots はリクエストされた日付・所要時間・候補者に対する空き枠を計算する。
// 返される枠は開始時刻の昇順（同時刻はユーザーID昇順）で決定的に並ぶ。
func (s *Service) FindSlots(ctx context.Context, req model.AvailabilityRequest) (*model.SlotList, error) {
	start := time.Now()

	loc, day, err := s.validate(req)
	if err != nil {
		return nil, err
	}
	duration := time.Duration(req.DurationMinutes) * time.Minute

	var all []model.Slot
	for _, userID := range req.UserIDs {
		slots, err := s.slotsForUser(ctx, userID, day, loc, duration)
		if err != nil {
			return nil, err
		}
		all = append(all, slots...)
	}
	SortSlots(all)

	list := &model.SlotList{
		Slots:   all,
		Count:   len(all),
		Summary: narrate(all, day, loc),
	}

	s.collector.RecordAvailabilityLatency(time.Since(start))
	s.logger.Info("空き時間を計算しました",
		slog.String("date", req.Date),
		slog.Int("duration_minutes", req.DurationMinutes),
		slog.Int("candidates", len(req.UserIDs)),
		slog.Int("slot_count", list.Count),
	)
	return list, nil
}

// validate はリクエストを検証し、タイムゾーンと対象日の0時を返す。
func (s *Service) validate(req model.AvailabilityRequest) (*time.Location, time.Time, error) {
	if len(req.UserIDs) == 0 {
		return nil, time.Time{}, model.NewNoCandidatesError()
	}
	if req.DurationMinutes < minDurationMinutes || req.DurationMinutes > maxDurationMinutes {
		return nil, time.Time{}, model.NewInvalidDurationError(req.DurationMinutes)
	}

	loc, err := time.LoadLocation(req.Timezone)
	if err != nil {
		return nil, time.Time{}, model.NewInvalidTimezoneError(req.Timezone)
	}

	parsed, err := time.ParseInLocation(dateLayout, req.Date, loc)
	if err != nil {
		return nil, time.Time{}, model.NewInvalidDateError(req.Date)
	}

	return loc, parsed, nil
}

// slotsForUser は1人分の空き枠を計算する。
// 勤務時間の設定がない曜日は勤務しない扱いで空を返す。
func (s *Service) slotsForUser(ctx context.Context, userID string, day time.Time, loc *time.Location, duration time.Duration) ([]model.Slot, error) {
	wh, err := s.workingHours.FindByUserAndWeekday(ctx, userID, day.Weekday())
	if err != nil {
		return nil, fmt.Errorf("勤務時間の取得に失敗しました: %w", err)
	}
	if wh == nil {
		return nil, nil
	}

	// 壁時計の分数を絶対時刻に変換する。time.Dateに分単位で渡すことで
	// 夏時間の切り替え日でも壁時計どおりの時刻に正規化される。
	workStart := time.Date(day.Year(), day.Month(), day.Day(), 0, wh.StartMinute, 0, 0, loc)
	workEnd := time.Date(day.Year(), day.Month(), day.Day(), 0, wh.EndMinute, 0, 0, loc)
	if !workEnd.After(workStart) {
		return nil, nil
	}

	busy, err := s.busyIntervals(ctx, userID, workStart, workEnd)
	if err != nil {
		return nil, err
	}

	return DaySlots(userID, workStart, workEnd, busy, duration, s.granularity), nil
}

// busyIntervals は勤務時間帯と重なるビジー区間を集めて統合する。
// ローカルミラーのbusyイベントと確定予約の和集合にバッファを加えたもの。
func (s *Service) busyIntervals(ctx context.Context, userID string, from, to time.Time) ([]Interval, error) {
	// バッファ分だけ広い範囲を引いておかないと、範囲境界の直外にある
	// 会議のバッファが取りこぼされる
	queryFrom := from.Add(-s.buffer)
	queryTo := to.Add(s.buffer)

	events, err := s.events.ListBusyByUserAndRange(ctx, userID, queryFrom, queryTo)
	if err != nil {
		return nil, fmt.Errorf("イベントの取得に失敗しました: %w", err)
	}
	bookings, err := s.bookings.ListByUserAndRange(ctx, userID, queryFrom, queryTo)
	if err != nil {
		return nil, fmt.Errorf("予約の取得に失敗しました: %w", err)
	}

	intervals := make([]Interval, 0, len(events)+len(bookings))
	for _, e := range events {
		intervals = append(intervals, Interval{Start: e.StartsAt, End: e.EndsAt})
	}
	for _, b := range bookings {
		if b.Status == model.BookingStatusCancelled {
			continue
		}
		intervals = append(intervals, Interval{Start: b.StartsAt, End: b.EndsAt})
	}

	return MergeIntervals(ExpandBuffer(intervals, s.buffer)), nil
}

// ConfirmSlot は予約確定直前の最終チェックを行う。
// 枠の計算から確定までの間に別の予約が入っていた場合はErrSlotConflictを返す。
// 予約レコードの作成自体は呼び出し元（本体プロダクト）の責務。
func (s *Service) ConfirmSlot(ctx context.Context, userID string, startsAt, endsAt time.Time) error {
	if !endsAt.After(startsAt) {
		return model.NewInvalidDurationError(int(endsAt.Sub(startsAt).Minutes()))
	}

	busy, err := s.busyIntervals(ctx, userID, startsAt, endsAt)
	if err != nil {
		return err
	}
	for _, iv := range busy {
		if overlaps(startsAt, endsAt, iv) {
			s.logger.Warn("時間枠の競合を検出しました",
				slog.String("user_id", userID),
				slog.Time("starts_at", startsAt),
			)
			return model.ErrSlotConflict
		}
	}
	return nil
}

// narrate は音声エージェントがそのまま読み上げられる要約文を生成する。
func narrate(slots []model.Slot, day time.Time, loc *time.Location) string {
	if len(slots) == 0 {
		return fmt.Sprintf("%sに空き時間はありません。", day.Format("1月2日"))
	}

	first := slots[0].StartsAt.In(loc)
	last := slots[len(slots)-1].StartsAt.In(loc)
	if len(slots) == 1 {
		return fmt.Sprintf("%sは%sの1枠が空いています。", day.Format("1月2日"), first.Format("15時04分"))
	}
	return fmt.Sprintf("%sは%d枠空いています。最初は%s、最後は%sです。",
		day.Format("1月2日"), len(slots), first.Format("15時04分"), last.Format("15時04分"))
}
