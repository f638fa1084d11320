package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/oauth2"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/hitoshi/calman/internal/model"
)

// googleDateOnly は終日イベントのDateフィールドの形式。
const googleDateOnly = "2006-01-02"

// GoogleClient はGoogle Calendar APIのClient実装。
// syncTokenによる差分取得に対応しており、カーソルの実体はnextSyncToken。
type GoogleClient struct {
	logger     *slog.Logger
	calendarID string
	window     time.Duration
	// endpoint はテスト時にAPIの向き先を差し替えるためのもの。通常は空。
	endpoint string
}

// NewGoogleClient はGoogle CalendarのClientを生成する。
// windowはベースライン取得時にどこまで先のイベントを取るかの幅。
func NewGoogleClient(logger *slog.Logger, window time.Duration) *GoogleClient {
	return &GoogleClient{
		logger:     logger,
		calendarID: "primary",
		window:     window,
	}
}

// service は呼び出しごとのアクセストークンでcalendar.Serviceを組み立てる。
// トークンは接続単位でVaultから供給されるため、Serviceを使い回すことはできない。
func (c *GoogleClient) service(ctx context.Context, token string) (*calendar.Service, error) {
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	opts := []option.ClientOption{option.WithTokenSource(ts)}
	if c.endpoint != "" {
		opts = append(opts, option.WithEndpoint(c.endpoint))
	}
	service, err := calendar.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("calendar serviceの生成に失敗しました: %w", err)
	}
	return service, nil
}

// ListEvents はcursor（syncToken）以降の変更イベントを全ページ取得する。
// cursorが空の場合は現在から先のウィンドウ幅でベースライン取得を行う。
// syncTokenが失効している場合（HTTP 410）はCursorValid=falseを返す。
func (c *GoogleClient) ListEvents(ctx context.Context, token, cursor string) (*model.EventPage, error) {
	service, err := c.service(ctx, token)
	if err != nil {
		return nil, err
	}

	page := &model.EventPage{CursorValid: true}
	pageToken := ""
	for {
		call := service.Events.List(c.calendarID).
			SingleEvents(true).
			ShowDeleted(true).
			Context(ctx)
		if cursor != "" {
			call = call.SyncToken(cursor)
		} else {
			now := time.Now().UTC()
			call = call.
				TimeMin(now.Format(time.RFC3339)).
				TimeMax(now.Add(c.window).Format(time.RFC3339))
		}
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}

		result, err := call.Do()
		if err != nil {
			mapped := c.mapError(err)
			if errors.Is(mapped, model.ErrCursorInvalid) {
				page.CursorValid = false
				return page, nil
			}
			return nil, mapped
		}

		for _, item := range result.Items {
			remote, ok := c.toRemoteEvent(item)
			if !ok {
				page.Skipped++
				continue
			}
			page.Events = append(page.Events, remote)
		}

		if result.NextPageToken == "" {
			page.NextCursor = result.NextSyncToken
			return page, nil
		}
		pageToken = result.NextPageToken
	}
}

// mapError はGoogle APIのエラーを共通のエラー種別に分類する。
// 410 GoneはErrCursorInvalidに写像し、ListEvents側でフル再同期の合図に変換する。
func (c *GoogleClient) mapError(err error) error {
	var apiErr *googleapi.Error
	if !errors.As(err, &apiErr) {
		return &model.TransientError{Reason: fmt.Sprintf("Google Calendar APIの呼び出しに失敗しました: %v", err)}
	}
	switch {
	case apiErr.Code == http.StatusGone:
		return model.ErrCursorInvalid
	case isGoogleRateLimit(apiErr):
		// クォータ超過は403で返ってくるため、認可エラーより先に判定する
		return &model.TransientError{
			Reason:     fmt.Sprintf("Google Calendar APIのレート制限に達しました: %v", apiErr),
			RetryAfter: retryAfterOfHeader(apiErr.Header),
		}
	case apiErr.Code == http.StatusUnauthorized || apiErr.Code == http.StatusForbidden:
		return &model.AuthError{Reason: fmt.Sprintf("Google Calendar APIの認可に失敗しました: %v", apiErr)}
	case apiErr.Code == http.StatusTooManyRequests || apiErr.Code >= 500:
		return &model.TransientError{
			Reason:     fmt.Sprintf("Google Calendar APIが一時的に利用できません: %v", apiErr),
			RetryAfter: retryAfterOfHeader(apiErr.Header),
		}
	default:
		return &model.DataError{Reason: fmt.Sprintf("Google Calendar APIがエラーを返しました: %v", apiErr)}
	}
}

// isGoogleRateLimit はレート制限・クォータ超過エラーかを判定する。
// Google Calendar APIはこれらを403（一部は429）で返し、
// reasonフィールドで通常の権限エラーと区別する。
func isGoogleRateLimit(apiErr *googleapi.Error) bool {
	if apiErr.Code != http.StatusForbidden && apiErr.Code != http.StatusTooManyRequests {
		return false
	}
	for _, item := range apiErr.Errors {
		switch item.Reason {
		case "rateLimitExceeded", "userRateLimitExceeded", "quotaExceeded", "dailyLimitExceeded":
			return true
		}
	}
	return false
}

// toRemoteEvent はGoogleのイベントを共通モデルに変換する。
// 時刻が解釈できないイベントはスキップ対象としてfalseを返す。
func (c *GoogleClient) toRemoteEvent(item *calendar.Event) (model.RemoteEvent, bool) {
	if item.Id == "" {
		return model.RemoteEvent{}, false
	}

	remote := model.RemoteEvent{
		ExternalID: item.Id,
		Title:      item.Summary,
		Busy:       item.Transparency != "transparent",
		Etag:       item.Etag,
	}

	// status=cancelledは削除通知。時刻フィールドは付かないことがあるため先に返す。
	if item.Status == "cancelled" {
		remote.Deleted = true
		return remote, true
	}

	startsAt, ok := parseGoogleTime(item.Start)
	if !ok {
		return model.RemoteEvent{}, false
	}
	endsAt, ok := parseGoogleTime(item.End)
	if !ok {
		return model.RemoteEvent{}, false
	}
	if !endsAt.After(startsAt) {
		return model.RemoteEvent{}, false
	}
	remote.StartsAt = startsAt
	remote.EndsAt = endsAt
	return remote, true
}

// parseGoogleTime はDateTime（時刻付き）またはDate（終日）を解釈する。
func parseGoogleTime(edt *calendar.EventDateTime) (time.Time, bool) {
	if edt == nil {
		return time.Time{}, false
	}
	if edt.DateTime != "" {
		t, err := time.Parse(time.RFC3339, edt.DateTime)
		if err != nil {
			return time.Time{}, false
		}
		return t.UTC(), true
	}
	if edt.Date != "" {
		t, err := time.Parse(googleDateOnly, edt.Date)
		if err != nil {
			return time.Time{}, false
		}
		return t.UTC(), true
	}
	return time.Time{}, false
}

// retryAfterOfHeader はRetry-Afterヘッダーを待機時間に変換する。
// 秒数形式とHTTP日付形式の両方に対応する。
func retryAfterOfHeader(header http.Header) time.Duration {
	value := header.Get("Retry-After")
	if value == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}

// CreateEvent はprimaryカレンダーにイベントを作成する。
func (c *GoogleClient) CreateEvent(ctx context.Context, token string, event *model.RemoteEvent) (string, error) {
	service, err := c.service(ctx, token)
	if err != nil {
		return "", err
	}
	created, err := service.Events.Insert(c.calendarID, toGoogleEvent(event)).Context(ctx).Do()
	if err != nil {
		return "", c.mapError(err)
	}
	return created.Id, nil
}

// UpdateEvent は既存イベントを上書きする。
func (c *GoogleClient) UpdateEvent(ctx context.Context, token string, event *model.RemoteEvent) error {
	service, err := c.service(ctx, token)
	if err != nil {
		return err
	}
	_, err = service.Events.Update(c.calendarID, event.ExternalID, toGoogleEvent(event)).Context(ctx).Do()
	if err != nil {
		return c.mapError(err)
	}
	return nil
}

// DeleteEvent はイベントを削除する。既に消えている場合は成功扱い。
func (c *GoogleClient) DeleteEvent(ctx context.Context, token, externalID string) error {
	service, err := c.service(ctx, token)
	if err != nil {
		return err
	}
	if err := service.Events.Delete(c.calendarID, externalID).Context(ctx).Do(); err != nil {
		var apiErr *googleapi.Error
		if errors.As(err, &apiErr) && (apiErr.Code == http.StatusNotFound || apiErr.Code == http.StatusGone) {
			return nil
		}
		return c.mapError(err)
	}
	return nil
}

func toGoogleEvent(event *model.RemoteEvent) *calendar.Event {
	transparency := "opaque"
	if !event.Busy {
		transparency = "transparent"
	}
	return &calendar.Event{
		Summary:      event.Title,
		Start:        &calendar.EventDateTime{DateTime: event.StartsAt.UTC().Format(time.RFC3339)},
		End:          &calendar.EventDateTime{DateTime: event.EndsAt.UTC().Format(time.RFC3339)},
		Transparency: transparency,
	}
}
