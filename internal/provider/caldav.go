package provider

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/emersion/go-ical"
	"github.com/emersion/go-webdav"
	"github.com/emersion/go-webdav/caldav"
	"github.com/google/uuid"

	"github.com/hitoshi/calman/internal/model"
	"github.com/hitoshi/calman/internal/security"
)

// authTransport はリクエストごとに認証ヘッダーを付与するRoundTripper。
// トークンが「ユーザー名:アプリパスワード」形式ならBasic認証、
// それ以外はBearerトークンとして送る。
type authTransport struct {
	token     string
	transport http.RoundTripper
}

func (t *authTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if user, pass, ok := strings.Cut(t.token, ":"); ok {
		req.SetBasicAuth(user, pass)
	} else {
		req.Header.Set("Authorization", "Bearer "+t.token)
	}
	req.Header.Set("User-Agent", "calman/1.0")
	return t.transport.RoundTrip(req)
}

// CalDAVClient は汎用CalDAVサーバーのClient実装。
// CalDAVには信頼できる差分トークンの仕組みがないため、ListEventsは常に
// ウィンドウ幅でのベースライン取得となり、NextCursorは空文字を返す。
// 同期エンジン側はこれをフル再同期として扱う。
type CalDAVClient struct {
	logger   *slog.Logger
	guard    security.SSRFGuardService
	endpoint string
	window   time.Duration
	timeout  time.Duration
}

// NewCalDAVClient はCalDAVのClientを生成する。
// エンドポイントは接続前にSSRFガードで静的検証される。
func NewCalDAVClient(logger *slog.Logger, guard security.SSRFGuardService, endpoint string, window, timeout time.Duration) (*CalDAVClient, error) {
	if err := guard.ValidateURL(endpoint); err != nil {
		return nil, fmt.Errorf("CalDAVエンドポイントが不正です: %w", err)
	}
	return &CalDAVClient{
		logger:   logger,
		guard:    guard,
		endpoint: strings.TrimSuffix(endpoint, "/") + "/",
		window:   window,
		timeout:  timeout,
	}, nil
}

// clients は呼び出しごとのトークンで認証付きクライアントを組み立てる。
// ベースのHTTPクライアントはSSRFガード付きで、DNS再バインディングも防ぐ。
func (c *CalDAVClient) clients(token string) (*caldav.Client, *webdav.Client, error) {
	base := c.guard.NewSafeClient(c.timeout, 10*1024*1024)
	httpClient := &http.Client{
		Transport: &authTransport{token: token, transport: base.Transport},
		Timeout:   base.Timeout,
	}

	caldavClient, err := caldav.NewClient(httpClient, c.endpoint)
	if err != nil {
		return nil, nil, fmt.Errorf("caldavクライアントの生成に失敗しました: %w", err)
	}
	webdavClient, err := webdav.NewClient(httpClient, c.endpoint)
	if err != nil {
		return nil, nil, fmt.Errorf("webdavクライアントの生成に失敗しました: %w", err)
	}
	return caldavClient, webdavClient, nil
}

// findCalendarPath はプリンシパルからカレンダーホームを辿り、
// 最初のVEVENT対応カレンダーのパスを返す。
func (c *CalDAVClient) findCalendarPath(ctx context.Context, client *caldav.Client) (string, error) {
	principal, err := client.FindCurrentUserPrincipal(ctx)
	if err != nil {
		return "", c.mapError(err)
	}
	homeSet, err := client.FindCalendarHomeSet(ctx, principal)
	if err != nil {
		return "", c.mapError(err)
	}
	calendars, err := client.FindCalendars(ctx, homeSet)
	if err != nil {
		return "", c.mapError(err)
	}
	for _, cal := range calendars {
		if len(cal.SupportedComponentSet) == 0 {
			return cal.Path, nil
		}
		for _, comp := range cal.SupportedComponentSet {
			if comp == ical.CompEvent {
				return cal.Path, nil
			}
		}
	}
	return "", &model.DataError{Reason: "イベント対応のカレンダーが見つかりませんでした"}
}

// mapError はCalDAVサーバーのエラーを共通のエラー種別に分類する。
// go-webdavはHTTPステータスを型として公開しないため、認証系はメッセージの
// ステータスコード表記で判定し、それ以外は一時エラーとして扱う。
func (c *CalDAVClient) mapError(err error) error {
	msg := err.Error()
	if strings.Contains(msg, "401") || strings.Contains(msg, "403") ||
		strings.Contains(msg, "Unauthorized") || strings.Contains(msg, "Forbidden") {
		return &model.AuthError{Reason: fmt.Sprintf("CalDAVサーバーの認証に失敗しました: %v", err)}
	}
	return &model.TransientError{Reason: fmt.Sprintf("CalDAVサーバーへのアクセスに失敗しました: %v", err)}
}

// ListEvents はウィンドウ内のイベントをベースライン取得する。
// cursorは無視される（CalDAVは差分取得に対応しない）。
func (c *CalDAVClient) ListEvents(ctx context.Context, token, _ string) (*model.EventPage, error) {
	caldavClient, _, err := c.clients(token)
	if err != nil {
		return nil, err
	}
	calendarPath, err := c.findCalendarPath(ctx, caldavClient)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	query := &caldav.CalendarQuery{
		CompRequest: caldav.CalendarCompRequest{
			Name:     ical.CompCalendar,
			AllProps: true,
			Comps: []caldav.CalendarCompRequest{{
				Name:     ical.CompEvent,
				AllProps: true,
			}},
		},
		CompFilter: caldav.CompFilter{
			Name: ical.CompCalendar,
			Comps: []caldav.CompFilter{{
				Name:  ical.CompEvent,
				Start: now,
				End:   now.Add(c.window),
			}},
		},
	}

	objects, err := caldavClient.QueryCalendar(ctx, calendarPath, query)
	if err != nil {
		return nil, c.mapError(err)
	}

	// CalDAVは常にベースライン取得なのでNextCursorは空のまま。
	page := &model.EventPage{CursorValid: true}
	for _, object := range objects {
		if object.Data == nil {
			page.Skipped++
			continue
		}
		for _, vevent := range object.Data.Events() {
			remote, ok := toRemoteFromVEvent(vevent, object.ETag)
			if !ok {
				page.Skipped++
				continue
			}
			page.Events = append(page.Events, remote)
		}
	}
	return page, nil
}

// toRemoteFromVEvent はVEVENTを共通モデルに変換する。
// UIDまたは時刻が解釈できないイベントはスキップ対象としてfalseを返す。
func toRemoteFromVEvent(vevent ical.Event, etag string) (model.RemoteEvent, bool) {
	uidProp := vevent.Props.Get(ical.PropUID)
	if uidProp == nil || uidProp.Value == "" {
		return model.RemoteEvent{}, false
	}

	remote := model.RemoteEvent{
		ExternalID: uidProp.Value,
		Busy:       true,
		Etag:       etag,
	}
	if p := vevent.Props.Get(ical.PropSummary); p != nil {
		remote.Title = p.Value
	}
	if p := vevent.Props.Get(ical.PropTransparency); p != nil && p.Value == "TRANSPARENT" {
		remote.Busy = false
	}
	if p := vevent.Props.Get(ical.PropStatus); p != nil && p.Value == "CANCELLED" {
		remote.Deleted = true
		return remote, true
	}

	startsAt, err := vevent.DateTimeStart(time.UTC)
	if err != nil {
		return model.RemoteEvent{}, false
	}
	endsAt, err := vevent.DateTimeEnd(time.UTC)
	if err != nil {
		return model.RemoteEvent{}, false
	}
	startsAt = startsAt.UTC()
	endsAt = endsAt.UTC()
	if !endsAt.After(startsAt) {
		return model.RemoteEvent{}, false
	}
	remote.StartsAt = startsAt
	remote.EndsAt = endsAt
	return remote, true
}

// putEvent はVEVENTをiCalendarとしてエンコードしてサーバーに書き込む。
// CalDAVでは作成と更新の区別がなく、同じUIDへのPUTが上書きになる。
func (c *CalDAVClient) putEvent(ctx context.Context, token, uid string, event *model.RemoteEvent) error {
	caldavClient, webdavClient, err := c.clients(token)
	if err != nil {
		return err
	}
	calendarPath, err := c.findCalendarPath(ctx, caldavClient)
	if err != nil {
		return err
	}

	transparency := "OPAQUE"
	if !event.Busy {
		transparency = "TRANSPARENT"
	}
	vevent := ical.NewComponent(ical.CompEvent)
	vevent.Props.SetText(ical.PropUID, uid)
	vevent.Props.SetText(ical.PropSummary, event.Title)
	vevent.Props.SetText(ical.PropTransparency, transparency)
	vevent.Props.SetDateTime(ical.PropDateTimeStamp, time.Now().UTC())
	vevent.Props.SetDateTime(ical.PropDateTimeStart, event.StartsAt.UTC())
	vevent.Props.SetDateTime(ical.PropDateTimeEnd, event.EndsAt.UTC())

	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, "-//calman//EN")
	cal.Children = append(cal.Children, vevent)

	writer, err := webdavClient.Create(ctx, c.eventPath(calendarPath, uid))
	if err != nil {
		return c.mapError(err)
	}
	defer writer.Close()

	if err := ical.NewEncoder(writer).Encode(cal); err != nil {
		return fmt.Errorf("iCalendarのエンコードに失敗しました: %w", err)
	}
	return nil
}

// eventPath はカレンダーパス配下のイベントファイルのパスを組み立てる。
func (c *CalDAVClient) eventPath(calendarPath, uid string) string {
	return path.Join(strings.TrimPrefix(calendarPath, c.endpoint), uid+".ics")
}

// CreateEvent は新しいUIDを払い出してイベントを作成する。
func (c *CalDAVClient) CreateEvent(ctx context.Context, token string, event *model.RemoteEvent) (string, error) {
	uid := uuid.NewString()
	if err := c.putEvent(ctx, token, uid, event); err != nil {
		return "", err
	}
	return uid, nil
}

// UpdateEvent は既存UIDのイベントを上書きする。
func (c *CalDAVClient) UpdateEvent(ctx context.Context, token string, event *model.RemoteEvent) error {
	return c.putEvent(ctx, token, event.ExternalID, event)
}

// DeleteEvent はイベントを削除する。既に存在しない場合は成功扱い。
func (c *CalDAVClient) DeleteEvent(ctx context.Context, token, externalID string) error {
	caldavClient, webdavClient, err := c.clients(token)
	if err != nil {
		return err
	}
	calendarPath, err := c.findCalendarPath(ctx, caldavClient)
	if err != nil {
		return err
	}
	if err := webdavClient.RemoveAll(ctx, c.eventPath(calendarPath, externalID)); err != nil {
		if strings.Contains(err.Error(), "404") || strings.Contains(err.Error(), "Not Found") {
			return nil
		}
		return c.mapError(err)
	}
	return nil
}
