// Package syncer は外部カレンダーとの増分同期処理を提供する。
// スケジューラ、同期エンジン、差分計算、リトライ/バックオフ戦略を含む。
package syncer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/calman/internal/metrics"
	"github.com/hitoshi/calman/internal/model"
	"github.com/hitoshi/calman/internal/provider"
	"github.com/hitoshi/calman/internal/repository"
)

// TokenSource は同期エンジンが使用するアクセストークンの供給インターフェース。
type TokenSource interface {
	// Token は有効なアクセストークンを返す。期限が近い場合は内部でリフレッシュされる。
	Token(ctx context.Context, connectionID string) (string, error)

	// ForceRefresh は期限に関わらずトークンをリフレッシュして返す。
	// ベンダーが401を返した場合の再試行に使用する。
	ForceRefresh(ctx context.Context, connectionID string) (string, error)
}

// ClientResolver はベンダー種別からプロバイダークライアントを解決するインターフェース。
type ClientResolver interface {
	Resolve(vendor model.Vendor) (provider.Client, error)
}

// TitleSanitizer はイベントタイトルのサニタイズインターフェース。
type TitleSanitizer interface {
	Sanitize(raw string) string
}

// Engine は1接続に対する同期パスを実行する。
// トークン取得、リモートフェッチ（リトライ付き）、差分計算、
// ローカルミラーへの適用、カーソルのコミットまでを行う。
type Engine struct {
	connRepo           repository.ConnectionRepository
	eventRepo          repository.EventRepository
	tokens             TokenSource
	providers          ClientResolver
	sanitizer          TitleSanitizer
	collector          metrics.MetricsCollector
	logger             *slog.Logger
	maxAttempts        int
	fullResyncInterval time.Duration
	// retryDelay はテストで待機を差し替えられるようフィールドにしている
	retryDelay func(err error, attempt int) time.Duration
}

// NewEngine はEngineの新しいインスタンスを生成する。
// maxAttemptsが0以下の場合はデフォルト値3を使用する。
func NewEngine(
	connRepo repository.ConnectionRepository,
	eventRepo repository.EventRepository,
	tokens TokenSource,
	providers ClientResolver,
	sanitizer TitleSanitizer,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
	maxAttempts int,
	fullResyncInterval time.Duration,
) *Engine {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &Engine{
		connRepo:           connRepo,
		eventRepo:          eventRepo,
		tokens:             tokens,
		providers:          providers,
		sanitizer:          sanitizer,
		collector:          collector,
		logger:             logger,
		maxAttempts:        maxAttempts,
		fullResyncInterval: fullResyncInterval,
		retryDelay:         RetryDelay,
	}
}

// Sync は接続1件の同期パスを実行する。
// 失敗時も接続状態の更新は行い、エラーはSyncResult.Errに格納して返す。
func (e *Engine) Sync(ctx context.Context, conn *model.Connection) model.SyncResult {
	start := time.Now()
	result := model.SyncResult{ConnectionID: conn.ID}

	client, err := e.providers.Resolve(conn.Vendor)
	if err != nil {
		return e.fail(ctx, conn, &result, err)
	}

	token, err := e.tokens.Token(ctx, conn.ID)
	if err != nil {
		return e.fail(ctx, conn, &result, err)
	}

	// カーソルが空、または定期フル再同期の期限が来ていればベースライン取得
	cursor := conn.SyncCursor
	fullResync := NeedsFullResync(conn, e.fullResyncInterval, start)
	if fullResync {
		cursor = ""
	}

	page, err := e.fetchWithRetry(ctx, client, conn, token, cursor)
	if err != nil {
		return e.fail(ctx, conn, &result, err)
	}

	// ベンダー側でカーソルが失効していた場合はフル再同期に切り替える
	if !page.CursorValid {
		e.logger.Warn("同期カーソルが失効したためフル再同期に切り替えます",
			slog.String("connection_id", conn.ID),
			slog.String("vendor", string(conn.Vendor)),
		)
		fullResync = true
		page, err = e.fetchWithRetry(ctx, client, conn, token, "")
		if err != nil {
			return e.fail(ctx, conn, &result, err)
		}
		if !page.CursorValid {
			return e.fail(ctx, conn, &result, fmt.Errorf("フル再同期でもカーソルが確定しません"))
		}
	}
	result.FullResync = fullResync
	result.Skipped = page.Skipped

	// 差分計算の前にタイトルをサニタイズしておく。
	// ローカルにはサニタイズ済みタイトルが保存されているため、
	// 比較も同じ形に揃えないと毎回更新扱いになってしまう。
	for i := range page.Events {
		page.Events[i].Title = e.sanitizer.Sanitize(page.Events[i].Title)
	}

	local, err := e.eventRepo.ListByConnection(ctx, conn.ID)
	if err != nil {
		return e.fail(ctx, conn, &result, err)
	}

	changes := Diff(local, page.Events, fullResync)
	if err := e.apply(ctx, conn, changes, &result); err != nil {
		return e.fail(ctx, conn, &result, err)
	}

	// 全ての適用が成功してからカーソルをコミットする。
	// 途中で失敗した場合はカーソルが進まず、次回パスで同じ差分を再適用する。
	ApplySyncSuccess(conn, page.NextCursor, fullResync, time.Now())
	if err := e.connRepo.UpdateSyncState(ctx, conn); err != nil {
		return e.fail(ctx, conn, &result, err)
	}

	result.Success = true
	duration := time.Since(start)

	e.collector.RecordSyncSuccess(string(conn.Vendor))
	e.collector.RecordEventsApplied(result.Created, result.Updated, result.Deleted)
	e.collector.RecordSyncLatency(duration)
	if fullResync {
		e.collector.RecordFullResync(string(conn.Vendor))
	}

	e.logger.Info("同期パスが完了しました",
		slog.String("connection_id", conn.ID),
		slog.String("vendor", string(conn.Vendor)),
		slog.Bool("full_resync", fullResync),
		slog.Int("created", result.Created),
		slog.Int("updated", result.Updated),
		slog.Int("deleted", result.Deleted),
		slog.Int("skipped", result.Skipped),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)
	return result
}

// fetchWithRetry はリモートイベントの取得を最大maxAttempts回試行する。
// 一時エラーはバックオフ（Retry-After優先）を挟んで再試行し、
// 認証エラーは1回だけ強制リフレッシュして再試行する。
func (e *Engine) fetchWithRetry(ctx context.Context, client provider.Client, conn *model.Connection, token, cursor string) (*model.EventPage, error) {
	refreshed := false
	var lastErr error

	for attempt := 0; attempt < e.maxAttempts; attempt++ {
		page, err := client.ListEvents(ctx, token, cursor)
		if err == nil {
			return page, nil
		}
		lastErr = err

		switch {
		case model.IsAuthError(err) && !refreshed:
			// トークンが失効している場合は1回だけリフレッシュして再試行
			refreshed = true
			newToken, refreshErr := e.tokens.ForceRefresh(ctx, conn.ID)
			e.collector.RecordTokenRefresh(refreshErr == nil)
			if refreshErr != nil {
				return nil, refreshErr
			}
			token = newToken

		case model.IsTransientError(err):
			delay := e.retryDelay(err, attempt)
			e.logger.Warn("リモートフェッチを再試行します",
				slog.String("connection_id", conn.ID),
				slog.Int("attempt", attempt+1),
				slog.Duration("delay", delay),
				slog.String("error", err.Error()),
			)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}

		default:
			return nil, err
		}
	}
	return nil, lastErr
}

// apply は差分をローカルミラーに適用する。
func (e *Engine) apply(ctx context.Context, conn *model.Connection, changes Changes, result *model.SyncResult) error {
	for _, r := range changes.Create {
		event := &model.Event{
			ID:           uuid.New().String(),
			ConnectionID: conn.ID,
			ExternalID:   r.ExternalID,
			Title:        r.Title,
			StartsAt:     r.StartsAt,
			EndsAt:       r.EndsAt,
			Busy:         r.Busy,
			Etag:         r.Etag,
		}
		if err := e.eventRepo.Create(ctx, event); err != nil {
			return fmt.Errorf("イベントの作成に失敗しました: %w", err)
		}
		result.Created++
	}

	for _, event := range changes.Update {
		if err := e.eventRepo.Update(ctx, event); err != nil {
			return fmt.Errorf("イベントの更新に失敗しました: %w", err)
		}
		result.Updated++
	}

	if len(changes.Delete) > 0 {
		deleted, err := e.eventRepo.DeleteByExternalIDs(ctx, conn.ID, changes.Delete)
		if err != nil {
			return fmt.Errorf("イベントの削除に失敗しました: %w", err)
		}
		result.Deleted = deleted
	}

	return nil
}

// fail は同期パス失敗時の接続状態更新とメトリクス記録を行う。
func (e *Engine) fail(ctx context.Context, conn *model.Connection, result *model.SyncResult, err error) model.SyncResult {
	now := time.Now()
	reason := FailureReason(err)

	if model.IsAuthError(err) {
		ApplyAuthFailure(conn, err.Error(), now)
	} else {
		ApplyTransientFailure(conn, err.Error(), now)
	}
	if updateErr := e.connRepo.UpdateSyncState(ctx, conn); updateErr != nil {
		e.logger.Error("接続状態の更新に失敗しました",
			slog.String("connection_id", conn.ID),
			slog.String("error", updateErr.Error()),
		)
	}

	e.collector.RecordSyncFailure(string(conn.Vendor), reason)

	e.logger.Error("同期パスに失敗しました",
		slog.String("connection_id", conn.ID),
		slog.String("vendor", string(conn.Vendor)),
		slog.String("reason", reason),
		slog.String("error", err.Error()),
	)

	result.Err = err
	return *result
}
