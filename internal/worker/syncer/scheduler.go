package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/calman/internal/model"
	"github.com/hitoshi/calman/internal/repository"
)

// ErrSyncInProgress は同じ接続の同期が既に実行中であることを表す。
var ErrSyncInProgress = errors.New("同期は既に実行中です")

// SyncEngineService は接続1件の同期実行インターフェース。
type SyncEngineService interface {
	// Sync は指定接続の同期パスを実行し、結果を返す。
	Sync(ctx context.Context, conn *model.Connection) model.SyncResult
}

// Scheduler は同期パスのスケジューリングと並列制御を行う。
// 一定間隔のティッカーでアクティブな接続を取得し、
// semaphoreパターンで最大並列数を制御しながら同期を実行する。
// 同じ接続が複数のパスで同時に同期されることはない。
type Scheduler struct {
	connRepo       repository.ConnectionRepository
	engine         SyncEngineService
	logger         *slog.Logger
	maxConcurrency int
	runTimeout     time.Duration

	mu       sync.Mutex
	inFlight map[string]bool
}

// NewScheduler はSchedulerの新しいインスタンスを生成する。
// maxConcurrencyが0以下の場合はデフォルト値5を使用する。
func NewScheduler(
	connRepo repository.ConnectionRepository,
	engine SyncEngineService,
	logger *slog.Logger,
	maxConcurrency int,
	runTimeout time.Duration,
) *Scheduler {
	if maxConcurrency <= 0 {
		maxConcurrency = 5
	}
	return &Scheduler{
		connRepo:       connRepo,
		engine:         engine,
		logger:         logger,
		maxConcurrency: maxConcurrency,
		runTimeout:     runTimeout,
		inFlight:       make(map[string]bool),
	}
}

// Start は一定間隔のティッカーでスケジューラを起動する。
// コンテキストがキャンセルされるまで実行を継続する。
func (s *Scheduler) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("同期スケジューラを開始しました",
		slog.Duration("interval", interval),
		slog.Int("max_concurrency", s.maxConcurrency),
	)

	// 起動直後に1回実行
	if _, err := s.RunOnce(ctx); err != nil {
		s.logger.Error("スケジューリングパスの実行に失敗しました",
			slog.String("error", err.Error()),
		)
	}

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("同期スケジューラを停止しました")
			return
		case <-ticker.C:
			if _, err := s.RunOnce(ctx); err != nil {
				s.logger.Error("スケジューリングパスの実行に失敗しました",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// RunOnce はアクティブな接続を1回取得し、並列で同期を実行する。
// semaphoreパターンで最大並列数を制御し、全接続の完了を待って集計を返す。
func (s *Scheduler) RunOnce(ctx context.Context) (model.SyncSummary, error) {
	start := time.Now()
	var summary model.SyncSummary

	conns, err := s.connRepo.ListActive(ctx)
	if err != nil {
		return summary, err
	}

	if len(conns) == 0 {
		s.logger.Info("同期対象の接続はありません")
		return summary, nil
	}

	s.logger.Info("スケジューリングパスを開始します",
		slog.Int("connection_count", len(conns)),
	)

	// semaphoreパターンで並列数を制御
	sem := make(chan struct{}, s.maxConcurrency)
	var wg sync.WaitGroup
	var mu sync.Mutex

	for _, conn := range conns {
		// 前回パスの同期がまだ終わっていない接続はスキップ
		if !s.acquire(conn.ID) {
			s.logger.Warn("接続の同期が実行中のためスキップします",
				slog.String("connection_id", conn.ID),
			)
			continue
		}

		wg.Add(1)
		sem <- struct{}{} // semaphore取得（ブロック）

		go func(c *model.Connection) {
			defer wg.Done()
			defer func() { <-sem }() // semaphore解放
			defer s.release(c.ID)

			result := s.syncOne(ctx, c)

			mu.Lock()
			summary.Add(result)
			mu.Unlock()
		}(conn)
	}

	wg.Wait()

	summary.Duration = time.Since(start)
	s.logger.Info("スケジューリングパスが完了しました",
		slog.Int("attempted", summary.Attempted),
		slog.Int("succeeded", summary.Succeeded),
		slog.Int("failed", summary.Failed),
		slog.Float64("duration_ms", float64(summary.Duration.Milliseconds())),
	)

	return summary, nil
}

// TriggerSync は指定接続の同期を即時実行する。
// スケジューリングパスを待たずに手動で同期したい場合のAPI経路で使用する。
// 同じ接続の同期が実行中の場合はエラーを返す。
func (s *Scheduler) TriggerSync(ctx context.Context, conn *model.Connection) (model.SyncResult, error) {
	if !s.acquire(conn.ID) {
		return model.SyncResult{}, fmt.Errorf("接続 %s: %w", conn.ID, ErrSyncInProgress)
	}
	defer s.release(conn.ID)

	return s.syncOne(ctx, conn), nil
}

// syncOne はタイムアウトとパニック回復を付けて接続1件の同期を実行する。
func (s *Scheduler) syncOne(ctx context.Context, conn *model.Connection) (result model.SyncResult) {
	runCtx := ctx
	if s.runTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, s.runTimeout)
		defer cancel()
	}

	// 1接続のパニックでワーカープロセス全体を落とさない
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("同期パスでパニックが発生しました",
				slog.String("connection_id", conn.ID),
				slog.Any("panic", r),
			)
			result = model.SyncResult{
				ConnectionID: conn.ID,
				Err:          fmt.Errorf("同期パスでパニックが発生しました: %v", r),
			}
		}
	}()

	return s.engine.Sync(runCtx, conn)
}

// acquire は接続の実行中フラグの取得を試みる。
func (s *Scheduler) acquire(connectionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inFlight[connectionID] {
		return false
	}
	s.inFlight[connectionID] = true
	return true
}

// release は接続の実行中フラグを解放する。
func (s *Scheduler) release(connectionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inFlight, connectionID)
}
