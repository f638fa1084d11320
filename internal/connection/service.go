// Package connection はカレンダー接続のライフサイクル管理を提供する。
package connection

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hitoshi/calman/internal/model"
	"github.com/hitoshi/calman/internal/repository"
)

// TokenRevoker はベンダー側でのトークン失効処理を抽象化する。
type TokenRevoker interface {
	// Revoke は指定接続のトークンをベンダー側で失効させる。
	Revoke(ctx context.Context, connectionID string) error
}

// Service は接続の参照と切断のビジネスロジックを提供する。
type Service struct {
	connRepo  repository.ConnectionRepository
	credRepo  repository.CredentialRepository
	eventRepo repository.EventRepository
	revoker   TokenRevoker
	logger    *slog.Logger
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	connRepo repository.ConnectionRepository,
	credRepo repository.CredentialRepository,
	eventRepo repository.EventRepository,
	revoker TokenRevoker,
	logger *slog.Logger,
) *Service {
	return &Service{
		connRepo:  connRepo,
		credRepo:  credRepo,
		eventRepo: eventRepo,
		revoker:   revoker,
		logger:    logger,
	}
}

// Get は指定IDの接続を取得する。
// 見つからない場合はCONNECTION_NOT_FOUNDのAPIErrorを返す。
func (s *Service) Get(ctx context.Context, id string) (*model.Connection, error) {
	conn, err := s.connRepo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("接続の取得に失敗しました: %w", err)
	}
	if conn == nil {
		return nil, model.NewConnectionNotFoundError(id)
	}
	return conn, nil
}

// List は同期対象のアクティブな接続一覧を返す。
func (s *Service) List(ctx context.Context) ([]*model.Connection, error) {
	conns, err := s.connRepo.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("接続一覧の取得に失敗しました: %w", err)
	}
	return conns, nil
}

// Disconnect は接続を切断し、関連データを削除する。
// ベンダー側のトークン失効はベストエフォートで行い、失敗してもローカルの
// 削除は継続する。削除順は認証情報→イベント→接続の順で、途中で失敗した
// 場合も再実行すれば残りが削除される。
func (s *Service) Disconnect(ctx context.Context, id string) error {
	conn, err := s.connRepo.FindByID(ctx, id)
	if err != nil {
		return fmt.Errorf("接続の取得に失敗しました: %w", err)
	}
	if conn == nil {
		return model.NewConnectionNotFoundError(id)
	}

	if err := s.revoker.Revoke(ctx, id); err != nil {
		s.logger.Warn("トークンの失効に失敗しました。ローカルの削除は継続します",
			slog.String("connection_id", id),
			slog.String("error", err.Error()),
		)
	}

	if err := s.credRepo.DeleteByConnection(ctx, id); err != nil {
		return fmt.Errorf("認証情報の削除に失敗しました: %w", err)
	}
	if err := s.eventRepo.DeleteByConnection(ctx, id); err != nil {
		return fmt.Errorf("イベントの削除に失敗しました: %w", err)
	}
	if err := s.connRepo.DeleteByID(ctx, id); err != nil {
		return fmt.Errorf("接続の削除に失敗しました: %w", err)
	}

	s.logger.Info("接続を切断しました",
		slog.String("connection_id", id),
		slog.String("vendor", string(conn.Vendor)),
		slog.String("user_id", conn.UserID),
	)
	return nil
}
