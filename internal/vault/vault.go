// Package vault はOAuth認証情報の保管とトークンライフサイクル管理を提供する。
// トークンはAES-256-GCMで暗号化して永続化し、復号はリモート呼び出しの間だけ
// メモリ上で行う。期限が近いトークンはsingle-flightで先行リフレッシュする。
package vault

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/hitoshi/calman/internal/model"
	"github.com/hitoshi/calman/internal/repository"
)

// RefresherResolver はベンダー種別からTokenRefresherを解決する。
type RefresherResolver func(vendor model.Vendor) (TokenRefresher, error)

// Vault は接続ごとのOAuth認証情報を管理する。
// リフレッシュは接続IDをキーとしたsingle-flightで行われ、同一接続への
// 同時リクエストは1回のベンダー呼び出しを共有する。
type Vault struct {
	creds     repository.CredentialRepository
	conns     repository.ConnectionRepository
	cipher    *Cipher
	resolver  RefresherResolver
	margin    time.Duration
	logger    *slog.Logger

	group singleflight.Group
}

// New はVaultを生成する。
// marginはトークン期限の安全マージン。残り有効期間がmargin未満のトークンは
// 返却前にリフレッシュされる。
func New(
	creds repository.CredentialRepository,
	conns repository.ConnectionRepository,
	cipher *Cipher,
	resolver RefresherResolver,
	margin time.Duration,
	logger *slog.Logger,
) *Vault {
	if margin <= 0 {
		margin = 5 * time.Minute
	}
	return &Vault{
		creds:    creds,
		conns:    conns,
		cipher:   cipher,
		resolver: resolver,
		margin:   margin,
		logger:   logger,
	}
}

// Token は指定接続の有効なアクセストークンを返す。
// 期限の残りがマージン未満の場合は先行してリフレッシュする。
// グラントが取り消されている場合はmodel.AuthErrorを返し、接続をerror状態にする。
func (v *Vault) Token(ctx context.Context, connectionID string) (string, error) {
	cred, err := v.creds.FindByConnection(ctx, connectionID)
	if err != nil {
		return "", fmt.Errorf("認証情報の取得に失敗しました: %w", err)
	}
	if cred == nil {
		return "", &model.AuthError{Reason: fmt.Sprintf("接続 %s の認証情報がありません", connectionID)}
	}

	// 期限に十分な余裕がある場合はそのまま復号して返す
	if time.Until(cred.ExpiresAt) > v.margin {
		token, err := v.cipher.Decrypt(cred.AccessTokenEncrypted)
		if err != nil {
			return "", fmt.Errorf("アクセストークンの復号に失敗しました: %w", err)
		}
		return token, nil
	}

	return v.refresh(ctx, connectionID, cred)
}

// ForceRefresh は期限に関わらずトークンをリフレッシュして返す。
func (v *Vault) ForceRefresh(ctx context.Context, connectionID string) (string, error) {
	cred, err := v.creds.FindByConnection(ctx, connectionID)
	if err != nil {
		return "", fmt.Errorf("認証情報の取得に失敗しました: %w", err)
	}
	if cred == nil {
		return "", &model.AuthError{Reason: fmt.Sprintf("接続 %s の認証情報がありません", connectionID)}
	}

	return v.refresh(ctx, connectionID, cred)
}

// refreshTimeout はリフレッシュ1回あたりの上限時間。
// 呼び出し元のctxから切り離すため、ここで独自に期限を設ける。
const refreshTimeout = 30 * time.Second

// refresh はsingle-flightでトークンをリフレッシュする。
// 同一接続に対する並行呼び出しは進行中のリフレッシュ結果を共有し、
// ベンダーへの重複リクエストを発行しない。
// リフレッシュの結果は全待機者で共有されるため、最初の呼び出し元の
// キャンセルが他の待機者を巻き込まないよう、ctxのキャンセルからは切り離す。
func (v *Vault) refresh(ctx context.Context, connectionID string, cred *model.Credential) (string, error) {
	result, err, _ := v.group.Do(connectionID, func() (any, error) {
		refreshCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), refreshTimeout)
		defer cancel()
		return v.doRefresh(refreshCtx, connectionID, cred)
	})
	if err != nil {
		return "", err
	}
	return result.(string), nil
}

// doRefresh は実際のリフレッシュ処理を行う。group.Doの中からのみ呼ばれる。
func (v *Vault) doRefresh(ctx context.Context, connectionID string, cred *model.Credential) (string, error) {
	conn, err := v.conns.FindByID(ctx, connectionID)
	if err != nil {
		return "", fmt.Errorf("接続の取得に失敗しました: %w", err)
	}
	if conn == nil {
		return "", &model.AuthError{Reason: fmt.Sprintf("接続 %s が存在しません", connectionID)}
	}

	refresher, err := v.resolver(conn.Vendor)
	if err != nil {
		return "", err
	}

	refreshToken, err := v.cipher.Decrypt(cred.RefreshTokenEncrypted)
	if err != nil {
		return "", fmt.Errorf("リフレッシュトークンの復号に失敗しました: %w", err)
	}

	refreshed, err := refresher.Refresh(ctx, refreshToken)
	if err != nil {
		if model.IsAuthError(err) {
			// グラント取り消し: 接続をerror状態にし、再接続を要求する
			v.logger.Warn("トークンリフレッシュが拒否されました",
				slog.String("connection_id", connectionID),
				slog.String("error", err.Error()),
			)
			if updateErr := v.conns.UpdateStatus(ctx, connectionID, model.ConnectionStatusError, err.Error()); updateErr != nil {
				v.logger.Error("接続状態の更新に失敗しました",
					slog.String("connection_id", connectionID),
					slog.String("error", updateErr.Error()),
				)
			}
		}
		return "", err
	}

	accessEnc, err := v.cipher.Encrypt(refreshed.AccessToken)
	if err != nil {
		return "", fmt.Errorf("アクセストークンの暗号化に失敗しました: %w", err)
	}
	refreshEnc, err := v.cipher.Encrypt(refreshed.RefreshToken)
	if err != nil {
		return "", fmt.Errorf("リフレッシュトークンの暗号化に失敗しました: %w", err)
	}

	if err := v.creds.Save(ctx, &model.Credential{
		ConnectionID:          connectionID,
		AccessTokenEncrypted:  accessEnc,
		RefreshTokenEncrypted: refreshEnc,
		ExpiresAt:             refreshed.ExpiresAt,
	}); err != nil {
		return "", fmt.Errorf("更新後の認証情報の保存に失敗しました: %w", err)
	}

	v.logger.Info("トークンをリフレッシュしました",
		slog.String("connection_id", connectionID),
		slog.Time("expires_at", refreshed.ExpiresAt),
	)

	return refreshed.AccessToken, nil
}

// Revoke は指定接続のトークンをベンダー側で失効させる。
// 切断フローからのベストエフォート呼び出しを想定し、認証情報が既にない場合は成功扱いとする。
func (v *Vault) Revoke(ctx context.Context, connectionID string) error {
	cred, err := v.creds.FindByConnection(ctx, connectionID)
	if err != nil {
		return fmt.Errorf("認証情報の取得に失敗しました: %w", err)
	}
	if cred == nil {
		return nil
	}

	conn, err := v.conns.FindByID(ctx, connectionID)
	if err != nil {
		return fmt.Errorf("接続の取得に失敗しました: %w", err)
	}
	if conn == nil {
		return nil
	}

	refresher, err := v.resolver(conn.Vendor)
	if err != nil {
		return err
	}

	token, err := v.cipher.Decrypt(cred.AccessTokenEncrypted)
	if err != nil {
		return fmt.Errorf("アクセストークンの復号に失敗しました: %w", err)
	}

	return refresher.Revoke(ctx, token)
}
