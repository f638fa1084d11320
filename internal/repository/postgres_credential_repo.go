package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/calman/internal/model"
)

// PostgresCredentialRepo はPostgreSQLを使用した認証情報リポジトリ。
// トークンは呼び出し側（Token Vault）で暗号化された状態で渡される。
type PostgresCredentialRepo struct {
	db *sql.DB
}

// NewPostgresCredentialRepo はPostgresCredentialRepoを生成する。
func NewPostgresCredentialRepo(db *sql.DB) *PostgresCredentialRepo {
	return &PostgresCredentialRepo{db: db}
}

// FindByConnection は指定接続の認証情報を取得する。見つからない場合はnilを返す。
func (r *PostgresCredentialRepo) FindByConnection(ctx context.Context, connectionID string) (*model.Credential, error) {
	cred := &model.Credential{}

	err := r.db.QueryRowContext(ctx,
		`SELECT connection_id, access_token_encrypted, refresh_token_encrypted,
		        expires_at, created_at, updated_at
		 FROM credentials WHERE connection_id = $1`,
		connectionID,
	).Scan(
		&cred.ConnectionID, &cred.AccessTokenEncrypted, &cred.RefreshTokenEncrypted,
		&cred.ExpiresAt, &cred.CreatedAt, &cred.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("認証情報の取得に失敗しました: %w", err)
	}
	return cred, nil
}

// Save は認証情報を冪等にUPSERTする。
func (r *PostgresCredentialRepo) Save(ctx context.Context, cred *model.Credential) error {
	now := time.Now()

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO credentials (connection_id, access_token_encrypted, refresh_token_encrypted, expires_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $5)
		 ON CONFLICT (connection_id) DO UPDATE
		 SET access_token_encrypted = EXCLUDED.access_token_encrypted,
		     refresh_token_encrypted = EXCLUDED.refresh_token_encrypted,
		     expires_at = EXCLUDED.expires_at,
		     updated_at = EXCLUDED.updated_at`,
		cred.ConnectionID, cred.AccessTokenEncrypted, cred.RefreshTokenEncrypted,
		cred.ExpiresAt, now,
	)
	if err != nil {
		return fmt.Errorf("認証情報の保存に失敗しました: %w", err)
	}
	return nil
}

// DeleteByConnection は指定接続の認証情報を削除する。
func (r *PostgresCredentialRepo) DeleteByConnection(ctx context.Context, connectionID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM credentials WHERE connection_id = $1`, connectionID)
	if err != nil {
		return fmt.Errorf("認証情報の削除に失敗しました: %w", err)
	}
	return nil
}

// compile-time interface check
var _ CredentialRepository = (*PostgresCredentialRepo)(nil)
