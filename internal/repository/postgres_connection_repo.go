package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/calman/internal/model"
)

// PostgresConnectionRepo はPostgreSQLを使用した接続リポジトリ。
type PostgresConnectionRepo struct {
	db *sql.DB
}

// NewPostgresConnectionRepo はPostgresConnectionRepoを生成する。
func NewPostgresConnectionRepo(db *sql.DB) *PostgresConnectionRepo {
	return &PostgresConnectionRepo{db: db}
}

const connectionColumns = `id, user_id, vendor, sync_cursor, status,
	last_synced_at, last_full_sync_at, last_error, created_at, updated_at`

// scanConnection は1行分の接続をスキャンする。
func scanConnection(row interface{ Scan(...any) error }) (*model.Connection, error) {
	conn := &model.Connection{}
	var lastSyncedAt, lastFullSyncAt sql.NullTime

	err := row.Scan(
		&conn.ID, &conn.UserID, &conn.Vendor, &conn.SyncCursor, &conn.Status,
		&lastSyncedAt, &lastFullSyncAt, &conn.LastError, &conn.CreatedAt, &conn.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if lastSyncedAt.Valid {
		conn.LastSyncedAt = &lastSyncedAt.Time
	}
	if lastFullSyncAt.Valid {
		conn.LastFullSyncAt = &lastFullSyncAt.Time
	}
	return conn, nil
}

// FindByID は指定IDの接続を取得する。見つからない場合はnilを返す。
func (r *PostgresConnectionRepo) FindByID(ctx context.Context, id string) (*model.Connection, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+connectionColumns+` FROM connections WHERE id = $1`, id)

	conn, err := scanConnection(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("接続の取得に失敗しました: %w", err)
	}
	return conn, nil
}

// ListActive は同期対象（status = 'active'）の接続一覧を返す。
func (r *PostgresConnectionRepo) ListActive(ctx context.Context) ([]*model.Connection, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+connectionColumns+` FROM connections WHERE status = 'active' ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("アクティブな接続一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var conns []*model.Connection
	for rows.Next() {
		conn, err := scanConnection(rows)
		if err != nil {
			return nil, fmt.Errorf("接続のスキャンに失敗しました: %w", err)
		}
		conns = append(conns, conn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("接続一覧の走査に失敗しました: %w", err)
	}
	return conns, nil
}

// Create は接続を作成する。
func (r *PostgresConnectionRepo) Create(ctx context.Context, conn *model.Connection) error {
	now := time.Now()
	if conn.CreatedAt.IsZero() {
		conn.CreatedAt = now
	}
	conn.UpdatedAt = now

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO connections (id, user_id, vendor, sync_cursor, status, last_error, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		conn.ID, conn.UserID, conn.Vendor, conn.SyncCursor, conn.Status,
		conn.LastError, conn.CreatedAt, conn.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("接続の作成に失敗しました: %w", err)
	}
	return nil
}

// UpdateSyncState は同期パス完了後の状態を更新する。
func (r *PostgresConnectionRepo) UpdateSyncState(ctx context.Context, conn *model.Connection) error {
	conn.UpdatedAt = time.Now()

	var lastSyncedAt, lastFullSyncAt sql.NullTime
	if conn.LastSyncedAt != nil {
		lastSyncedAt = sql.NullTime{Time: *conn.LastSyncedAt, Valid: true}
	}
	if conn.LastFullSyncAt != nil {
		lastFullSyncAt = sql.NullTime{Time: *conn.LastFullSyncAt, Valid: true}
	}

	_, err := r.db.ExecContext(ctx,
		`UPDATE connections
		 SET sync_cursor = $2, status = $3, last_synced_at = $4,
		     last_full_sync_at = $5, last_error = $6, updated_at = $7
		 WHERE id = $1`,
		conn.ID, conn.SyncCursor, conn.Status, lastSyncedAt, lastFullSyncAt,
		conn.LastError, conn.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("接続の同期状態の更新に失敗しました: %w", err)
	}
	return nil
}

// UpdateStatus は接続の状態とエラーメッセージのみを更新する。
func (r *PostgresConnectionRepo) UpdateStatus(ctx context.Context, id string, status model.ConnectionStatus, lastError string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE connections SET status = $2, last_error = $3, updated_at = $4 WHERE id = $1`,
		id, status, lastError, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("接続状態の更新に失敗しました: %w", err)
	}
	return nil
}

// DeleteByID は指定IDの接続を削除する。events、credentialsはCASCADE削除される。
func (r *PostgresConnectionRepo) DeleteByID(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM connections WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("接続の削除に失敗しました: %w", err)
	}
	return nil
}

// compile-time interface check
var _ ConnectionRepository = (*PostgresConnectionRepo)(nil)
