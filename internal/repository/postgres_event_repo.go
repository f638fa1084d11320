package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/hitoshi/calman/internal/model"
)

// PostgresEventRepo はPostgreSQLを使用したイベントリポジトリ。
type PostgresEventRepo struct {
	db *sql.DB
}

// NewPostgresEventRepo はPostgresEventRepoを生成する。
func NewPostgresEventRepo(db *sql.DB) *PostgresEventRepo {
	return &PostgresEventRepo{db: db}
}

const eventColumns = `id, connection_id, external_id, title, starts_at, ends_at,
	busy, etag, created_at, updated_at`

// scanEvent は1行分のイベントをスキャンする。
func scanEvent(row interface{ Scan(...any) error }) (*model.Event, error) {
	event := &model.Event{}
	err := row.Scan(
		&event.ID, &event.ConnectionID, &event.ExternalID, &event.Title,
		&event.StartsAt, &event.EndsAt, &event.Busy, &event.Etag,
		&event.CreatedAt, &event.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return event, nil
}

// ListByConnection は接続の全イベントをexternal_idをキーとしたマップで返す。
func (r *PostgresEventRepo) ListByConnection(ctx context.Context, connectionID string) (map[string]*model.Event, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+eventColumns+` FROM events WHERE connection_id = $1`, connectionID)
	if err != nil {
		return nil, fmt.Errorf("接続のイベント一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	events := make(map[string]*model.Event)
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("イベントのスキャンに失敗しました: %w", err)
		}
		events[event.ExternalID] = event
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("イベント一覧の走査に失敗しました: %w", err)
	}
	return events, nil
}

// ListBusyByUserAndRange は指定ユーザーのbusy=trueイベントのうち [from, to) と重なるものを返す。
// 接続を経由してユーザーに紐づくイベントをJOINで取得する。
func (r *PostgresEventRepo) ListBusyByUserAndRange(ctx context.Context, userID string, from, to time.Time) ([]*model.Event, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT e.id, e.connection_id, e.external_id, e.title, e.starts_at, e.ends_at,
		        e.busy, e.etag, e.created_at, e.updated_at
		 FROM events e
		 JOIN connections c ON c.id = e.connection_id
		 WHERE c.user_id = $1 AND e.busy = TRUE
		   AND e.starts_at < $3 AND e.ends_at > $2
		 ORDER BY e.starts_at`,
		userID, from, to)
	if err != nil {
		return nil, fmt.Errorf("ビジーイベントの取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var events []*model.Event
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("イベントのスキャンに失敗しました: %w", err)
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ビジーイベントの走査に失敗しました: %w", err)
	}
	return events, nil
}

// Create は新規イベントを作成する。
func (r *PostgresEventRepo) Create(ctx context.Context, event *model.Event) error {
	now := time.Now()
	if event.CreatedAt.IsZero() {
		event.CreatedAt = now
	}
	event.UpdatedAt = now

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO events (id, connection_id, external_id, title, starts_at, ends_at, busy, etag, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		event.ID, event.ConnectionID, event.ExternalID, event.Title,
		event.StartsAt, event.EndsAt, event.Busy, event.Etag,
		event.CreatedAt, event.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("イベントの作成に失敗しました: %w", err)
	}
	return nil
}

// Update は既存イベントを上書き更新する。
func (r *PostgresEventRepo) Update(ctx context.Context, event *model.Event) error {
	event.UpdatedAt = time.Now()

	_, err := r.db.ExecContext(ctx,
		`UPDATE events
		 SET title = $3, starts_at = $4, ends_at = $5, busy = $6, etag = $7, updated_at = $8
		 WHERE connection_id = $1 AND external_id = $2`,
		event.ConnectionID, event.ExternalID, event.Title,
		event.StartsAt, event.EndsAt, event.Busy, event.Etag, event.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("イベントの更新に失敗しました: %w", err)
	}
	return nil
}

// DeleteByExternalIDs は接続内の指定external_idのイベントを削除し、削除件数を返す。
func (r *PostgresEventRepo) DeleteByExternalIDs(ctx context.Context, connectionID string, externalIDs []string) (int, error) {
	if len(externalIDs) == 0 {
		return 0, nil
	}

	result, err := r.db.ExecContext(ctx,
		`DELETE FROM events WHERE connection_id = $1 AND external_id = ANY($2)`,
		connectionID, pq.Array(externalIDs),
	)
	if err != nil {
		return 0, fmt.Errorf("イベントの削除に失敗しました: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("削除件数の取得に失敗しました: %w", err)
	}
	return int(affected), nil
}

// DeleteByConnection は接続の全イベントを削除する。
func (r *PostgresEventRepo) DeleteByConnection(ctx context.Context, connectionID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM events WHERE connection_id = $1`, connectionID)
	if err != nil {
		return fmt.Errorf("接続のイベント削除に失敗しました: %w", err)
	}
	return nil
}

// DeleteEndedBefore は終了時刻がcutoffより前のイベントを削除し、削除件数を返す。
func (r *PostgresEventRepo) DeleteEndedBefore(ctx context.Context, cutoff time.Time) (int, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM events WHERE ends_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("期限切れイベントの削除に失敗しました: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("削除件数の取得に失敗しました: %w", err)
	}
	return int(affected), nil
}

// compile-time interface check
var _ EventRepository = (*PostgresEventRepo)(nil)
