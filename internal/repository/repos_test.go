package repository

import (
	"testing"
	"time"

	"github.com/hitoshi/calman/internal/model"
)

// 各Postgresリポジトリが対応するインターフェースを満たすことを検証

func TestPostgresConnectionRepo_ImplementsInterface(t *testing.T) {
	var _ ConnectionRepository = (*PostgresConnectionRepo)(nil)
}

func TestPostgresEventRepo_ImplementsInterface(t *testing.T) {
	var _ EventRepository = (*PostgresEventRepo)(nil)
}

func TestPostgresCredentialRepo_ImplementsInterface(t *testing.T) {
	var _ CredentialRepository = (*PostgresCredentialRepo)(nil)
}

func TestPostgresBookingRepo_ImplementsInterface(t *testing.T) {
	var _ BookingRepository = (*PostgresBookingRepo)(nil)
}

func TestPostgresWorkingHoursRepo_ImplementsInterface(t *testing.T) {
	var _ WorkingHoursRepository = (*PostgresWorkingHoursRepo)(nil)
}

// 各コンストラクタがnilでないインスタンスを返すことを検証

func TestNewPostgresConnectionRepo_Initializes(t *testing.T) {
	if NewPostgresConnectionRepo(nil) == nil {
		t.Fatal("expected non-nil repo")
	}
}

func TestNewPostgresEventRepo_Initializes(t *testing.T) {
	if NewPostgresEventRepo(nil) == nil {
		t.Fatal("expected non-nil repo")
	}
}

func TestNewPostgresCredentialRepo_Initializes(t *testing.T) {
	if NewPostgresCredentialRepo(nil) == nil {
		t.Fatal("expected non-nil repo")
	}
}

// DeleteByExternalIDsは空スライスの場合にDB呼び出しなしで0を返す
func TestPostgresEventRepo_DeleteByExternalIDs_EmptyIDs(t *testing.T) {
	repo := NewPostgresEventRepo(nil)

	deleted, err := repo.DeleteByExternalIDs(t.Context(), "conn-1", nil)
	if err != nil {
		t.Fatalf("expected no error for empty ids, got %v", err)
	}
	if deleted != 0 {
		t.Errorf("deleted = %d, want 0", deleted)
	}
}

// 新規モデルのタイムスタンプはCreate側で補完される前提のため、
// 生成直後はゼロ値であることを検証
func TestEventModel_Timestamps(t *testing.T) {
	event := &model.Event{
		ID:           "event-1",
		ConnectionID: "conn-1",
		ExternalID:   "ext-1",
		StartsAt:     time.Now(),
		EndsAt:       time.Now().Add(30 * time.Minute),
	}
	if !event.CreatedAt.IsZero() {
		t.Error("CreatedAt should be zero before Create")
	}
}
