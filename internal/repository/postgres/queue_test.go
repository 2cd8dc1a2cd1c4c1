package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"

	"github.com/ignite/mailqueue/internal/domain"
	"github.com/ignite/mailqueue/internal/service/queue"
)

func setupMockDB(t *testing.T) (*QueueRepo, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewQueueRepo(db), mock
}

func testItem(t *testing.T) *domain.QueueItem {
	t.Helper()
	return domain.NewQueueItem(domain.MessagePayload{
		Recipient: domain.Address{Email: "To@Example.com"},
		From:      domain.Address{Email: "from@example.com"},
		Subject:   "Hi",
		TextBody:  "body",
	})
}

func queueRows(item *domain.QueueItem) *sqlmock.Rows {
	payload, _ := json.Marshal(item.Payload)
	return sqlmock.NewRows([]string{
		"id", "payload", "status", "attempts", "max_attempts", "last_error",
		"scheduled_at", "next_retry_at", "started_at", "completed_at", "created_at",
		"priority", "worker_id", "provider_message_id",
	}).AddRow(item.ID, payload, item.Status, item.Attempts, item.MaxAttempts, nil,
		item.ScheduledAt, nil, nil, nil, item.CreatedAt, item.Priority, nil, nil)
}

func TestQueueRepoInsert(t *testing.T) {
	repo, mock := setupMockDB(t)
	item := testItem(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO mail_queue`).
		WithArgs(item.ID, "to@example.com", sqlmock.AnyArg(), item.Status,
			item.Attempts, item.MaxAttempts, item.ScheduledAt, item.CreatedAt, item.Priority).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO mail_events`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := repo.Insert(context.Background(), item); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestQueueRepoInsertRollsBackOnEventFailure(t *testing.T) {
	repo, mock := setupMockDB(t)
	item := testItem(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO mail_queue`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO mail_events`).WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	if err := repo.Insert(context.Background(), item); err == nil {
		t.Fatal("Insert() should fail when the queued event cannot be written")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestQueueRepoClaim(t *testing.T) {
	repo, mock := setupMockDB(t)
	item := testItem(t)
	item.Status = domain.StatusProcessing
	item.Attempts = 1

	// One statement does select, lock and update; the lock must skip rows
	// other workers hold and the eligibility gate must exclude suppressed
	// recipients. The updated rows come back through an outer SELECT that
	// re-sorts them, since RETURNING alone has no guaranteed order.
	mock.ExpectQuery(`UPDATE mail_queue SET\s+status = 'processing'[\s\S]*FOR UPDATE SKIP LOCKED[\s\S]*RETURNING[\s\S]*SELECT[\s\S]*FROM claimed\s+ORDER BY priority DESC, scheduled_at ASC`).
		WithArgs("worker-1", 10).
		WillReturnRows(queueRows(item))

	items, err := repo.Claim(context.Background(), "worker-1", 10)
	if err != nil {
		t.Fatalf("Claim() error = %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("Claim() returned %d items, want 1", len(items))
	}
	if items[0].Status != domain.StatusProcessing || items[0].Attempts != 1 {
		t.Errorf("claimed item = status %q attempts %d", items[0].Status, items[0].Attempts)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestQueueRepoClaimGatesSuppressed(t *testing.T) {
	repo, mock := setupMockDB(t)

	mock.ExpectQuery(`NOT EXISTS \(\s*SELECT 1 FROM mail_suppressions`).
		WithArgs("worker-1", 5).
		WillReturnRows(queueRows(testItem(t)))

	if _, err := repo.Claim(context.Background(), "worker-1", 5); err != nil {
		t.Fatalf("Claim() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("claim query is missing the suppression gate: %v", err)
	}
}

func TestQueueRepoMarkSentWritesEventInTx(t *testing.T) {
	repo, mock := setupMockDB(t)
	id := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery(`UPDATE mail_queue SET\s+status = 'sent'`).
		WithArgs(id, "msg-1").
		WillReturnRows(sqlmock.NewRows([]string{"recipient", "subject"}).AddRow("to@example.com", "Hi"))
	mock.ExpectExec(`INSERT INTO mail_events`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := repo.MarkSent(context.Background(), id, "smtp", "msg-1", "250 OK"); err != nil {
		t.Fatalf("MarkSent() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestQueueRepoMarkSentWrongStatus(t *testing.T) {
	repo, mock := setupMockDB(t)
	id := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery(`UPDATE mail_queue SET\s+status = 'sent'`).
		WillReturnRows(sqlmock.NewRows([]string{"recipient", "subject"}))
	mock.ExpectQuery(`SELECT EXISTS`).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectRollback()

	err := repo.MarkSent(context.Background(), id, "smtp", "msg-1", "250 OK")
	if !errors.Is(err, queue.ErrInvalidTransition) {
		t.Fatalf("MarkSent() error = %v, want ErrInvalidTransition", err)
	}
}

func TestQueueRepoCancel(t *testing.T) {
	repo, mock := setupMockDB(t)
	id := uuid.New()

	t.Run("pending item cancels", func(t *testing.T) {
		mock.ExpectExec(`UPDATE mail_queue SET status = 'cancelled'`).
			WithArgs(id).
			WillReturnResult(sqlmock.NewResult(0, 1))
		if err := repo.Cancel(context.Background(), id); err != nil {
			t.Fatalf("Cancel() error = %v", err)
		}
	})

	t.Run("missing item yields not found", func(t *testing.T) {
		mock.ExpectExec(`UPDATE mail_queue SET status = 'cancelled'`).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(`SELECT EXISTS`).
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
		if err := repo.Cancel(context.Background(), id); !errors.Is(err, queue.ErrNotFound) {
			t.Fatalf("Cancel() error = %v, want ErrNotFound", err)
		}
	})

	t.Run("processing item rejects cancel", func(t *testing.T) {
		mock.ExpectExec(`UPDATE mail_queue SET status = 'cancelled'`).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(`SELECT EXISTS`).
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
		if err := repo.Cancel(context.Background(), id); !errors.Is(err, queue.ErrInvalidTransition) {
			t.Fatalf("Cancel() error = %v, want ErrInvalidTransition", err)
		}
	})
}

func TestQueueRepoStats(t *testing.T) {
	repo, mock := setupMockDB(t)

	mock.ExpectQuery(`SELECT\s+COUNT`).
		WillReturnRows(sqlmock.NewRows([]string{"p", "pr", "d", "s", "f"}).
			AddRow(10, 2, 3, 100, 5))

	stats, err := repo.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if stats.Pending != 10 || stats.Processing != 2 || stats.Deferred != 3 {
		t.Errorf("stats = %+v", stats)
	}
	if stats.Sent24h != 100 || stats.Failed24h != 5 {
		t.Errorf("24h stats = %+v", stats)
	}
}

func TestRetentionPurgeBatches(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	defer db.Close()
	repo := NewRetentionRepo(db)
	cutoff := time.Now().Add(-30 * 24 * time.Hour)

	// Two full batches then a short one means three DELETEs total.
	mock.ExpectExec(`DELETE FROM mail_queue`).WillReturnResult(sqlmock.NewResult(0, 100))
	mock.ExpectExec(`DELETE FROM mail_queue`).WillReturnResult(sqlmock.NewResult(0, 100))
	mock.ExpectExec(`DELETE FROM mail_queue`).WillReturnResult(sqlmock.NewResult(0, 17))

	n, err := repo.PurgeQueueItems(context.Background(), cutoff, 100)
	if err != nil {
		t.Fatalf("PurgeQueueItems() error = %v", err)
	}
	if n != 217 {
		t.Errorf("purged %d rows, want 217", n)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestRetentionReclaimStale(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	defer db.Close()
	repo := NewRetentionRepo(db)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE mail_queue SET\s+status = 'pending'`).
		WillReturnResult(sqlmock.NewResult(0, 4))
	mock.ExpectExec(`WITH gone AS`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	requeued, failed, err := repo.ReclaimStale(context.Background(), 5*time.Minute)
	if err != nil {
		t.Fatalf("ReclaimStale() error = %v", err)
	}
	if requeued != 4 || failed != 1 {
		t.Errorf("ReclaimStale() = (%d, %d), want (4, 1)", requeued, failed)
	}
}
