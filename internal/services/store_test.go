package services

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/leyline/core/internal/database"
	"github.com/leyline/core/internal/database/models"
	"github.com/nalgeon/be"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupTestDB(t *testing.T) (*gorm.DB, func()) {
	t.Helper()
	db, err := database.Initialize(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	db.Logger = logger.Default.LogMode(logger.Silent)

	cleanup := func() {
		sqlDB, _ := db.DB()
		if sqlDB != nil {
			sqlDB.Close()
		}
	}
	return db, cleanup
}

func seedEmail(t *testing.T, store *EmailStore, id string, status models.EmailStatus, at time.Time) {
	t.Helper()
	err := store.InsertEmail(&models.Email{
		ID:           id,
		Subject:      "Subject " + id,
		InternalDate: at,
		Status:       status,
	})
	be.Err(t, err, nil)
}

func TestAppendActionCreatesThenAppends(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	store := NewEmailStore(db)

	actions, err := store.GetActionLog("m1")
	be.Err(t, err, nil)
	be.Equal(t, actions, []string{})

	be.Err(t, store.AppendAction("m1", "first"), nil)
	be.Err(t, store.AppendAction("m1", ""), nil)
	be.Err(t, store.AppendAction("m1", `quote " and 'apostrophe'`), nil)

	actions, err = store.GetActionLog("m1")
	be.Err(t, err, nil)
	be.Equal(t, actions, []string{"first", "", `quote " and 'apostrophe'`})

	var rows int64
	db.Model(&models.ActionLog{}).Where("email_id = ?", "m1").Count(&rows)
	be.Equal(t, rows, int64(1))
}

// Concurrent appends for one email must all survive in per-writer order
func TestAppendActionConcurrentWriters(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	store := NewEmailStore(db)

	const perWriter = 25
	writers := []string{"w1", "w2", "w3"}

	var wg sync.WaitGroup
	for _, w := range writers {
		wg.Add(1)
		go func(writer string) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				if err := store.AppendAction("m1", fmt.Sprintf("%s-%02d", writer, i)); err != nil {
					t.Errorf("append %s-%d: %v", writer, i, err)
				}
			}
		}(w)
	}
	wg.Wait()

	actions, err := store.GetActionLog("m1")
	be.Err(t, err, nil)
	be.Equal(t, len(actions), perWriter*len(writers))

	for _, w := range writers {
		next := 0
		for _, entry := range actions {
			if !strings.HasPrefix(entry, w+"-") {
				continue
			}
			be.Equal(t, entry, fmt.Sprintf("%s-%02d", w, next))
			next++
		}
		be.Equal(t, next, perWriter)
	}
}

func TestGetEmailPreloadsRelations(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	store := NewEmailStore(db)

	seedEmail(t, store, "m1", "", time.Now())
	be.Err(t, store.InsertPayload(&models.Payload{
		EmailID:  "m1",
		MimeType: "multipart/mixed",
		Headers:  map[string]string{"Subject": "Re: Permit Form"},
		Body:     models.PayloadBody{Size: 0},
	}), nil)
	be.Err(t, store.InsertAttachment(&models.Attachment{EmailID: "m1", AttachmentID: "a1", Filename: "permit.pdf", MimeType: "application/pdf", Data: "cGRm"}), nil)
	be.Err(t, store.AppendAction("m1", "done"), nil)

	email, err := store.GetEmail("m1")
	be.Err(t, err, nil)
	be.Equal(t, email.Status, models.EmailStatusStale)
	be.Equal(t, email.Payload.Headers["Subject"], "Re: Permit Form")
	be.Equal(t, len(email.Attachments), 1)
	be.Equal(t, email.Attachments[0].Data, "cGRm")
	be.Equal(t, email.ActionLog.Actions, []string{"done"})

	_, err = store.GetEmail("missing")
	be.Err(t, err, ErrEmailNotFound)
}

func TestInsertEmailRejectsDuplicateID(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	store := NewEmailStore(db)

	seedEmail(t, store, "m1", "", time.Now())
	err := store.InsertEmail(&models.Email{ID: "m1"})
	be.True(t, err != nil)

	exists, err := store.EmailExists("m1")
	be.Err(t, err, nil)
	be.True(t, exists)
}

func TestListEmails(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	store := NewEmailStore(db)

	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	seedEmail(t, store, "old", models.EmailStatusDone, base)
	seedEmail(t, store, "mid", models.EmailStatusStale, base.Add(time.Hour))
	seedEmail(t, store, "new", models.EmailStatusDone, base.Add(2*time.Hour))

	result, err := store.ListEmails(EmailListOptions{})
	be.Err(t, err, nil)
	be.Equal(t, result.Total, int64(3))
	be.Equal(t, result.Emails[0].ID, "new")
	be.Equal(t, result.Emails[2].ID, "old")

	result, err = store.ListEmails(EmailListOptions{Status: models.EmailStatusDone, Limit: 1, Page: 2})
	be.Err(t, err, nil)
	be.Equal(t, result.Total, int64(2))
	be.Equal(t, len(result.Emails), 1)
	be.Equal(t, result.Emails[0].ID, "old")

	_, err = store.ListEmails(EmailListOptions{Status: "archived"})
	be.Err(t, err, ErrInvalidStatus)

	ids, err := store.ListByStatus(models.EmailStatusDone)
	be.Err(t, err, nil)
	be.Equal(t, ids, []string{"old", "new"})
}
