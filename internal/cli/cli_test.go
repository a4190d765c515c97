package cli

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/leyline/core/internal/api/middleware"
	"github.com/leyline/core/internal/config"
	"github.com/leyline/core/internal/database"
	"github.com/leyline/core/internal/database/models"
	"github.com/leyline/core/internal/services"
	"github.com/nalgeon/be"
	"gorm.io/gorm/logger"
)

func testEnv(t *testing.T) *Env {
	t.Helper()
	dir := t.TempDir()
	db, err := database.Initialize(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	db.Logger = logger.Default.LogMode(logger.Silent)
	t.Cleanup(func() {
		if sqlDB, _ := db.DB(); sqlDB != nil {
			sqlDB.Close()
		}
	})

	keys, err := middleware.NewAPIKeyManager(dir)
	be.Err(t, err, nil)

	logService := services.NewLogService(db)
	return &Env{
		Config:     config.Default(),
		APIKeys:    keys,
		LogService: logService,
		Store:      services.NewEmailStore(db),
		Profiles:   services.NewProfileService(db, nil, logService),
	}
}

func run(t *testing.T, env *Env, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd(env)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestKeyCommands(t *testing.T) {
	env := testEnv(t)
	oldKey := env.APIKeys.GetCurrentKey()

	out, err := run(t, env, "", "key", "show")
	be.Err(t, err, nil)
	be.Equal(t, strings.TrimSpace(out), oldKey)

	out, err = run(t, env, "no\n", "key", "reset")
	be.Err(t, err, nil)
	be.True(t, strings.Contains(out, "Cancelled."))
	be.Equal(t, env.APIKeys.GetCurrentKey(), oldKey)

	out, err = run(t, env, "", "key", "reset", "--yes")
	be.Err(t, err, nil)
	newKey := env.APIKeys.GetCurrentKey()
	be.True(t, newKey != oldKey)
	be.True(t, strings.Contains(out, newKey))
}

func TestProfileCommands(t *testing.T) {
	env := testEnv(t)

	_, err := run(t, env, "", "profile", "show", "alex@example.com")
	be.Err(t, err, services.ErrProfileNotFound)

	out, err := run(t, env, "", "profile", "set", "Alex@Example.com", "--first-name", "Alex", "--data", "name=Alexandria,city=Porto")
	be.Err(t, err, nil)
	be.True(t, strings.Contains(out, `"email": "alex@example.com"`))

	out, err = run(t, env, "", "profile", "add-context", "alex@example.com", "city:", "Lisbon")
	be.Err(t, err, nil)
	be.True(t, strings.Contains(out, `"city": "Lisbon"`))
	be.True(t, strings.Contains(out, `"name": "Alexandria"`))

	_, err = run(t, env, "", "profile", "add-context", "alex@example.com")
	be.Err(t, err)
}

func TestEmailList(t *testing.T) {
	env := testEnv(t)
	at := time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC)
	be.Err(t, env.Store.InsertEmail(&models.Email{ID: "m1", Subject: "Re: Permit Form", InternalDate: at, Status: models.EmailStatusStale}), nil)
	be.Err(t, env.Store.InsertEmail(&models.Email{ID: "m2", Subject: "Newsletter", InternalDate: at.Add(time.Hour), Status: models.EmailStatusDone}), nil)

	out, err := run(t, env, "", "email", "list", "--status", "stale")
	be.Err(t, err, nil)
	be.True(t, strings.Contains(out, "Re: Permit Form"))
	be.True(t, !strings.Contains(out, "Newsletter"))
	be.True(t, strings.Contains(out, "1 of 1 emails"))

	_, err = run(t, env, "", "email", "list", "--status", "archived")
	be.Err(t, err, services.ErrInvalidStatus)
}

// fakeReprocessor moves stale emails straight to done unless told to fail
type fakeReprocessor struct {
	store *services.EmailStore
	fail  map[string]bool
	calls []string
}

func (r *fakeReprocessor) Reprocess(ctx context.Context, emailID string) error {
	r.calls = append(r.calls, emailID)
	if r.fail[emailID] {
		return errors.New("model unavailable")
	}
	summary := "done by test"
	if _, err := r.store.UpdateEmailStatus(emailID, models.EmailStatusStale, models.EmailStatusProcessing, nil); err != nil {
		return err
	}
	_, err := r.store.UpdateEmailStatus(emailID, models.EmailStatusProcessing, models.EmailStatusDone, &summary)
	return err
}

func TestEmailReprocessAllStale(t *testing.T) {
	env := testEnv(t)
	reprocessor := &fakeReprocessor{store: env.Store, fail: map[string]bool{"m3": true}}
	env.Pipeline = reprocessor

	at := time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC)
	be.Err(t, env.Store.InsertEmail(&models.Email{ID: "m2", InternalDate: at.Add(time.Hour), Status: models.EmailStatusStale}), nil)
	be.Err(t, env.Store.InsertEmail(&models.Email{ID: "m1", InternalDate: at, Status: models.EmailStatusStale}), nil)
	be.Err(t, env.Store.InsertEmail(&models.Email{ID: "m3", InternalDate: at.Add(2 * time.Hour), Status: models.EmailStatusStale}), nil)
	be.Err(t, env.Store.InsertEmail(&models.Email{ID: "m4", InternalDate: at, Status: models.EmailStatusDone}), nil)

	_, err := run(t, env, "", "email", "reprocess", "m1", "--all-stale")
	be.Err(t, err)
	be.Equal(t, len(reprocessor.calls), 0)

	out, err := run(t, env, "", "email", "reprocess", "--all-stale")
	be.Err(t, err)
	be.Equal(t, reprocessor.calls, []string{"m1", "m2", "m3"})
	be.True(t, strings.Contains(out, "Email m1 is done"))
	be.True(t, strings.Contains(out, "Email m3 failed: model unavailable"))
	be.True(t, strings.Contains(out, "2 stale emails reprocessed, 1 failed"))

	out, err = run(t, env, "", "email", "reprocess", "m3")
	be.Err(t, err)
	reprocessor.fail = nil
	out, err = run(t, env, "", "email", "reprocess", "m3")
	be.Err(t, err, nil)
	be.True(t, strings.Contains(out, "Summary: done by test"))
}

func TestLogsCommand(t *testing.T) {
	env := testEnv(t)
	env.LogService.LogEmailIngested("m1", services.IngestDetails{Subject: "Re: Permit Form"})
	env.LogService.LogEngineRun("m1", services.EngineRunDetails{ProcessedBy: "ai", ErrorMsg: "rate limited"})
	env.LogService.LogEmailIngested("m2", services.IngestDetails{Subject: "Newsletter"})

	out, err := run(t, env, "", "logs", "--email", "m1")
	be.Err(t, err, nil)
	be.True(t, strings.Contains(out, "Failed to process email"))
	be.True(t, strings.Contains(out, "2 of 2 rows"))

	out, err = run(t, env, "", "logs", "--level", "error")
	be.Err(t, err, nil)
	be.True(t, strings.Contains(out, "engine"))
	be.True(t, strings.Contains(out, "1 of 1 rows"))
}

func TestVerboseRecordsDebugRows(t *testing.T) {
	env := testEnv(t)
	be.Equal(t, env.LogService.GetLogLevel(), models.LogLevelInfo)

	_, err := run(t, env, "", "--verbose", "key", "show")
	be.Err(t, err, nil)
	be.Equal(t, env.LogService.GetLogLevel(), models.LogLevelDebug)
}

func TestConfigCommands(t *testing.T) {
	env := testEnv(t)
	env.Config.AI.APIKey = "gsk_secret"
	env.Config.APIPort = "9191"

	out, err := run(t, env, "", "config", "show")
	be.Err(t, err, nil)
	be.True(t, strings.Contains(out, `"api_port": "9191"`))
	be.True(t, !strings.Contains(out, "gsk_secret"))

	path := filepath.Join(t.TempDir(), "config.yaml")
	out, err = run(t, env, "", "config", "init", path)
	be.Err(t, err, nil)
	be.True(t, strings.Contains(out, "Configuration written to"))

	loaded := config.Default()
	be.Err(t, loaded.LoadFile(path), nil)
	be.Equal(t, loaded.APIPort, "9191")
	be.Equal(t, loaded.AI.APIKey, "gsk_secret")

	_, err = run(t, env, "", "config", "init", path)
	be.Err(t, err)

	_, err = run(t, env, "", "config", "init", path, "--force", "--defaults")
	be.Err(t, err, nil)
	raw, err := os.ReadFile(path)
	be.Err(t, err, nil)
	be.True(t, strings.Contains(string(raw), "8080"))
	be.True(t, !strings.Contains(string(raw), "9191"))
}
