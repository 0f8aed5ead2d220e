package storage

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/orbitlabs/orbit/internal/core"
)

var testNow = time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC) // a Monday

// testDB creates an in-memory database for testing
func testDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(Config{InMemory: true})
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}
	t.Cleanup(func() {
		db.Close()
	})
	if err := db.Migrate(); err != nil {
		t.Fatalf("migrate test database: %v", err)
	}
	return db
}

// =============================================================================
// DB Tests
// =============================================================================

func TestDB_Open_InMemory(t *testing.T) {
	db, err := Open(Config{InMemory: true})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer db.Close()

	if db.conn == nil {
		t.Error("db.conn should not be nil")
	}
	if !db.isMemory {
		t.Error("db.isMemory should be true for in-memory database")
	}
	if db.Driver() != DriverSQLite {
		t.Errorf("Driver() = %q, want %q", db.Driver(), DriverSQLite)
	}
}

func TestDB_Open_InMemoryIsolated(t *testing.T) {
	a := testDB(t)
	b := testDB(t)
	ctx := context.Background()

	if err := NewUserStore(a).Create(ctx, &core.User{ID: "u1", Name: "A", CreatedAt: testNow}); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if _, err := NewUserStore(b).Get(ctx, "u1"); !errors.Is(err, core.ErrUserNotFound) {
		t.Errorf("second database should not see the first one's rows, got %v", err)
	}
}

func TestDB_Open_File(t *testing.T) {
	path := t.TempDir() + "/nested/orbit.db"

	db, err := Open(Config{Path: path})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer db.Close()

	if db.isMemory {
		t.Error("db.isMemory should be false for file database")
	}
	if err := db.Migrate(); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
}

func TestDB_Open_SQLite3Driver(t *testing.T) {
	db, err := Open(Config{Driver: DriverSQLite3, InMemory: true})
	if err != nil {
		if strings.Contains(err.Error(), "cgo") {
			t.Skip("go-sqlite3 needs cgo")
		}
		t.Fatalf("Open() error = %v", err)
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	ctx := context.Background()
	store := NewTaskStore(db)
	task := &core.Task{UserID: "u1", Title: "cgo", Priority: 1, CreatedAt: testNow}
	if err := store.Create(ctx, task); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if _, err := store.Get(ctx, task.ID); err != nil {
		t.Errorf("Get() error = %v", err)
	}
}

func TestDB_Open_Errors(t *testing.T) {
	if _, err := Open(Config{Driver: "mysql"}); err == nil {
		t.Error("expected error for unsupported driver")
	}
	if _, err := Open(Config{Driver: DriverPostgres}); err == nil {
		t.Error("expected error for postgres without DSN")
	}
}

func TestDB_Migrate_Idempotent(t *testing.T) {
	db := testDB(t)

	if err := db.Migrate(); err != nil {
		t.Fatalf("second Migrate() error = %v", err)
	}

	var count int
	if err := db.conn.QueryRow("SELECT COUNT(*) FROM schema_versions").Scan(&count); err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("applied migrations = %d, want 1", count)
	}

	version, err := db.SchemaVersion()
	if err != nil {
		t.Fatalf("SchemaVersion() error = %v", err)
	}
	if version != 1 {
		t.Errorf("SchemaVersion() = %d, want 1", version)
	}
}

func TestLoadMigrations(t *testing.T) {
	migrations, err := loadMigrations()
	if err != nil {
		t.Fatalf("loadMigrations() error = %v", err)
	}
	if len(migrations) == 0 {
		t.Fatal("no embedded migrations")
	}
	if m := migrations[0]; m.Version != 1 || m.Description != "initial" {
		t.Errorf("first migration = %d %q, want 1 \"initial\"", m.Version, m.Description)
	}
}

func TestDB_Rebind(t *testing.T) {
	sqlite := &DB{driver: DriverSQLite}
	pg := &DB{driver: DriverPostgres}
	query := "SELECT * FROM t WHERE a = ? AND b IN (?, ?)"

	if got := sqlite.Rebind(query); got != query {
		t.Errorf("sqlite Rebind() = %q, want unchanged", got)
	}
	want := "SELECT * FROM t WHERE a = $1 AND b IN ($2, $3)"
	if got := pg.Rebind(query); got != want {
		t.Errorf("postgres Rebind() = %q, want %q", got, want)
	}
}

func TestDB_LockClause(t *testing.T) {
	pg := &DB{driver: DriverPostgres}
	if got := (runner{db: pg}).lockClause(); got != "" {
		t.Errorf("lock clause outside a transaction = %q", got)
	}
	if got := (runner{db: pg, inTx: true}).lockClause(); got != " FOR UPDATE" {
		t.Errorf("postgres lock clause = %q", got)
	}
	if got := (runner{db: &DB{driver: DriverSQLite}, inTx: true}).lockClause(); got != "" {
		t.Errorf("sqlite lock clause = %q", got)
	}
}

func TestDB_Transaction_Rollback(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := db.Transaction(ctx, func(tx *Tx) error {
		if err := NewUserStore(db).WithTx(tx).Create(ctx, &core.User{ID: "u1", Name: "A", CreatedAt: testNow}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Transaction() error = %v, want boom", err)
	}

	if _, err := NewUserStore(db).Get(ctx, "u1"); !errors.Is(err, core.ErrUserNotFound) {
		t.Errorf("rolled back insert should not be visible, got %v", err)
	}
}

// =============================================================================
// ProfileStore Tests
// =============================================================================

func TestProfileStore_GetOrCreate(t *testing.T) {
	db := testDB(t)
	store := NewProfileStore(db)
	ctx := context.Background()

	if _, err := store.Get(ctx, "u1"); !errors.Is(err, core.ErrProfileNotFound) {
		t.Fatalf("Get() error = %v, want ErrProfileNotFound", err)
	}

	p, err := store.GetOrCreate(ctx, "u1", testNow)
	if err != nil {
		t.Fatalf("GetOrCreate() error = %v", err)
	}
	if p.AverageFocusDuration != 25 || p.OptimalFocusDuration != 45 {
		t.Errorf("focus defaults = %d/%d, want 25/45", p.AverageFocusDuration, p.OptimalFocusDuration)
	}
	if len(p.PeakFocusHours) != 4 || p.PeakFocusHours[0] != 10 {
		t.Errorf("PeakFocusHours = %v", p.PeakFocusHours)
	}
	if !p.Preferences.AllowInsights {
		t.Error("preferences should default to allowing insights")
	}
	if !p.LastUpdated.Equal(testNow) {
		t.Errorf("LastUpdated = %v, want %v", p.LastUpdated, testNow)
	}

	again, err := store.GetOrCreate(ctx, "u1", testNow.Add(time.Hour))
	if err != nil {
		t.Fatalf("second GetOrCreate() error = %v", err)
	}
	if again.ID != p.ID {
		t.Error("GetOrCreate should return the existing profile")
	}
}

func TestProfileStore_Save(t *testing.T) {
	db := testDB(t)
	store := NewProfileStore(db)
	ctx := context.Background()

	p, err := store.GetOrCreate(ctx, "u1", testNow)
	if err != nil {
		t.Fatal(err)
	}

	p.TaskCompletionRate = 0.42
	p.OvercommitmentScore = 0.3
	p.PeakFocusHours = []int{9, 21}
	p.DataPointsCollected = 17
	p.Preferences.QuietHoursStart = core.IntPtr(0)
	p.Preferences.QuietHoursEnd = core.IntPtr(6)
	if err := store.Save(ctx, p); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	got, err := store.Get(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if got.TaskCompletionRate != 0.42 || got.OvercommitmentScore != 0.3 {
		t.Errorf("scores not saved: %+v", got)
	}
	if got.DataPointsCollected != 17 {
		t.Errorf("DataPointsCollected = %d, want 17", got.DataPointsCollected)
	}
	if len(got.PeakFocusHours) != 2 || got.PeakFocusHours[1] != 21 {
		t.Errorf("PeakFocusHours = %v", got.PeakFocusHours)
	}
	if got.Preferences.QuietHoursStart == nil || *got.Preferences.QuietHoursStart != 0 {
		t.Error("quiet hour 0 should survive a round trip")
	}

	missing := core.NewCognitiveProfile("ghost", testNow)
	if err := store.Save(ctx, missing); !errors.Is(err, core.ErrProfileNotFound) {
		t.Errorf("Save() of unknown profile error = %v", err)
	}
}

func TestProfileStore_UpdatePreferences(t *testing.T) {
	db := testDB(t)
	store := NewProfileStore(db)
	ctx := context.Background()

	if err := store.UpdatePreferences(ctx, "u1", core.DefaultPreferences(), testNow); !errors.Is(err, core.ErrProfileNotFound) {
		t.Errorf("UpdatePreferences() without profile error = %v", err)
	}

	if _, err := store.GetOrCreate(ctx, "u1", testNow); err != nil {
		t.Fatal(err)
	}
	prefs := core.DefaultPreferences()
	prefs.AllowCelebrations = false
	prefs.NotificationTimes = []int{9, 18}
	if err := store.UpdatePreferences(ctx, "u1", prefs, testNow); err != nil {
		t.Fatalf("UpdatePreferences() error = %v", err)
	}

	got, err := store.GetPreferences(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if got.AllowCelebrations {
		t.Error("AllowCelebrations should be false")
	}
	if len(got.NotificationTimes) != 2 {
		t.Errorf("NotificationTimes = %v", got.NotificationTimes)
	}
}

func TestProfileStore_PreferencesMissingKeysKeepDefaults(t *testing.T) {
	db := testDB(t)
	store := NewProfileStore(db)
	ctx := context.Background()

	if _, err := store.GetOrCreate(ctx, "u1", testNow); err != nil {
		t.Fatal(err)
	}
	if _, err := db.conn.Exec(`UPDATE cognitive_profiles SET preferences = '{"quiet_hours_start": 22}' WHERE user_id = 'u1'`); err != nil {
		t.Fatal(err)
	}

	got, err := store.GetPreferences(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if !got.AllowInsights || !got.AllowReminders {
		t.Error("absent allow flags should default to true")
	}
	if got.HasQuietHours() {
		t.Error("a single quiet hour bound is not a quiet window")
	}
}

// =============================================================================
// EventStore Tests
// =============================================================================

func insertEvent(t *testing.T, store *EventStore, user core.UserID, typ core.EventType, at time.Time) *core.BehavioralEvent {
	t.Helper()
	e := &core.BehavioralEvent{
		UserID:     user,
		Type:       typ,
		EntityType: core.EntityTask,
		EntityID:   "task-1",
		Data:       map[string]any{"k": "v"},
		TimeOfDay:  core.IntPtr(at.Hour()),
		DayOfWeek:  core.IntPtr(core.WeekdayIndex(at)),
		CreatedAt:  at,
	}
	if err := store.Insert(context.Background(), e); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
	return e
}

func TestEventStore_ListUnanalyzedAndMark(t *testing.T) {
	db := testDB(t)
	store := NewEventStore(db)
	ctx := context.Background()

	old := insertEvent(t, store, "u1", core.EventTaskStarted, testNow.Add(-5*time.Hour))
	e1 := insertEvent(t, store, "u1", core.EventTaskStarted, testNow.Add(-time.Hour))
	e2 := insertEvent(t, store, "u1", core.EventTaskCompleted, testNow.Add(-30*time.Minute))
	insertEvent(t, store, "u2", core.EventTaskStarted, testNow.Add(-time.Hour))

	events, err := store.ListUnanalyzed(ctx, "u1", testNow.Add(-2*time.Hour))
	if err != nil {
		t.Fatalf("ListUnanalyzed() error = %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if events[0].ID != e1.ID || events[1].ID != e2.ID {
		t.Error("events should be oldest first")
	}
	if events[0].Data["k"] != "v" {
		t.Errorf("Data = %v", events[0].Data)
	}
	if events[0].TimeOfDay == nil || *events[0].TimeOfDay != 13 {
		t.Errorf("TimeOfDay = %v, want 13", events[0].TimeOfDay)
	}

	n, err := store.MarkAnalyzed(ctx, []string{e1.ID, e2.ID})
	if err != nil {
		t.Fatalf("MarkAnalyzed() error = %v", err)
	}
	if n != 2 {
		t.Errorf("MarkAnalyzed() = %d, want 2", n)
	}

	// Second mark flips nothing
	n, err = store.MarkAnalyzed(ctx, []string{e1.ID, e2.ID, old.ID})
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("MarkAnalyzed() = %d, want 1 (only the old event)", n)
	}

	events, err = store.ListUnanalyzed(ctx, "u1", testNow.Add(-24*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 0 {
		t.Errorf("got %d unanalyzed events, want 0", len(events))
	}
}

func TestEventStore_CountSinceAndHistory(t *testing.T) {
	db := testDB(t)
	store := NewEventStore(db)
	ctx := context.Background()

	insertEvent(t, store, "u1", core.EventTaskAbandoned, testNow.Add(-2*time.Hour))
	insertEvent(t, store, "u1", core.EventTaskAbandoned, testNow.Add(-20*time.Minute))
	insertEvent(t, store, "u1", core.EventTaskAbandoned, testNow.Add(-10*time.Minute))
	insertEvent(t, store, "u1", core.EventTaskStarted, testNow.Add(-10*time.Minute))

	count, err := store.CountSince(ctx, "u1", core.EventTaskAbandoned, testNow.Add(-time.Hour))
	if err != nil {
		t.Fatalf("CountSince() error = %v", err)
	}
	if count != 2 {
		t.Errorf("CountSince() = %d, want 2", count)
	}

	history, err := store.History(ctx, "u1", "", 3)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 3 {
		t.Errorf("History() returned %d events, want 3", len(history))
	}

	history, err = store.History(ctx, "u1", core.EventTaskStarted, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 1 {
		t.Errorf("filtered History() returned %d events, want 1", len(history))
	}
}

// =============================================================================
// TaskStore Tests
// =============================================================================

func TestTaskStore_TopPendingOrdering(t *testing.T) {
	db := testDB(t)
	store := NewTaskStore(db)
	ctx := context.Background()

	if top, err := store.TopPending(ctx, "u1"); err != nil || top != nil {
		t.Fatalf("TopPending() on empty = %v, %v", top, err)
	}

	tasks := []*core.Task{
		{UserID: "u1", Title: "low", Priority: 0.5, CreatedAt: testNow.Add(-3 * time.Hour)},
		{UserID: "u1", Title: "high-newer", Priority: 2, CreatedAt: testNow.Add(-time.Hour)},
		{UserID: "u1", Title: "high-older", Priority: 2, CreatedAt: testNow.Add(-2 * time.Hour)},
		{UserID: "u1", Title: "done", Priority: 5, Status: core.TaskCompleted, CreatedAt: testNow},
	}
	for _, task := range tasks {
		if err := store.Create(ctx, task); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}

	top, err := store.TopPending(ctx, "u1")
	if err != nil {
		t.Fatalf("TopPending() error = %v", err)
	}
	if top.Title != "high-older" {
		t.Errorf("TopPending() = %q, want high-older", top.Title)
	}

	count, err := store.CountByStatus(ctx, "u1", core.TaskPending)
	if err != nil {
		t.Fatal(err)
	}
	if count != 3 {
		t.Errorf("CountByStatus() = %d, want 3", count)
	}
}

func TestTaskStore_UpdateStatus(t *testing.T) {
	db := testDB(t)
	store := NewTaskStore(db)
	ctx := context.Background()

	task := &core.Task{UserID: "u1", Title: "write", Priority: 1, EstimatedMinutes: core.IntPtr(30), CreatedAt: testNow}
	if err := store.Create(ctx, task); err != nil {
		t.Fatal(err)
	}

	started := testNow.Add(time.Minute)
	task.Status = core.TaskInProgress
	task.StartedAt = &started
	task.UpdatedAt = started
	if err := store.UpdateStatus(ctx, task); err != nil {
		t.Fatalf("UpdateStatus() error = %v", err)
	}

	inProgress, err := store.LatestInProgress(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if inProgress == nil || inProgress.ID != task.ID {
		t.Fatal("task should be in progress")
	}
	if inProgress.StartedAt == nil || !inProgress.StartedAt.Equal(started) {
		t.Errorf("StartedAt = %v", inProgress.StartedAt)
	}
	if *inProgress.EstimatedMinutes != 30 {
		t.Errorf("EstimatedMinutes = %v", *inProgress.EstimatedMinutes)
	}

	if err := store.UpdateStatus(ctx, &core.Task{ID: "ghost"}); !errors.Is(err, core.ErrTaskNotFound) {
		t.Errorf("UpdateStatus() of unknown task error = %v", err)
	}
}

func TestTaskStore_CompletedDays(t *testing.T) {
	db := testDB(t)
	store := NewTaskStore(db)
	ctx := context.Background()

	for _, offset := range []time.Duration{0, time.Hour, 24 * time.Hour, 72 * time.Hour} {
		done := testNow.Add(-offset)
		task := &core.Task{UserID: "u1", Title: "t", Status: core.TaskCompleted, Priority: 1, CreatedAt: done, CompletedAt: &done}
		if err := store.Create(ctx, task); err != nil {
			t.Fatal(err)
		}
	}

	days, err := store.CompletedDays(ctx, "u1", testNow.Add(-30*24*time.Hour))
	if err != nil {
		t.Fatalf("CompletedDays() error = %v", err)
	}
	if len(days) != 3 {
		t.Errorf("CompletedDays() = %d days, want 3", len(days))
	}
}

// =============================================================================
// IntentStore Tests
// =============================================================================

func TestIntentStore_DecayableAndUpdate(t *testing.T) {
	db := testDB(t)
	store := NewIntentStore(db)
	ctx := context.Background()

	old := &core.Intent{UserID: "u1", RawInput: "old", InitialPriority: 1, CurrentPriority: 1, DecayRate: 0.1, CreatedAt: testNow.Add(-3 * time.Hour)}
	fresh := &core.Intent{UserID: "u1", RawInput: "fresh", InitialPriority: 1, CurrentPriority: 1, DecayRate: 0.1, CreatedAt: testNow.Add(-10 * time.Minute)}
	done := &core.Intent{UserID: "u1", RawInput: "done", InitialPriority: 1, CurrentPriority: 1, DecayRate: 0.1, IsProcessed: true, CreatedAt: testNow.Add(-5 * time.Hour)}
	for _, in := range []*core.Intent{old, fresh, done} {
		if err := store.Create(ctx, in); err != nil {
			t.Fatal(err)
		}
	}

	intents, err := store.ListDecayable(ctx, testNow.Add(-time.Hour))
	if err != nil {
		t.Fatalf("ListDecayable() error = %v", err)
	}
	if len(intents) != 1 || intents[0].ID != old.ID {
		t.Fatalf("ListDecayable() = %v, want only the old intent", intents)
	}

	changed, err := store.UpdatePriority(ctx, old.ID, 0.7)
	if err != nil || !changed {
		t.Fatalf("UpdatePriority() = %v, %v", changed, err)
	}
	// Never raises
	changed, err = store.UpdatePriority(ctx, old.ID, 0.9)
	if err != nil || changed {
		t.Errorf("UpdatePriority() raising = %v, %v", changed, err)
	}

	got, err := store.Get(ctx, old.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.CurrentPriority != 0.7 {
		t.Errorf("CurrentPriority = %v, want 0.7", got.CurrentPriority)
	}

	if err := store.MarkProcessed(ctx, old.ID, testNow); err != nil {
		t.Fatal(err)
	}
	changed, err = store.UpdatePriority(ctx, old.ID, 0.2)
	if err != nil || changed {
		t.Errorf("processed intents must not decay: %v, %v", changed, err)
	}
}

// =============================================================================
// MemoryStore Tests
// =============================================================================

func TestMemoryStore_Consolidate(t *testing.T) {
	db := testDB(t)
	store := NewMemoryStore(db)
	ctx := context.Background()
	expires := testNow.Add(time.Hour)

	popular := &core.Memory{UserID: "u1", Content: "a", Type: core.MemoryShortTerm, RetrievalCount: 3, IsActive: true, ExpiresAt: &expires, CreatedAt: testNow.Add(-13 * time.Hour)}
	ignored := &core.Memory{UserID: "u1", Content: "b", Type: core.MemoryShortTerm, RetrievalCount: 0, IsActive: true, CreatedAt: testNow.Add(-13 * time.Hour)}
	middling := &core.Memory{UserID: "u1", Content: "c", Type: core.MemoryShortTerm, RetrievalCount: 1, IsActive: true, CreatedAt: testNow.Add(-13 * time.Hour)}
	young := &core.Memory{UserID: "u1", Content: "d", Type: core.MemoryShortTerm, RetrievalCount: 0, IsActive: true, CreatedAt: testNow.Add(-time.Hour)}
	for _, m := range []*core.Memory{popular, ignored, middling, young} {
		if err := store.Create(ctx, m); err != nil {
			t.Fatal(err)
		}
	}

	result, err := store.Consolidate(ctx, testNow.Add(-12*time.Hour), 3)
	if err != nil {
		t.Fatalf("Consolidate() error = %v", err)
	}
	if result.Promoted != 1 || result.Deactivated != 1 {
		t.Errorf("Consolidate() = %+v, want 1 promoted, 1 deactivated", result)
	}

	got, _ := store.Get(ctx, popular.ID)
	if got.Type != core.MemoryLongTerm || got.ExpiresAt != nil {
		t.Errorf("popular memory = %+v, want long_term without expiry", got)
	}
	got, _ = store.Get(ctx, ignored.ID)
	if got.IsActive {
		t.Error("ignored memory should be inactive")
	}
	got, _ = store.Get(ctx, young.ID)
	if !got.IsActive || got.Type != core.MemoryShortTerm {
		t.Error("young memory should be untouched")
	}
}

func TestMemoryStore_RecallAndList(t *testing.T) {
	db := testDB(t)
	store := NewMemoryStore(db)
	ctx := context.Background()

	older := &core.Memory{UserID: "u1", Content: "older", Type: core.MemoryShortTerm, IsActive: true, CreatedAt: testNow.Add(-2 * time.Hour)}
	newer := &core.Memory{UserID: "u1", Content: "newer", Type: core.MemorySemantic, IsActive: true, CreatedAt: testNow.Add(-time.Hour)}
	hidden := &core.Memory{UserID: "u1", Content: "gone", Type: core.MemoryShortTerm, IsActive: false, CreatedAt: testNow}
	other := &core.Memory{UserID: "u2", Content: "theirs", Type: core.MemoryShortTerm, IsActive: true, CreatedAt: testNow}
	for _, m := range []*core.Memory{older, newer, hidden, other} {
		if err := store.Create(ctx, m); err != nil {
			t.Fatal(err)
		}
	}

	for i := 0; i < 2; i++ {
		if err := store.RecordRetrieval(ctx, older.ID); err != nil {
			t.Fatalf("RecordRetrieval() error = %v", err)
		}
	}
	got, _ := store.Get(ctx, older.ID)
	if got.RetrievalCount != 2 {
		t.Errorf("RetrievalCount = %d, want 2", got.RetrievalCount)
	}
	if err := store.RecordRetrieval(ctx, "missing"); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("RecordRetrieval(missing) error = %v, want not found", err)
	}

	list, err := store.ListRecent(ctx, "u1", "", 10)
	if err != nil {
		t.Fatalf("ListRecent() error = %v", err)
	}
	if len(list) != 2 || list[0].ID != newer.ID {
		t.Errorf("ListRecent() = %d memories, want newer first of 2", len(list))
	}
	list, _ = store.ListRecent(ctx, "u1", core.MemoryShortTerm, 10)
	if len(list) != 1 || list[0].ID != older.ID {
		t.Errorf("ListRecent(short_term) = %+v", list)
	}

	counts, err := store.CountByType(ctx, "u1")
	if err != nil {
		t.Fatalf("CountByType() error = %v", err)
	}
	if counts[core.MemoryShortTerm] != 1 || counts[core.MemorySemantic] != 1 {
		t.Errorf("CountByType() = %v", counts)
	}
}

// =============================================================================
// UserStore Tests
// =============================================================================

func TestUserStore_ListActive(t *testing.T) {
	db := testDB(t)
	store := NewUserStore(db)
	ctx := context.Background()

	for _, u := range []*core.User{
		{ID: "recent", Name: "R", IsActive: true, CreatedAt: testNow},
		{ID: "stale", Name: "S", IsActive: true, CreatedAt: testNow},
		{ID: "disabled", Name: "D", IsActive: false, CreatedAt: testNow},
	} {
		if err := store.Create(ctx, u); err != nil {
			t.Fatal(err)
		}
	}

	store.Touch(ctx, "recent", testNow.Add(-time.Hour))
	store.Touch(ctx, "stale", testNow.Add(-48*time.Hour))
	store.Touch(ctx, "disabled", testNow.Add(-time.Hour))

	ids, err := store.ListActive(ctx, testNow.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("ListActive() error = %v", err)
	}
	if len(ids) != 1 || ids[0] != "recent" {
		t.Errorf("ListActive() = %v, want [recent]", ids)
	}

	all, err := store.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 {
		t.Errorf("List() = %d users, want 3", len(all))
	}
}

// =============================================================================
// AttentionStore Tests
// =============================================================================

func testAttention(t *testing.T) (*AttentionStore, *core.FakeClock) {
	t.Helper()
	clock := core.NewFakeClock(testNow)
	return NewAttentionStore(testDB(t), clock, core.DefaultAttentionWindows()), clock
}

func TestAttentionStore_CounterFixedWindow(t *testing.T) {
	store, clock := testAttention(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := store.RecordSend(ctx, "u1"); err != nil {
			t.Fatalf("RecordSend() error = %v", err)
		}
		clock.Advance(10 * time.Minute)
	}

	count, err := store.HourlyCount(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if count != 3 {
		t.Errorf("HourlyCount() = %d, want 3", count)
	}

	// Window started at the first send; later sends do not extend it
	clock.Set(testNow.Add(time.Hour))
	count, _ = store.HourlyCount(ctx, "u1")
	if count != 0 {
		t.Errorf("HourlyCount() after window = %d, want 0", count)
	}

	if err := store.RecordSend(ctx, "u1"); err != nil {
		t.Fatal(err)
	}
	count, _ = store.HourlyCount(ctx, "u1")
	if count != 1 {
		t.Errorf("HourlyCount() in new window = %d, want 1", count)
	}
}

func TestAttentionStore_ConcurrentRecordSend(t *testing.T) {
	store, _ := testAttention(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := store.RecordSend(ctx, "u1"); err != nil {
				t.Errorf("RecordSend() error = %v", err)
			}
		}()
	}
	wg.Wait()

	count, err := store.HourlyCount(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if count != 20 {
		t.Errorf("HourlyCount() = %d, want 20 (no lost updates)", count)
	}
}

func TestAttentionStore_LastSentRetention(t *testing.T) {
	store, clock := testAttention(t)
	ctx := context.Background()

	if _, ok, _ := store.LastSent(ctx, "u1"); ok {
		t.Error("no send recorded yet")
	}

	store.RecordSend(ctx, "u1")
	clock.Advance(23 * time.Hour)
	at, ok, err := store.LastSent(ctx, "u1")
	if err != nil || !ok || !at.Equal(testNow) {
		t.Errorf("LastSent() = %v, %v, %v", at, ok, err)
	}

	clock.Advance(time.Hour)
	if _, ok, _ := store.LastSent(ctx, "u1"); ok {
		t.Error("last sent should expire after 24h")
	}
}

func TestAttentionStore_Focus(t *testing.T) {
	store, clock := testAttention(t)
	ctx := context.Background()

	if err := store.SetFocus(ctx, "u1", testNow.Add(time.Hour)); err != nil {
		t.Fatal(err)
	}
	if in, _ := store.InFocus(ctx, "u1"); !in {
		t.Error("user should be in focus")
	}

	clock.Advance(time.Hour)
	if in, _ := store.InFocus(ctx, "u1"); in {
		t.Error("focus flag should expire")
	}

	store.SetFocus(ctx, "u1", clock.Now().Add(time.Hour))
	store.ClearFocus(ctx, "u1")
	if in, _ := store.InFocus(ctx, "u1"); in {
		t.Error("focus flag should be cleared")
	}
}

func TestAttentionStore_QueueFIFOAndRetention(t *testing.T) {
	store, clock := testAttention(t)
	ctx := context.Background()

	for i, title := range []string{"a", "b", "c"} {
		n := &core.PendingNotification{UserID: "u1", Title: title, Message: title, Type: "insight", Priority: core.Priority(i)}
		if err := store.Enqueue(ctx, n); err != nil {
			t.Fatalf("Enqueue() error = %v", err)
		}
	}

	pending, err := store.Pending(ctx, "u1", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 3 {
		t.Fatalf("Pending() = %d, want 3", len(pending))
	}
	for i, want := range []string{"a", "b", "c"} {
		if pending[i].Title != want {
			t.Errorf("pending[%d] = %q, want %q", i, pending[i].Title, want)
		}
	}
	if pending[2].Priority != core.PriorityHigh {
		t.Errorf("priority = %v, want high", pending[2].Priority)
	}

	limited, _ := store.Pending(ctx, "u1", 2)
	if len(limited) != 2 {
		t.Errorf("Pending(limit 2) = %d", len(limited))
	}

	if err := store.Remove(ctx, "u1", []string{pending[0].ID}); err != nil {
		t.Fatal(err)
	}
	remaining, _ := store.Pending(ctx, "u1", 0)
	if len(remaining) != 2 || remaining[0].Title != "b" {
		t.Errorf("Remove() left %v", remaining)
	}

	clock.Advance(24 * time.Hour)
	expired, _ := store.Pending(ctx, "u1", 0)
	if len(expired) != 0 {
		t.Errorf("entries should expire after 24h, got %d", len(expired))
	}
}

func TestAttentionStore_ClearPending(t *testing.T) {
	store, _ := testAttention(t)
	ctx := context.Background()

	store.Enqueue(ctx, &core.PendingNotification{UserID: "u1", Title: "a", Message: "a", Type: "x"})
	store.Enqueue(ctx, &core.PendingNotification{UserID: "u2", Title: "b", Message: "b", Type: "x"})

	n, err := store.ClearPending(ctx, "u1")
	if err != nil || n != 1 {
		t.Errorf("ClearPending() = %d, %v", n, err)
	}
	other, _ := store.Pending(ctx, "u2", 0)
	if len(other) != 1 {
		t.Error("other users' queues must be untouched")
	}
}

func TestAttentionStore_DeliveredAndMarkRead(t *testing.T) {
	store, _ := testAttention(t)
	ctx := context.Background()

	n := &core.Notification{ID: "n1", UserID: "u1", Title: "t", Message: "m", Type: "insight", Priority: core.PriorityLow, Data: map[string]any{"batched_count": 2.0}, Timestamp: testNow}
	if err := store.RecordDelivered(ctx, n); err != nil {
		t.Fatal(err)
	}

	if err := store.MarkRead(ctx, "u2", "n1"); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("MarkRead() by another user error = %v", err)
	}
	if err := store.MarkRead(ctx, "u1", "n1"); err != nil {
		t.Fatalf("MarkRead() error = %v", err)
	}

	delivered, err := store.Delivered(ctx, "u1", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(delivered) != 1 || !delivered[0].Read {
		t.Errorf("Delivered() = %+v", delivered)
	}
	if delivered[0].Data["batched_count"] != 2.0 {
		t.Errorf("Data = %v", delivered[0].Data)
	}
}
