package stores

import (
	"context"
	"testing"
	"time"
)

// setupTestStore creates an in-memory SQLite store for testing
func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	store, err := NewSQLiteStore(Config{
		Path: ":memory:",
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}

	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate store: %v", err)
	}

	return store
}

func testDeployment(id string) *Deployment {
	now := time.Now()
	return &Deployment{
		ID:                 id,
		Kind:               "widget",
		Name:               "incident_board",
		Mode:               "immediate",
		Instance:           "dev00001.example.com",
		Status:             DeploymentStatusSucceeded,
		StrategyUsed:       "package-import",
		CanonicalID:        "a1b2c3d4",
		PackageID:          "PKG1",
		VerificationRounds: 2,
		CompletenessScore:  3,
		StartedAt:          now.Add(-30 * time.Second),
		CompletedAt:        now,
		DurationMS:         30000,
		CreatedAt:          now,
	}
}

// TestStoreLifecycle tests database initialization and closure
func TestStoreLifecycle(t *testing.T) {
	store, err := NewSQLiteStore(Config{
		Path: ":memory:",
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}

	if err := store.HealthCheck(ctx); err != nil {
		t.Fatalf("health check failed: %v", err)
	}

	if err := store.Close(); err != nil {
		t.Fatalf("failed to close store: %v", err)
	}
}

// TestStoreMigrations tests database migrations
func TestStoreMigrations(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	ctx := context.Background()

	// Check that tables exist by querying them
	tables := []string{"deployments", "attempts", "events", "audit_entries"}
	for _, table := range tables {
		query := "SELECT COUNT(*) FROM " + table
		var count int
		err := store.db.QueryRowContext(ctx, query).Scan(&count)
		if err != nil {
			t.Errorf("table %s does not exist or is not accessible: %v", table, err)
		}
	}
}

func TestSaveAndGetDeployment(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	ctx := context.Background()
	d := testDeployment("dep-001")

	errClass := "forbidden"
	errCode := "PERMISSION_DENIED"
	errMsg := "ACL denied the operation"
	attempts := []Attempt{
		{
			Position:     1,
			Strategy:     "package-import",
			Status:       "failed",
			StatusCode:   403,
			ErrorClass:   &errClass,
			ErrorCode:    &errCode,
			ErrorMessage: &errMsg,
			StartedAt:    d.StartedAt,
			CompletedAt:  d.StartedAt.Add(2 * time.Second),
			DurationMS:   2000,
		},
		{
			Position:    2,
			Strategy:    "direct-create",
			Status:      "verified",
			StatusCode:  201,
			StartedAt:   d.StartedAt.Add(2 * time.Second),
			CompletedAt: d.CompletedAt,
			DurationMS:  28000,
		},
	}

	if err := store.SaveDeployment(ctx, d, attempts); err != nil {
		t.Fatalf("failed to save deployment: %v", err)
	}

	got, err := store.GetDeployment(ctx, "dep-001")
	if err != nil {
		t.Fatalf("failed to get deployment: %v", err)
	}
	if got.Kind != "widget" || got.Name != "incident_board" {
		t.Errorf("unexpected artifact: %s/%s", got.Kind, got.Name)
	}
	if got.Status != DeploymentStatusSucceeded {
		t.Errorf("unexpected status: %s", got.Status)
	}
	if got.CanonicalID != "a1b2c3d4" {
		t.Errorf("unexpected canonical id: %s", got.CanonicalID)
	}
	if got.VerificationRounds != 2 || got.CompletenessScore != 3 {
		t.Errorf("unexpected verification fields: rounds=%d score=%d",
			got.VerificationRounds, got.CompletenessScore)
	}

	list, err := store.ListAttempts(ctx, "dep-001")
	if err != nil {
		t.Fatalf("failed to list attempts: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 attempts, got %d", len(list))
	}
	if list[0].Position != 1 || list[0].Strategy != "package-import" {
		t.Errorf("unexpected first attempt: %+v", list[0])
	}
	if list[0].ErrorCode == nil || *list[0].ErrorCode != "PERMISSION_DENIED" {
		t.Errorf("expected error code on first attempt, got %+v", list[0].ErrorCode)
	}
	if list[1].Status != "verified" || list[1].ErrorCode != nil {
		t.Errorf("unexpected second attempt: %+v", list[1])
	}
}

func TestSaveDeploymentIsTerminal(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	ctx := context.Background()
	d := testDeployment("dep-001")

	if err := store.SaveDeployment(ctx, d, nil); err != nil {
		t.Fatalf("failed to save deployment: %v", err)
	}
	if err := store.SaveDeployment(ctx, d, nil); err == nil {
		t.Fatal("expected error saving the same deployment twice")
	}
}

func TestGetDeploymentNotFound(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	_, err := store.GetDeployment(context.Background(), "missing")
	if err == nil {
		t.Fatal("expected error for missing deployment")
	}
}

func TestListDeploymentsFiltering(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	ctx := context.Background()

	a := testDeployment("dep-001")
	a.StartedAt = time.Now().Add(-3 * time.Hour)

	b := testDeployment("dep-002")
	b.Kind = "script"
	b.Name = "DateUtils"
	b.Status = DeploymentStatusFailed
	b.StartedAt = time.Now().Add(-2 * time.Hour)

	c := testDeployment("dep-003")
	c.StartedAt = time.Now().Add(-1 * time.Hour)

	for _, d := range []*Deployment{a, b, c} {
		if err := store.SaveDeployment(ctx, d, nil); err != nil {
			t.Fatalf("failed to save deployment %s: %v", d.ID, err)
		}
	}

	all, err := store.ListDeployments(ctx, DeploymentFilter{})
	if err != nil {
		t.Fatalf("failed to list deployments: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 deployments, got %d", len(all))
	}
	// Most recent first
	if all[0].ID != "dep-003" || all[2].ID != "dep-001" {
		t.Errorf("unexpected order: %s, %s, %s", all[0].ID, all[1].ID, all[2].ID)
	}

	widgets, err := store.ListDeployments(ctx, DeploymentFilter{Kind: "widget"})
	if err != nil {
		t.Fatalf("failed to filter by kind: %v", err)
	}
	if len(widgets) != 2 {
		t.Errorf("expected 2 widget deployments, got %d", len(widgets))
	}

	failed, err := store.ListDeployments(ctx, DeploymentFilter{Status: DeploymentStatusFailed})
	if err != nil {
		t.Fatalf("failed to filter by status: %v", err)
	}
	if len(failed) != 1 || failed[0].ID != "dep-002" {
		t.Errorf("expected only dep-002 failed, got %+v", failed)
	}

	paged, err := store.ListDeployments(ctx, DeploymentFilter{Limit: 1, Offset: 1})
	if err != nil {
		t.Fatalf("failed to page deployments: %v", err)
	}
	if len(paged) != 1 || paged[0].ID != "dep-002" {
		t.Errorf("expected paged result dep-002, got %+v", paged)
	}
}

func TestLastDeployment(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	ctx := context.Background()

	last, err := store.LastDeployment(ctx, "widget", "incident_board")
	if err != nil {
		t.Fatalf("failed to query empty history: %v", err)
	}
	if last != nil {
		t.Fatalf("expected nil for unrecorded artifact, got %+v", last)
	}

	older := testDeployment("dep-001")
	older.StartedAt = time.Now().Add(-2 * time.Hour)
	newer := testDeployment("dep-002")
	newer.StartedAt = time.Now().Add(-1 * time.Hour)

	for _, d := range []*Deployment{older, newer} {
		if err := store.SaveDeployment(ctx, d, nil); err != nil {
			t.Fatalf("failed to save deployment: %v", err)
		}
	}

	last, err = store.LastDeployment(ctx, "widget", "incident_board")
	if err != nil {
		t.Fatalf("failed to get last deployment: %v", err)
	}
	if last == nil || last.ID != "dep-002" {
		t.Errorf("expected dep-002, got %+v", last)
	}
}

func TestDeleteDeploymentCascades(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	ctx := context.Background()
	d := testDeployment("dep-001")
	attempts := []Attempt{{
		Position:    1,
		Strategy:    "package-import",
		Status:      "verified",
		StartedAt:   d.StartedAt,
		CompletedAt: d.CompletedAt,
	}}

	if err := store.SaveDeployment(ctx, d, attempts); err != nil {
		t.Fatalf("failed to save deployment: %v", err)
	}

	if err := store.DeleteDeployment(ctx, "dep-001"); err != nil {
		t.Fatalf("failed to delete deployment: %v", err)
	}

	remaining, err := store.ListAttempts(ctx, "dep-001")
	if err != nil {
		t.Fatalf("failed to list attempts: %v", err)
	}
	if len(remaining) != 0 {
		t.Errorf("expected cascade delete of attempts, got %d", len(remaining))
	}

	if err := store.DeleteDeployment(ctx, "dep-001"); err == nil {
		t.Fatal("expected error deleting missing deployment")
	}
}

func TestPruneBefore(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	ctx := context.Background()

	old := testDeployment("dep-old")
	old.StartedAt = time.Now().Add(-48 * time.Hour)
	recent := testDeployment("dep-recent")
	recent.StartedAt = time.Now().Add(-1 * time.Hour)

	for _, d := range []*Deployment{old, recent} {
		if err := store.SaveDeployment(ctx, d, nil); err != nil {
			t.Fatalf("failed to save deployment: %v", err)
		}
	}

	pruned, err := store.PruneBefore(ctx, time.Now().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("failed to prune: %v", err)
	}
	if pruned != 1 {
		t.Errorf("expected 1 pruned deployment, got %d", pruned)
	}

	if _, err := store.GetDeployment(ctx, "dep-recent"); err != nil {
		t.Errorf("expected recent deployment kept: %v", err)
	}
	if _, err := store.GetDeployment(ctx, "dep-old"); err == nil {
		t.Error("expected old deployment pruned")
	}
}

func TestEventOperations(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	ctx := context.Background()
	d := testDeployment("dep-001")
	if err := store.SaveDeployment(ctx, d, nil); err != nil {
		t.Fatalf("failed to save deployment: %v", err)
	}

	depID := "dep-001"
	details := `{"status_code":403}`
	event := &Event{
		DeploymentID: &depID,
		Level:        EventLevelError,
		Message:      "strategy package-import: failed",
		Details:      &details,
		Timestamp:    time.Now(),
	}
	if err := store.AppendEvent(ctx, event); err != nil {
		t.Fatalf("failed to append event: %v", err)
	}
	if event.ID == 0 {
		t.Error("expected event ID to be set")
	}

	info := &Event{
		Level:     EventLevelInfo,
		Message:   "store opened",
		Timestamp: time.Now(),
	}
	if err := store.AppendEvent(ctx, info); err != nil {
		t.Fatalf("failed to append global event: %v", err)
	}

	events, err := store.GetEvents(ctx, &depID, nil, 10, 0)
	if err != nil {
		t.Fatalf("failed to get events: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 deployment event, got %d", len(events))
	}
	if events[0].Message != "strategy package-import: failed" {
		t.Errorf("unexpected event message: %s", events[0].Message)
	}

	level := EventLevelError
	errorEvents, err := store.GetEvents(ctx, nil, &level, 10, 0)
	if err != nil {
		t.Fatalf("failed to filter events by level: %v", err)
	}
	if len(errorEvents) != 1 {
		t.Errorf("expected 1 error event, got %d", len(errorEvents))
	}
}

func TestAuditOperations(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	ctx := context.Background()

	target := "dep-001"
	entry := &AuditEntry{
		Action:    "deployment.recorded",
		Actor:     "release-bot",
		TargetID:  &target,
		Timestamp: time.Now(),
	}
	if err := store.CreateAuditEntry(ctx, entry); err != nil {
		t.Fatalf("failed to create audit entry: %v", err)
	}
	if entry.ID == 0 {
		t.Error("expected audit entry ID to be set")
	}

	other := &AuditEntry{
		Action:    "history.pruned",
		Actor:     "glidepush",
		Timestamp: time.Now(),
	}
	if err := store.CreateAuditEntry(ctx, other); err != nil {
		t.Fatalf("failed to create audit entry: %v", err)
	}

	action := "deployment.recorded"
	entries, err := store.ListAuditEntries(ctx, &action, nil, 10, 0)
	if err != nil {
		t.Fatalf("failed to list audit entries: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry for action, got %d", len(entries))
	}
	if entries[0].Actor != "release-bot" {
		t.Errorf("unexpected actor: %s", entries[0].Actor)
	}

	actor := "glidepush"
	entries, err = store.ListAuditEntries(ctx, nil, &actor, 10, 0)
	if err != nil {
		t.Fatalf("failed to list audit entries by actor: %v", err)
	}
	if len(entries) != 1 || entries[0].Action != "history.pruned" {
		t.Errorf("unexpected actor filter result: %+v", entries)
	}
}
