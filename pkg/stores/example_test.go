package stores_test

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/glidepush/glidepush/pkg/stores"
)

// ExampleNewSQLiteStore demonstrates creating and initializing a new SQLite store.
func ExampleNewSQLiteStore() {
	store, err := stores.NewSQLiteStore(stores.Config{
		Path:            ":memory:",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
	})
	if err != nil {
		log.Fatal(err)
	}

	// Init opens the connection; Migrate brings the schema current.
	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		log.Fatal(err)
	}
	if err := store.Migrate(ctx); err != nil {
		log.Fatal(err)
	}
	defer store.Close()

	fmt.Println("Store initialized successfully")
	// Output: Store initialized successfully
}

// ExampleSQLiteStore_SaveDeployment demonstrates recording a deployment run.
func ExampleSQLiteStore_SaveDeployment() {
	store, _ := stores.NewSQLiteStore(stores.Config{Path: ":memory:"})
	ctx := context.Background()
	_ = store.Init(ctx)
	_ = store.Migrate(ctx)
	defer store.Close()

	now := time.Now()
	deployment := &stores.Deployment{
		ID:                 "0f3c9a2e",
		Kind:               "widget",
		Name:               "incident_board",
		Mode:               "immediate",
		Instance:           "dev00001.example.com",
		Status:             stores.DeploymentStatusSucceeded,
		StrategyUsed:       "package-import",
		CanonicalID:        "a1b2c3d4",
		VerificationRounds: 2,
		CompletenessScore:  3,
		StartedAt:          now.Add(-30 * time.Second),
		CompletedAt:        now,
		DurationMS:         30000,
		CreatedAt:          now,
	}
	attempts := []stores.Attempt{{
		Position:    1,
		Strategy:    "package-import",
		Status:      "verified",
		StatusCode:  200,
		StartedAt:   deployment.StartedAt,
		CompletedAt: deployment.CompletedAt,
		DurationMS:  30000,
	}}

	if err := store.SaveDeployment(ctx, deployment, attempts); err != nil {
		log.Fatal(err)
	}

	saved, err := store.GetDeployment(ctx, "0f3c9a2e")
	if err != nil {
		log.Fatal(err)
	}

	fmt.Printf("%s %s/%s via %s\n", saved.Status, saved.Kind, saved.Name, saved.StrategyUsed)
	// Output: succeeded widget/incident_board via package-import
}

// ExampleSQLiteStore_ListDeployments demonstrates querying deployment history.
func ExampleSQLiteStore_ListDeployments() {
	store, _ := stores.NewSQLiteStore(stores.Config{Path: ":memory:"})
	ctx := context.Background()
	_ = store.Init(ctx)
	_ = store.Migrate(ctx)
	defer store.Close()

	now := time.Now()
	for i, name := range []string{"incident_board", "approval_flow"} {
		_ = store.SaveDeployment(ctx, &stores.Deployment{
			ID:          fmt.Sprintf("dep-%d", i),
			Kind:        "widget",
			Name:        name,
			Mode:        "immediate",
			Status:      stores.DeploymentStatusFailed,
			StartedAt:   now.Add(time.Duration(i) * time.Minute),
			CompletedAt: now.Add(time.Duration(i)*time.Minute + 30*time.Second),
			CreatedAt:   now,
		}, nil)
	}

	failed, err := store.ListDeployments(ctx, stores.DeploymentFilter{
		Status: stores.DeploymentStatusFailed,
		Limit:  10,
	})
	if err != nil {
		log.Fatal(err)
	}

	fmt.Printf("%d failed deployments\n", len(failed))
	// Output: 2 failed deployments
}
