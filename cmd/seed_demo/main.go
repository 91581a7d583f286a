package main

import (
	"fmt"
	"log"
	"time"

	"github.com/waregrid/picksync/internal/config"
	"github.com/waregrid/picksync/internal/database"
	"github.com/waregrid/picksync/internal/models"
	"github.com/waregrid/picksync/internal/store"
)

// Seeds a handful of local task aggregates so the UI shell and the sync
// engine can be exercised without a reachable backend.
func main() {
	fmt.Println("🌱 picksync Demo Data Seeder")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("❌ Failed to load config: %v", err)
	}

	db, err := database.Connect(cfg.Database)
	if err != nil {
		log.Fatalf("❌ Failed to connect to database: %v", err)
	}
	defer db.Close()

	st := store.NewStore(db)
	if err := st.Migrate(); err != nil {
		log.Fatalf("❌ Migration failed: %v", err)
	}
	fmt.Println("✅ Schema ready")

	now := time.Now().UTC()
	tasks := []models.Task{
		{
			ID:                      "demo-pick-001",
			Status:                  models.TaskStatusPending,
			OperationSequence:       3,
			LastKnownServerSequence: 3,
			LocalModifiedAt:         now,
			SyncStatus:              models.SyncStatusSynced,
			Checklist: []models.ChecklistItem{
				{SKU: "4006381333931", RequiredQty: 4},
				{SKU: "96385074", RequiredQty: 2},
				{SKU: "SKU-RED-42", RequiredQty: 1},
			},
		},
		{
			ID:                      "demo-pick-002",
			Status:                  models.TaskStatusPicking,
			OperationSequence:       5,
			LastKnownServerSequence: 5,
			LocalModifiedAt:         now.Add(-10 * time.Minute),
			SyncStatus:              models.SyncStatusSynced,
			Checklist: []models.ChecklistItem{
				{SKU: "SKU-BLUE-7", RequiredQty: 10, PickedQty: 6},
			},
		},
		{
			ID:                      "demo-inspect-001",
			Status:                  models.TaskStatusPacked,
			OperationSequence:       9,
			LastKnownServerSequence: 9,
			LocalModifiedAt:         now.Add(-time.Hour),
			SyncStatus:              models.SyncStatusSynced,
			Checklist: []models.ChecklistItem{
				{SKU: "SKU-GRN-3", RequiredQty: 1, PickedQty: 1, Completed: true},
			},
		},
	}

	created := 0
	for i := range tasks {
		for j := range tasks[i].Checklist {
			tasks[i].Checklist[j].TaskID = tasks[i].ID
		}
		if err := db.Create(&tasks[i]).Error; err != nil {
			log.Printf("⏭️ Skipping %s: %v", tasks[i].ID, err)
			continue
		}
		created++
		fmt.Printf("✅ Seeded task %s (%s, %d lines)\n",
			tasks[i].ID, tasks[i].Status, len(tasks[i].Checklist))
	}

	fmt.Printf("🌱 Done: %d tasks seeded\n", created)
}
