package job

import (
	"testing"

	"github.com/hairizuanbinnoorazman/screenshot-explorer/logger"
	"github.com/hairizuanbinnoorazman/screenshot-explorer/testutil"
	"gorm.io/gorm"
)

// setupTestStore creates a test database and job store for testing.
func setupTestStore(t *testing.T) (*gorm.DB, Store) {
	db := testutil.SetupTestDB(t)
	testutil.AutoMigrate(t, db, &Job{})

	log := logger.NewTestLogger()
	store := NewMySQLStore(db, log)

	return db, store
}

func newJob(appID string) *Job {
	return &Job{
		Type:        JobTypeScreenshotExploration,
		AppID:       appID,
		Platform:    "ios",
		RequestedBy: "release-pipeline",
		Config:      JSONMap{"app_id": appID, "platform": "ios"},
	}
}
