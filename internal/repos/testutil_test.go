package repos

import (
	"os"
	"strings"
	"testing"

	"gorm.io/gorm"

	"github.com/soulvan/soulvan-backend/internal/db"
	"github.com/soulvan/soulvan-backend/internal/pkg/logger"
)

// openTestDB connects to the database named by TEST_POSTGRES_DSN and
// migrates the schema. Tests that need Postgres skip when it is unset.
func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := strings.TrimSpace(os.Getenv("TEST_POSTGRES_DSN"))
	if dsn == "" {
		t.Skip("set TEST_POSTGRES_DSN to run repo integration tests")
	}

	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	t.Cleanup(func() {
		log.Sync()
	})

	svc, err := db.NewPostgresServiceWithDSN(log, nil, dsn)
	if err != nil {
		t.Fatalf("connect postgres: %v", err)
	}
	if err := svc.AutoMigrateAll(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return svc.DB()
}

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	return log
}
