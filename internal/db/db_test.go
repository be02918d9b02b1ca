package db

import (
	"testing"

	"github.com/telemost/switchboard/internal/config"
	"github.com/telemost/switchboard/internal/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func TestDSN(t *testing.T) {
	cfg := config.DBConfig{Host: "127.0.0.1", Port: 3306, User: "root", Database: "switchboard"}
	got := DSN(cfg)
	want := "root@tcp(127.0.0.1:3306)/switchboard?parseTime=true&charset=utf8mb4"
	if got != want {
		t.Errorf("DSN = %q, want %q", got, want)
	}
}

func TestDSN_WithPassword(t *testing.T) {
	cfg := config.DBConfig{Host: "db", Port: 3307, User: "swb", Password: "s3cret", Database: "bot"}
	got := DSN(cfg)
	want := "swb:s3cret@tcp(db:3307)/bot?parseTime=true&charset=utf8mb4"
	if got != want {
		t.Errorf("DSN = %q, want %q", got, want)
	}
}

func TestAutoMigrate(t *testing.T) {
	gdb, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := AutoMigrate(gdb); err != nil {
		t.Fatalf("auto migrate: %v", err)
	}
	for _, m := range AllModels() {
		if !gdb.Migrator().HasTable(m) {
			t.Errorf("missing table for %T", m)
		}
	}
	// Round-trip a row through each core table.
	if err := gdb.Create(&models.Operator{UserID: 42, FirstName: "Ada"}).Error; err != nil {
		t.Fatalf("create operator: %v", err)
	}
	if err := gdb.Create(&models.Provider{Name: "Carrier-A", Code: "car-a", GroupID: -100500}).Error; err != nil {
		t.Fatalf("create provider: %v", err)
	}
	var count int64
	gdb.Model(&models.Operator{}).Count(&count)
	if count != 1 {
		t.Errorf("operator count = %d, want 1", count)
	}
}
