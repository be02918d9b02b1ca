package directory

import (
	"testing"

	"github.com/telemost/switchboard/internal/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := db.AutoMigrate(&models.Operator{}, &models.Provider{}); err != nil {
		t.Fatalf("auto migrate: %v", err)
	}
	return db
}

func TestAddOperator_Idempotent(t *testing.T) {
	db := openTestDB(t)

	created, err := AddOperator(db, 100, "ada", "Ada", 1)
	if err != nil {
		t.Fatalf("add operator: %v", err)
	}
	if !created {
		t.Error("first add: created = false, want true")
	}

	created, err = AddOperator(db, 100, "ada", "Ada", 1)
	if err != nil {
		t.Fatalf("second add: %v", err)
	}
	if created {
		t.Error("second add: created = true, want false")
	}

	var count int64
	db.Model(&models.Operator{}).Count(&count)
	if count != 1 {
		t.Errorf("operator count = %d, want 1", count)
	}
}

func TestAddOperator_InvalidID(t *testing.T) {
	db := openTestDB(t)
	if _, err := AddOperator(db, 0, "", "", 1); err == nil {
		t.Fatal("expected error for zero user id")
	}
	if _, err := AddOperator(db, -5, "", "", 1); err == nil {
		t.Fatal("expected error for negative user id")
	}
}

func TestRemoveOperator(t *testing.T) {
	db := openTestDB(t)
	AddOperator(db, 100, "ada", "Ada", 1)

	removed, err := RemoveOperator(db, 100)
	if err != nil {
		t.Fatalf("remove: %v", err)
	}
	if !removed {
		t.Error("removed = false, want true")
	}

	removed, err = RemoveOperator(db, 100)
	if err != nil {
		t.Fatalf("second remove: %v", err)
	}
	if removed {
		t.Error("second remove: removed = true, want false (not found)")
	}
}

func TestAccessFlags(t *testing.T) {
	db := openTestDB(t)
	AddOperator(db, 100, "ada", "Ada", 1)
	db.Model(&models.Operator{}).Where("user_id = ?", 100).Update("admin", true)

	if !HasAccess(db, 100) {
		t.Error("HasAccess(100) = false, want true")
	}
	if HasAccess(db, 999) {
		t.Error("HasAccess(999) = true, want false")
	}
	if !IsAdmin(db, 100) {
		t.Error("IsAdmin(100) = false, want true")
	}
	if IsConsole(db, 100) {
		t.Error("IsConsole(100) = true, want false")
	}
}

func TestUpdateOperatorInfo(t *testing.T) {
	db := openTestDB(t)
	AddOperator(db, 100, "old", "Old", 1)
	if err := UpdateOperatorInfo(db, 100, "new", "New"); err != nil {
		t.Fatalf("update info: %v", err)
	}
	var op models.Operator
	db.Where("user_id = ?", 100).First(&op)
	if op.Username != "new" || op.FirstName != "New" {
		t.Errorf("operator = %q/%q, want new/New", op.Username, op.FirstName)
	}
}

func TestAddProvider_Validation(t *testing.T) {
	db := openTestDB(t)
	if _, err := AddProvider(db, "", "car-a", models.ProviderWhite, -10, 1); err == nil {
		t.Error("expected error for empty name")
	}
	if _, err := AddProvider(db, "Carrier-A", "car-a", "grey", -10, 1); err == nil {
		t.Error("expected error for unknown type")
	}
	if _, err := AddProvider(db, "Carrier-A", "car-a", models.ProviderWhite, 10, 1); err == nil {
		t.Error("expected error for positive group id")
	}
}

func TestAddProvider_Idempotent(t *testing.T) {
	db := openTestDB(t)

	created, err := AddProvider(db, "Carrier-A", "car-a", models.ProviderWhite, -100500, 1)
	if err != nil {
		t.Fatalf("add provider: %v", err)
	}
	if !created {
		t.Error("first add: created = false, want true")
	}

	created, err = AddProvider(db, "Carrier-A Again", "car-a", models.ProviderBlack, -42, 1)
	if err != nil {
		t.Fatalf("second add: %v", err)
	}
	if created {
		t.Error("second add: created = true, want false")
	}
}

func TestProviderLookups(t *testing.T) {
	db := openTestDB(t)
	AddProvider(db, "Carrier-A", "car-a", models.ProviderWhite, -100500, 1)

	p, err := ProviderByCode(db, "car-a")
	if err != nil {
		t.Fatalf("by code: %v", err)
	}
	if p == nil || p.Name != "Carrier-A" {
		t.Fatalf("by code = %+v, want Carrier-A", p)
	}

	p, err = ProviderByName(db, "Carrier-A")
	if err != nil {
		t.Fatalf("by name: %v", err)
	}
	if p == nil || p.Code != "car-a" {
		t.Fatalf("by name = %+v, want car-a", p)
	}

	p, err = ProviderByCode(db, "missing")
	if err != nil {
		t.Fatalf("missing lookup: %v", err)
	}
	if p != nil {
		t.Errorf("missing lookup = %+v, want nil", p)
	}
}

func TestRemoveProvider(t *testing.T) {
	db := openTestDB(t)
	AddProvider(db, "Carrier-A", "car-a", models.ProviderWhite, -100500, 1)

	removed, err := RemoveProvider(db, "car-a")
	if err != nil {
		t.Fatalf("remove: %v", err)
	}
	if !removed {
		t.Error("removed = false, want true")
	}
	removed, _ = RemoveProvider(db, "car-a")
	if removed {
		t.Error("second remove: removed = true, want false")
	}
}

func TestSetQuickCapture(t *testing.T) {
	db := openTestDB(t)
	AddProvider(db, "Carrier-A", "car-a", models.ProviderWhite, -100500, 1)

	updated, err := SetQuickCapture(db, "car-a", true)
	if err != nil {
		t.Fatalf("set quick capture: %v", err)
	}
	if !updated {
		t.Error("updated = false, want true")
	}
	p, _ := ProviderByCode(db, "car-a")
	if !p.QuickCapture {
		t.Error("quick capture flag not persisted")
	}

	updated, _ = SetQuickCapture(db, "missing", true)
	if updated {
		t.Error("updated = true for missing code, want false")
	}
}
