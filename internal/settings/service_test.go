package settings

import (
	"path/filepath"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"patchwatch/internal/model"
)

func newTestService(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	if err := db.AutoMigrate(&model.Setting{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return NewService(db), db
}

func TestSetAndGet(t *testing.T) {
	s, _ := newTestService(t)

	if err := s.Set(model.SettingServerURL, "https://patch.example.org"); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}
	if got := s.ServerURL(); got != "https://patch.example.org" {
		t.Errorf("Expected server URL back, got %q", got)
	}

	// A second Set must update in place, not duplicate the row.
	if err := s.Set(model.SettingServerURL, "https://other.example.org"); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}
	var count int64
	s.db.Model(&model.Setting{}).Where("key = ?", model.SettingServerURL).Count(&count)
	if count != 1 {
		t.Errorf("Expected 1 row, got %d", count)
	}
	if got := s.ServerURL(); got != "https://other.example.org" {
		t.Errorf("Expected updated value, got %q", got)
	}
}

func TestCacheInvalidation(t *testing.T) {
	s, db := newTestService(t)

	// Prime the cache.
	if v, _ := s.Get(model.SettingCurlFlags); v != "" {
		t.Fatalf("Expected empty value, got %q", v)
	}

	// Write behind the service's back; the cache still serves the old value.
	db.Create(&model.Setting{Key: model.SettingCurlFlags, Value: "-sk"})
	if v, _ := s.Get(model.SettingCurlFlags); v != "" {
		t.Fatalf("Expected cached empty value, got %q", v)
	}

	s.Invalidate()
	if v, _ := s.Get(model.SettingCurlFlags); v != "-sk" {
		t.Errorf("Expected reloaded value after invalidation, got %q", v)
	}
}

func TestTypedDefaults(t *testing.T) {
	s, _ := newTestService(t)

	if got := s.PollingIntervalMinutes(); got != DefaultPollingIntervalMinutes {
		t.Errorf("Expected default polling interval %d, got %d", DefaultPollingIntervalMinutes, got)
	}
	if got := s.StaleMultiplier(); got != DefaultStaleMultiplier {
		t.Errorf("Expected default stale multiplier %d, got %d", DefaultStaleMultiplier, got)
	}
	if s.SignupEnabled() {
		t.Error("Expected signup disabled by default")
	}
}

func TestTypedGetters_BadValues(t *testing.T) {
	s, _ := newTestService(t)

	s.Set(model.SettingPollingIntervalMinutes, "not-a-number")
	if got := s.PollingIntervalMinutes(); got != DefaultPollingIntervalMinutes {
		t.Errorf("Expected fallback on bad value, got %d", got)
	}

	s.Set(model.SettingStaleMultiplier, "-2")
	if got := s.StaleMultiplier(); got != DefaultStaleMultiplier {
		t.Errorf("Expected fallback on non-positive value, got %d", got)
	}

	s.Set(model.SettingSignupEnabled, "true")
	if !s.SignupEnabled() {
		t.Error("Expected signup enabled")
	}
}
