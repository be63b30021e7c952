package reconcile

import (
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"patchwatch/internal/model"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	err = db.AutoMigrate(
		&model.HostGroup{}, &model.Host{}, &model.Package{}, &model.HostPackage{},
		&model.Repository{}, &model.HostRepository{}, &model.UpdateHistory{},
	)
	if err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return db
}

func newTestEngine(t *testing.T) (*Engine, *gorm.DB) {
	t.Helper()
	db := newTestDB(t)
	return NewEngine(db, logrus.NewEntry(logrus.New())), db
}

func createHost(t *testing.T, db *gorm.DB, machineID string) *model.Host {
	t.Helper()
	host := &model.Host{
		MachineID:    machineID,
		FriendlyName: "test-" + machineID,
		APIID:        "pw_api_" + machineID,
		APIKey:       "key-" + machineID,
		Status:       model.HostStatusPending,
	}
	if err := db.Create(host).Error; err != nil {
		t.Fatalf("failed to create host: %v", err)
	}
	return host
}

func strPtr(s string) *string { return &s }

func TestProcess_FirstCheckIn(t *testing.T) {
	e, db := newTestEngine(t)
	host := createHost(t, db, "pending-abc")

	report := &Report{
		MachineID: "real-123",
		Packages: []PackageReport{
			{Name: "curl", CurrentVersion: "7.68", NeedsUpdate: false},
		},
	}

	result, err := e.Process(host.ID, report)
	if err != nil {
		t.Fatalf("Process() failed: %v", err)
	}
	if result.PackagesProcessed != 1 {
		t.Errorf("Expected 1 package processed, got %d", result.PackagesProcessed)
	}

	var updated model.Host
	db.First(&updated, host.ID)
	if updated.MachineID != "real-123" {
		t.Errorf("Expected machine_id real-123, got %s", updated.MachineID)
	}
	if updated.Status != model.HostStatusActive {
		t.Errorf("Expected active status, got %s", updated.Status)
	}
	if updated.LastUpdate == nil {
		t.Error("Expected last_update to be stamped")
	}

	var pkgCount int64
	db.Model(&model.HostPackage{}).Where("host_id = ?", host.ID).Count(&pkgCount)
	if pkgCount != 1 {
		t.Errorf("Expected exactly one host package row, got %d", pkgCount)
	}

	var history []model.UpdateHistory
	db.Where("host_id = ?", host.ID).Find(&history)
	if len(history) != 1 || history[0].Status != model.UpdateHistoryStatusSuccess {
		t.Errorf("Expected one success history row, got %+v", history)
	}
}

func TestProcess_MachineIDNotOverwritten(t *testing.T) {
	e, db := newTestEngine(t)
	host := createHost(t, db, "real-original")

	_, err := e.Process(host.ID, &Report{
		MachineID: "real-other",
		Packages:  []PackageReport{{Name: "vim", CurrentVersion: "9.0"}},
	})
	if err != nil {
		t.Fatalf("Process() failed: %v", err)
	}

	var updated model.Host
	db.First(&updated, host.ID)
	if updated.MachineID != "real-original" {
		t.Errorf("A real machine_id must never be overwritten, got %s", updated.MachineID)
	}
}

func TestProcess_Idempotent(t *testing.T) {
	e, db := newTestEngine(t)
	host := createHost(t, db, "machine-idem")

	report := &Report{
		Packages: []PackageReport{
			{Name: "openssl", CurrentVersion: "3.0.2", AvailableVersion: "3.0.8", NeedsUpdate: true, IsSecurityUpdate: true},
			{Name: "bash", CurrentVersion: "5.1"},
			// Same package reported twice in one payload.
			{Name: "bash", CurrentVersion: "5.1"},
		},
		Repositories: []RepositoryReport{
			{URL: "https://deb.example.org/ubuntu", Distribution: "jammy", Components: "main"},
			// Same repo via a second source line.
			{URL: "https://deb.example.org/ubuntu", Distribution: "jammy", Components: "main"},
		},
	}

	for i := 0; i < 2; i++ {
		result, err := e.Process(host.ID, report)
		if err != nil {
			t.Fatalf("Process() run %d failed: %v", i+1, err)
		}
		if result.UpdatesAvailable != 1 || result.SecurityUpdates != 1 {
			t.Errorf("run %d: expected 1 update / 1 security, got %d / %d",
				i+1, result.UpdatesAvailable, result.SecurityUpdates)
		}
	}

	var pkgCount int64
	db.Model(&model.HostPackage{}).Where("host_id = ?", host.ID).Count(&pkgCount)
	if pkgCount != 2 {
		t.Errorf("Expected one row per distinct package name (2), got %d", pkgCount)
	}

	var repoCount int64
	db.Model(&model.HostRepository{}).Where("host_id = ?", host.ID).Count(&repoCount)
	if repoCount != 1 {
		t.Errorf("Expected one row per distinct repo key (1), got %d", repoCount)
	}

	var catalogCount int64
	db.Model(&model.Package{}).Count(&catalogCount)
	if catalogCount != 2 {
		t.Errorf("Expected 2 catalog packages, got %d", catalogCount)
	}
}

func TestProcess_SnapshotIsAuthoritative(t *testing.T) {
	e, db := newTestEngine(t)
	host := createHost(t, db, "machine-total")

	_, err := e.Process(host.ID, &Report{
		Packages: []PackageReport{
			{Name: "nginx", CurrentVersion: "1.18"},
			{Name: "redis", CurrentVersion: "6.0"},
		},
	})
	if err != nil {
		t.Fatalf("Process() failed: %v", err)
	}

	// Second snapshot no longer contains redis.
	_, err = e.Process(host.ID, &Report{
		Packages: []PackageReport{{Name: "nginx", CurrentVersion: "1.18"}},
	})
	if err != nil {
		t.Fatalf("Process() failed: %v", err)
	}

	var rows []model.HostPackage
	db.Where("host_id = ?", host.ID).Find(&rows)
	if len(rows) != 1 {
		t.Fatalf("Expected stale package rows to be removed, got %d rows", len(rows))
	}
}

func TestProcess_PartialMetadataUpdate(t *testing.T) {
	e, db := newTestEngine(t)
	host := createHost(t, db, "machine-meta")

	_, err := e.Process(host.ID, &Report{
		System: &SystemInfo{
			Hostname: strPtr("web-01"),
			OSType:   strPtr("ubuntu"),
		},
	})
	if err != nil {
		t.Fatalf("Process() failed: %v", err)
	}

	// Second report omits os_type; it must not be nulled out.
	_, err = e.Process(host.ID, &Report{
		System: &SystemInfo{Hostname: strPtr("web-01-renamed")},
	})
	if err != nil {
		t.Fatalf("Process() failed: %v", err)
	}

	var updated model.Host
	db.First(&updated, host.ID)
	if updated.Hostname != "web-01-renamed" {
		t.Errorf("Expected hostname update, got %s", updated.Hostname)
	}
	if updated.OSType != "ubuntu" {
		t.Errorf("Expected os_type preserved, got %q", updated.OSType)
	}
}

func TestProcess_FailureWritesErrorHistory(t *testing.T) {
	e, db := newTestEngine(t)
	host := createHost(t, db, "machine-fail")

	// Force the transaction to fail mid-flight.
	if err := db.Migrator().DropTable(&model.HostPackage{}); err != nil {
		t.Fatalf("failed to drop table: %v", err)
	}

	_, err := e.Process(host.ID, &Report{
		Packages: []PackageReport{{Name: "curl", CurrentVersion: "7.68"}},
	})
	if err == nil {
		t.Fatal("Expected Process() to fail")
	}

	// Host state rolled back with the transaction.
	var updated model.Host
	db.First(&updated, host.ID)
	if updated.Status != model.HostStatusPending {
		t.Errorf("Expected host status rollback to pending, got %s", updated.Status)
	}
	if updated.LastUpdate != nil {
		t.Error("Expected last_update rollback")
	}

	// But the audit trail survives: exactly one error row.
	var history []model.UpdateHistory
	db.Where("host_id = ?", host.ID).Find(&history)
	if len(history) != 1 {
		t.Fatalf("Expected exactly one history row, got %d", len(history))
	}
	if history[0].Status != model.UpdateHistoryStatusError {
		t.Errorf("Expected error status, got %s", history[0].Status)
	}
	if history[0].ErrorMessage == "" {
		t.Error("Expected error message in history row")
	}
}

func TestProcess_CrontabHint(t *testing.T) {
	e, db := newTestEngine(t)
	host := createHost(t, db, "machine-cron")
	db.Model(host).Update("auto_update", true)

	result, err := e.Process(host.ID, &Report{
		Packages: []PackageReport{{Name: "curl", CurrentVersion: "7.68"}},
	})
	if err != nil {
		t.Fatalf("Process() failed: %v", err)
	}
	if !result.CrontabUpdate {
		t.Error("Expected crontab hint for auto-update host")
	}
}

func TestFindOrCreatePackage_LatestVersionBumps(t *testing.T) {
	e, db := newTestEngine(t)
	host := createHost(t, db, "machine-ver")

	_, err := e.Process(host.ID, &Report{
		Packages: []PackageReport{{Name: "zlib", CurrentVersion: "1.2.11", AvailableVersion: "1.2.13", NeedsUpdate: true}},
	})
	if err != nil {
		t.Fatalf("Process() failed: %v", err)
	}

	var pkg model.Package
	db.Where("name = ?", "zlib").First(&pkg)
	if pkg.LatestVersion != "1.2.13" {
		t.Errorf("Expected latest 1.2.13, got %s", pkg.LatestVersion)
	}

	// An older available version must not move latest_version backwards.
	_, err = e.Process(host.ID, &Report{
		Packages: []PackageReport{{Name: "zlib", CurrentVersion: "1.2.11", AvailableVersion: "1.2.12", NeedsUpdate: true}},
	})
	if err != nil {
		t.Fatalf("Process() failed: %v", err)
	}
	db.Where("name = ?", "zlib").First(&pkg)
	if pkg.LatestVersion != "1.2.13" {
		t.Errorf("Expected latest to stay 1.2.13, got %s", pkg.LatestVersion)
	}
}

func TestVersionGreater(t *testing.T) {
	tests := []struct {
		a, b string
		want bool
	}{
		{"1.2.13", "1.2.11", true},
		{"1.2.11", "1.2.13", false},
		{"1.2.11", "1.2.11", false},
		{"2.0", "1.9.9", true},
		{"1.10", "1.9", true},
		{"1.0.0", "", true},
		{"1.0.0-2", "1.0.0", true},
	}
	for _, tt := range tests {
		if got := versionGreater(tt.a, tt.b); got != tt.want {
			t.Errorf("versionGreater(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}
