package reconcile

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"patchwatch/internal/model"
)

// PackageReport is one package entry in an agent snapshot
type PackageReport struct {
	Name             string `json:"name" binding:"required"`
	CurrentVersion   string `json:"currentVersion"`
	AvailableVersion string `json:"availableVersion"`
	NeedsUpdate      bool   `json:"needsUpdate"`
	IsSecurityUpdate bool   `json:"isSecurityUpdate"`
}

// RepositoryReport is one repository entry in an agent snapshot. The
// agent may report the same repo via multiple source lines; entries are
// deduplicated by (url, distribution, components) before processing.
type RepositoryReport struct {
	URL          string `json:"url" binding:"required"`
	Distribution string `json:"distribution"`
	Components   string `json:"components"`
	IsEnabled    *bool  `json:"isEnabled"`
	IsSecure     *bool  `json:"isSecure"`
}

// SystemInfo carries optional host metadata. Only fields present in the
// request are applied; absent fields never null out stored values.
type SystemInfo struct {
	Hostname          *string         `json:"hostname"`
	OSType            *string         `json:"osType"`
	OSVersion         *string         `json:"osVersion"`
	KernelVersion     *string         `json:"kernelVersion"`
	Architecture      *string         `json:"architecture"`
	CPUModel          *string         `json:"cpuModel"`
	CPUCores          *int            `json:"cpuCores"`
	MemoryBytes       *int64          `json:"memoryBytes"`
	DiskBytes         *int64          `json:"diskBytes"`
	IPAddress         *string         `json:"ipAddress"`
	GatewayIP         *string         `json:"gatewayIp"`
	DNSServers        *string         `json:"dnsServers"`
	NetworkInterfaces json.RawMessage `json:"networkInterfaces"`
	AgentVersion      *string         `json:"agentVersion"`
	AutoUpdate        *bool           `json:"autoUpdate"`
}

// Report is a full agent check-in: an authoritative, total snapshot of
// the host's packages plus optional repositories and metadata.
type Report struct {
	MachineID    string             `json:"machineId"`
	Packages     []PackageReport    `json:"packages"`
	Repositories []RepositoryReport `json:"repositories"`
	System       *SystemInfo        `json:"system"`
}

// Result summarizes a successful reconciliation
type Result struct {
	PackagesProcessed int  `json:"packagesProcessed"`
	UpdatesAvailable  int  `json:"updatesAvailable"`
	SecurityUpdates   int  `json:"securityUpdates"`
	CrontabUpdate     bool `json:"crontabUpdate"`
}

// Engine ingests agent snapshots and reconciles them against stored
// state inside a single transaction per check-in.
type Engine struct {
	db     *gorm.DB
	logger *logrus.Entry
}

// NewEngine creates a reconciliation engine
func NewEngine(db *gorm.DB, logger *logrus.Entry) *Engine {
	return &Engine{
		db:     db,
		logger: logger.WithField("component", "reconcile"),
	}
}

// Process runs the reconciliation transaction for one host. On failure
// the transaction rolls back and a best-effort error row is appended to
// update_history outside the failed transaction, so the audit trail
// survives even though host state did not change.
func (e *Engine) Process(hostID int, report *Report) (*Result, error) {
	result := &Result{}

	err := e.db.Transaction(func(tx *gorm.DB) error {
		// Serialize overlapping check-ins for the same host. Two
		// concurrent /update calls would otherwise interleave the
		// delete-then-recreate steps at the row level.
		if tx.Dialector.Name() == "postgres" {
			if err := tx.Exec("SELECT pg_advisory_xact_lock(?)", int64(hostID)).Error; err != nil {
				return err
			}
		}

		var host model.Host
		if err := tx.First(&host, hostID).Error; err != nil {
			return err
		}

		if err := e.applyHostUpdate(tx, &host, report); err != nil {
			return err
		}

		if err := e.reconcilePackages(tx, &host, report.Packages, result); err != nil {
			return err
		}

		if report.Repositories != nil {
			if err := e.reconcileRepositories(tx, &host, report.Repositories); err != nil {
				return err
			}
		}

		result.CrontabUpdate = host.AutoUpdate

		history := model.UpdateHistory{
			HostID:            host.ID,
			Status:            model.UpdateHistoryStatusSuccess,
			PackagesProcessed: result.PackagesProcessed,
			UpdatesAvailable:  result.UpdatesAvailable,
			SecurityUpdates:   result.SecurityUpdates,
		}
		return tx.Create(&history).Error
	})

	if err != nil {
		e.logger.WithField("host_id", hostID).WithError(err).Error("Reconciliation failed")
		e.recordFailure(hostID, err)
		return nil, err
	}

	return result, nil
}

// applyHostUpdate builds and applies the partial host update: reported
// metadata fields, the one-time pending machine_id replacement, the
// pending→active flip, and the last_update stamp.
func (e *Engine) applyHostUpdate(tx *gorm.DB, host *model.Host, report *Report) error {
	now := time.Now().UTC()
	updates := map[string]interface{}{
		"last_update": now,
	}

	// A real machine_id replaces a pending placeholder exactly once; it
	// never overwrites an already-known identity.
	if report.MachineID != "" && strings.HasPrefix(host.MachineID, "pending-") {
		updates["machine_id"] = report.MachineID
		host.MachineID = report.MachineID
	}

	if host.Status == model.HostStatusPending {
		updates["status"] = model.HostStatusActive
		host.Status = model.HostStatusActive
	}

	if sys := report.System; sys != nil {
		setString := func(col string, v *string) {
			if v != nil {
				updates[col] = *v
			}
		}
		setString("hostname", sys.Hostname)
		setString("os_type", sys.OSType)
		setString("os_version", sys.OSVersion)
		setString("kernel_version", sys.KernelVersion)
		setString("architecture", sys.Architecture)
		setString("cpu_model", sys.CPUModel)
		setString("ip_address", sys.IPAddress)
		setString("gateway_ip", sys.GatewayIP)
		setString("dns_servers", sys.DNSServers)
		setString("agent_version", sys.AgentVersion)
		if sys.CPUCores != nil {
			updates["cpu_cores"] = *sys.CPUCores
		}
		if sys.MemoryBytes != nil {
			updates["memory_bytes"] = *sys.MemoryBytes
		}
		if sys.DiskBytes != nil {
			updates["disk_bytes"] = *sys.DiskBytes
		}
		if len(sys.NetworkInterfaces) > 0 {
			updates["network_interfaces"] = datatypes.JSON(sys.NetworkInterfaces)
		}
		if sys.AutoUpdate != nil {
			updates["auto_update"] = *sys.AutoUpdate
			host.AutoUpdate = *sys.AutoUpdate
		}
	}

	ts := now
	host.LastUpdate = &ts
	return tx.Model(&model.Host{}).Where("id = ?", host.ID).Updates(updates).Error
}

// reconcilePackages replaces the host's package rows with the reported
// snapshot. The snapshot is authoritative and total: a package absent
// from the payload is no longer installed and must not linger.
func (e *Engine) reconcilePackages(tx *gorm.DB, host *model.Host, packages []PackageReport, result *Result) error {
	if err := tx.Where("host_id = ?", host.ID).Delete(&model.HostPackage{}).Error; err != nil {
		return err
	}

	now := time.Now().UTC()
	for _, report := range packages {
		pkg, err := e.findOrCreatePackage(tx, &report)
		if err != nil {
			return err
		}

		row := model.HostPackage{
			HostID:           host.ID,
			PackageID:        pkg.ID,
			CurrentVersion:   report.CurrentVersion,
			AvailableVersion: report.AvailableVersion,
			NeedsUpdate:      report.NeedsUpdate,
			IsSecurityUpdate: report.IsSecurityUpdate,
			LastChecked:      now,
		}
		// Upsert rather than insert: one payload may repeat a package
		// name, and (host_id, package_id) must stay unique.
		err = tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "host_id"}, {Name: "package_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"current_version", "available_version", "needs_update", "is_security_update", "last_checked",
			}),
		}).Create(&row).Error
		if err != nil {
			return err
		}

		result.PackagesProcessed++
		if report.NeedsUpdate {
			result.UpdatesAvailable++
			if report.IsSecurityUpdate {
				result.SecurityUpdates++
			}
		}
	}

	return nil
}

// findOrCreatePackage resolves the global catalog row for a reported
// package. Creation seeds latest_version from availableVersion,
// falling back to currentVersion; updates only bump latest_version when
// the reported available version is newer.
func (e *Engine) findOrCreatePackage(tx *gorm.DB, report *PackageReport) (*model.Package, error) {
	latest := report.AvailableVersion
	if latest == "" {
		latest = report.CurrentVersion
	}

	var pkg model.Package
	err := tx.Where(model.Package{Name: report.Name}).
		Attrs(model.Package{LatestVersion: latest}).
		FirstOrCreate(&pkg).Error
	if err != nil {
		return nil, err
	}

	if report.AvailableVersion != "" && versionGreater(report.AvailableVersion, pkg.LatestVersion) {
		if err := tx.Model(&pkg).Update("latest_version", report.AvailableVersion).Error; err != nil {
			return nil, err
		}
	}

	return &pkg, nil
}

// reconcileRepositories replaces the host's repository joins with the
// deduplicated reported list.
func (e *Engine) reconcileRepositories(tx *gorm.DB, host *model.Host, repos []RepositoryReport) error {
	if err := tx.Where("host_id = ?", host.ID).Delete(&model.HostRepository{}).Error; err != nil {
		return err
	}

	seen := make(map[string]bool, len(repos))
	now := time.Now().UTC()
	for _, report := range repos {
		key := report.URL + "\x00" + report.Distribution + "\x00" + report.Components
		if seen[key] {
			continue
		}
		seen[key] = true

		repo := model.Repository{
			URL:          report.URL,
			Distribution: report.Distribution,
			Components:   report.Components,
		}
		attrs := model.Repository{IsSecure: strings.HasPrefix(report.URL, "https://")}
		if report.IsSecure != nil {
			attrs.IsSecure = *report.IsSecure
		}
		if err := tx.Where(repo).Attrs(attrs).FirstOrCreate(&repo).Error; err != nil {
			return err
		}

		enabled := true
		if report.IsEnabled != nil {
			enabled = *report.IsEnabled
		}
		join := model.HostRepository{
			HostID:       host.ID,
			RepositoryID: repo.ID,
			IsEnabled:    enabled,
			LastChecked:  now,
		}
		if err := tx.Create(&join).Error; err != nil {
			return err
		}
	}

	return nil
}

// recordFailure appends a best-effort error row outside the failed
// transaction, swallowing secondary failures.
func (e *Engine) recordFailure(hostID int, cause error) {
	msg := cause.Error()
	if len(msg) > 1000 {
		msg = msg[:1000]
	}
	history := model.UpdateHistory{
		HostID:       hostID,
		Status:       model.UpdateHistoryStatusError,
		ErrorMessage: msg,
	}
	if err := e.db.Create(&history).Error; err != nil {
		e.logger.WithField("host_id", hostID).WithError(err).Warn("Failed to record error history row")
	}
}

// versionGreater reports whether version a sorts after version b,
// comparing dot-separated components numerically where possible.
func versionGreater(a, b string) bool {
	if a == b {
		return false
	}
	if b == "" {
		return true
	}

	as := strings.FieldsFunc(a, func(r rune) bool { return r == '.' || r == '-' || r == '+' || r == '~' })
	bs := strings.FieldsFunc(b, func(r rune) bool { return r == '.' || r == '-' || r == '+' || r == '~' })
	for i := 0; i < len(as) && i < len(bs); i++ {
		an, aerr := strconv.Atoi(as[i])
		bn, berr := strconv.Atoi(bs[i])
		switch {
		case aerr == nil && berr == nil:
			if an != bn {
				return an > bn
			}
		default:
			if as[i] != bs[i] {
				return as[i] > bs[i]
			}
		}
	}
	return len(as) > len(bs)
}
