package enrollment

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/netip"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"patchwatch/internal/auth"
	"patchwatch/internal/model"
)

// Validation errors, mapped to HTTP responses by the handler layer.
var (
	ErrTokenNotFound = errors.New("enrollment token not found")
	ErrBadSecret     = errors.New("enrollment token secret mismatch")
	ErrTokenInactive = errors.New("enrollment token is inactive")
	ErrTokenExpired  = errors.New("enrollment token has expired")
	ErrIPNotAllowed  = errors.New("caller IP not in allowed ranges")
	ErrDailyLimit    = errors.New("daily enrollment limit reached")
)

// HostExistsError reports an idempotent hit: the machine_id is already
// enrolled. Callers answer 409 with the existing host's public
// identifiers instead of failing destructively.
type HostExistsError struct {
	Host *model.Host
}

func (e *HostExistsError) Error() string {
	return fmt.Sprintf("host with machine_id %q already exists", e.Host.MachineID)
}

// MaxBulkHosts caps a single bulk enrollment call
const MaxBulkHosts = 50

// Service implements the auto-enrollment token flows
type Service struct {
	db     *gorm.DB
	logger *logrus.Entry
}

// NewService creates an enrollment service
func NewService(db *gorm.DB, logger *logrus.Entry) *Service {
	return &Service{
		db:     db,
		logger: logger.WithField("component", "enrollment"),
	}
}

// CreatedToken carries the plaintext secret exactly once
type CreatedToken struct {
	Token  *model.AutoEnrollmentToken
	Secret string
}

// TokenParams describes a token to create
type TokenParams struct {
	Name               string
	AllowedIPRanges    []string
	MaxHostsPerDay     int
	ExpiresAt          *time.Time
	DefaultHostGroupID *int
	CreatedByUserID    *int
}

// CreateToken mints and persists a new enrollment token. The secret is
// returned in plaintext once and stored only as a bcrypt hash.
func (s *Service) CreateToken(p TokenParams) (*CreatedToken, error) {
	for _, r := range p.AllowedIPRanges {
		if _, err := parsePrefix(r); err != nil {
			return nil, fmt.Errorf("invalid IP range %q: %w", r, err)
		}
	}

	key, secret, err := auth.GenerateEnrollmentToken()
	if err != nil {
		return nil, err
	}
	secretHash, err := auth.HashTokenSecret(secret)
	if err != nil {
		return nil, err
	}

	ranges, err := marshalRanges(p.AllowedIPRanges)
	if err != nil {
		return nil, err
	}

	maxPerDay := p.MaxHostsPerDay
	if maxPerDay <= 0 {
		maxPerDay = 10
	}

	token := model.AutoEnrollmentToken{
		Name:               p.Name,
		TokenKey:           key,
		TokenSecretHash:    secretHash,
		AllowedIPRanges:    ranges,
		MaxHostsPerDay:     maxPerDay,
		LastResetDate:      utcDate(time.Now()),
		ExpiresAt:          p.ExpiresAt,
		DefaultHostGroupID: p.DefaultHostGroupID,
		CreatedByUserID:    p.CreatedByUserID,
		IsActive:           true,
	}
	if err := s.db.Create(&token).Error; err != nil {
		return nil, err
	}

	return &CreatedToken{Token: &token, Secret: secret}, nil
}

// ValidateToken authenticates an enrollment request: key lookup, bcrypt
// secret comparison, active/expiry checks, CIDR allowlist, then the
// daily quota with a counter reset on the first use of a new UTC day.
func (s *Service) ValidateToken(tokenKey, tokenSecret, callerIP string) (*model.AutoEnrollmentToken, error) {
	var token model.AutoEnrollmentToken
	if err := s.db.Where("token_key = ?", tokenKey).First(&token).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTokenNotFound
		}
		return nil, err
	}

	if err := auth.CompareTokenSecret(token.TokenSecretHash, tokenSecret); err != nil {
		return nil, ErrBadSecret
	}
	if !token.IsActive {
		return nil, ErrTokenInactive
	}
	if token.ExpiresAt != nil && time.Now().UTC().After(*token.ExpiresAt) {
		return nil, ErrTokenExpired
	}

	if err := s.checkIPAllowed(&token, callerIP); err != nil {
		return nil, err
	}

	today := utcDate(time.Now())
	if token.LastResetDate != today {
		if err := s.db.Model(&token).Updates(map[string]interface{}{
			"hosts_created_today": 0,
			"last_reset_date":     today,
		}).Error; err != nil {
			return nil, err
		}
		token.HostsCreatedToday = 0
		token.LastResetDate = today
	}

	if token.HostsCreatedToday >= token.MaxHostsPerDay {
		return nil, ErrDailyLimit
	}

	return &token, nil
}

// RemainingQuota returns how many hosts the token may still create today
func (s *Service) RemainingQuota(token *model.AutoEnrollmentToken) int {
	remaining := token.MaxHostsPerDay - token.HostsCreatedToday
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Enroll registers a single host. Idempotent by machine_id: a second
// call for the same machine returns HostExistsError carrying the
// existing row.
func (s *Service) Enroll(token *model.AutoEnrollmentToken, friendlyName, machineID string) (*model.Host, error) {
	if machineID == "" {
		machineID = "pending-" + uuid.NewString()
	}

	var existing model.Host
	err := s.db.Where("machine_id = ?", machineID).First(&existing).Error
	if err == nil {
		return nil, &HostExistsError{Host: &existing}
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	apiID, apiKey, err := auth.GenerateAPICredentials()
	if err != nil {
		return nil, err
	}

	host := model.Host{
		MachineID:    machineID,
		FriendlyName: friendlyName,
		APIID:        apiID,
		APIKey:       apiKey,
		Status:       model.HostStatusPending,
		HostGroupID:  token.DefaultHostGroupID,
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&host).Error; err != nil {
			return err
		}
		return s.consumeQuota(tx, token.ID, 1)
	})
	if err != nil {
		// A concurrent enrollment can win the insert between the
		// existence check and the create. Treat the lost race the same
		// as finding the row up front.
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			var winner model.Host
			if lerr := s.db.Where("machine_id = ?", machineID).First(&winner).Error; lerr == nil {
				return nil, &HostExistsError{Host: &winner}
			}
		}
		return nil, err
	}
	token.HostsCreatedToday++

	s.logger.WithField("machine_id", machineID).Info("Host enrolled")
	return &host, nil
}

// BulkHostRequest is one host in a bulk enrollment call
type BulkHostRequest struct {
	FriendlyName string `json:"friendlyName" binding:"required"`
	MachineID    string `json:"machineId"`
}

// BulkResultItem is the per-host outcome of a bulk enrollment
type BulkResultItem struct {
	FriendlyName string `json:"friendlyName"`
	MachineID    string `json:"machineId"`
	APIID        string `json:"apiId,omitempty"`
	APIKey       string `json:"apiKey,omitempty"`
	Error        string `json:"error,omitempty"`
}

// BulkResult buckets bulk outcomes so a partial failure never aborts
// the batch.
type BulkResult struct {
	Success []BulkResultItem `json:"success"`
	Failed  []BulkResultItem `json:"failed"`
	Skipped []BulkResultItem `json:"skipped"`
}

// EnrollBulk registers up to MaxBulkHosts hosts in one call. The whole
// batch is checked against the remaining daily quota up front; each
// host is then processed independently, and the daily counter is
// incremented once at the end by the count of actual successes.
func (s *Service) EnrollBulk(token *model.AutoEnrollmentToken, hosts []BulkHostRequest) (*BulkResult, error) {
	if len(hosts) == 0 {
		return nil, fmt.Errorf("no hosts in request")
	}
	if len(hosts) > MaxBulkHosts {
		return nil, fmt.Errorf("at most %d hosts per bulk call", MaxBulkHosts)
	}
	if len(hosts) > s.RemainingQuota(token) {
		return nil, ErrDailyLimit
	}

	result := &BulkResult{
		Success: []BulkResultItem{},
		Failed:  []BulkResultItem{},
		Skipped: []BulkResultItem{},
	}

	for _, req := range hosts {
		machineID := req.MachineID
		if machineID == "" {
			machineID = "pending-" + uuid.NewString()
		}

		var existing model.Host
		err := s.db.Where("machine_id = ?", machineID).First(&existing).Error
		if err == nil {
			result.Skipped = append(result.Skipped, BulkResultItem{
				FriendlyName: req.FriendlyName,
				MachineID:    machineID,
				Error:        "machine_id already enrolled",
			})
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			result.Failed = append(result.Failed, BulkResultItem{
				FriendlyName: req.FriendlyName,
				MachineID:    machineID,
				Error:        err.Error(),
			})
			continue
		}

		apiID, apiKey, err := auth.GenerateAPICredentials()
		if err != nil {
			result.Failed = append(result.Failed, BulkResultItem{
				FriendlyName: req.FriendlyName,
				MachineID:    machineID,
				Error:        err.Error(),
			})
			continue
		}

		host := model.Host{
			MachineID:    machineID,
			FriendlyName: req.FriendlyName,
			APIID:        apiID,
			APIKey:       apiKey,
			Status:       model.HostStatusPending,
			HostGroupID:  token.DefaultHostGroupID,
		}
		if err := s.db.Create(&host).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				result.Skipped = append(result.Skipped, BulkResultItem{
					FriendlyName: req.FriendlyName,
					MachineID:    machineID,
					Error:        "machine_id already enrolled",
				})
				continue
			}
			result.Failed = append(result.Failed, BulkResultItem{
				FriendlyName: req.FriendlyName,
				MachineID:    machineID,
				Error:        err.Error(),
			})
			continue
		}

		result.Success = append(result.Success, BulkResultItem{
			FriendlyName: req.FriendlyName,
			MachineID:    machineID,
			APIID:        apiID,
			APIKey:       apiKey,
		})
	}

	if n := len(result.Success); n > 0 {
		if err := s.consumeQuota(s.db, token.ID, n); err != nil {
			return nil, err
		}
		token.HostsCreatedToday += n
	}

	s.logger.WithFields(logrus.Fields{
		"success": len(result.Success),
		"failed":  len(result.Failed),
		"skipped": len(result.Skipped),
	}).Info("Bulk enrollment processed")

	return result, nil
}

// consumeQuota increments the daily counter and stamps last_used_at
func (s *Service) consumeQuota(tx *gorm.DB, tokenID, n int) error {
	return tx.Model(&model.AutoEnrollmentToken{}).
		Where("id = ?", tokenID).
		Updates(map[string]interface{}{
			"hosts_created_today": gorm.Expr("hosts_created_today + ?", n),
			"last_used_at":        time.Now().UTC(),
		}).Error
}

// checkIPAllowed enforces the CIDR allowlist; an empty list allows all.
func (s *Service) checkIPAllowed(token *model.AutoEnrollmentToken, callerIP string) error {
	ranges, err := unmarshalRanges(token.AllowedIPRanges)
	if err != nil {
		return err
	}
	if len(ranges) == 0 {
		return nil
	}

	addr, err := netip.ParseAddr(strings.TrimSpace(callerIP))
	if err != nil {
		return ErrIPNotAllowed
	}
	addr = addr.Unmap()

	for _, r := range ranges {
		prefix, err := parsePrefix(r)
		if err != nil {
			s.logger.Warnf("Skipping malformed IP range %q on token %d", r, token.ID)
			continue
		}
		if prefix.Contains(addr) {
			return nil
		}
	}
	return ErrIPNotAllowed
}

// parsePrefix accepts either CIDR notation or a bare address
func parsePrefix(raw string) (netip.Prefix, error) {
	raw = strings.TrimSpace(raw)
	if prefix, err := netip.ParsePrefix(raw); err == nil {
		return prefix.Masked(), nil
	}
	addr, err := netip.ParseAddr(raw)
	if err != nil {
		return netip.Prefix{}, err
	}
	return netip.PrefixFrom(addr, addr.BitLen()), nil
}

func utcDate(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

func marshalRanges(ranges []string) (datatypes.JSON, error) {
	if len(ranges) == 0 {
		return nil, nil
	}
	raw, err := json.Marshal(ranges)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(raw), nil
}

func unmarshalRanges(raw datatypes.JSON) ([]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var out []string
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("malformed allowed_ip_ranges: %w", err)
	}
	return out, nil
}
