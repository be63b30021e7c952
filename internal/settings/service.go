package settings

import (
	"strconv"
	"sync"

	"gorm.io/gorm"

	"patchwatch/internal/model"
)

// Defaults applied when a setting row is absent.
const (
	DefaultPollingIntervalMinutes = 60
	DefaultStaleMultiplier        = 3
)

// Service is a read-through cache over the settings table. The cache is
// filled on first read and dropped on every write, so concurrent
// instances observe a stale value only until their next write or
// restart. Settings change rarely; that window is acceptable.
type Service struct {
	db *gorm.DB

	mu     sync.RWMutex
	cache  map[string]string
	loaded bool
}

// NewService creates a settings service over the given database handle
func NewService(db *gorm.DB) *Service {
	return &Service{db: db}
}

func (s *Service) ensureLoaded() error {
	s.mu.RLock()
	if s.loaded {
		s.mu.RUnlock()
		return nil
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loaded {
		return nil
	}

	var rows []model.Setting
	if err := s.db.Find(&rows).Error; err != nil {
		return err
	}
	cache := make(map[string]string, len(rows))
	for _, row := range rows {
		cache[row.Key] = row.Value
	}
	s.cache = cache
	s.loaded = true
	return nil
}

// Get returns the raw value for a key, or "" when unset
func (s *Service) Get(key string) (string, error) {
	if err := s.ensureLoaded(); err != nil {
		return "", err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cache[key], nil
}

// Set upserts a setting row and invalidates the cache
func (s *Service) Set(key, value string) error {
	var row model.Setting
	err := s.db.Where("key = ?", key).First(&row).Error
	switch {
	case err == gorm.ErrRecordNotFound:
		err = s.db.Create(&model.Setting{Key: key, Value: value}).Error
	case err == nil:
		err = s.db.Model(&row).Update("value", value).Error
	}
	if err != nil {
		return err
	}

	s.Invalidate()
	return nil
}

// Invalidate drops the in-process cache; the next read reloads from the
// database.
func (s *Service) Invalidate() {
	s.mu.Lock()
	s.loaded = false
	s.cache = nil
	s.mu.Unlock()
}

// All returns a copy of every setting
func (s *Service) All() (map[string]string, error) {
	if err := s.ensureLoaded(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]string, len(s.cache))
	for k, v := range s.cache {
		out[k] = v
	}
	return out, nil
}

func (s *Service) getInt(key string, fallback int) int {
	raw, err := s.Get(key)
	if err != nil || raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

// ServerURL returns the externally reachable server URL injected into
// agent scripts.
func (s *Service) ServerURL() string {
	v, _ := s.Get(model.SettingServerURL)
	return v
}

// PollingIntervalMinutes returns the agent check-in interval
func (s *Service) PollingIntervalMinutes() int {
	return s.getInt(model.SettingPollingIntervalMinutes, DefaultPollingIntervalMinutes)
}

// StaleMultiplier returns how many missed polling intervals mark a host
// as stale at read time.
func (s *Service) StaleMultiplier() int {
	return s.getInt(model.SettingStaleMultiplier, DefaultStaleMultiplier)
}

// SignupEnabled reports whether self-service signup is allowed
func (s *Service) SignupEnabled() bool {
	v, _ := s.Get(model.SettingSignupEnabled)
	return v == "1" || v == "true"
}

// CurlFlags returns extra curl flags injected into agent scripts
func (s *Service) CurlFlags() string {
	v, _ := s.Get(model.SettingCurlFlags)
	return v
}
