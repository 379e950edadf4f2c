// Package prefs persists user preferences in a sqlite database and serves a
// cached snapshot to the hot enumeration path. External writers (the web
// interface or a sqlite shell) are picked up by a file watcher.
package prefs

import (
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/errors"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"quickswitch/internal/models"
	"quickswitch/internal/util"
	"quickswitch/pkg/window"
)

const (
	defaultDBName = "quickswitch.db"
	defaultDBDir  = ".config/quickswitch"

	keyHiddenApps       = "placement.hidden_apps"
	keyMinimizedWindows = "placement.minimized_windows"
	keyWindowlessApps   = "placement.windowless_apps"
	keyRevealDelay      = "reveal_delay_ms"
	keyMode             = "mode"
)

// Settings is the parsed snapshot handed to the switcher. Unknown or
// malformed stored values fall back to the defaults silently.
type Settings struct {
	Placements  window.Placements
	RevealDelay time.Duration
	Mode        window.Mode
}

// DefaultSettings returns the out-of-the-box behavior: everything listed in
// the normal group, a short reveal delay, app-level cycling.
func DefaultSettings() Settings {
	return Settings{
		Placements: window.Placements{
			HiddenApps:       window.PlaceNormal,
			MinimizedWindows: window.PlaceNormal,
			WindowlessApps:   window.PlaceAtEnd,
		},
		RevealDelay: 150 * time.Millisecond,
		Mode:        window.ModeApps,
	}
}

// GetDefaultDBPath resolves and creates the per-user config directory.
func GetDefaultDBPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", errors.Wrap(err, "resolve home directory")
	}
	dbDir := filepath.Join(homeDir, defaultDBDir)
	if err := os.MkdirAll(dbDir, 0755); err != nil {
		return "", errors.Wrap(err, "create config directory")
	}
	return filepath.Join(dbDir, defaultDBName), nil
}

// Store owns the database connection and the cached settings snapshot.
type Store struct {
	db     *gorm.DB
	path   string
	logger *util.Logger

	mu       sync.RWMutex
	cached   Settings
	onChange func(Settings)
}

// Open connects to the database at path (or the default location when empty),
// migrates the schema and loads the settings cache.
func Open(path string, log *util.Logger) (*Store, error) {
	if path == "" {
		var err error
		path, err = GetDefaultDBPath()
		if err != nil {
			return nil, err
		}
	}
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, errors.Wrap(err, "open preference database")
	}
	if err := db.AutoMigrate(&models.Preference{}, &models.ErrorLog{}); err != nil {
		return nil, errors.Wrap(err, "migrate schema")
	}
	s := &Store{db: db, path: path, logger: log, cached: DefaultSettings()}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Path returns the database file location, for the change watcher.
func (s *Store) Path() string {
	return s.path
}

// OnChange registers a callback fired after every successful reload.
func (s *Store) OnChange(fn func(Settings)) {
	s.mu.Lock()
	s.onChange = fn
	s.mu.Unlock()
}

// Settings returns the cached snapshot. Never touches the database.
func (s *Store) Settings() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cached
}

// Placements satisfies the enumeration's preference source.
func (s *Store) Placements() window.Placements {
	return s.Settings().Placements
}

// Set writes one preference and reloads the cache.
func (s *Store) Set(key, value string) error {
	pref := models.Preference{Key: key, Value: value}
	result := s.db.Save(&pref)
	if result.Error != nil {
		return errors.Wrapf(result.Error, "save preference %s", key)
	}
	return s.Reload()
}

// All returns the raw stored rows, for the web interface.
func (s *Store) All() ([]models.Preference, error) {
	var prefs []models.Preference
	result := s.db.Order("key ASC").Find(&prefs)
	if result.Error != nil {
		return nil, errors.Wrap(result.Error, "list preferences")
	}
	return prefs, nil
}

// Reload re-reads every row and rebuilds the snapshot. Called at startup,
// after Set, and whenever the file watcher reports an external write.
func (s *Store) Reload() error {
	var prefs []models.Preference
	result := s.db.Find(&prefs)
	if result.Error != nil {
		return errors.Wrap(result.Error, "read preferences")
	}

	settings := DefaultSettings()
	for _, p := range prefs {
		switch p.Key {
		case keyHiddenApps:
			settings.Placements.HiddenApps = parsePlacement(p.Value, settings.Placements.HiddenApps)
		case keyMinimizedWindows:
			settings.Placements.MinimizedWindows = parsePlacement(p.Value, settings.Placements.MinimizedWindows)
		case keyWindowlessApps:
			settings.Placements.WindowlessApps = parsePlacement(p.Value, settings.Placements.WindowlessApps)
		case keyRevealDelay:
			if ms, err := strconv.Atoi(p.Value); err == nil && ms >= 0 {
				settings.RevealDelay = time.Duration(ms) * time.Millisecond
			}
		case keyMode:
			if m := window.Mode(p.Value); m == window.ModeApps || m == window.ModeWindows {
				settings.Mode = m
			}
		default:
			s.logger.Debugf("ignoring unknown preference %s", p.Key)
		}
	}

	s.mu.Lock()
	s.cached = settings
	fn := s.onChange
	s.mu.Unlock()
	if fn != nil {
		fn(settings)
	}
	return nil
}

// LogError persists a runtime failure. Best effort: logging must never fail
// the caller.
func (s *Store) LogError(component, msg string) {
	entry := models.ErrorLog{
		Timestamp: time.Now(),
		Component: component,
		Message:   msg,
	}
	if result := s.db.Create(&entry); result.Error != nil {
		s.logger.Debugf("error log write failed: %v", result.Error)
	}
}

// RecentErrors returns the newest persisted failures.
func (s *Store) RecentErrors(limit int) ([]models.ErrorLog, error) {
	if limit <= 0 {
		limit = 50
	}
	var logs []models.ErrorLog
	result := s.db.Order("timestamp DESC").Limit(limit).Find(&logs)
	if result.Error != nil {
		return nil, errors.Wrap(result.Error, "list error logs")
	}
	return logs, nil
}

// Close releases the underlying connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return errors.Wrap(err, "unwrap sql.DB")
	}
	return sqlDB.Close()
}

func parsePlacement(v string, fallback window.Placement) window.Placement {
	switch v {
	case "normal":
		return window.PlaceNormal
	case "at_end":
		return window.PlaceAtEnd
	case "exclude":
		return window.PlaceExclude
	}
	return fallback
}
