// Package config is the on-disk settings store of the backend: a small set
// of named, typed values persisted as JSON, read-mostly at start-up and
// updated on successful navigation.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"sync"
	"time"

	"github.com/spf13/viper"
)

const (
	fileName    = "filebro"
	fileType    = "json"
	dirName     = ".filebro"
	historyCap  = 100
	defaultPort = 6543
)

// Settings wraps a viper instance with typed accessors. Writes persist to
// disk immediately so a restarted process picks them up.
type Settings struct {
	mu   sync.Mutex
	v    *viper.Viper
	path string
}

// DefaultDir returns the platform config directory for the backend.
func DefaultDir() string {
	if runtime.GOOS == "windows" {
		return filepath.Join(os.Getenv("LOCALAPPDATA"), dirName)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return dirName
	}
	return filepath.Join(home, dirName)
}

// Load reads settings from dir, creating defaults in memory when no file
// exists yet. The file is only written once a value is set.
func Load(dir string) (*Settings, error) {
	v := viper.New()
	v.SetConfigName(fileName)
	v.SetConfigType(fileType)
	v.AddConfigPath(dir)

	v.SetDefault("general.host", "127.0.0.1")
	v.SetDefault("general.port", defaultPort)
	v.SetDefault("general.port_range", 20)
	v.SetDefault("general.auth_key", "filebro-local")
	v.SetDefault("pool.core_workers", 2)
	v.SetDefault("pool.max_workers", runtime.NumCPU()*2)
	v.SetDefault("pool.queue_threshold", 3)
	v.SetDefault("broadcast.interval_ms", 100)
	v.SetDefault("navigation.start_up_directory", "")
	v.SetDefault("navigation.last_directory", "")
	v.SetDefault("navigation.save_history", true)
	v.SetDefault("navigation.history", []string{})

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !os.IsNotExist(err) {
			return nil, fmt.Errorf("read settings: %w", err)
		}
	}

	return &Settings{
		v:    v,
		path: filepath.Join(dir, fileName+"."+fileType),
	}, nil
}

func (s *Settings) Host() string        { return s.getString("general.host") }
func (s *Settings) Port() int           { return s.getInt("general.port") }
func (s *Settings) PortRange() int      { return s.getInt("general.port_range") }
func (s *Settings) AuthKey() string     { return s.getString("general.auth_key") }
func (s *Settings) CoreWorkers() int    { return s.getInt("pool.core_workers") }
func (s *Settings) MaxWorkers() int     { return s.getInt("pool.max_workers") }
func (s *Settings) QueueThreshold() int { return s.getInt("pool.queue_threshold") }

func (s *Settings) BroadcastInterval() time.Duration {
	ms := s.getInt("broadcast.interval_ms")
	if ms <= 0 {
		ms = 100
	}
	return time.Duration(ms) * time.Millisecond
}

func (s *Settings) StartupDirectory() string { return s.getString("navigation.start_up_directory") }
func (s *Settings) LastDirectory() string    { return s.getString("navigation.last_directory") }
func (s *Settings) SaveHistory() bool        { return s.getBool("navigation.save_history") }

func (s *Settings) History() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.v.GetStringSlice("navigation.history")
}

// SetPort persists the port the listener actually bound, so reconnecting
// clients find the backend without rescanning the whole range.
func (s *Settings) SetPort(port int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.v.Set("general.port", port)
	return s.writeLocked()
}

// RecordVisit stores the navigated path as the last directory and, when
// history is enabled, prepends it to the visit history.
func (s *Settings) RecordVisit(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.v.Set("navigation.last_directory", path)

	if s.v.GetBool("navigation.save_history") {
		history := s.v.GetStringSlice("navigation.history")
		if i := slices.Index(history, path); i >= 0 {
			history = slices.Delete(history, i, i+1)
		}
		history = append([]string{path}, history...)
		if len(history) > historyCap {
			history = history[:historyCap]
		}
		s.v.Set("navigation.history", history)
	}

	return s.writeLocked()
}

func (s *Settings) writeLocked() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create settings dir: %w", err)
	}
	if err := s.v.WriteConfigAs(s.path); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}
	return nil
}

func (s *Settings) getString(key string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.v.GetString(key)
}

func (s *Settings) getInt(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.v.GetInt(key)
}

func (s *Settings) getBool(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.v.GetBool(key)
}
