package config

import (
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Data    DataConfig    `yaml:"data"`
	Fetch   FetchConfig   `yaml:"fetch"`
	Watcher WatcherConfig `yaml:"watcher"`
	Logging LoggingConfig `yaml:"logging"`
}

type ServerConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// DataConfig locates the persisted documents and caches. Cache and settings
// are JSON documents; sessions is a sqlite database; the image cache dir
// holds one directory per work.
type DataConfig struct {
	CachePath       string `yaml:"cache_path"`
	SettingsPath    string `yaml:"settings_path"`
	SessionsPath    string `yaml:"sessions_path"`
	ImageCacheDir   string `yaml:"image_cache_dir"`
	ImageCacheItems int    `yaml:"image_cache_items"` // in-memory LRU entries
}

// FetchConfig selects the metadata fetch collaborator: "dlsite" scrapes the
// work page directly, "command" runs an external script.
type FetchConfig struct {
	Mode    string `yaml:"mode"`
	Command string `yaml:"command"`
}

type WatcherConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Debounce time.Duration `yaml:"debounce"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

func Load(path string) (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:         "127.0.0.1",
			Port:         6541,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 0,
		},
		Data: DataConfig{
			CachePath:       filepath.Join("data_base", "cache.json"),
			SettingsPath:    filepath.Join("data_base", "settings.json"),
			SessionsPath:    filepath.Join("data_base", "sessions.db"),
			ImageCacheDir:   "img_cache",
			ImageCacheItems: 256,
		},
		Fetch: FetchConfig{
			Mode: "dlsite",
		},
		Watcher: WatcherConfig{
			Enabled:  true,
			Debounce: 5 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Pretty: true,
		},
	}

	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}
