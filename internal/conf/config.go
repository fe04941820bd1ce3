// conf/config.go
package conf

import (
	"embed"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

//go:embed config.yaml
var configFiles embed.FS

// Settings is the full configuration surface for both the hub and node
// binaries. A single nested struct is unmarshaled by viper regardless of
// which binary loads it; each binary only reads the sections relevant
// to it.
type Settings struct {
	Debug bool

	Radio struct {
		FrequencyMHz float64 // carrier, e.g. 915.0
		Bandwidth    uint32  // Hz, e.g. 125000
		SpreadFactor int     // 7-12
		CodingRate   int     // denominator of 4/x
		SyncWord     uint8   // private sync byte, 0x00-0xFF
		TxPowerDBm   int
	}

	Anomaly struct {
		Profile         string // "demo" or "production"
		ConsecutiveHits int
		TxCooldownMs    int
	}

	Node struct {
		ID               string
		HeartbeatMs      int
		PCMWindowSamples int
	}

	Session struct {
		TimeoutS      int
		MaxConcurrent int
	}

	Classifier struct {
		Mode string // "auto", "fast", "deep", "local"

		Local struct {
			ModelPath     string
			OnnxLibPath   string
			ConfidenceMin int
		}

		FastCloud struct {
			Endpoint  string
			APIKey    string
			TimeoutS  int
			CacheTTLS int
		}

		DeepCloud struct {
			Endpoint    string
			APIKey      string
			TimeoutS    int
			RateLimit   int
			RateWindowS int
		}
	}

	Hub struct {
		HTTPAddr       string
		DatabasePath   string
		SpectrogramDir string
		SyncQueueDir   string
	}

	MQTT struct {
		Enabled  bool
		Broker   string
		Topic    string
		Username string
		Password string
	}

	Discovery struct {
		Enabled     bool
		ServiceName string
	}

	Log LogConfig
}

// LogConfig mirrors the teacher's rotation-file logging block, scoped
// down to the single hub/node log stream Forest Guardian writes.
type LogConfig struct {
	Level      string
	Path       string
	MaxSizeMB  int
	MaxAgeDays int
	MaxBackups int
	Compress   bool
}

var (
	settingsInstance *Settings
	settingsMutex    sync.RWMutex
)

// Load reads config.yaml (embedded defaults, optionally overridden by a
// file on disk), a .env file if present, then environment variables, in
// that order of increasing precedence, and returns the assembled
// Settings.
func Load(configPath string) (*Settings, error) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()

	loadDotEnv()

	if err := initViper(configPath); err != nil {
		return nil, fmt.Errorf("initializing viper: %w", err)
	}

	settings := &Settings{}
	if err := viper.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("unmarshaling config into struct: %w", err)
	}

	if err := bindEnvVars(settings); err != nil {
		return nil, fmt.Errorf("binding environment overrides: %w", err)
	}

	if err := validateSettings(settings); err != nil {
		return nil, err
	}

	settingsInstance = settings
	return settings, nil
}

// loadDotEnv loads a .env file from the working directory if present. A
// missing file is not an error; only a present-but-unreadable file is
// worth a warning.
func loadDotEnv() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("conf: .env present but unreadable: %v", err)
	}
}

func initViper(configPath string) error {
	viper.Reset() // viper's config state is a package global; each Load starts clean
	viper.SetConfigType("yaml")
	setDefaultConfig()

	if configPath != "" {
		viper.SetConfigFile(configPath)
	} else {
		viper.SetConfigName("config")
		for _, path := range DefaultConfigPaths() {
			viper.AddConfigPath(path)
		}
	}

	err := viper.ReadInConfig()
	if err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return createDefaultConfig()
		}
		return fmt.Errorf("reading config file: %w", err)
	}
	return nil
}

// createDefaultConfig writes the embedded default config.yaml to the
// first default config path so operators have something to edit.
func createDefaultConfig() error {
	paths := DefaultConfigPaths()
	configPath := filepath.Join(paths[0], "config.yaml")

	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(configPath, []byte(defaultConfigYAML()), 0o644); err != nil {
		return fmt.Errorf("writing default config file: %w", err)
	}
	log.Printf("conf: wrote default config to %s", configPath)
	return viper.ReadInConfig()
}

func defaultConfigYAML() string {
	data, err := fs.ReadFile(configFiles, "config.yaml")
	if err != nil {
		log.Fatalf("conf: embedded config.yaml unreadable: %v", err)
	}
	return string(data)
}

// GetSettings returns the most recently loaded Settings instance, or
// nil if Load has not been called.
func GetSettings() *Settings {
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()
	return settingsInstance
}
