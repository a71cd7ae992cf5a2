package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Config represents runtime configuration for the service.
type Config struct {
	BasicConfig BasicConfig               `json:"basic_config"`
	Chat        ChatConfig                `json:"chat"`
	Providers   map[string]ProviderConfig `json:"providers"`
	Databases   map[string]DatabaseConfig `json:"databases"`
	Redis       RedisConfig               `json:"redis"`
	Translator  TranslatorConfig          `json:"translator"`
	Recognizer  RecognizerConfig          `json:"recognizer"`
}

type ProviderConfig struct {
	BaseURL string `json:"base_url"`
	Model   string `json:"model"`
	APIKey  string `json:"api_key"`
}

type DatabaseConfig struct {
	DSN      string `json:"dsn"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	DBName   string `json:"db_name"`
	Params   string `json:"params"`
}

type RedisConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

type BasicConfig struct {
	ServerAddress     string `json:"server_address"`
	FileBaseDir       string `json:"file_base_dir"`
	TempAudioTTL      int    `json:"temp_audio_ttl_minutes"`
	TempCleanInterval int    `json:"temp_clean_interval_minutes"`
	WorkerIdleTimeout int    `json:"worker_idle_timeout_minutes"`
	QueueSize         int    `json:"queue_size"`
}

// ChatConfig carries the conversation-core settings: the fixed timezone the
// date/time answers are rendered in, how much history the generative backend
// sees, and the keyword lists driving intent classification.
type ChatConfig struct {
	TimezoneOffsetMinutes int                 `json:"timezone_offset_minutes"`
	ContextWindow         int                 `json:"context_window"`
	ReminderUnitMinutes   int                 `json:"reminder_unit_minutes"`
	PivotLanguage         string              `json:"pivot_language"`
	Keywords              map[string][]string `json:"keywords"`
}

type TranslatorConfig struct {
	BaseURL        string `json:"base_url"`
	APIKey         string `json:"api_key"`
	TimeoutSeconds int    `json:"timeout_seconds"`
	CacheTTL       int    `json:"cache_ttl_minutes"`
}

type RecognizerConfig struct {
	BaseURL        string `json:"base_url"`
	APIKey         string `json:"api_key"`
	Model          string `json:"model"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// Load reads configuration from the provided path (defaults to config.json).
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.json"
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	file, err := os.Open(absPath)
	if err != nil {
		return nil, fmt.Errorf("open config %s: %w", absPath, err)
	}
	defer file.Close()

	var cfg Config
	if err := json.NewDecoder(file).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if len(cfg.Databases) == 0 {
		return nil, fmt.Errorf("at least one database must be configured")
	}
	for name, db := range cfg.Databases {
		if db.DSN != "" && db.DSN != ":memory:" && !filepath.IsAbs(db.DSN) {
			db.DSN = filepath.Join(filepath.Dir(absPath), db.DSN)
			cfg.Databases[name] = db
		}
	}

	cfg.Chat.ApplyDefaults()
	return &cfg, nil
}

const defaultPivotLanguage = "en"

// ApplyDefaults fills zero-valued chat settings with the built-in defaults.
func (c *ChatConfig) ApplyDefaults() {
	if c.ContextWindow <= 0 {
		c.ContextWindow = 20
	}
	if c.ReminderUnitMinutes <= 0 {
		c.ReminderUnitMinutes = 1
	}
	if c.PivotLanguage == "" {
		c.PivotLanguage = defaultPivotLanguage
	}
	if len(c.Keywords) == 0 {
		c.Keywords = DefaultKeywords()
	}
}

// DefaultKeywords returns the built-in intent keyword lists: English words
// plus the Urdu equivalents (transliterated and in script) observed from
// real users. Deployments can replace the lists in config without code
// changes.
func DefaultKeywords() map[string][]string {
	return map[string][]string{
		"reminder":  {"remind me", "reminder", "yaad dilana"},
		"datetime":  {"date", "time", "waqt", "taareekh", "تاریخ", "وقت"},
		"day":       {"day", "din", "دن"},
		"floodnews": {"flood", "sailab", "سیلاب"},
	}
}
