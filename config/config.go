package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// Config repräsentiert die Hauptkonfiguration der Anwendung
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Log        LogConfig        `mapstructure:"log"`
	DB         DBConfig         `mapstructure:"db"`
	Recognizer RecognizerConfig `mapstructure:"recognizer"`
	Gallery    GalleryConfig    `mapstructure:"gallery"`
	Pipeline   PipelineConfig   `mapstructure:"pipeline"`
	Evidence   EvidenceConfig   `mapstructure:"evidence"`
	Cameras    []CameraConfig   `mapstructure:"cameras"`
	MQTT       MQTTConfig       `mapstructure:"mqtt"`
	Cleanup    CleanupConfig    `mapstructure:"cleanup"`
}

// ServerConfig enthält Server-bezogene Einstellungen
type ServerConfig struct {
	Host    string `mapstructure:"host"`
	Port    int    `mapstructure:"port"`
	DataDir string `mapstructure:"data_dir"`
}

// LogConfig enthält Log-Einstellungen
type LogConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

// DBConfig enthält Datenbankeinstellungen
type DBConfig struct {
	File string `mapstructure:"file"` // SQLite-Datei
}

// RecognizerConfig enthält die Einstellungen für den Erkennungsdienst
type RecognizerConfig struct {
	URL          string  `mapstructure:"url"`
	Timeout      int     `mapstructure:"timeout"`       // Sekunden
	DetThreshold float64 `mapstructure:"det_threshold"` // Schwellwert des Detektors
}

// GalleryConfig enthält die Einstellungen für die Referenzgalerie
type GalleryConfig struct {
	Path        string  `mapstructure:"path"`
	MaxDistance float64 `mapstructure:"max_distance"`
	Watch       bool    `mapstructure:"watch"`
}

// PipelineConfig enthält die Laufzeitparameter der Verarbeitung
type PipelineConfig struct {
	RecognitionInterval int     `mapstructure:"recognition_interval"` // jedes N-te Einzelbild
	RecognitionTimeout  int     `mapstructure:"recognition_timeout"`  // Sekunden
	DownscaleFactor     float64 `mapstructure:"downscale_factor"`
	MatchThreshold      float64 `mapstructure:"match_threshold"` // IoU
	Tracker             string  `mapstructure:"tracker"`         // csrt, kcf oder mil
	TrackerTimeout      int     `mapstructure:"tracker_timeout"` // Sekunden
	DebounceInterval    int     `mapstructure:"debounce_interval"` // Sekunden
	LogUnknown          bool    `mapstructure:"log_unknown"`
	QueueSize           int     `mapstructure:"queue_size"`
	DrainGrace          int     `mapstructure:"drain_grace"`       // Sekunden
	ReconnectBackoff    int     `mapstructure:"reconnect_backoff"` // Sekunden
	MaxBackoff          int     `mapstructure:"max_backoff"`       // Sekunden
	OpenRetries         int     `mapstructure:"open_retries"`
	OpenRetryDelay      int     `mapstructure:"open_retry_delay"` // Sekunden
}

// EvidenceConfig enthält die Einstellungen für die Beweisbilder
type EvidenceConfig struct {
	Dir         string `mapstructure:"dir"`
	JPEGQuality int    `mapstructure:"jpeg_quality"`
}

// CameraConfig beschreibt eine Videoquelle samt Standort
type CameraConfig struct {
	ID       string `mapstructure:"id"`
	URL      string `mapstructure:"url"`
	Location string `mapstructure:"location"`
}

// MQTTConfig enthält die Konfiguration für den MQTT-Client
type MQTTConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Broker      string `mapstructure:"broker"`
	Port        int    `mapstructure:"port"`
	Username    string `mapstructure:"username"`
	Password    string `mapstructure:"password"`
	ClientID    string `mapstructure:"client_id"`
	TopicPrefix string `mapstructure:"topic_prefix"`
}

// CleanupConfig enthält Bereinigungseinstellungen
type CleanupConfig struct {
	RetentionDays int `mapstructure:"retention_days"`
	IntervalHours int `mapstructure:"interval_hours"`
}

// Load lädt die Konfiguration aus Datei, Umgebungsvariablen und Standardwerten
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Standardwerte festlegen
	setDefaults(v)

	// Konfigurationsdatei laden, wenn vorhanden
	if configPath != "" {
		// Überprüfen, ob die Datei existiert
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			log.Warnf("Config file %s does not exist, using defaults", configPath)
		} else {
			v.SetConfigFile(configPath)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
			log.Infof("Config loaded from %s", configPath)
		}
	}

	// Umgebungsvariablen überlagern die Konfiguration
	v.AutomaticEnv()
	v.SetEnvPrefix("FACETRACK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Konfiguration in Struct umwandeln
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	// Kameras ohne Standort-Label erhalten ihre ID als Standort
	for i := range cfg.Cameras {
		if cfg.Cameras[i].Location == "" {
			cfg.Cameras[i].Location = cfg.Cameras[i].ID
		}
	}

	// Sicherstellen, dass erforderliche Verzeichnisse existieren
	if err := ensureDirectories(&cfg); err != nil {
		return nil, fmt.Errorf("failed to create required directories: %w", err)
	}

	return &cfg, nil
}

// setDefaults legt Standardwerte für die Konfiguration fest
func setDefaults(v *viper.Viper) {
	// Server-Standardwerte
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 3000)
	v.SetDefault("server.data_dir", "/data")

	// Log-Standardwerte
	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "/data/logs/facetrack.log")

	// DB-Standardwerte
	v.SetDefault("db.file", "/data/facetrack.db")

	// Erkennungsdienst-Standardwerte
	v.SetDefault("recognizer.url", "http://localhost:18081")
	v.SetDefault("recognizer.timeout", 10)
	v.SetDefault("recognizer.det_threshold", 0.6)

	// Galerie-Standardwerte
	v.SetDefault("gallery.path", "/data/gallery.json")
	v.SetDefault("gallery.max_distance", 0.6)
	v.SetDefault("gallery.watch", true)

	// Pipeline-Standardwerte
	v.SetDefault("pipeline.recognition_interval", 5)
	v.SetDefault("pipeline.recognition_timeout", 10)
	v.SetDefault("pipeline.downscale_factor", 0.5)
	v.SetDefault("pipeline.match_threshold", 0.3)
	v.SetDefault("pipeline.tracker", "csrt")
	v.SetDefault("pipeline.tracker_timeout", 3)
	v.SetDefault("pipeline.debounce_interval", 5)
	v.SetDefault("pipeline.log_unknown", false)
	v.SetDefault("pipeline.queue_size", 256)
	v.SetDefault("pipeline.drain_grace", 5)
	v.SetDefault("pipeline.reconnect_backoff", 2)
	v.SetDefault("pipeline.max_backoff", 30)
	v.SetDefault("pipeline.open_retries", 3)
	v.SetDefault("pipeline.open_retry_delay", 2)

	// Beweisbild-Standardwerte
	v.SetDefault("evidence.dir", "/data/evidence")
	v.SetDefault("evidence.jpeg_quality", 90)

	// MQTT-Standardwerte
	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.port", 1883)
	v.SetDefault("mqtt.client_id", "facetrack-go")
	v.SetDefault("mqtt.topic_prefix", "facetrack")

	// Cleanup-Standardwerte
	v.SetDefault("cleanup.retention_days", 30)
	v.SetDefault("cleanup.interval_hours", 24)
}

// validate prüft die Werte, die sich nicht sinnvoll reparieren lassen.
// Fehler einzelner Kameras bleiben bewusst außen vor: Sie werden beim
// Start der jeweiligen Kamera behandelt, damit die übrigen weiterlaufen.
func validate(cfg *Config) error {
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return fmt.Errorf("ungültiger server-port: %d", cfg.Server.Port)
	}
	if cfg.DB.File == "" {
		return fmt.Errorf("db.file darf nicht leer sein")
	}
	if cfg.Gallery.Path == "" {
		return fmt.Errorf("gallery.path darf nicht leer sein")
	}
	if cfg.Evidence.Dir == "" {
		return fmt.Errorf("evidence.dir darf nicht leer sein")
	}
	if cfg.Pipeline.DownscaleFactor <= 0 || cfg.Pipeline.DownscaleFactor > 1 {
		return fmt.Errorf("pipeline.downscale_factor muss in (0, 1] liegen: %f", cfg.Pipeline.DownscaleFactor)
	}
	if cfg.Pipeline.MatchThreshold < 0 || cfg.Pipeline.MatchThreshold >= 1 {
		return fmt.Errorf("pipeline.match_threshold muss in [0, 1) liegen: %f", cfg.Pipeline.MatchThreshold)
	}
	return nil
}

// ensureDirectories stellt sicher, dass alle erforderlichen Verzeichnisse existieren
func ensureDirectories(cfg *Config) error {
	// Daten-Basisverzeichnis
	if cfg.Server.DataDir != "" {
		if err := os.MkdirAll(cfg.Server.DataDir, 0755); err != nil {
			return fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	// Beweisbild-Verzeichnis
	if err := os.MkdirAll(cfg.Evidence.Dir, 0755); err != nil {
		return fmt.Errorf("failed to create evidence directory: %w", err)
	}

	// Log-Verzeichnis
	logDir := filepath.Dir(cfg.Log.File)
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	// Datenbank-Verzeichnis (für SQLite)
	if cfg.DB.File != "" {
		dbDir := filepath.Dir(cfg.DB.File)
		if err := os.MkdirAll(dbDir, 0755); err != nil {
			return fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	return nil
}
