package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	json "github.com/goccy/go-json"
	"gopkg.in/yaml.v3"
)

const (
	MissingAddressDiscard = "discard"
	MissingAddressUnknown = "unknown"
)

type Config struct {
	LogLevel  string          `json:"log_level" yaml:"log_level"`
	Ingest    IngestConfig    `json:"ingest" yaml:"ingest"`
	Detection DetectionConfig `json:"detection" yaml:"detection"`
	API       APIConfig       `json:"api" yaml:"api"`
	Storage   StorageConfig   `json:"storage" yaml:"storage"`
	Report    ReportConfig    `json:"report" yaml:"report"`
	Incidents IncidentsConfig `json:"incidents" yaml:"incidents"`
}

type IngestConfig struct {
	ChannelBuffer int            `json:"channel_buffer" yaml:"channel_buffer"`
	REST          RESTConfig     `json:"rest" yaml:"rest"`
	Syslog        SyslogConfig   `json:"syslog" yaml:"syslog"`
	FileTail      FileTailConfig `json:"file_tail" yaml:"file_tail"`
	Kafka         KafkaConfig    `json:"kafka" yaml:"kafka"`
	Parser        ParserConfig   `json:"parser" yaml:"parser"`
}

type RESTConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

type SyslogConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	UDPAddr string `json:"udp_addr" yaml:"udp_addr"`
	TCPAddr string `json:"tcp_addr" yaml:"tcp_addr"`
}

type FileTailConfig struct {
	Enabled    bool     `json:"enabled" yaml:"enabled"`
	StartAtEnd bool     `json:"start_at_end" yaml:"start_at_end"`
	Poll       bool     `json:"poll" yaml:"poll"`
	Files      []string `json:"files" yaml:"files"`
}

type KafkaConfig struct {
	Enabled bool     `json:"enabled" yaml:"enabled"`
	Brokers []string `json:"brokers" yaml:"brokers"`
	Topic   string   `json:"topic" yaml:"topic"`
	GroupID string   `json:"group_id" yaml:"group_id"`
}

// ParserConfig controls how the leading syslog timestamp is resolved. Syslog
// stamps carry no year; Year 0 means the current year.
type ParserConfig struct {
	Timezone string `json:"timezone" yaml:"timezone"`
	Year     int    `json:"year" yaml:"year"`
}

// DetectionConfig holds the window rule. Retention bounds how far behind the
// newest failure watch mode keeps failure timestamps; values below Window are
// raised to Window.
type DetectionConfig struct {
	Window           time.Duration `json:"window" yaml:"window"`
	MinAttempts      int           `json:"min_attempts" yaml:"min_attempts"`
	MissingAddress   string        `json:"missing_address" yaml:"missing_address"`
	IgnoreAddresses  []string      `json:"ignore_addresses" yaml:"ignore_addresses"`
	EvaluateInterval time.Duration `json:"evaluate_interval" yaml:"evaluate_interval"`
	Workers          int           `json:"workers" yaml:"workers"`
	Retention        time.Duration `json:"retention" yaml:"retention"`
}

type APIConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

type StorageConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Driver  string `json:"driver" yaml:"driver"`
	DSN     string `json:"dsn" yaml:"dsn"`
}

type ReportConfig struct {
	Dir      string   `json:"dir" yaml:"dir"`
	Console  bool     `json:"console" yaml:"console"`
	Chart    bool     `json:"chart" yaml:"chart"`
	Document bool     `json:"document" yaml:"document"`
	Export   bool     `json:"export" yaml:"export"`
	TopN     int      `json:"top_n" yaml:"top_n"`
	S3       S3Config `json:"s3" yaml:"s3"`
}

type S3Config struct {
	Enabled bool          `json:"enabled" yaml:"enabled"`
	Region  string        `json:"region" yaml:"region"`
	Bucket  string        `json:"bucket" yaml:"bucket"`
	Prefix  string        `json:"prefix" yaml:"prefix"`
	Timeout time.Duration `json:"timeout" yaml:"timeout"`
	Retries int           `json:"retries" yaml:"retries"`
}

type IncidentsConfig struct {
	StoreLimit int `json:"store_limit" yaml:"store_limit"`
}

func DefaultConfig() *Config {
	return &Config{
		LogLevel: "info",
		Ingest: IngestConfig{
			ChannelBuffer: 10000,
			REST:          RESTConfig{Enabled: false, Addr: ":8080"},
			Syslog:        SyslogConfig{Enabled: false, UDPAddr: ":5514", TCPAddr: ":5514"},
			FileTail:      FileTailConfig{Enabled: false, StartAtEnd: false, Poll: true},
			Kafka:         KafkaConfig{Enabled: false},
			Parser:        ParserConfig{Timezone: "UTC"},
		},
		Detection: DetectionConfig{
			Window:           10 * time.Minute,
			MinAttempts:      5,
			MissingAddress:   MissingAddressDiscard,
			EvaluateInterval: 5 * time.Second,
			Workers:          4,
			Retention:        time.Hour,
		},
		API:     APIConfig{Enabled: true, Addr: ":8081"},
		Storage: StorageConfig{Enabled: false, Driver: "sqlite", DSN: "file:authwatch.db?_pragma=busy_timeout(5000)"},
		Report: ReportConfig{
			Dir:      ".",
			Console:  true,
			Chart:    true,
			Document: true,
			Export:   false,
			TopN:     10,
			S3:       S3Config{Enabled: false, Timeout: 5 * time.Second, Retries: 3},
		},
		Incidents: IncidentsConfig{StoreLimit: 1000},
	}
}

func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	content, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()

	trimmed := strings.TrimSpace(string(content))
	if len(trimmed) == 0 {
		return nil, errors.New("config file is empty")
	}
	var decodeErr error
	if looksLikeJSON(trimmed) {
		decodeErr = decodeJSON([]byte(trimmed), cfg)
	} else {
		decodeErr = yaml.Unmarshal([]byte(trimmed), cfg)
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("decode %s: %w", path, decodeErr)
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// decodeJSON routes a JSON document through the YAML decoder so both formats
// accept the same values, durations written as "10m" included.
func decodeJSON(data []byte, cfg *Config) error {
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	out, err := yaml.Marshal(doc)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(out, cfg)
}

func looksLikeJSON(s string) bool {
	for _, ch := range s {
		if ch == '{' || ch == '[' {
			return true
		}
		if ch > ' ' {
			return false
		}
	}
	return false
}

func applyDefaults(cfg *Config) {
	if cfg.Detection.Window <= 0 {
		cfg.Detection.Window = 10 * time.Minute
	}
	if cfg.Detection.MinAttempts <= 0 {
		cfg.Detection.MinAttempts = 5
	}
	if cfg.Detection.MissingAddress == "" {
		cfg.Detection.MissingAddress = MissingAddressDiscard
	}
	cfg.Detection.MissingAddress = strings.ToLower(strings.TrimSpace(cfg.Detection.MissingAddress))
	if cfg.Detection.EvaluateInterval <= 0 {
		cfg.Detection.EvaluateInterval = 5 * time.Second
	}
	if cfg.Detection.Workers <= 0 {
		cfg.Detection.Workers = 4
	}
	if cfg.Detection.Retention <= 0 {
		cfg.Detection.Retention = time.Hour
	}
	if cfg.Incidents.StoreLimit <= 0 {
		cfg.Incidents.StoreLimit = 1000
	}
	if cfg.Ingest.ChannelBuffer <= 0 {
		cfg.Ingest.ChannelBuffer = 10000
	}
	if cfg.Ingest.Parser.Timezone == "" {
		cfg.Ingest.Parser.Timezone = "UTC"
	}
	if cfg.Report.Dir == "" {
		cfg.Report.Dir = "."
	}
	if cfg.Report.TopN <= 0 {
		cfg.Report.TopN = 10
	}
	if cfg.Report.S3.Timeout <= 0 {
		cfg.Report.S3.Timeout = 5 * time.Second
	}
	if cfg.Report.S3.Retries <= 0 {
		cfg.Report.S3.Retries = 3
	}
}

func Validate(cfg *Config) error {
	if cfg.API.Enabled && cfg.API.Addr == "" {
		return errors.New("api.addr required when api.enabled is true")
	}
	if cfg.Ingest.REST.Enabled && cfg.Ingest.REST.Addr == "" {
		return errors.New("ingest.rest.addr required when ingest.rest.enabled is true")
	}
	if cfg.Ingest.Syslog.Enabled && cfg.Ingest.Syslog.UDPAddr == "" && cfg.Ingest.Syslog.TCPAddr == "" {
		return errors.New("ingest.syslog.udp_addr or tcp_addr required when ingest.syslog.enabled is true")
	}
	if cfg.Ingest.FileTail.Enabled && len(cfg.Ingest.FileTail.Files) == 0 {
		return errors.New("ingest.file_tail.files required when ingest.file_tail.enabled is true")
	}
	if cfg.Ingest.Kafka.Enabled {
		if len(cfg.Ingest.Kafka.Brokers) == 0 || cfg.Ingest.Kafka.Topic == "" || cfg.Ingest.Kafka.GroupID == "" {
			return errors.New("ingest.kafka requires brokers, topic, group_id")
		}
	}
	if cfg.Ingest.Parser.Year < 0 {
		return fmt.Errorf("ingest.parser.year must be >= 0, got %d", cfg.Ingest.Parser.Year)
	}
	if _, err := time.LoadLocation(cfg.Ingest.Parser.Timezone); err != nil {
		return fmt.Errorf("ingest.parser.timezone: %w", err)
	}
	if cfg.Detection.Window <= 0 {
		return fmt.Errorf("detection.window must be positive: %s", cfg.Detection.Window)
	}
	if cfg.Detection.MinAttempts < 2 {
		return fmt.Errorf("detection.min_attempts must be >= 2, got %d", cfg.Detection.MinAttempts)
	}
	switch cfg.Detection.MissingAddress {
	case MissingAddressDiscard, MissingAddressUnknown:
	default:
		return fmt.Errorf("detection.missing_address must be %q or %q, got %q",
			MissingAddressDiscard, MissingAddressUnknown, cfg.Detection.MissingAddress)
	}
	if cfg.Storage.Enabled && cfg.Storage.Driver == "" {
		return errors.New("storage.driver required when storage.enabled is true")
	}
	if cfg.Report.S3.Enabled && cfg.Report.S3.Bucket == "" {
		return errors.New("report.s3.bucket required when report.s3.enabled is true")
	}
	return nil
}

type Manager struct {
	path    string
	cfg     atomic.Value
	modTime time.Time
}

func NewManager(path string) (*Manager, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	m := &Manager{path: path}
	m.cfg.Store(cfg)
	info, err := os.Stat(path)
	if err == nil {
		m.modTime = info.ModTime()
	}
	return m, nil
}

// NewStaticManager wraps an in-memory config. Reload and Watch are no-ops
// without a backing file.
func NewStaticManager(cfg *Config) *Manager {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	m := &Manager{}
	m.cfg.Store(cfg)
	return m
}

func (m *Manager) Get() *Config {
	if v := m.cfg.Load(); v != nil {
		return v.(*Config)
	}
	return DefaultConfig()
}

func (m *Manager) Path() string {
	return m.path
}

func (m *Manager) Reload() (*Config, error) {
	if m.path == "" {
		return m.Get(), nil
	}
	cfg, err := Load(m.path)
	if err != nil {
		return nil, err
	}
	m.cfg.Store(cfg)
	if info, err := os.Stat(m.path); err == nil {
		m.modTime = info.ModTime()
	}
	return cfg, nil
}

func (m *Manager) NeedsReload() (bool, error) {
	if m.path == "" {
		return false, nil
	}
	info, err := os.Stat(m.path)
	if err != nil {
		return false, err
	}
	return info.ModTime().After(m.modTime), nil
}

func (m *Manager) Watch(interval time.Duration, onReload func(*Config), onError func(error), stop <-chan struct{}) {
	if interval <= 0 {
		interval = 3 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			needs, err := m.NeedsReload()
			if err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			if !needs {
				continue
			}
			cfg, err := m.Reload()
			if err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			if onReload != nil {
				onReload(cfg)
			}
		case <-stop:
			return
		}
	}
}

func ResolvePath(path string) string {
	if path == "" {
		return path
	}
	if filepath.IsAbs(path) {
		return path
	}
	cwd, err := os.Getwd()
	if err != nil {
		return path
	}
	return filepath.Join(cwd, path)
}
