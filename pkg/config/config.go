// Package config provides layered configuration for starpack.
// Priority: defaults < system < user < project (or --config) < .env/env < flags
package config

import (
	"bytes"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/schlafly/bayestar/internal/pool"
	"github.com/schlafly/bayestar/pkg/catalog"
	"github.com/schlafly/bayestar/pkg/container"
	sperrors "github.com/schlafly/bayestar/pkg/errors"
	"github.com/schlafly/bayestar/pkg/healpix"
	"github.com/schlafly/bayestar/pkg/partition"
	"github.com/schlafly/bayestar/pkg/storage/s3"
)

// Environment variables read by Load.
const (
	EnvCatalog      = "STARPACK_CATALOG"
	EnvTable        = "STARPACK_TABLE"
	EnvCompression  = "STARPACK_COMPRESSION"
	EnvOTLPEndpoint = "STARPACK_OTLP_ENDPOINT"
	EnvUpload       = "STARPACK_UPLOAD"
)

// Config holds all starpack settings.
type Config struct {
	Version int `yaml:"version"`

	Catalog   CatalogConfig   `yaml:"catalog"`
	Pixels    PixelConfig     `yaml:"pixels"`
	Output    OutputConfig    `yaml:"output"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// CatalogConfig selects the catalog and the photometric cuts.
type CatalogConfig struct {
	DSN           string  `yaml:"dsn"`   // file path, glob or postgres:// URL
	Table         string  `yaml:"table"` // table in a database catalog
	MinBands      int     `yaml:"min_bands"`
	MinDetections int     `yaml:"min_detections"`
	PadPixels     float64 `yaml:"pad_pixels"`
	BlockSize     int     `yaml:"block_size"`
}

// PixelConfig controls the sky partition.
type PixelConfig struct {
	NSide    int64     `yaml:"nside"`
	Ring     bool      `yaml:"ring"`
	Bounds   []float64 `yaml:"bounds"` // l_min, l_max, b_min, b_max
	MinStars int       `yaml:"min_stars"`
}

// OutputConfig controls the containers.
type OutputConfig struct {
	MaxStars         int64  `yaml:"max_stars"`
	Compression      string `yaml:"compression"` // zstd | gzip | snappy | lz4 | brotli | none
	CompressionLevel int    `yaml:"compression_level"`
	ChunkRows        int    `yaml:"chunk_rows"`
	Upload           string `yaml:"upload"` // s3://bucket/prefix
	Map              string `yaml:"map"`    // sky-map PNG path
}

// TelemetryConfig configures trace export.
type TelemetryConfig struct {
	OTLPEndpoint string `yaml:"otlp_endpoint"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Version: 1,
		Catalog: CatalogConfig{
			Table:         catalog.DefaultTable,
			MinBands:      4,
			MinDetections: 4,
			PadPixels:     catalog.DefaultPadPixels,
			BlockSize:     pool.DefaultBlockSize,
		},
		Pixels: PixelConfig{
			NSide:    512,
			MinStars: 1,
		},
		Output: OutputConfig{
			MaxStars:    50000,
			Compression: container.CompressionZstd.String(),
			ChunkRows:   container.DefaultOptions().ChunkRows,
		},
	}
}

// Scheme returns the pixel ordering selected by Pixels.Ring.
func (c *Config) Scheme() healpix.Scheme {
	if c.Pixels.Ring {
		return healpix.Ring
	}
	return healpix.Nested
}

// Validate checks every setting an export depends on. All errors are
// configuration errors.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Catalog.DSN) == "" {
		return sperrors.New(sperrors.CodeMissingCatalog, "no catalog configured (use --catalog or "+EnvCatalog+")")
	}
	if c.Catalog.MinBands < 1 || c.Catalog.MinBands > 5 {
		return sperrors.InvalidFlag("n-bands", c.Catalog.MinBands, "must be between 1 and 5")
	}
	if c.Catalog.MinDetections < 0 {
		return sperrors.InvalidFlag("n-det", c.Catalog.MinDetections, "must not be negative")
	}
	if c.Catalog.PadPixels < 0 {
		return sperrors.InvalidFlag("pad-pixels", c.Catalog.PadPixels, "must not be negative")
	}
	if c.Catalog.BlockSize <= 0 {
		return sperrors.InvalidFlag("block_size", c.Catalog.BlockSize, "must be positive")
	}

	if err := healpix.ValidateNSide(c.Pixels.NSide, c.Scheme()); err != nil {
		return sperrors.Wrap(err, sperrors.CodeInvalidNSide, "invalid nside").WithContext("nside", c.Pixels.NSide)
	}
	if _, err := partition.ParseBounds(c.Pixels.Bounds); err != nil {
		return err
	}
	if c.Pixels.MinStars < 0 {
		return sperrors.InvalidFlag("min-stars", c.Pixels.MinStars, "must not be negative")
	}

	if c.Output.MaxStars <= 0 {
		return sperrors.InvalidFlag("max-stars", c.Output.MaxStars, "must be positive")
	}
	comp, err := container.ParseCompression(c.Output.Compression)
	if err != nil {
		return err
	}
	if c.Output.CompressionLevel < 0 || c.Output.CompressionLevel > comp.MaxLevel() {
		return sperrors.InvalidFlag("compression-level", c.Output.CompressionLevel, "out of range for "+comp.String())
	}
	if c.Output.ChunkRows <= 0 {
		return sperrors.InvalidFlag("chunk-rows", c.Output.ChunkRows, "must be positive")
	}
	if c.Output.Upload != "" {
		if _, _, err := s3.ParseURL(c.Output.Upload); err != nil {
			return err
		}
	}
	return nil
}

// Manager loads and layers configuration sources.
type Manager struct {
	mu      sync.RWMutex
	config  *Config
	paths   []string // files that were loaded
	file    string   // explicit --config file
	envFile string
}

// NewManager creates a manager holding the defaults.
func NewManager() *Manager {
	return &Manager{
		config:  Default(),
		envFile: ".env",
	}
}

// SetConfigFile replaces the search path with a single file that must exist.
func (m *Manager) SetConfigFile(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.file = path
}

// SetEnvFile changes the dotenv file read by Load ("" disables it).
func (m *Manager) SetEnvFile(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.envFile = path
}

// Load rebuilds the configuration from defaults, files and environment.
func (m *Manager) Load() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.config = Default()
	m.paths = nil

	if m.file != "" {
		if err := m.loadFile(m.file); err != nil {
			return sperrors.Wrap(err, sperrors.CodeConfigFile, "failed to load config file").WithContext("path", m.file)
		}
		m.paths = append(m.paths, m.file)
	} else {
		for _, path := range configPaths() {
			err := m.loadFile(path)
			switch {
			case err == nil:
				m.paths = append(m.paths, path)
			case errors.Is(err, fs.ErrNotExist):
			default:
				return sperrors.Wrap(err, sperrors.CodeConfigFile, "failed to load config file").WithContext("path", path)
			}
		}
	}

	if m.envFile != "" {
		// A missing .env is normal; variables already set win over it.
		_ = godotenv.Load(m.envFile)
	}
	m.loadEnv()
	return nil
}

// configPaths returns config file paths in priority order.
func configPaths() []string {
	var paths []string

	if runtime.GOOS != "windows" {
		paths = append(paths, "/etc/starpack/config.yaml")
	}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".starpack", "config.yaml"))
	}
	if cwd, err := os.Getwd(); err == nil {
		paths = append(paths, filepath.Join(cwd, ".starpack.yaml"))
	}
	return paths
}

// loadFile decodes path over the current configuration, so keys absent
// from the file keep their earlier values. Unknown keys are rejected.
func (m *Manager) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(m.config); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func (m *Manager) loadEnv() {
	if v := os.Getenv(EnvCatalog); v != "" {
		m.config.Catalog.DSN = v
	}
	if v := os.Getenv(EnvTable); v != "" {
		m.config.Catalog.Table = v
	}
	if v := os.Getenv(EnvCompression); v != "" {
		m.config.Output.Compression = v
	}
	if v := os.Getenv(EnvOTLPEndpoint); v != "" {
		m.config.Telemetry.OTLPEndpoint = v
	}
	if v := os.Getenv(EnvUpload); v != "" {
		m.config.Output.Upload = v
	}
}

// Get returns the current configuration. Callers may apply flag overrides
// to it before validating.
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

// GetPaths returns the files that were loaded.
func (m *Manager) GetPaths() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.paths
}

// Marshal renders the current configuration as YAML.
func (m *Manager) Marshal() ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return yaml.Marshal(m.config)
}
