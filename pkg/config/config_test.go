package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	sperrors "github.com/schlafly/bayestar/pkg/errors"
	"github.com/schlafly/bayestar/pkg/healpix"
)

func validConfig() *Config {
	c := Default()
	c.Catalog.DSN = "catalog.parquet"
	return c
}

func TestDefaults(t *testing.T) {
	c := Default()
	if c.Pixels.NSide != 512 || c.Pixels.MinStars != 1 || c.Output.MaxStars != 50000 {
		t.Errorf("pixel/output defaults = %+v %+v", c.Pixels, c.Output)
	}
	if c.Catalog.MinBands != 4 || c.Catalog.MinDetections != 4 {
		t.Errorf("catalog defaults = %+v", c.Catalog)
	}
	if c.Scheme() != healpix.Nested {
		t.Errorf("default scheme = %s", c.Scheme())
	}
	if err := validConfig().Validate(); err != nil {
		t.Errorf("defaults with a catalog should validate: %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		code   sperrors.Code
	}{
		{"missing catalog", func(c *Config) { c.Catalog.DSN = "" }, sperrors.CodeMissingCatalog},
		{"nested nside not power of two", func(c *Config) { c.Pixels.NSide = 500 }, sperrors.CodeInvalidNSide},
		{"zero nside", func(c *Config) { c.Pixels.NSide = 0 }, sperrors.CodeInvalidNSide},
		{"three bounds", func(c *Config) { c.Pixels.Bounds = []float64{0, 10, 5} }, sperrors.CodeInvalidBounds},
		{"inverted bounds", func(c *Config) { c.Pixels.Bounds = []float64{10, 0, -5, 5} }, sperrors.CodeInvalidBounds},
		{"unknown compression", func(c *Config) { c.Output.Compression = "xz" }, sperrors.CodeInvalidCompression},
		{"gzip level", func(c *Config) { c.Output.Compression = "gzip"; c.Output.CompressionLevel = 12 }, sperrors.CodeInvalidConfig},
		{"max stars", func(c *Config) { c.Output.MaxStars = 0 }, sperrors.CodeInvalidConfig},
		{"bands", func(c *Config) { c.Catalog.MinBands = 6 }, sperrors.CodeInvalidConfig},
		{"upload url", func(c *Config) { c.Output.Upload = "/tmp/out" }, sperrors.CodeInvalidConfig},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validConfig()
			tt.modify(c)
			err := c.Validate()
			if !sperrors.IsCode(err, tt.code) {
				t.Fatalf("Validate() = %v, want code %s", err, tt.code)
			}
			if !sperrors.IsConfig(err) {
				t.Errorf("%v is not a configuration error", err)
			}
		})
	}

	ring := validConfig()
	ring.Pixels.Ring = true
	ring.Pixels.NSide = 500
	if err := ring.Validate(); err != nil {
		t.Errorf("ring ordering accepts any nside: %v", err)
	}
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "starpack.yaml")
	yml := `
catalog:
  dsn: /data/ps1/*.parquet
  min_bands: 3
pixels:
  nside: 256
  ring: true
  bounds: [10, 20, -5, 5]
output:
  compression: gzip
`
	if err := os.WriteFile(path, []byte(yml), 0o644); err != nil {
		t.Fatal(err)
	}

	m := NewManager()
	m.SetConfigFile(path)
	m.SetEnvFile("")
	if err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	c := m.Get()

	if c.Catalog.DSN != "/data/ps1/*.parquet" || c.Catalog.MinBands != 3 {
		t.Errorf("catalog = %+v", c.Catalog)
	}
	if c.Catalog.MinDetections != 4 || c.Output.MaxStars != 50000 {
		t.Error("keys absent from the file should keep their defaults")
	}
	if c.Pixels.NSide != 256 || !c.Pixels.Ring || len(c.Pixels.Bounds) != 4 {
		t.Errorf("pixels = %+v", c.Pixels)
	}
	if got := m.GetPaths(); len(got) != 1 || got[0] != path {
		t.Errorf("GetPaths() = %v", got)
	}
	if err := c.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}

	out, err := m.Marshal()
	if err != nil || !strings.Contains(string(out), "nside: 256") {
		t.Errorf("Marshal() = %s, %v", out, err)
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("pixels:\n  nsides: 64\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	m := NewManager()
	m.SetConfigFile(path)
	m.SetEnvFile("")
	if err := m.Load(); !sperrors.IsCode(err, sperrors.CodeConfigFile) {
		t.Errorf("Load() = %v, want %s", err, sperrors.CodeConfigFile)
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	m := NewManager()
	m.SetConfigFile(filepath.Join(t.TempDir(), "absent.yaml"))
	m.SetEnvFile("")
	if err := m.Load(); !sperrors.IsCode(err, sperrors.CodeConfigFile) {
		t.Errorf("Load() = %v, want %s", err, sperrors.CodeConfigFile)
	}
}

func TestEnvironmentOverrides(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	if err := os.WriteFile(envFile, []byte(EnvTable+"=stars\n"+EnvUpload+"=s3://survey/runs\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfgFile := filepath.Join(dir, "c.yaml")
	if err := os.WriteFile(cfgFile, []byte("output:\n  compression: snappy\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Setenv(EnvCatalog, "postgres://localhost/ps1")
	t.Setenv(EnvCompression, "brotli")
	t.Setenv(EnvOTLPEndpoint, "collector:4317")
	// godotenv sets variables that are unset; register them for cleanup.
	t.Setenv(EnvTable, "")
	t.Setenv(EnvUpload, "")
	os.Unsetenv(EnvTable)
	os.Unsetenv(EnvUpload)

	m := NewManager()
	m.SetConfigFile(cfgFile)
	m.SetEnvFile(envFile)
	if err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	c := m.Get()

	if c.Catalog.DSN != "postgres://localhost/ps1" {
		t.Errorf("DSN = %q", c.Catalog.DSN)
	}
	if c.Output.Compression != "brotli" {
		t.Errorf("environment should override the file: compression = %q", c.Output.Compression)
	}
	if c.Telemetry.OTLPEndpoint != "collector:4317" {
		t.Errorf("endpoint = %q", c.Telemetry.OTLPEndpoint)
	}
	if c.Catalog.Table != "stars" || c.Output.Upload != "s3://survey/runs" {
		t.Errorf(".env values not applied: table=%q upload=%q", c.Catalog.Table, c.Output.Upload)
	}
}
