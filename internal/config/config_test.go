package config_test

import (
	"errors"
	"math"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/memeplatform/memeops/internal/config"
	opserrors "github.com/memeplatform/memeops/internal/errors"
)

// clearEnv blanks every variable Load reads so the host environment cannot
// leak into a test. Viper treats empty values as unset.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, name := range []string{
		"MONGODB_URI", "MONGO_URI", "MONGODB_DATABASE",
		"POSTGRES_HOST", "PGHOST", "POSTGRES_PORT", "PGPORT",
		"POSTGRES_USER", "PGUSER", "POSTGRES_PASSWORD", "PGPASSWORD",
		"POSTGRES_DB", "PGDATABASE", "POSTGRES_SSLMODE", "PGSSLMODE",
		"WEB_ADDR", "WEB_ROOT",
		"MEMEOPS_SOURCE_URI", "MEMEOPS_DESTINATION_PASSWORD", "MEMEOPS_LOGGING_LEVEL",
	} {
		t.Setenv(name, "")
	}
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
	return path
}

func TestLoad_FromEnvironment(t *testing.T) {
	clearEnv(t)
	t.Setenv("MONGODB_URI", "mongodb://localhost:27017/memes")
	t.Setenv("POSTGRES_PASSWORD", "s3cret")
	t.Setenv("POSTGRES_HOST", "db.internal")
	t.Setenv("POSTGRES_PORT", "6543")

	cfg, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatal("expected error for explicitly named missing config file")
	}

	cfg, err = config.Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Source.URI != "mongodb://localhost:27017/memes" {
		t.Errorf("unexpected source uri %q", cfg.Source.URI)
	}
	if cfg.Destination.Host != "db.internal" || cfg.Destination.Port != 6543 {
		t.Errorf("unexpected destination %s:%d", cfg.Destination.Host, cfg.Destination.Port)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}

	warnings := cfg.Warnings()
	if len(warnings) != 2 {
		t.Fatalf("expected 2 placeholder warnings, got %v", warnings)
	}
	if !strings.Contains(warnings[0], "destination.user") || !strings.Contains(warnings[1], "destination.name") {
		t.Errorf("unexpected warnings: %v", warnings)
	}
}

// TestValidate_RejectsMissingSecrets verifies there is no usable default for
// secrets.
//
// Red-Flag: a run must never start against placeholder credentials.
func TestValidate_RejectsMissingSecrets(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		key  string
	}{
		{"no source uri", map[string]string{"POSTGRES_PASSWORD": "x"}, "source.uri"},
		{"no password", map[string]string{"MONGODB_URI": "mongodb://h/db"}, "destination.password"},
		{"bad scheme", map[string]string{"MONGODB_URI": "http://h/db", "POSTGRES_PASSWORD": "x"}, "source.uri"},
		{"bad port", map[string]string{"MONGODB_URI": "mongodb://h/db", "POSTGRES_PASSWORD": "x", "POSTGRES_PORT": "70000"}, "destination.port"},
		{"bad sslmode", map[string]string{"MONGODB_URI": "mongodb://h/db", "POSTGRES_PASSWORD": "x", "PGSSLMODE": "sometimes"}, "destination.sslmode"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			cfg, err := config.Load("")
			if err != nil {
				t.Fatalf("unexpected load error: %v", err)
			}
			err = cfg.Validate()
			var invalid *opserrors.ErrConfigInvalid
			if !errors.As(err, &invalid) {
				t.Fatalf("expected ErrConfigInvalid, got %v", err)
			}
			if invalid.Key != tt.key {
				t.Errorf("expected key %q, got %q", tt.key, invalid.Key)
			}
		})
	}
}

func TestValidate_RejectsNonFiniteRate(t *testing.T) {
	clearEnv(t)
	t.Setenv("MONGODB_URI", "mongodb://h/db")
	t.Setenv("POSTGRES_PASSWORD", "x")
	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("unexpected load error: %v", err)
	}

	for _, rate := range []float64{math.NaN(), math.Inf(1), math.Inf(-1), -1} {
		cfg.Migration.InsertsPerSecond = rate
		err := cfg.Validate()
		var invalid *opserrors.ErrConfigInvalid
		if !errors.As(err, &invalid) || invalid.Key != "migration.insertsPerSecond" {
			t.Errorf("rate %v: expected migration.insertsPerSecond error, got %v", rate, err)
		}
	}

	cfg.Migration.InsertsPerSecond = 50
	if err := cfg.Validate(); err != nil {
		t.Errorf("expected finite rate to validate, got %v", err)
	}
}

func TestLoad_FileThenEnvironment(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := writeFile(t, dir, "memeops.yaml", `
source:
  uri: mongodb://file-host/memes
destination:
  host: file-db
  port: 5433
  user: migrator
  password: from-file
  name: memes
migration:
  insertsPerSecond: 250
  timeout: 30m
logging:
  level: debug
  format: json
`)
	t.Setenv("POSTGRES_PASSWORD", "from-env")

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Destination.Password != "from-env" {
		t.Errorf("expected environment to override file, got %q", cfg.Destination.Password)
	}
	if cfg.Destination.Host != "file-db" || cfg.Destination.User != "migrator" {
		t.Errorf("unexpected destination %+v", cfg.Destination)
	}
	if cfg.Migration.InsertsPerSecond != 250 {
		t.Errorf("expected 250 inserts/s, got %v", cfg.Migration.InsertsPerSecond)
	}
	if cfg.Migration.RunTimeout() != 30*time.Minute {
		t.Errorf("expected 30m timeout, got %v", cfg.Migration.RunTimeout())
	}
	if len(cfg.Warnings()) != 0 {
		t.Errorf("expected no warnings, got %v", cfg.Warnings())
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("expected valid config, got %v", err)
	}
}

func TestLoad_DotEnvFile(t *testing.T) {
	clearEnv(t)
	// godotenv never overrides existing variables, so unset the blanks first.
	os.Unsetenv("MONGODB_URI")
	os.Unsetenv("POSTGRES_PASSWORD")
	t.Cleanup(func() {
		os.Unsetenv("MONGODB_URI")
		os.Unsetenv("POSTGRES_PASSWORD")
	})

	dir := t.TempDir()
	envFile := writeFile(t, dir, "migrate.env", "MONGODB_URI=mongodb://dotenv/memes\nPOSTGRES_PASSWORD=dotenv-secret\n")

	cfg, err := config.Load("", envFile)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Source.URI != "mongodb://dotenv/memes" || cfg.Destination.Password != "dotenv-secret" {
		t.Errorf("dotenv values not applied: %+v / %+v", cfg.Source, cfg.Destination)
	}

	if _, err := config.Load("", filepath.Join(dir, "absent.env")); err == nil {
		t.Error("expected error for explicitly named missing env file")
	}
	if _, err := config.Load("", filepath.Join(dir, ".env")); err != nil {
		t.Errorf("missing .env must be ignored, got %v", err)
	}
}

func TestDatabaseConfig_DSN(t *testing.T) {
	db := config.DatabaseConfig{
		Host:     "db.internal",
		Port:     5432,
		User:     "migrator",
		Password: "p@ss:w/rd",
		Name:     "memes",
		SSLMode:  "require",
	}

	u, err := url.Parse(db.DSN())
	if err != nil {
		t.Fatalf("DSN is not a valid URL: %v", err)
	}
	pass, _ := u.User.Password()
	got := []string{u.Scheme, u.Host, u.Path, u.User.Username(), pass, u.Query().Get("sslmode")}
	want := []string{"postgres", "db.internal:5432", "/memes", "migrator", "p@ss:w/rd", "require"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("DSN mismatch (-want +got):\n%s", diff)
	}

	if strings.Contains(db.Redacted(), "p@ss") {
		t.Errorf("redacted DSN leaks password: %s", db.Redacted())
	}
}

func TestWriteTemplate(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()

	path, err := config.WriteTemplate(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("template does not load: %v", err)
	}
	if cfg.Destination.Password != "" {
		t.Error("template must not carry a password")
	}
	if cfg.Destination.Port != config.PlaceholderPort {
		t.Errorf("expected port %d, got %d", config.PlaceholderPort, cfg.Destination.Port)
	}
	if err := cfg.ValidateServer(); err != nil {
		t.Errorf("template server section invalid: %v", err)
	}

	// Red-Flag: a generated file must not silence placeholder warnings.
	if got := len(cfg.Warnings()); got != 4 {
		t.Errorf("expected 4 placeholder warnings, got %d: %v", got, cfg.Warnings())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Contains(string(data), "host: "+config.PlaceholderHost) {
		t.Error("template must not pin the placeholder host")
	}

	if _, err := config.WriteTemplate(dir); err == nil {
		t.Error("expected error when the file already exists")
	}
}

func TestValidateDestination_IgnoresSource(t *testing.T) {
	clearEnv(t)
	t.Setenv("POSTGRES_PASSWORD", "x")

	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("unexpected load error: %v", err)
	}
	if err := cfg.ValidateDestination(); err != nil {
		t.Errorf("destination commands must not require a source: %v", err)
	}
	if err := cfg.Validate(); err == nil {
		t.Error("a migration run still requires the source uri")
	}
}
