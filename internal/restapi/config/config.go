// Package config loads and validates the server's YAML configuration file:
// listen address, TLS parameters, database path, recv timeout, and the
// optional SQLite audit sink path, with an environment-variable overlay
// applied after schema validation.
package config

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"github.com/bdobrica/restapi/common/environment"
)

// TLSConfig mirrors the server-side TLS parameters read from YAML.
type TLSConfig struct {
	Enabled       bool   `yaml:"enabled"`
	CertFile      string `yaml:"cert_file"`
	KeyFile       string `yaml:"key_file"`
	KeyPassphrase string `yaml:"key_passphrase"`
	MinVersion    string `yaml:"min_version"` // "1.0".."1.3"
}

// ServerConfig is the full, validated server configuration.
type ServerConfig struct {
	Listen        string    `yaml:"listen"`
	TLS           TLSConfig `yaml:"tls"`
	DatabasePath  string    `yaml:"database_path"`
	RecvTimeoutMS int       `yaml:"recv_timeout_ms"`
	AuditDBPath   string    `yaml:"audit_db_path"`
}

//go:embed schema.json
var schemaJSON []byte

// Load reads path as YAML, validates it against the embedded JSON Schema,
// applies environment-variable overrides (RESTAPI_LISTEN, RESTAPI_DB_PATH,
// RESTAPI_AUDIT_DB_PATH, RESTAPI_RECV_TIMEOUT_MS), and returns the result. A schema or parse failure
// is fatal to startup ("failure to ... initialize the database
// path aborts start()").
func Load(path string) (*ServerConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg ServerConfig
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	if err := validate(raw); err != nil {
		return nil, fmt.Errorf("config: validate %s: %w", path, err)
	}

	applyEnvOverrides(&cfg)

	if cfg.RecvTimeoutMS <= 0 {
		cfg.RecvTimeoutMS = 300_000 // 300-second default
	}

	return &cfg, nil
}

func validate(raw []byte) error {
	// The YAML document is re-decoded into a generic map so the JSON Schema
	// validator (which speaks JSON, not YAML) can walk it directly.
	var generic map[string]any
	if err := yaml.Unmarshal(raw, &generic); err != nil {
		return err
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("server-config.json", bytes.NewReader(schemaJSON)); err != nil {
		return err
	}
	schema, err := compiler.Compile("server-config.json")
	if err != nil {
		return err
	}

	return schema.Validate(toJSONCompatible(generic))
}

// toJSONCompatible recursively converts the map[any]any shapes yaml.v3 may
// produce into map[string]any / []any, which jsonschema's reflection-based
// validator expects.
func toJSONCompatible(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = toJSONCompatible(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = toJSONCompatible(val)
		}
		return out
	default:
		return v
	}
}

func applyEnvOverrides(cfg *ServerConfig) {
	cfg.Listen = environment.StringOr("RESTAPI_LISTEN", cfg.Listen)
	cfg.DatabasePath = environment.StringOr("RESTAPI_DB_PATH", cfg.DatabasePath)
	cfg.AuditDBPath = environment.StringOr("RESTAPI_AUDIT_DB_PATH", cfg.AuditDBPath)
	cfg.RecvTimeoutMS = environment.IntOr("RESTAPI_RECV_TIMEOUT_MS", cfg.RecvTimeoutMS)
}
