package appconfig

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/promptwtf/genprompt/platform"
)

// Config holds application configuration including database path, the
// external analysis service location, and the managed Python backend setup.
type Config struct {
	// Address the local HTTP server listens on.
	ListenAddr string `json:"listenAddr"`

	// Path to the sqlite database holding synced users.
	DBPath string `json:"dbPath"`

	// Base URL of the external analysis service (Python embedding/search backend).
	AnalysisBaseURL string `json:"analysisBaseUrl"`

	// Managed Python backend settings (desktop shell mode)
	Backend struct {
		PythonPath string `json:"pythonPath"` // interpreter; empty means "python" from PATH
		ScriptPath string `json:"scriptPath"` // server entry point; empty means bundled default
		Port       int    `json:"port"`
		BundleURL  string `json:"bundleUrl"` // archive with the packaged backend, fetched on first run
	} `json:"backend"`

	// Identity provider settings
	ProviderBaseURL string `json:"providerBaseUrl"`

	// Secret used to verify provider session tokens
	JWTSecret string `json:"jwtSecret"`

	// Optional S3-compatible storage for archiving accepted uploads.
	// Archival is disabled while Bucket is empty.
	Archive struct {
		Endpoint  string `json:"endpoint"`
		Region    string `json:"region"`
		Bucket    string `json:"bucket"`
		AccessKey string `json:"accessKey"`
		SecretKey string `json:"secretKey"`
	} `json:"archive"`
}

var (
	cfgMu sync.RWMutex
	cfg   Config
)

// DefaultDBPath returns the default database path.
// Uses the platform-specific data directory.
func DefaultDBPath() string {
	return filepath.Join(platform.GetDataDir(), "genprompt.db")
}

// DefaultConfigDir returns the default config directory path.
// Uses the platform-specific data directory.
func DefaultConfigDir() string {
	return platform.GetDataDir()
}

// defaultConfig returns a Config populated with sensible defaults.
func defaultConfig() Config {
	c := Config{
		ListenAddr:      ":8090",
		DBPath:          DefaultDBPath(),
		AnalysisBaseURL: "http://127.0.0.1:5001",
		ProviderBaseURL: "https://api.clerk.com",
		JWTSecret:       uuid.New().String(),
	}
	c.Backend.Port = 5001
	return c
}

// Get returns a copy of the current in-memory config.
func Get() Config {
	cfgMu.RLock()
	defer cfgMu.RUnlock()
	return cfg
}

// Set replaces the in-memory config.
func Set(c Config) {
	cfgMu.Lock()
	cfg = c
	cfgMu.Unlock()
}

func isJSONObject(raw []byte) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 0 && raw[0] == '{'
}

func deepMergeJSON(dst, src map[string]json.RawMessage) {
	for k, v := range src {
		if existing, ok := dst[k]; ok && isJSONObject(existing) && isJSONObject(v) {
			var dstObj map[string]json.RawMessage
			var srcObj map[string]json.RawMessage
			if err := json.Unmarshal(existing, &dstObj); err != nil {
				dst[k] = v
				continue
			}
			if err := json.Unmarshal(v, &srcObj); err != nil {
				dst[k] = v
				continue
			}
			deepMergeJSON(dstObj, srcObj)
			merged, err := json.Marshal(dstObj)
			if err != nil {
				dst[k] = v
				continue
			}
			dst[k] = merged
			continue
		}
		dst[k] = v
	}
}

// getConfigPath returns the full path to the config.json file.
func getConfigPath() (string, error) {
	configDir := DefaultConfigDir()
	return filepath.Join(configDir, "config.json"), nil
}

// applyEnvOverrides lets deployment environments override file config
// without editing it. Loaded after the file so env always wins.
func applyEnvOverrides(c *Config) {
	if v := os.Getenv("GENPROMPT_LISTEN_ADDR"); v != "" {
		c.ListenAddr = v
	}
	if v := os.Getenv("GENPROMPT_DB_PATH"); v != "" {
		c.DBPath = v
	}
	if v := os.Getenv("GENPROMPT_ANALYSIS_URL"); v != "" {
		c.AnalysisBaseURL = v
	}
	if v := os.Getenv("GENPROMPT_PROVIDER_URL"); v != "" {
		c.ProviderBaseURL = v
	}
	if v := os.Getenv("GENPROMPT_JWT_SECRET"); v != "" {
		c.JWTSecret = v
	}
	if v := os.Getenv("GENPROMPT_ARCHIVE_ENDPOINT"); v != "" {
		c.Archive.Endpoint = v
	}
	if v := os.Getenv("GENPROMPT_ARCHIVE_REGION"); v != "" {
		c.Archive.Region = v
	}
	if v := os.Getenv("GENPROMPT_ARCHIVE_BUCKET"); v != "" {
		c.Archive.Bucket = v
	}
	if v := os.Getenv("GENPROMPT_ARCHIVE_ACCESS_KEY"); v != "" {
		c.Archive.AccessKey = v
	}
	if v := os.Getenv("GENPROMPT_ARCHIVE_SECRET_KEY"); v != "" {
		c.Archive.SecretKey = v
	}
}

// Load reads the config from disk and updates the in-memory config. It returns the config and path.
// If the config file doesn't exist, it creates one with default values.
// This function safely handles missing directories and creates them as needed.
func Load() (Config, string, error) {
	path, err := getConfigPath()
	if err != nil {
		return Config{}, "", err
	}

	// Ensure config directory exists
	configDir := filepath.Dir(path)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return Config{}, "", fmt.Errorf("failed to create config directory %s: %v", configDir, err)
	}

	// Check if config file exists
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// Config file doesn't exist - create it with defaults
			def := defaultConfig()

			// Ensure the database directory exists
			dbDir := filepath.Dir(def.DBPath)
			if err := os.MkdirAll(dbDir, 0755); err != nil {
				return Config{}, "", fmt.Errorf("failed to create database directory %s: %v", dbDir, err)
			}

			// Save the default config
			savedPath, saveErr := Save(def)
			if saveErr != nil {
				return Config{}, path, fmt.Errorf("failed to create default config file: %v", saveErr)
			}
			applyEnvOverrides(&def)
			Set(def)
			return def, savedPath, nil
		}
		return Config{}, path, fmt.Errorf("failed to read config file at %s: %v", path, err)
	}

	var c Config
	if err := json.Unmarshal(data, &c); err != nil {
		return Config{}, path, fmt.Errorf("failed to parse config JSON: %v", err)
	}

	// Merge defaults for any missing fields
	def := defaultConfig()
	needsSave := false

	if c.ListenAddr == "" {
		c.ListenAddr = def.ListenAddr
	}
	if c.DBPath == "" {
		c.DBPath = def.DBPath
		needsSave = true
	}
	if c.AnalysisBaseURL == "" {
		c.AnalysisBaseURL = def.AnalysisBaseURL
	}
	if c.Backend.Port == 0 {
		c.Backend.Port = def.Backend.Port
	}
	if c.ProviderBaseURL == "" {
		c.ProviderBaseURL = def.ProviderBaseURL
	}
	if c.JWTSecret == "" {
		c.JWTSecret = uuid.New().String()
		needsSave = true
	}

	// Ensure the database directory exists
	dbDir := filepath.Dir(c.DBPath)
	if err := os.MkdirAll(dbDir, 0755); err != nil {
		return Config{}, path, fmt.Errorf("failed to create database directory %s: %v", dbDir, err)
	}

	// Save config if we had to fill in critical missing fields
	if needsSave {
		if _, saveErr := Save(c); saveErr != nil {
			// Log but don't fail - we can continue with the in-memory config
			fmt.Printf("Warning: failed to save updated config: %v\n", saveErr)
		}
	}

	applyEnvOverrides(&c)
	Set(c)
	return c, path, nil
}

// Save writes the config to disk, creating the directory as needed. Returns the path.
func Save(c Config) (string, error) {
	path, err := getConfigPath()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return path, fmt.Errorf("failed to create config directory: %v", err)
	}
	base := map[string]json.RawMessage{}
	if existing, readErr := os.ReadFile(path); readErr == nil {
		var tmp map[string]json.RawMessage
		if err := json.Unmarshal(existing, &tmp); err == nil {
			base = tmp
		}
	}

	marshaled, err := json.Marshal(c)
	if err != nil {
		return path, fmt.Errorf("failed to marshal config: %v", err)
	}
	incoming := map[string]json.RawMessage{}
	if err := json.Unmarshal(marshaled, &incoming); err != nil {
		return path, fmt.Errorf("failed to map config JSON: %v", err)
	}

	deepMergeJSON(base, incoming)

	mergedData, err := json.MarshalIndent(base, "", "  ")
	if err != nil {
		return path, fmt.Errorf("failed to marshal merged config: %v", err)
	}
	if err := os.WriteFile(path, mergedData, 0644); err != nil {
		return path, fmt.Errorf("failed to write config file: %v", err)
	}
	Set(c)
	return path, nil
}
