// Package params holds the kernel's static runtime configuration,
// grounded on the sibling kernel's params/config.go Default()/
// LoadFromEnv() shape, minus every consensus/node-identity field (no
// consensus component exists in this kernel).
package params

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config is the kernel process's full runtime configuration.
type Config struct {
	ListenAddr   string
	DataDir      string
	LogFile      string // empty means stderr only
	AdminToken   string
	RequestQueue int
	// RequireSignature enables the EIP-712 SignatureVerifier decorator on
	// the router's place_order path. Off by default: SPEC_FULL §1/§7 keep
	// the opaque signature string as the kernel's default trust boundary.
	RequireSignature bool
}

// Default returns development-friendly defaults.
func Default() Config {
	return Config{
		ListenAddr:       ":8080",
		DataDir:          "./data",
		LogFile:          "",
		AdminToken:       "dev-admin-token",
		RequestQueue:     1024,
		RequireSignature: false,
	}
}

// LoadFromEnv starts from Default(), optionally loads envPath with
// godotenv (a missing file is not an error), then overrides every field
// present in the environment.
func LoadFromEnv(envPath string) (Config, error) {
	cfg := Default()
	if envPath != "" {
		if err := godotenv.Load(envPath); err != nil && !os.IsNotExist(err) {
			return cfg, err
		}
	}
	if v := os.Getenv("SPOTKERNEL_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("SPOTKERNEL_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("SPOTKERNEL_LOG_FILE"); v != "" {
		cfg.LogFile = v
	}
	if v := os.Getenv("SPOTKERNEL_ADMIN_TOKEN"); v != "" {
		cfg.AdminToken = v
	}
	if v := os.Getenv("SPOTKERNEL_REQUEST_QUEUE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.RequestQueue = n
		}
	}
	if v := os.Getenv("SPOTKERNEL_REQUIRE_SIGNATURE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.RequireSignature = b
		}
	}
	return cfg, nil
}
