package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/BioHazard786/warpcall/internal/identity"
	"github.com/BioHazard786/warpcall/internal/media"
)

// Default configuration values (production)
const (
	DefaultDomain      = "warpcall.qzz.io"
	DefaultSTUN        = "stun:stun.l.google.com:19302"
	DefaultTURN        = "turn:warpcall.qzz.io"
	DefaultTURNUser    = "warpcall"
	DefaultTURNPass    = "warpcall-secret"
	DefaultRingTimeout = 45 * time.Second
	DefaultListenAddr  = ":8080"
)

// Config holds application configuration
type Config struct {
	// Domain is the relay server domain
	Domain string

	// WebSocketURL is constructed from domain unless set explicitly
	WebSocketURL string

	// Identity this client registers with on the relay
	Identity identity.ID

	// ICE servers for WebRTC
	STUNServer string
	TURNServer string
	TURNUser   string
	TURNPass   string

	// ForceRelay restricts ICE to TURN candidates
	ForceRelay bool

	DataDir     string
	RingTimeout time.Duration

	// Headless uses silent generated media instead of capture devices
	Headless bool

	// ListenAddr is where the relay command serves
	ListenAddr string
}

// Options for loading config with CLI flag overrides
type Options struct {
	Domain      string
	RelayURL    string
	Identity    string
	STUNServer  string
	TURNServer  string
	TURNUser    string
	TURNPass    string
	ForceRelay  bool
	DataDir     string
	RingTimeout time.Duration
	Headless    bool
	ListenAddr  string
}

func pick(flag, env, def string) string {
	if flag != "" {
		return flag
	}
	if v := os.Getenv(env); v != "" {
		return v
	}
	return def
}

func envBool(name string) bool {
	v, err := strconv.ParseBool(os.Getenv(name))
	return err == nil && v
}

// Load reads configuration with the following priority:
// 1. CLI flags (passed via Options) - highest priority
// 2. Environment variables
// 3. Hardcoded defaults - lowest priority
func Load(opts Options) (*Config, error) {
	domain := pick(opts.Domain, "DOMAIN", DefaultDomain)

	cfg := &Config{
		Domain:       domain,
		WebSocketURL: pick(opts.RelayURL, "RELAY_URL", fmt.Sprintf("wss://%s/ws", domain)),
		Identity:     identity.Normalize(pick(opts.Identity, "WARPCALL_ID", "")),
		STUNServer:   pick(opts.STUNServer, "STUN_SERVER", DefaultSTUN),
		TURNServer:   pick(opts.TURNServer, "TURN_SERVER", DefaultTURN),
		TURNUser:     pick(opts.TURNUser, "TURN_USERNAME", DefaultTURNUser),
		TURNPass:     pick(opts.TURNPass, "TURN_PASSWORD", DefaultTURNPass),
		Headless:     opts.Headless || envBool("WARPCALL_HEADLESS"),
		ListenAddr:   pick(opts.ListenAddr, "LISTEN_ADDR", DefaultListenAddr),
	}

	// TURN can be disabled explicitly with "none".
	if cfg.TURNServer == "none" {
		cfg.TURNServer = ""
	}

	cfg.RingTimeout = opts.RingTimeout
	if cfg.RingTimeout <= 0 {
		if v := os.Getenv("RING_TIMEOUT"); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				return nil, fmt.Errorf("invalid RING_TIMEOUT: %w", err)
			}
			cfg.RingTimeout = d
		}
	}
	if cfg.RingTimeout <= 0 {
		cfg.RingTimeout = DefaultRingTimeout
	}

	cfg.DataDir = opts.DataDir
	if cfg.DataDir == "" {
		cfg.DataDir = os.Getenv("WARPCALL_DATA_DIR")
	}
	if cfg.DataDir == "" {
		dir, err := os.UserConfigDir()
		if err != nil {
			return nil, fmt.Errorf("resolve data dir: %w", err)
		}
		cfg.DataDir = filepath.Join(dir, "warpcall")
	}

	cfg.ForceRelay = opts.ForceRelay || envBool("FORCE_RELAY")
	if !cfg.ForceRelay && cfg.TURNServer != "" && ShouldForceRelay() {
		slog.Info("VPN or CGNAT detected, forcing TURN relay")
		cfg.ForceRelay = true
	}

	if cfg.TURNServer == "" {
		slog.Warn("no TURN server configured; calls behind symmetric NAT may never connect")
	}

	return cfg, nil
}

// GetTURNServers returns TURN server URLs if configured
func (c *Config) GetTURNServers() []string {
	if c.TURNServer == "" {
		return nil
	}
	return []string{
		fmt.Sprintf("%s:3478?transport=udp", c.TURNServer),
		fmt.Sprintf("%s:3478?transport=tcp", c.TURNServer),
	}
}

// ICEServers returns the STUN and TURN entries for the media engine.
func (c *Config) ICEServers() []media.ICEServer {
	var out []media.ICEServer
	if c.STUNServer != "" {
		out = append(out, media.ICEServer{URLs: []string{c.STUNServer}})
	}
	if turn := c.GetTURNServers(); len(turn) > 0 {
		out = append(out, media.ICEServer{URLs: turn, Username: c.TURNUser, Credential: c.TURNPass})
	}
	return out
}

// SettingsPath is the feedback settings file.
func (c *Config) SettingsPath() string {
	return filepath.Join(c.DataDir, "settings.json")
}
