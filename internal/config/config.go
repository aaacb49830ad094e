// Package config loads device and provider configuration from
// environment variables, with an optional .env file as a development
// convenience, and validates the result before the composition root
// wires it into every other package. Grounded on
// ivugurura-radio-studio/cmd/server/main.go's `_ = godotenv.Load()`
// pattern and internal/logger's STREAMCORE_-prefixed env vars.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Config is the full set of knobs the composition root (cmd/streamcore32d)
// needs to build every subsystem.
type Config struct {
	Device    DeviceConfig
	Spotify   SpotifyConfig
	Qobuz     QobuzConfig
	Discovery DiscoveryConfig
	Storage   StorageConfig
	Sink      SinkConfig
}

// DeviceConfig is the per-unit identity material spec §3's master-key
// derivation needs.
type DeviceConfig struct {
	Name        string `validate:"required"`
	ChipInfo    string `validate:"required"`
	ProductSalt string `validate:"required"`
}

// SpotifyConfig configures the provider-A session (spec §4.3).
type SpotifyConfig struct {
	APAddress        string `validate:"required,hostname_port"`
	PinnedModulusHex string `validate:"omitempty,hexadecimal"`
}

// QobuzConfig configures the provider-B session (spec §4.4, §6).
type QobuzConfig struct {
	AppID     string `validate:"required"`
	AppSecret string `validate:"required"`
	WSURL     string `validate:"required,url"`
}

// DiscoveryConfig configures the local HTTP surface spec §6 names
// (`/spotify_info`, `/streamcore/*`).
type DiscoveryConfig struct {
	ListenAddr string `validate:"required"`
}

// StorageConfig configures the on-disk state the credential store and
// HTTP cookie jar persist to.
type StorageConfig struct {
	CredentialDir string `validate:"required"`
	CookieJarPath string
}

// SinkConfig configures the decoder chip bus (spec §4.1-§4.2), following
// n0remac-robot-webrtc/cmd/servo/main.go's bus-by-number convention. A
// missing device is a startup error: the composition root opens the bus
// with sink.OpenVS1053Bus and there is no no-op fallback.
type SinkConfig struct {
	SPIBus   int `validate:"gte=0"`
	DREQPin  string
	ResetPin string
}

const envPrefix = "STREAMCORE_"

// Load reads an optional .env file (missing is not an error), then
// overlays environment variables onto the defaults below, and validates
// the result.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Device: DeviceConfig{
			Name:        getEnv("DEVICE_NAME", "streamcore32"),
			ChipInfo:    getEnv("DEVICE_CHIP_INFO", "vs1053"),
			ProductSalt: getEnv("DEVICE_PRODUCT_SALT", ""),
		},
		Spotify: SpotifyConfig{
			APAddress:        getEnv("SPOTIFY_AP_ADDRESS", "ap.spotify.com:4070"),
			PinnedModulusHex: getEnv("SPOTIFY_PINNED_MODULUS_HEX", ""),
		},
		Qobuz: QobuzConfig{
			AppID:     getEnv("QOBUZ_APP_ID", ""),
			AppSecret: getEnv("QOBUZ_APP_SECRET", ""),
			WSURL:     getEnv("QOBUZ_WS_URL", "wss://ws.qobuz.com/connect"),
		},
		Discovery: DiscoveryConfig{
			ListenAddr: getEnv("DISCOVERY_LISTEN_ADDR", ":9931"),
		},
		Storage: StorageConfig{
			CredentialDir: getEnv("CREDENTIAL_DIR", "./data/credentials"),
			CookieJarPath: getEnv("COOKIE_JAR_PATH", "./data/cookies.json"),
		},
		Sink: SinkConfig{
			SPIBus:   getEnvAsInt("SINK_SPI_BUS", 0),
			DREQPin:  getEnv("SINK_DREQ_PIN", "GPIO22"),
			ResetPin: getEnv("SINK_RESET_PIN", "GPIO23"),
		},
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate runs struct-tag validation over cfg, wrapping the first
// failure with enough context to fix the environment.
func Validate(cfg *Config) error {
	if err := validator.New().Struct(cfg); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

func getEnv(name, defaultValue string) string {
	if v, ok := os.LookupEnv(envPrefix + name); ok {
		return v
	}
	return defaultValue
}

func getEnvAsInt(name string, defaultValue int) int {
	v, ok := os.LookupEnv(envPrefix + name)
	if !ok {
		return defaultValue
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultValue
	}
	return n
}
