package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type Config struct {
	Mode       string        `mapstructure:"mode"`
	Port       int           `mapstructure:"port"`
	StaticPath string        `mapstructure:"static_path"`
	ReadLimit  int64         `mapstructure:"read_limit"`
	PingPeriod time.Duration `mapstructure:"ping_period"`
	Secret     string        `mapstructure:"secret"`
	SendBuffer int           `mapstructure:"send_buffer"`
	Chat       ChatConfig    `mapstructure:"chat"`
	Limits     LimitsConfig  `mapstructure:"limits"`
	Media      MediaConfig   `mapstructure:"media"`
}

type ChatConfig struct {
	Capacity int `mapstructure:"capacity"`
}

type LimitsConfig struct {
	RoomOps       int           `mapstructure:"room_ops"`
	RoomOpsWindow time.Duration `mapstructure:"room_ops_window"`
}

type MediaConfig struct {
	AnnouncedIP  string        `mapstructure:"announced_ip"`
	UDPPort      int           `mapstructure:"udp_port"`
	PortMin      uint16        `mapstructure:"port_min"`
	PortMax      uint16        `mapstructure:"port_max"`
	ICEServers   []string      `mapstructure:"ice_servers"`
	ReadyTimeout time.Duration `mapstructure:"ready_timeout"`
	ExitGrace    time.Duration `mapstructure:"exit_grace"`
}

func Load() (*Config, error) {
	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	return LoadFile(fmt.Sprintf("config/config.%s.yaml", env))
}

// LoadFile reads fileName when it exists and falls back to defaults otherwise.
func LoadFile(fileName string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.SetEnvPrefix("HUDDLE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.Media.PortMin > cfg.Media.PortMax {
		return nil, fmt.Errorf("media.port_min %d is above media.port_max %d", cfg.Media.PortMin, cfg.Media.PortMax)
	}
	log.Info().
		Str("module", "config").
		Str("mode", cfg.Mode).
		Int("port", cfg.Port).
		Str("static", cfg.StaticPath).
		Msg("config ready")
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("static_path", "./web")
	v.SetDefault("read_limit", 65536)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("send_buffer", 64)
	v.SetDefault("chat.capacity", 200)
	v.SetDefault("limits.room_ops", 10)
	v.SetDefault("limits.room_ops_window", "10s")
	v.SetDefault("media.announced_ip", "")
	v.SetDefault("media.udp_port", 0)
	v.SetDefault("media.port_min", 40000)
	v.SetDefault("media.port_max", 49999)
	v.SetDefault("media.ice_servers", []string{"stun:stun.l.google.com:19302"})
	v.SetDefault("media.ready_timeout", "10s")
	v.SetDefault("media.exit_grace", "2s")
}
