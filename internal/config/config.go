package config

import (
	"log"

	"github.com/spf13/viper"
)

type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Redis       RedisConfig       `mapstructure:"redis"`
	JWT         JWTConfig         `mapstructure:"jwt"`
	Game        GameConfig        `mapstructure:"game"`
	Matchmaking MatchmakingConfig `mapstructure:"matchmaking"`
}

type ServerConfig struct {
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"` // debug, release
}

type DatabaseConfig struct {
	DSN string `mapstructure:"dsn"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type JWTConfig struct {
	Secret string `mapstructure:"secret"`
	Expire int    `mapstructure:"expire"` // hours
}

// GameConfig carries the turn-flow timer durations. Zero values fall back to
// the per-service defaults.
type GameConfig struct {
	TotalRounds              int `mapstructure:"totalRounds"`
	ActionTimeoutSec         int `mapstructure:"actionTimeoutSec"`
	OfflineActionTimeoutSec  int `mapstructure:"offlineActionTimeoutSec"`
	IdleTimeoutSec           int `mapstructure:"idleTimeoutSec"`
	DisconnectGraceSec       int `mapstructure:"disconnectGraceSec"`
	ConfirmationGraceSec     int `mapstructure:"confirmationGraceSec"`
	AiDelayMinMs             int `mapstructure:"aiDelayMinMs"`
	AiDelayMaxMs             int `mapstructure:"aiDelayMaxMs"`
}

type MatchmakingConfig struct {
	LowAvailabilitySec int  `mapstructure:"lowAvailabilitySec"`
	MaxWaitSec         int  `mapstructure:"maxWaitSec"`
	FallbackToAI       bool `mapstructure:"fallbackToAi"`
}

var GlobalConfig *Config

func LoadConfig(path string) {
	viper.SetConfigFile(path)
	viper.SetConfigType("yaml")

	if err := viper.ReadInConfig(); err != nil {
		log.Fatalf("Error reading config file, %s", err)
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		log.Fatalf("Unable to decode into struct, %v", err)
	}
	GlobalConfig = &cfg
}
