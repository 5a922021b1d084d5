package config

import (
	"os"
	"strconv"
)

type Config struct {
	Port          int
	LogLevel      string
	LogFormat     string
	ArenaConfig   string
	NavURL        string
	SceneURL      string
	StoreDriver   string
	DatabaseURL   string
	SQLitePath    string
	JournalDir    string
	NATSURL       string
	DamageSubject string
}

func Load() *Config {
	return &Config{
		Port:          getEnvInt("PORT", 8080),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		LogFormat:     getEnv("LOG_FORMAT", "text"),
		ArenaConfig:   getEnv("ARENA_CONFIG", "arena.yaml"),
		NavURL:        getEnv("NAV_URL", "http://localhost:9630"),
		SceneURL:      getEnv("SCENE_URL", "http://localhost:9631"),
		StoreDriver:   getEnv("STORE_DRIVER", "none"),
		DatabaseURL:   getEnv("DATABASE_URL", "postgres://localhost:5432/patrol?sslmode=disable"),
		SQLitePath:    getEnv("SQLITE_PATH", "data/patrol.db"),
		JournalDir:    getEnv("JOURNAL_DIR", "data/journal"),
		NATSURL:       getEnv("NATS_URL", ""),
		DamageSubject: getEnv("DAMAGE_SUBJECT", "patrol.damage.death"),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}
