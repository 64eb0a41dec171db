package config

import (
	"os"
)

type Config struct {
	ServerPort   string
	RedisAddr    string
	JWTSecret    string
	StoreBackend string // "redis" or "memory"
}

func Load() *Config {
	return &Config{
		ServerPort:   getEnv("SERVER_PORT", "8080"),
		RedisAddr:    getEnv("REDIS_ADDR", "localhost:6379"),
		JWTSecret:    getEnv("JWT_SECRET", "dev-secret-change-me"),
		StoreBackend: getEnv("STORE_BACKEND", "redis"),
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
