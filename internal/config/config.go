package config

import (
	"strings"

	"github.com/caarlos0/env/v10"
)

// Config centraliza la configuración del servicio.
type Config struct {
	HTTPPort                  string   `env:"HTTP_PORT" envDefault:"8000"`
	DatabaseURL               string   `env:"DATABASE_URL,required,notEmpty"`
	DBConnectAttempts         int      `env:"DB_CONNECT_ATTEMPTS" envDefault:"5"`
	DBConnectInitialBackoffMS int      `env:"DB_CONNECT_INITIAL_BACKOFF_MS" envDefault:"500"`
	RunMigrations             bool     `env:"RUN_MIGRATIONS" envDefault:"true"`
	GoogleClientID            string   `env:"GOOGLE_CLIENT_ID,required,notEmpty"`
	GoogleTokenInfoURL        string   `env:"GOOGLE_TOKENINFO_URL" envDefault:"https://oauth2.googleapis.com/tokeninfo"`
	JWTSecret                 string   `env:"JWT_SECRET"`
	JWTAccessTTLMinutes       int      `env:"JWT_ACCESS_TTL_MINUTES" envDefault:"60"`
	JWTRefreshTTLMinutes      int      `env:"JWT_REFRESH_TTL_MINUTES" envDefault:"43200"`
	RedisAddr                 string   `env:"REDIS_ADDR"`
	RedisPassword             string   `env:"REDIS_PASSWORD"`
	RedisDB                   int      `env:"REDIS_DB" envDefault:"0"`
	PresenceTTLSeconds        int      `env:"PRESENCE_TTL_SECONDS" envDefault:"120"`
	MessageMaxLength          int      `env:"MESSAGE_MAX_LENGTH" envDefault:"1000"`
	BlockedWords              []string `env:"BLOCKED_WORDS" envSeparator:","`
	AllowedOrigins            []string `env:"ALLOWED_ORIGINS" envSeparator:"," envDefault:"http://localhost:5173"`
	WSSendQueue               int      `env:"WS_SEND_QUEUE" envDefault:"64"`
	WSPingSeconds             int      `env:"WS_PING_SECONDS" envDefault:"30"`
}

// LoadConfig carga la configuración desde variables de entorno.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, err
	}
	cfg.BlockedWords = cleanList(cfg.BlockedWords)
	cfg.AllowedOrigins = cleanList(cfg.AllowedOrigins)
	return &cfg, nil
}

func cleanList(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
