package config

import (
	"log"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"

	"github.com/mailvault/mailvault/internal/logger"
	"github.com/mailvault/mailvault/internal/tracing"
)

type Config struct {
	AppConfig      *AppConfig
	ImapConfig     *ImapConfig
	DatabaseConfig *DatabaseConfig
	StorageConfig  *StorageConfig
	Logger         *logger.Config
	Tracing        *tracing.JaegerConfig
}

func InitConfig() (*Config, error) {
	config := &Config{
		AppConfig:      &AppConfig{},
		ImapConfig:     &ImapConfig{},
		DatabaseConfig: &DatabaseConfig{},
		StorageConfig:  &StorageConfig{},
		Logger:         &logger.Config{},
		Tracing:        &tracing.JaegerConfig{},
	}

	err := godotenv.Load()
	if err != nil {
		log.Print("Unable to load .env file")
	}

	err = env.Parse(config)
	if err != nil {
		return nil, err
	}

	return config, nil
}
