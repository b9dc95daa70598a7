package config

import (
	"fmt"

	dbutils "github.com/tendant/db-utils/db"
)

// DatabaseConfig holds PostgreSQL database configuration for one user pool.
// Identifiers are only unique and linkable within a pool, so every pool gets
// its own connection.
type DatabaseConfig struct {
	Host     string `env:"IDC_PG_HOST" env-default:"localhost"`
	Port     uint16 `env:"IDC_PG_PORT" env-default:"5432"`
	Database string `env:"IDC_PG_DATABASE" env-default:"identity_db"`
	User     string `env:"IDC_PG_USER" env-default:"identity"`
	Password string `env:"IDC_PG_PASSWORD" env-default:"pwd"`
	Schema   string `env:"IDC_PG_SCHEMA" env-default:"public"`
}

// ToDatabaseURL converts the config to a PostgreSQL connection URL
func (d DatabaseConfig) ToDatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable&search_path=%s,public",
		d.User, d.Password, d.Host, d.Port, d.Database, d.Schema)
}

// ToDbConfig converts the config to a db-utils DbConfig
func (d DatabaseConfig) ToDbConfig() dbutils.DbConfig {
	return dbutils.DbConfig{
		Host:     d.Host,
		Port:     d.Port,
		Database: d.Database,
		User:     d.User,
		Password: d.Password,
	}
}

// NewDatabaseConfigFromEnv creates a DatabaseConfig from environment variables
func NewDatabaseConfigFromEnv() DatabaseConfig {
	return DatabaseConfig{
		Host:     GetEnvOrDefault("IDC_PG_HOST", "localhost"),
		Port:     GetEnvUint16("IDC_PG_PORT", 5432),
		Database: GetEnvOrDefault("IDC_PG_DATABASE", "identity_db"),
		User:     GetEnvOrDefault("IDC_PG_USER", "identity"),
		Password: GetEnvOrDefault("IDC_PG_PASSWORD", "pwd"),
		Schema:   GetEnvOrDefault("IDC_PG_SCHEMA", "public"),
	}
}
