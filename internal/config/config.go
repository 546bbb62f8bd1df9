package config

import (
	"fmt"
	"time"
)

type PostgresConfig struct {
	DSN             string        `env:"PG_DSN"`
	MaxOpenConns    int           `env:"PG_MAX_OPEN_CONNS" default:"10"`
	MaxIdleConns    int           `env:"PG_MAX_IDLE_CONNS" default:"5"`
	ConnMaxIdleTime time.Duration `env:"PG_CONN_MAX_IDLE_TIME" default:"5m"`
	ConnMaxLifetime time.Duration `env:"PG_CONN_MAX_LIFETIME" default:"30m"`
}

type DynamoConfig struct {
	Table    string `env:"DYNAMO_TABLE" default:"session_snapshots"`
	Region   string `env:"DYNAMO_REGION" default:"us-east-1"`
	Endpoint string `env:"DYNAMO_ENDPOINT" default:""`
}

type StoreDriver string

const (
	StoreMemory   StoreDriver = "memory"
	StorePostgres StoreDriver = "postgres"
	StoreDynamo   StoreDriver = "dynamodb"
)

func (d *StoreDriver) UnmarshalText(b []byte) error {
	switch v := StoreDriver(b); v {
	case StoreMemory, StorePostgres, StoreDynamo:
		*d = v

		return nil
	default:
		return fmt.Errorf("unknown store driver %q", v)
	}
}

type StoreConfig struct {
	Driver    StoreDriver   `env:"STORE_DRIVER" default:"memory"`
	MemoryTTL time.Duration `env:"STORE_MEMORY_TTL" default:"0s"`
}

// BankClientConfig points a session at bankd.
type BankClientConfig struct {
	URL      string        `env:"BANK_URL" default:"http://localhost:8080"`
	PlayerID uint64        `env:"PLAYER_ID" default:"1"`
	Timeout  time.Duration `env:"BANK_HTTP_TIMEOUT" default:"10s"`
}
