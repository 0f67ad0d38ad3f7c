package kv

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	_ "github.com/go-sql-driver/mysql" // MySQL driver
	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver ("pgx")
	"github.com/redis/go-redis/v9"
	_ "modernc.org/sqlite" // SQLite driver ("sqlite")
)

// Driver names accepted by Open.
const (
	DriverMemory   = "memory"
	DriverFile     = "file"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
	DriverRedis    = "redis"
	DriverS3       = "s3"
)

// Config describes the backend Open should build.
type Config struct {
	Driver string `json:"driver"`

	// Dir is the FileStore directory.
	Dir string `json:"dir,omitempty"`

	// DSN is the database/sql data source for sqlite, postgres and mysql.
	DSN   string `json:"dsn,omitempty"`
	Table string `json:"table,omitempty"`

	RedisAddr     string        `json:"redis_addr,omitempty"`
	RedisPassword string        `json:"redis_password,omitempty"`
	RedisDB       int           `json:"redis_db,omitempty"`
	RedisPrefix   string        `json:"redis_prefix,omitempty"`
	TTL           time.Duration `json:"ttl,omitempty"`

	S3Bucket    string `json:"s3_bucket,omitempty"`
	S3Prefix    string `json:"s3_prefix,omitempty"`
	S3Region    string `json:"s3_region,omitempty"`
	S3Endpoint  string `json:"s3_endpoint,omitempty"`
	S3AccessKey string `json:"s3_access_key,omitempty"`
	S3SecretKey string `json:"s3_secret_key,omitempty"`
}

// ownedStore closes resources Open created alongside the store.
type ownedStore struct {
	Store
	release func() error
}

func (o *ownedStore) Close() error {
	err := o.Store.Close()
	if rerr := o.release(); err == nil {
		err = rerr
	}
	return err
}

// Drivers lists every supported driver name.
var Drivers = []string{DriverMemory, DriverFile, DriverSQLite, DriverPostgres, DriverMySQL, DriverRedis, DriverS3}

// ParseDriver checks a driver name. The empty name means memory.
func ParseDriver(name string) (string, error) {
	if name == "" {
		return DriverMemory, nil
	}
	for _, d := range Drivers {
		if name == d {
			return d, nil
		}
	}
	return "", fmt.Errorf("kv: unknown storage driver %q", name)
}

// Open builds the backend named by cfg.Driver.
// The returned store owns any connection it opened; Close releases it.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Driver {
	case "", DriverMemory:
		return NewMemoryStore(), nil

	case DriverFile:
		return NewFileStore(cfg.Dir)

	case DriverSQLite, DriverPostgres, DriverMySQL:
		return openSQL(ctx, cfg)

	case DriverRedis:
		if cfg.RedisAddr == "" {
			return nil, fmt.Errorf("kv: redis address is required")
		}
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		opts := []RedisStoreOption{WithRedisTTL(cfg.TTL)}
		if cfg.RedisPrefix != "" {
			opts = append(opts, WithRedisPrefix(cfg.RedisPrefix))
		}
		return &ownedStore{Store: NewRedisStore(client, opts...), release: client.Close}, nil

	case DriverS3:
		client, err := newS3Client(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return NewS3Store(client, cfg.S3Bucket, cfg.S3Prefix)

	default:
		return nil, fmt.Errorf("kv: unknown storage driver %q", cfg.Driver)
	}
}

func openSQL(ctx context.Context, cfg Config) (Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("kv: dsn is required for %s", cfg.Driver)
	}

	driverName := cfg.Driver
	if cfg.Driver == DriverPostgres {
		driverName = "pgx"
	}
	dialect, err := ParseDialect(cfg.Driver)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(driverName, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", cfg.Driver, err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to %s: %w", cfg.Driver, err)
	}

	opts := []SQLStoreOption{WithSQLDialect(dialect)}
	if cfg.Table != "" {
		opts = append(opts, WithSQLTableName(cfg.Table))
	}
	store, err := NewSQLStore(db, opts...)
	if err != nil {
		db.Close()
		return nil, err
	}
	if err := store.CreateTable(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create slot table: %w", err)
	}
	return &ownedStore{Store: store, release: db.Close}, nil
}

func newS3Client(ctx context.Context, cfg Config) (*s3.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{}
	if cfg.S3Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.S3Region))
	}
	if cfg.S3AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.S3AccessKey, cfg.S3SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3Endpoint)
			o.UsePathStyle = true
		}
	}), nil
}
