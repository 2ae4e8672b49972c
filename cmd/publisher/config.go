package main

import (
	"time"

	"asyncpub/internal/pub/bus"
	"asyncpub/internal/pub/metrics"
	"asyncpub/internal/pub/publisher"
	"asyncpub/internal/pub/tracing"
)

type Config struct {
	Transport string `env:"TRANSPORT" envDefault:"mem"` // mem or couchbase
	Topic     string `env:"TOPIC" envDefault:"orders"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`

	CouchbaseConnectionString string        `env:"COUCHBASE_CONNECTION_STRING" envDefault:"couchbase://localhost"`
	CouchbaseUsername         string        `env:"COUCHBASE_USERNAME" envDefault:"Administrator"`
	CouchbasePassword         string        `env:"COUCHBASE_PASSWORD" envDefault:"password"`
	CouchbaseBucketName       string        `env:"COUCHBASE_BUCKET_NAME" envDefault:"pubsub"`
	CouchbaseScopeName        string        `env:"COUCHBASE_SCOPE_NAME" envDefault:"default"`
	CouchbaseRetention        time.Duration `env:"COUCHBASE_RETENTION" envDefault:"168h"`

	MessageCount    int           `env:"MESSAGE_COUNT" envDefault:"1000"`
	OrderingKeys    int           `env:"ORDERING_KEYS" envDefault:"10"`
	UnorderedShare  float64       `env:"UNORDERED_SHARE" envDefault:"0.2"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`

	Publisher publisher.Config    `envPrefix:"PUBLISHER_"`
	Bus       bus.Config
	Metrics   metrics.ServerConfig
	Tracing   tracing.Config
}
