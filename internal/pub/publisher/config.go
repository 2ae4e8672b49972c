package publisher

import (
	"time"

	"asyncpub/internal/pub/flowcontrol"
)

// Config holds the batching, concurrency and flow control settings of a
// Publisher.
type Config struct {
	// MaxMessages caps the number of messages in one publish request.
	MaxMessages int `env:"MAX_MESSAGES" envDefault:"100"`
	// MaxBytes caps the size of one publish request, envelope included.
	MaxBytes int `env:"MAX_BYTES" envDefault:"1000000"`
	// Interval is how long a message may wait for its batch to fill.
	Interval time.Duration `env:"INTERVAL" envDefault:"10ms"`
	// PublishThreads caps concurrent transport requests across keys.
	PublishThreads int `env:"PUBLISH_THREADS" envDefault:"2"`
	// CallbackThreads is the size of the callback worker pool.
	CallbackThreads int `env:"CALLBACK_THREADS" envDefault:"4"`

	// FlowControl limits default to ten requests' worth of messages and bytes.
	FlowControl flowcontrol.Config `envPrefix:"FLOW_CONTROL_"`
}

// DefaultConfig returns the settings used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		MaxMessages:     100,
		MaxBytes:        1_000_000,
		Interval:        10 * time.Millisecond,
		PublishThreads:  2,
		CallbackThreads: 4,
	}
}

func (c Config) withDefaults() Config {
	if c.FlowControl.MessageLimit == 0 {
		c.FlowControl.MessageLimit = 10 * c.MaxMessages
	}
	if c.FlowControl.ByteLimit == 0 {
		c.FlowControl.ByteLimit = 10 * c.MaxBytes
	}
	return c
}
