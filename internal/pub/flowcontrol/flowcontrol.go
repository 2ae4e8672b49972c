// Package flowcontrol limits the number of messages and bytes a publisher
// holds while they wait to be published.
package flowcontrol

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/sync/semaphore"

	"asyncpub/internal/pub"
)

// ErrOverRelease is returned when more capacity is released than acquired.
var ErrOverRelease = errors.New("flow control released more than outstanding")

// Behavior selects what happens when a limit would be exceeded.
type Behavior int

const (
	// Ignore disables flow control.
	Ignore Behavior = iota
	// Error rejects the message with pub.ErrFlowControlLimit.
	Error
	// Block waits until enough capacity is released.
	Block
)

func (b Behavior) String() string {
	switch b {
	case Ignore:
		return "ignore"
	case Error:
		return "error"
	case Block:
		return "block"
	default:
		return fmt.Sprintf("Behavior(%d)", int(b))
	}
}

// UnmarshalText parses "ignore", "error" or "block".
func (b *Behavior) UnmarshalText(text []byte) error {
	switch strings.ToLower(strings.TrimSpace(string(text))) {
	case "ignore", "":
		*b = Ignore
	case "error":
		*b = Error
	case "block":
		*b = Block
	default:
		return fmt.Errorf("unknown limit exceeded behavior %q", string(text))
	}
	return nil
}

// Config holds the flow control limits.
type Config struct {
	MessageLimit          int      `env:"MESSAGE_LIMIT"`
	ByteLimit             int      `env:"BYTE_LIMIT"`
	LimitExceededBehavior Behavior `env:"LIMIT_EXCEEDED_BEHAVIOR" envDefault:"ignore"`
}

// Controller tracks outstanding messages and bytes against Config.
type Controller struct {
	cfg Config

	// block mode only
	messages *semaphore.Weighted
	bytes    *semaphore.Weighted

	mu                  sync.Mutex
	outstandingMessages int64
	outstandingBytes    int64
}

// New validates cfg and returns a Controller.
func New(cfg Config) (*Controller, error) {
	switch cfg.LimitExceededBehavior {
	case Ignore:
		return &Controller{cfg: cfg}, nil
	case Error, Block:
	default:
		return nil, fmt.Errorf("unknown limit exceeded behavior %s", cfg.LimitExceededBehavior)
	}

	if cfg.MessageLimit < 1 || cfg.ByteLimit < 1 {
		return nil, fmt.Errorf("flow control limits must be positive: messages=%d bytes=%d", cfg.MessageLimit, cfg.ByteLimit)
	}

	c := &Controller{cfg: cfg}
	if cfg.LimitExceededBehavior == Block {
		c.messages = semaphore.NewWeighted(int64(cfg.MessageLimit))
		c.bytes = semaphore.NewWeighted(int64(cfg.ByteLimit))
	}

	return c, nil
}

// Behavior returns the configured behavior.
func (c *Controller) Behavior() Behavior {
	return c.cfg.LimitExceededBehavior
}

// Acquire reserves room for one message of the given size.
func (c *Controller) Acquire(ctx context.Context, bytes int) error {
	switch c.cfg.LimitExceededBehavior {
	case Error:
		return c.tryAcquire(bytes)
	case Block:
		return c.acquire(ctx, bytes)
	default:
		return nil
	}
}

func (c *Controller) tryAcquire(bytes int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.outstandingMessages+1 > int64(c.cfg.MessageLimit) {
		return fmt.Errorf("%w: message limit %d", pub.ErrFlowControlLimit, c.cfg.MessageLimit)
	}
	if c.outstandingBytes+int64(bytes) > int64(c.cfg.ByteLimit) {
		return fmt.Errorf("%w: byte limit %d", pub.ErrFlowControlLimit, c.cfg.ByteLimit)
	}

	c.outstandingMessages++
	c.outstandingBytes += int64(bytes)
	return nil
}

func (c *Controller) acquire(ctx context.Context, bytes int) error {
	if bytes > c.cfg.ByteLimit {
		return fmt.Errorf("%w: message of %d bytes exceeds byte limit %d", pub.ErrFlowControlLimit, bytes, c.cfg.ByteLimit)
	}

	// Messages before bytes, always, so waiters cannot deadlock each other.
	if err := c.messages.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("failed to wait for flow control: %w", err)
	}
	if err := c.bytes.Acquire(ctx, int64(bytes)); err != nil {
		c.messages.Release(1)
		return fmt.Errorf("failed to wait for flow control: %w", err)
	}

	c.mu.Lock()
	c.outstandingMessages++
	c.outstandingBytes += int64(bytes)
	c.mu.Unlock()

	return nil
}

// Release returns the room held by one message of the given size.
func (c *Controller) Release(bytes int) error {
	if c.cfg.LimitExceededBehavior == Ignore {
		return nil
	}

	c.mu.Lock()
	if c.outstandingMessages < 1 || c.outstandingBytes < int64(bytes) {
		c.mu.Unlock()
		return fmt.Errorf("%w: releasing %d bytes with %d messages and %d bytes outstanding",
			ErrOverRelease, bytes, c.outstandingMessages, c.outstandingBytes)
	}
	c.outstandingMessages--
	c.outstandingBytes -= int64(bytes)
	c.mu.Unlock()

	if c.cfg.LimitExceededBehavior == Block {
		c.bytes.Release(int64(bytes))
		c.messages.Release(1)
	}

	return nil
}

// OutstandingMessages returns the number of messages currently held.
func (c *Controller) OutstandingMessages() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.outstandingMessages
}

// OutstandingBytes returns the number of bytes currently held.
func (c *Controller) OutstandingBytes() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.outstandingBytes
}
