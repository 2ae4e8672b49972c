package pub

import "context"

// Controller defines the persistence used by the log-backed transport.
// Each (topic, ordering key) pair owns an independent, gap-free sequence of
// records and a write offset pointing past its last record.
type Controller interface {
	// GetOffset retrieves the current write offset for an ordering key.
	// Returns an error wrapping gocb.ErrDocumentNotFound if nothing was written yet.
	GetOffset(ctx context.Context, topic, orderingKey string) (uint64, error)

	// CommitOffset advances the write offset. Offsets never move backwards.
	CommitOffset(topic, orderingKey string, offset uint64) error

	// InsertMessage stores a record. Inserting an existing record ID returns
	// an error wrapping gocb.ErrDocumentExists.
	InsertMessage(ctx context.Context, record Record) error

	// ReplaceMessage overwrites an existing record. Only records at or past
	// the committed offset, left by a request that failed, are replaced.
	ReplaceMessage(ctx context.Context, record Record) error

	// LoadMessages returns up to limit records from fromOffset in offset order.
	LoadMessages(ctx context.Context, topic, orderingKey string, fromOffset uint64, limit int) ([]Record, error)
}
