package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

var (
	ErrIndexNotFound     = errors.New("vector index not found")
	ErrKeyMismatch       = errors.New("vector index key mismatch")
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
	ErrInvalidVectorID   = errors.New("invalid vector id")
)

const (
	DefaultDimension   = 768
	DefaultIndexType   = "ivfflat"
	DefaultUpsertBatch = 50
)

// Record is one vector keyed by its vector id.
type Record struct {
	ID     string
	Vector []float32
}

// Match is a query hit. Score is a similarity: higher is a better match,
// whatever the backend's native distance.
type Match struct {
	ID    string
	Score float64
}

// Store is a per-session keyed k-NN index. Callers own the pairing of
// every Upsert/Delete with the chunk metadata table.
type Store interface {
	EnsureIndex(ctx context.Context, sessionID uuid.UUID) error
	HasIndex(ctx context.Context, sessionID uuid.UUID) (bool, error)
	Upsert(ctx context.Context, sessionID uuid.UUID, records []Record) error
	Query(ctx context.Context, sessionID uuid.UUID, vector []float32, k int) ([]Match, error)
	Delete(ctx context.Context, sessionID uuid.UUID, ids []string) error
	DropIndex(ctx context.Context, sessionID uuid.UUID) error
}

type Config struct {
	Dimension   int
	IndexType   string
	UpsertBatch int
}

func (c Config) WithDefaults() Config {
	if c.Dimension <= 0 {
		c.Dimension = DefaultDimension
	}
	if c.IndexType == "" {
		c.IndexType = DefaultIndexType
	}
	if c.UpsertBatch <= 0 {
		c.UpsertBatch = DefaultUpsertBatch
	}
	return c
}

// IndexName is the deterministic index name for a session.
func IndexName(sessionID uuid.UUID) string {
	return "session_" + strings.ReplaceAll(sessionID.String(), "-", "_")
}

// VectorID joins an attachment id and chunk index as "<attachmentId>:<chunkIndex>".
func VectorID(attachmentID uuid.UUID, chunkIndex int) string {
	return attachmentID.String() + ":" + strconv.Itoa(chunkIndex)
}

func ParseVectorID(id string) (uuid.UUID, int, error) {
	raw, idx, ok := strings.Cut(id, ":")
	if !ok {
		return uuid.Nil, 0, fmt.Errorf("%w: %q", ErrInvalidVectorID, id)
	}
	attachmentID, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, 0, fmt.Errorf("%w: %q", ErrInvalidVectorID, id)
	}
	chunkIndex, err := strconv.Atoi(idx)
	if err != nil || chunkIndex < 0 {
		return uuid.Nil, 0, fmt.Errorf("%w: %q", ErrInvalidVectorID, id)
	}
	return attachmentID, chunkIndex, nil
}

// Batches splits records into slices of at most size.
func Batches(records []Record, size int) [][]Record {
	if size <= 0 {
		size = DefaultUpsertBatch
	}
	var out [][]Record
	for start := 0; start < len(records); start += size {
		out = append(out, records[start:min(start+size, len(records))])
	}
	return out
}

// CheckDimension returns ErrDimensionMismatch for the first record of the wrong length.
func CheckDimension(records []Record, dim int) error {
	for _, r := range records {
		if len(r.Vector) != dim {
			return fmt.Errorf("%w for id=%s: got %d, want %d", ErrDimensionMismatch, r.ID, len(r.Vector), dim)
		}
	}
	return nil
}
