package entity

import (
	"encoding/json"
	"time"
)

const (
	StatusPending   = "pending"
	StatusProcessed = "processed"
	StatusFailed    = "failed"
)

// ProcessingState is one of Pending, Processed or Failed. An attachment
// leaves Pending exactly once per pipeline run.
type ProcessingState interface {
	Status() string
	isProcessingState()
}

type Pending struct{}

type Processed struct {
	ChunkCount     int
	MarkdownLength int
	ProcessedAt    time.Time
}

type Failed struct {
	Error    string
	FailedAt time.Time
}

func (Pending) Status() string   { return StatusPending }
func (Processed) Status() string { return StatusProcessed }
func (Failed) Status() string    { return StatusFailed }

func (Pending) isProcessingState()   {}
func (Processed) isProcessingState() {}
func (Failed) isProcessingState()    {}

// stateBag is the flat metadata column shape shared with older rows.
type stateBag struct {
	Processed      bool   `json:"processed"`
	ChunkCount     *int   `json:"chunkCount,omitempty"`
	ProcessedAt    string `json:"processedAt,omitempty"`
	MarkdownLength *int   `json:"markdownLength,omitempty"`
	Error          string `json:"error,omitempty"`
	FailedAt       string `json:"failedAt,omitempty"`
}

// EncodeState renders state as the flat metadata bag. A nil state encodes
// as Pending.
func EncodeState(state ProcessingState) ([]byte, error) {
	var bag stateBag

	switch s := state.(type) {
	case Processed:
		bag.Processed = true
		bag.ChunkCount = &s.ChunkCount
		bag.MarkdownLength = &s.MarkdownLength
		bag.ProcessedAt = s.ProcessedAt.UTC().Format(time.RFC3339Nano)
	case Failed:
		bag.Error = s.Error
		bag.FailedAt = s.FailedAt.UTC().Format(time.RFC3339Nano)
	}

	return json.Marshal(bag)
}

// DecodeState never fails: anything it cannot read is Pending.
func DecodeState(raw []byte) ProcessingState {
	if len(raw) == 0 {
		return Pending{}
	}

	var bag stateBag
	if err := json.Unmarshal(raw, &bag); err != nil {
		return Pending{}
	}

	switch {
	case bag.Processed:
		s := Processed{ProcessedAt: parseTime(bag.ProcessedAt)}
		if bag.ChunkCount != nil {
			s.ChunkCount = *bag.ChunkCount
		}
		if bag.MarkdownLength != nil {
			s.MarkdownLength = *bag.MarkdownLength
		}
		return s
	case bag.Error != "":
		return Failed{Error: bag.Error, FailedAt: parseTime(bag.FailedAt)}
	default:
		return Pending{}
	}
}

func parseTime(v string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}
	}
	return t
}
