package catalog

import (
	"context"

	"github.com/schlafly/bayestar/internal/model"
	sperrors "github.com/schlafly/bayestar/pkg/errors"
)

// MemorySource serves records held in memory, applying the query in Go.
type MemorySource struct {
	Records   []model.RawRecord
	BlockSize int
}

// NewMemorySource creates a source over records.
func NewMemorySource(records []model.RawRecord, blockSize int) *MemorySource {
	return &MemorySource{Records: records, BlockSize: blockSize}
}

// Stream implements Source.
func (s *MemorySource) Stream(ctx context.Context, q Query, out chan<- model.Block) error {
	size := s.BlockSize
	if size <= 0 {
		size = 1024
	}

	var block model.Block
	for i := range s.Records {
		if !q.Match(&s.Records[i]) {
			continue
		}
		block = append(block, s.Records[i])
		if len(block) == size {
			select {
			case out <- block:
			case <-ctx.Done():
				return sperrors.ContextCanceled("catalog stream")
			}
			block = nil
		}
	}
	if len(block) > 0 {
		select {
		case out <- block:
		case <-ctx.Done():
			return sperrors.ContextCanceled("catalog stream")
		}
	}
	return nil
}

// Close implements Source.
func (s *MemorySource) Close() error {
	return nil
}
