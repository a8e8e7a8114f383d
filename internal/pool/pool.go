// Package pool provides reusable record blocks using sync.Pool.
package pool

import (
	"sync"

	"github.com/schlafly/bayestar/internal/model"
)

// DefaultBlockSize is the default number of records per block.
const DefaultBlockSize = 4096

// BlockPool manages reusable record blocks. A block handed to Put must no
// longer be referenced by the caller.
type BlockPool struct {
	pool sync.Pool
	size int
}

// NewBlockPool creates a pool of blocks with capacity blockSize.
func NewBlockPool(blockSize int) *BlockPool {
	if blockSize <= 0 {
		blockSize = DefaultBlockSize
	}
	bp := &BlockPool{size: blockSize}
	bp.pool.New = func() any {
		b := make(model.Block, 0, blockSize)
		return &b
	}
	return bp
}

// Size returns the capacity of blocks handed out by the pool.
func (p *BlockPool) Size() int {
	return p.size
}

// Get retrieves an empty block from the pool.
func (p *BlockPool) Get() model.Block {
	return (*p.pool.Get().(*model.Block))[:0]
}

// Put returns a block to the pool. Blocks that grew past twice the pool
// size are dropped so one oversized batch does not pin memory.
func (p *BlockPool) Put(b model.Block) {
	if cap(b) == 0 || cap(b) > 2*p.size {
		return
	}
	b = b[:0]
	p.pool.Put(&b)
}
