package myth

import (
	"errors"
	"fmt"

	bitset "github.com/bits-and-blooms/bitset"
)

// errUntrackedBlock marks an attempt to touch a bitmap bit for a block the
// bitmap does not cover.
var errUntrackedBlock = errors.New("block is not tracked by the bitmap")

// BitmapState is the taxonomy of a single bitmap bit. Invalid is returned
// for queries outside the tracked range.
type BitmapState uint8

const (
	BlockFree BitmapState = iota
	BlockAllocated
	BlockInvalid
)

func (s BitmapState) String() string {
	switch s {
	case BlockFree:
		return "Free"
	case BlockAllocated:
		return "Allocated"
	case BlockInvalid:
		return "Invalid"
	}
	return "((Invalid, Non-Standard State))"
}

// bitmapPos is a position within the bitmap region: which bitmap block the
// bit lives in, the byte within that block, and the bit within that byte.
type bitmapPos struct {
	Block      uint64
	ByteOffset uint16
	BitOffset  uint8
}

// resolveFromBlock maps a tracked block to its bitmap position. The bitmap
// starts tracking blocks at AddrNodeTable; everything before it (metadata
// block and the bitmap itself) is untracked and permanently reserved.
func (m *Meta) resolveFromBlock(block uint64) bitmapPos {
	perBlock := uint64(m.BlockSize) * 8
	tracked := block - m.AddrNodeTable

	return bitmapPos{
		Block:      m.AddrBitmap + tracked/perBlock,
		ByteOffset: uint16((tracked % perBlock) / 8),
		BitOffset:  uint8(tracked % 8),
	}
}

// resolveToBlock is the inverse of resolveFromBlock.
func (m *Meta) resolveToBlock(pos bitmapPos) uint64 {
	perBlock := uint64(m.BlockSize) * 8
	blockIndex := pos.Block - m.AddrBitmap
	return m.AddrNodeTable + blockIndex*perBlock + uint64(pos.ByteOffset)*8 + uint64(pos.BitOffset)
}

// CheckBlock reports whether a block is free or allocated. Blocks before
// the node table are not tracked and report Invalid, as does any I/O
// failure while reading the bitmap byte.
func (fs *FileSystem) CheckBlock(block uint64) BitmapState {
	if block < fs.meta.AddrNodeTable {
		return BlockInvalid
	}

	pos := fs.meta.resolveFromBlock(block)
	if pos.Block >= fs.meta.AddrNodeTable {
		return BlockInvalid
	}

	var b [1]byte
	if _, err := fs.file.ReadAt(b[:], int64(pos.Block*uint64(fs.meta.BlockSize)+uint64(pos.ByteOffset))); err != nil {
		return BlockInvalid
	}

	if b[0]&(1<<pos.BitOffset) != 0 {
		return BlockAllocated
	}
	return BlockFree
}

// SetBlock flips a single bitmap bit with a byte-granular read-modify-write.
// Block 0 and any block below the node table are refused.
func (fs *FileSystem) SetBlock(block uint64, state BitmapState) error {
	if block == 0 {
		return fmt.Errorf("block 0 is never tracked by the bitmap: %w", errUntrackedBlock)
	}
	if block < fs.meta.AddrNodeTable {
		return fmt.Errorf("the bitmap tracks no blocks before the node table at block %d, refusing to set block %d: %w", fs.meta.AddrNodeTable, block, errUntrackedBlock)
	}

	pos := fs.meta.resolveFromBlock(block)
	addr := int64(pos.Block*uint64(fs.meta.BlockSize) + uint64(pos.ByteOffset))

	var b [1]byte
	if _, err := fs.file.ReadAt(b[:], addr); err != nil {
		return fmt.Errorf("could not read bitmap byte %d in block %d: %v: %w", pos.ByteOffset, pos.Block, err, WriteDiskError)
	}

	if state == BlockAllocated {
		b[0] |= 1 << pos.BitOffset
	} else {
		b[0] &^= 1 << pos.BitOffset
	}

	if _, err := fs.file.WriteAt(b[:], addr); err != nil {
		return fmt.Errorf("could not write bitmap byte %d in block %d: %v: %w", pos.ByteOffset, pos.Block, err, WriteDiskError)
	}
	return nil
}

// bitmapSnapshot is an in-memory copy of the whole bitmap region, taken
// once per write so the free-block scan does not hit the disk per bit. The
// used index mirrors the raw bytes bit for bit (LSB first within a byte,
// matching the on-disk order).
type bitmapSnapshot struct {
	raw  []byte
	used *bitset.BitSet
}

// loadBitmap reads the bitmap region linearly from disk and builds the
// bit index.
func (fs *FileSystem) loadBitmap() (*bitmapSnapshot, error) {
	size := (fs.meta.AddrNodeTable - fs.meta.AddrBitmap) * uint64(fs.meta.BlockSize)
	raw := make([]byte, size)
	if _, err := fs.file.ReadAt(raw, int64(fs.meta.AddrBitmap*uint64(fs.meta.BlockSize))); err != nil {
		return nil, fmt.Errorf("could not read bitmap at block %d: %v: %w", fs.meta.AddrBitmap, err, WriteDiskError)
	}

	used := bitset.New(uint(size * 8))
	for i, byt := range raw {
		if byt == 0 {
			continue
		}
		for bit := uint(0); bit < 8; bit++ {
			if byt&(1<<bit) != 0 {
				used.Set(uint(i)*8 + bit)
			}
		}
	}

	return &bitmapSnapshot{raw: raw, used: used}, nil
}

// bits returns how many blocks the snapshot can describe.
func (s *bitmapSnapshot) bits() uint {
	return uint(len(s.raw)) * 8
}
