package myth

import (
	"encoding/binary"
	"fmt"

	log "github.com/sirupsen/logrus"
)

// dataStorage is the block budget for one node's content: the raw byte
// size, the data blocks holding payload, and the total including every
// indirection block needed to address those data blocks.
type dataStorage struct {
	Size        uint64
	DataBlocks  uint64
	TotalBlocks uint64
}

// calculateDataStorage computes the block budget for size bytes of
// overflow content (the part that did not fit inline). Data is placed in
// up to 12 direct blocks, then behind singly, doubly and triply indirect
// index blocks, each index block holding BlockSize/8 packed block
// pointers. WriteTooBig is returned when even the triply tier cannot
// address the data with the volume's block size.
func (m *Meta) calculateDataStorage(size uint64) (dataStorage, error) {
	ptrsPerBlock := uint64(m.BlockSize) / 8

	storage := dataStorage{
		Size:       size,
		DataBlocks: divCeil(size, uint64(m.BlockSize)),
	}

	if storage.DataBlocks <= DirectDataBlocks {
		storage.TotalBlocks = storage.DataBlocks
		return storage, nil
	}

	remaining := storage.DataBlocks
	storage.TotalBlocks += DirectDataBlocks
	remaining -= DirectDataBlocks

	// Singly indirect block itself, then its data leaves.
	storage.TotalBlocks++
	singlyCapacity := ptrsPerBlock
	singlyLeaves := minU64(remaining, singlyCapacity)
	storage.TotalBlocks += singlyLeaves
	remaining -= singlyLeaves

	if remaining > 0 {
		// Doubly index block, its leaves, and the mid-level singly
		// index blocks those leaves hang off.
		storage.TotalBlocks++
		doublyCapacity := singlyCapacity * ptrsPerBlock
		doublyLeaves := minU64(remaining, doublyCapacity)
		doublySinglies := divCeil(doublyLeaves, ptrsPerBlock)
		storage.TotalBlocks += doublyLeaves + doublySinglies
		remaining -= doublyLeaves

		if remaining > 0 {
			storage.TotalBlocks++
			triplyCapacity := doublyCapacity * ptrsPerBlock
			triplyLeaves := minU64(remaining, triplyCapacity)
			triplyDoublies := divCeil(triplyLeaves, doublyCapacity)
			triplySinglies := divCeil(triplyLeaves, ptrsPerBlock)
			storage.TotalBlocks += triplyLeaves + triplyDoublies + triplySinglies
			remaining -= triplyLeaves

			if remaining > 0 {
				return dataStorage{}, fmt.Errorf("%d bytes cannot be addressed even with triply indirection at block size %d: %w", size, m.BlockSize, WriteTooBig)
			}
		}
	}

	return storage, nil
}

// findFreeBlocks scans the bitmap snapshot for count free blocks, starting
// at the bit for AddrData: blocks below AddrData hold the node table and
// must never be handed out as data blocks. Candidates past the end of the
// volume (slack bits of the last bitmap block) are never returned.
func (fs *FileSystem) findFreeBlocks(snapshot *bitmapSnapshot, count uint64) ([]uint64, error) {
	blocks := make([]uint64, 0, count)

	start := uint(fs.meta.AddrData - fs.meta.AddrNodeTable)
	limit := uint(fs.meta.Size - fs.meta.AddrNodeTable)
	if max := snapshot.bits(); limit > max {
		limit = max
	}

	for i, ok := snapshot.used.NextClear(start); ok && i < limit; i, ok = snapshot.used.NextClear(i + 1) {
		blocks = append(blocks, fs.meta.AddrNodeTable+uint64(i))
		if uint64(len(blocks)) == count {
			return blocks, nil
		}
	}

	return nil, fmt.Errorf("the disk does not have %d free blocks: %w", count, WriteInsufficientDiskSpace)
}

// readBlockPointers loads one index block and unpacks its block pointers.
func (fs *FileSystem) readBlockPointers(block uint64) ([]uint64, error) {
	b := make([]byte, fs.meta.BlockSize)
	if _, err := fs.file.ReadAt(b, int64(block*uint64(fs.meta.BlockSize))); err != nil {
		return nil, fmt.Errorf("could not read index block %d: %v: %w", block, err, WriteDiskError)
	}

	ptrs := make([]uint64, uint64(fs.meta.BlockSize)/8)
	for i := range ptrs {
		ptrs[i] = binary.LittleEndian.Uint64(b[i*8 : i*8+8])
	}
	return ptrs, nil
}

// writeBlockPointers persists a pointer list as one packed index block,
// zero-padded to the block size. This is the exact layout the teardown
// walk reads back.
func (fs *FileSystem) writeBlockPointers(block uint64, ptrs []uint64) error {
	b := make([]byte, fs.meta.BlockSize)
	for i, ptr := range ptrs {
		binary.LittleEndian.PutUint64(b[i*8:i*8+8], ptr)
	}
	if _, err := fs.file.WriteAt(b, int64(block*uint64(fs.meta.BlockSize))); err != nil {
		return fmt.Errorf("could not write index block %d: %v: %w", block, err, WriteDiskError)
	}
	return nil
}

// setDirectBlock marks one data block's bit, tolerating zero pointers and
// pointers that escaped the tracked range (a corrupted tree must not take
// the teardown down with it).
func (fs *FileSystem) setDirectBlock(block uint64, state BitmapState) error {
	if block == 0 {
		return nil
	}
	switch fs.CheckBlock(block) {
	case state:
		return nil
	case BlockInvalid:
		log.Warnf("ignoring out-of-range block %d while walking an indirect tree, possible corruption", block)
		return nil
	}
	return fs.SetBlock(block, state)
}

// setBlocksBySinglyIndirect marks a singly indirect block and every data
// block it points at. The bit-already-in-target-state guard terminates the
// walk on partially written or self-referential trees.
func (fs *FileSystem) setBlocksBySinglyIndirect(addr uint64, state BitmapState) error {
	if addr == 0 || fs.CheckBlock(addr) == state {
		return nil
	}
	if fs.CheckBlock(addr) == BlockInvalid {
		log.Warnf("ignoring out-of-range singly indirect block %d, possible corruption", addr)
		return nil
	}
	if err := fs.SetBlock(addr, state); err != nil {
		return err
	}

	ptrs, err := fs.readBlockPointers(addr)
	if err != nil {
		return err
	}
	for _, ptr := range ptrs {
		if err := fs.setDirectBlock(ptr, state); err != nil {
			return err
		}
	}
	return nil
}

// setBlocksByDoublyIndirect marks a doubly indirect block and recurses
// into its children as singly indirect blocks.
func (fs *FileSystem) setBlocksByDoublyIndirect(addr uint64, state BitmapState) error {
	if addr == 0 || fs.CheckBlock(addr) == state {
		return nil
	}
	if fs.CheckBlock(addr) == BlockInvalid {
		log.Warnf("ignoring out-of-range doubly indirect block %d, possible corruption", addr)
		return nil
	}
	if err := fs.SetBlock(addr, state); err != nil {
		return err
	}

	ptrs, err := fs.readBlockPointers(addr)
	if err != nil {
		return err
	}
	for _, ptr := range ptrs {
		if err := fs.setBlocksBySinglyIndirect(ptr, state); err != nil {
			return err
		}
	}
	return nil
}

// setBlocksByTriplyIndirect marks a triply indirect block and recurses
// into its children as doubly indirect blocks.
func (fs *FileSystem) setBlocksByTriplyIndirect(addr uint64, state BitmapState) error {
	if addr == 0 || fs.CheckBlock(addr) == state {
		return nil
	}
	if fs.CheckBlock(addr) == BlockInvalid {
		log.Warnf("ignoring out-of-range triply indirect block %d, possible corruption", addr)
		return nil
	}
	if err := fs.SetBlock(addr, state); err != nil {
		return err
	}

	ptrs, err := fs.readBlockPointers(addr)
	if err != nil {
		return err
	}
	for _, ptr := range ptrs {
		if err := fs.setBlocksByDoublyIndirect(ptr, state); err != nil {
			return err
		}
	}
	return nil
}
