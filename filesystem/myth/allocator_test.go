package myth

import (
	"errors"
	"testing"
)

func TestCalculateDataStorage(t *testing.T) {
	m := &Meta{BlockSize: 512}
	// 64 pointers per 512-byte index block
	const p = 512 / 8

	tests := []struct {
		name  string
		size  uint64
		data  uint64
		total uint64
	}{
		{"empty", 0, 0, 0},
		{"one byte", 1, 1, 1},
		{"one block", 512, 1, 1},
		{"one block and one byte", 513, 2, 2},
		{"all direct", 12 * 512, 12, 12},
		{"first singly leaf", 12*512 + 1, 13, 12 + 1 + 1},
		{"singly full", (12 + p) * 512, 12 + p, 12 + 1 + p},
		{"first doubly leaf", (12+p)*512 + 1, 12 + p + 1, 12 + 1 + p + 1 + 1 + 1},
		{"doubly two singlies", (12 + p + p + 3) * 512, 12 + p + p + 3, 12 + 1 + p + 1 + (p + 3) + 2},
		{"doubly full", (12 + p + p*p) * 512, 12 + p + p*p, 12 + 1 + p + 1 + p*p + p},
		{"first triply leaf", (12+p+p*p)*512 + 1, 12 + p + p*p + 1, 12 + 1 + p + 1 + p*p + p + 1 + 1 + 1 + 1},
	}

	for _, tt := range tests {
		storage, err := m.calculateDataStorage(tt.size)
		if err != nil {
			t.Fatalf("%s: calculateDataStorage(%d) error: %v", tt.name, tt.size, err)
		}
		if storage.Size != tt.size {
			t.Fatalf("%s: size %d instead of %d", tt.name, storage.Size, tt.size)
		}
		if storage.DataBlocks != tt.data {
			t.Fatalf("%s: %d data blocks instead of %d", tt.name, storage.DataBlocks, tt.data)
		}
		if storage.TotalBlocks != tt.total {
			t.Fatalf("%s: %d total blocks instead of %d", tt.name, storage.TotalBlocks, tt.total)
		}
	}
}

func TestCalculateDataStorageTooBig(t *testing.T) {
	m := &Meta{BlockSize: 512}
	const p = 512 / 8

	capacity := uint64(12 + p + p*p + p*p*p)
	if _, err := m.calculateDataStorage(capacity * 512); err != nil {
		t.Fatalf("maximum addressable size rejected: %v", err)
	}
	if _, err := m.calculateDataStorage(capacity*512 + 1); !errors.Is(err, WriteTooBig) {
		t.Fatalf("expected TooBig past triply capacity, got %v", err)
	}
}

func TestFindFreeBlocksStartsAtDataRegion(t *testing.T) {
	fs := newTestVolume(t, 512, 1024, DefaultBytesPerNodeRatio)

	snapshot, err := fs.loadBitmap()
	if err != nil {
		t.Fatalf("loadBitmap error: %v", err)
	}
	blocks, err := fs.findFreeBlocks(snapshot, 3)
	if err != nil {
		t.Fatalf("findFreeBlocks error: %v", err)
	}
	want := []uint64{fs.meta.AddrData, fs.meta.AddrData + 1, fs.meta.AddrData + 2}
	for i := range want {
		if blocks[i] != want[i] {
			t.Fatalf("free blocks %v, want %v: node table blocks must never be allocated as data", blocks, want)
		}
	}
}

func TestFindFreeBlocksSkipsAllocated(t *testing.T) {
	fs := newTestVolume(t, 512, 1024, DefaultBytesPerNodeRatio)

	if err := fs.SetBlock(fs.meta.AddrData+1, BlockAllocated); err != nil {
		t.Fatalf("SetBlock error: %v", err)
	}

	snapshot, err := fs.loadBitmap()
	if err != nil {
		t.Fatalf("loadBitmap error: %v", err)
	}
	blocks, err := fs.findFreeBlocks(snapshot, 2)
	if err != nil {
		t.Fatalf("findFreeBlocks error: %v", err)
	}
	if blocks[0] != fs.meta.AddrData || blocks[1] != fs.meta.AddrData+2 {
		t.Fatalf("free blocks %v did not skip the allocated block", blocks)
	}
}

func TestFindFreeBlocksInsufficient(t *testing.T) {
	fs := newTestVolume(t, 512, 1024, DefaultBytesPerNodeRatio)

	snapshot, err := fs.loadBitmap()
	if err != nil {
		t.Fatalf("loadBitmap error: %v", err)
	}
	available := fs.meta.Size - fs.meta.AddrData
	if _, err := fs.findFreeBlocks(snapshot, available+1); !errors.Is(err, WriteInsufficientDiskSpace) {
		t.Fatalf("expected InsufficientDiskSpace past the volume end, got %v", err)
	}
	if blocks, err := fs.findFreeBlocks(snapshot, available); err != nil {
		t.Fatalf("findFreeBlocks for the whole data region error: %v", err)
	} else if last := blocks[len(blocks)-1]; last != fs.meta.Size-1 {
		t.Fatalf("last free block is %d instead of %d", last, fs.meta.Size-1)
	}
}

func TestIndirectTeardownSelfReference(t *testing.T) {
	fs := newTestVolume(t, 512, 1024, DefaultBytesPerNodeRatio)

	// hand-craft a corrupted singly index that points at itself
	index := fs.meta.AddrData + 4
	if err := fs.SetBlock(index, BlockAllocated); err != nil {
		t.Fatalf("SetBlock error: %v", err)
	}
	if err := fs.writeBlockPointers(index, []uint64{index, index}); err != nil {
		t.Fatalf("writeBlockPointers error: %v", err)
	}

	// the walk must terminate and leave the block free
	if err := fs.setBlocksBySinglyIndirect(index, BlockFree); err != nil {
		t.Fatalf("teardown on a self-referential index error: %v", err)
	}
	if state := fs.CheckBlock(index); state != BlockFree {
		t.Fatalf("self-referential index reported %s after teardown instead of Free", state)
	}
}

func TestIndirectTeardownZeroAddress(t *testing.T) {
	fs := newTestVolume(t, 512, 1024, DefaultBytesPerNodeRatio)
	if err := fs.setBlocksBySinglyIndirect(0, BlockFree); err != nil {
		t.Fatalf("teardown of address 0 error: %v", err)
	}
	if err := fs.setBlocksByTriplyIndirect(0, BlockFree); err != nil {
		t.Fatalf("teardown of address 0 error: %v", err)
	}
}

func TestBlockPointerRoundTrip(t *testing.T) {
	fs := newTestVolume(t, 512, 1024, DefaultBytesPerNodeRatio)

	block := fs.meta.AddrData + 7
	ptrs := []uint64{19, 20, 25}
	if err := fs.writeBlockPointers(block, ptrs); err != nil {
		t.Fatalf("writeBlockPointers error: %v", err)
	}

	read, err := fs.readBlockPointers(block)
	if err != nil {
		t.Fatalf("readBlockPointers error: %v", err)
	}
	if len(read) != int(fs.meta.BlockSize)/8 {
		t.Fatalf("index block holds %d pointers instead of %d", len(read), fs.meta.BlockSize/8)
	}
	for i, want := range ptrs {
		if read[i] != want {
			t.Fatalf("pointer %d read back as %d instead of %d", i, read[i], want)
		}
	}
	for _, rest := range read[len(ptrs):] {
		if rest != 0 {
			t.Fatal("index block slack is not zero-padded")
		}
	}
}
