package myth

import (
	"errors"
	"testing"
)

func TestBitmapPositionBijection(t *testing.T) {
	metas := []*Meta{
		{BlockSize: 512, AddrBitmap: 1, AddrNodeTable: 2},
		{BlockSize: 4096, AddrBitmap: 8, AddrNodeTable: 11},
		{BlockSize: 1024, AddrBitmap: 3, AddrNodeTable: 5},
	}

	for _, m := range metas {
		// block -> position -> block, across byte and bitmap-block boundaries
		perBlock := uint64(m.BlockSize) * 8
		for _, offset := range []uint64{0, 1, 7, 8, 9, 4095, perBlock - 1, perBlock, perBlock + 13} {
			block := m.AddrNodeTable + offset
			pos := m.resolveFromBlock(block)
			if got := m.resolveToBlock(pos); got != block {
				t.Fatalf("block %d resolved to %+v which resolved back to %d", block, pos, got)
			}
		}

		// position -> block -> position
		for _, pos := range []bitmapPos{
			{Block: m.AddrBitmap, ByteOffset: 0, BitOffset: 0},
			{Block: m.AddrBitmap, ByteOffset: 0, BitOffset: 7},
			{Block: m.AddrBitmap, ByteOffset: 17, BitOffset: 3},
			{Block: m.AddrBitmap + 1, ByteOffset: 5, BitOffset: 1},
		} {
			block := m.resolveToBlock(pos)
			if got := m.resolveFromBlock(block); got != pos {
				t.Fatalf("position %+v resolved to block %d which resolved back to %+v", pos, block, got)
			}
		}
	}
}

func TestBitmapFirstTrackedBlock(t *testing.T) {
	m := &Meta{BlockSize: 512, AddrBitmap: 1, AddrNodeTable: 2}
	pos := m.resolveFromBlock(m.AddrNodeTable)
	want := bitmapPos{Block: m.AddrBitmap, ByteOffset: 0, BitOffset: 0}
	if pos != want {
		t.Fatalf("first tracked block resolved to %+v instead of bit 0 of byte 0 of block %d", pos, m.AddrBitmap)
	}
}

func TestCheckAndSetBlock(t *testing.T) {
	fs := newTestVolume(t, 512, 1024, DefaultBytesPerNodeRatio)
	block := fs.meta.AddrData + 5

	if state := fs.CheckBlock(block); state != BlockFree {
		t.Fatalf("fresh data block reported %s instead of Free", state)
	}
	if err := fs.SetBlock(block, BlockAllocated); err != nil {
		t.Fatalf("SetBlock error: %v", err)
	}
	if state := fs.CheckBlock(block); state != BlockAllocated {
		t.Fatalf("block reported %s after allocation instead of Allocated", state)
	}

	// neighbours of the same bitmap byte are untouched
	if state := fs.CheckBlock(block + 1); state != BlockFree {
		t.Fatalf("neighbouring block reported %s instead of Free", state)
	}

	if err := fs.SetBlock(block, BlockFree); err != nil {
		t.Fatalf("SetBlock error: %v", err)
	}
	if state := fs.CheckBlock(block); state != BlockFree {
		t.Fatalf("block reported %s after freeing instead of Free", state)
	}
}

func TestSetBlockRefusals(t *testing.T) {
	fs := newTestVolume(t, 512, 1024, DefaultBytesPerNodeRatio)

	if err := fs.SetBlock(0, BlockAllocated); !errors.Is(err, errUntrackedBlock) {
		t.Fatalf("SetBlock(0) returned %v instead of refusing", err)
	}
	if err := fs.SetBlock(fs.meta.AddrNodeTable-1, BlockAllocated); !errors.Is(err, errUntrackedBlock) {
		t.Fatalf("SetBlock below the node table returned %v instead of refusing", err)
	}
	if state := fs.CheckBlock(fs.meta.AddrBitmap); state != BlockInvalid {
		t.Fatalf("CheckBlock below the node table reported %s instead of Invalid", state)
	}
}

func TestLoadBitmap(t *testing.T) {
	fs := newTestVolume(t, 512, 1024, DefaultBytesPerNodeRatio)

	snapshot, err := fs.loadBitmap()
	if err != nil {
		t.Fatalf("loadBitmap error: %v", err)
	}
	wantSize := (fs.meta.AddrNodeTable - fs.meta.AddrBitmap) * uint64(fs.meta.BlockSize)
	if uint64(len(snapshot.raw)) != wantSize {
		t.Fatalf("snapshot is %d bytes instead of expected %d", len(snapshot.raw), wantSize)
	}
	if snapshot.used.Any() {
		t.Fatal("fresh volume has allocated bits in the bitmap")
	}

	block := fs.meta.AddrData + 3
	if err := fs.SetBlock(block, BlockAllocated); err != nil {
		t.Fatalf("SetBlock error: %v", err)
	}
	snapshot, err = fs.loadBitmap()
	if err != nil {
		t.Fatalf("loadBitmap error: %v", err)
	}
	if !snapshot.used.Test(uint(block - fs.meta.AddrNodeTable)) {
		t.Fatal("snapshot does not reflect the allocated bit")
	}
	if got := snapshot.used.Count(); got != 1 {
		t.Fatalf("snapshot tracks %d allocated bits instead of 1", got)
	}
}
