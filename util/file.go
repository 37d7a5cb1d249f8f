package util

import "io"

// File is the backing store for a Myth volume: a byte-addressable image,
// usually an *os.File, but anything that can read, write and seek works,
// which makes testing against a temp file or a memory buffer trivial.
type File interface {
	io.ReaderAt
	io.WriterAt
	io.Seeker
}

// WritableFile is a File whose size can be changed. Formatting a volume
// truncates the image to the configured size before laying anything out.
type WritableFile interface {
	File
	Truncate(size int64) error
}
