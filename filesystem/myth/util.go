package myth

// trimNulls converts a fixed-width field to a string, dropping the zero
// padding. Fields are written NUL-padded on disk.
func trimNulls(b []byte) string {
	end := len(b)
	for end > 0 && b[end-1] == 0 {
		end--
	}
	return string(b[:end])
}

// divCeil divides towards ceiling rather than floor.
func divCeil(x, y uint64) uint64 {
	return (x + y - 1) / y
}

func minU64(x, y uint64) uint64 {
	if x < y {
		return x
	}
	return y
}

func minInt(x, y int) int {
	if x < y {
		return x
	}
	return y
}
