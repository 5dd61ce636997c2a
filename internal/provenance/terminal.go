package provenance

// IsTerminal reports whether a transfer of count bytes at offset ended
// exactly at size, the file's length after the operation. It is a
// heuristic for "the whole file was just read or written".
func IsTerminal(offset, count, size int64) bool {
	return offset+count == size
}
