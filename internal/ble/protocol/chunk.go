package protocol

// ATTHeaderSize is the per-write ATT overhead subtracted from the MTU.
const ATTHeaderSize = 3

// DefaultChunkSize is the payload size of a write when no MTU was negotiated
// (default ATT MTU of 23 minus the header).
const DefaultChunkSize = 20

// ChunkSize returns the write payload size for a negotiated MTU. An MTU too
// small to carry any payload yields DefaultChunkSize.
func ChunkSize(mtu int) int {
	if mtu <= ATTHeaderSize {
		return DefaultChunkSize
	}
	return mtu - ATTHeaderSize
}

// Split cuts message into contiguous chunks of at most chunkSize bytes. Only
// the last chunk may be shorter. Returns nil for an empty message or a
// non-positive chunkSize.
//
// Split is byte-exact: a multi-byte rune may straddle two chunks. The
// receiver reassembles bytes, not runes, so this is safe on the wire.
func Split(message string, chunkSize int) []string {
	if len(message) == 0 || chunkSize < 1 {
		return nil
	}
	chunks := make([]string, 0, (len(message)+chunkSize-1)/chunkSize)
	for len(message) > 0 {
		n := min(chunkSize, len(message))
		chunks = append(chunks, message[:n])
		message = message[n:]
	}
	return chunks
}
