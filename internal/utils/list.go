package utils

// ChunkSlice splits items into consecutive chunks of at most size elements.
// The last chunk may be shorter. A size below 1 yields a single chunk.
func ChunkSlice[T any](items []T, size int) [][]T {
	if len(items) == 0 {
		return nil
	}
	if size < 1 {
		return [][]T{items}
	}
	chunks := make([][]T, 0, (len(items)+size-1)/size)
	for size < len(items) {
		items, chunks = items[size:], append(chunks, items[:size:size])
	}
	return append(chunks, items)
}
