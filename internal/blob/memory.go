package blob

import (
	memorystore "cellxplore/internal/infra/blob/memory"
)

// MemoryStore is the in-memory backend; it is both a Store and a Writer.
type MemoryStore = memorystore.Store

// NewMemory returns an in-memory blob store suitable for tests and fixtures.
func NewMemory() *MemoryStore { return memorystore.New() }
