// Package all registers every built-in storage backend.
package all

import (
	_ "github.com/roach88/memstate/internal/storage/badger"
	_ "github.com/roach88/memstate/internal/storage/file"
	_ "github.com/roach88/memstate/internal/storage/memory"
	_ "github.com/roach88/memstate/internal/storage/sqlite"
)
