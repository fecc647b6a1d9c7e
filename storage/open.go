package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	EngineMemory  = "memory"
	EngineLevelDB = "leveldb"
	EngineBolt    = "bolt"
)

// Open returns the backend named by engine rooted at path.
func Open(engine, path string) (Database, error) {
	switch strings.ToLower(strings.TrimSpace(engine)) {
	case "", EngineMemory:
		return NewMemDB(), nil
	case EngineLevelDB:
		if strings.TrimSpace(path) == "" {
			return nil, fmt.Errorf("storage: leveldb requires a data path")
		}
		return NewLevelDB(path)
	case EngineBolt:
		if strings.TrimSpace(path) == "" {
			return nil, fmt.Errorf("storage: bolt requires a data path")
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("storage: create bolt dir: %w", err)
		}
		return NewBoltDB(path, nil)
	default:
		return nil, fmt.Errorf("storage: unknown engine %q", engine)
	}
}
