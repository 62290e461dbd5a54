package local

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/cbodonnell/sessionkeeper/pkg/log"
	toml "github.com/pelletier/go-toml/v2"
)

const (
	fileSchemaVersion = 1
	stateFileMode     = 0o600
	stateDirMode      = 0o700
	tempFilePattern   = ".state-*.toml.tmp"
)

var _ Storage = &FileStorage{}

// ErrCorruptStateFile is returned by Get when the state file cannot be
// decoded. Set and Remove replace such a file.
var ErrCorruptStateFile = errors.New("corrupt state file")

// FileStorage keeps slots in a single TOML file. Every write replaces the
// file through a temp file and rename, so readers see either the old or the
// new contents.
type FileStorage struct {
	path string
	mu   *sync.RWMutex
}

type fileSchema struct {
	Version int               `toml:"version"`
	Slots   map[string]string `toml:"slots"`
}

var (
	lockRegistryMu sync.Mutex
	pathLockMap    = map[string]*sync.RWMutex{}
)

type NewFileStorageOptions struct {
	Path string
}

func NewFileStorage(opts NewFileStorageOptions) (*FileStorage, error) {
	if opts.Path == "" {
		return nil, errors.New("state path is empty")
	}
	absPath, err := filepath.Abs(opts.Path)
	if err != nil {
		return nil, fmt.Errorf("resolve state path: %w", err)
	}
	absPath = filepath.Clean(absPath)
	return &FileStorage{path: absPath, mu: lockForPath(absPath)}, nil
}

// Path returns the file backing the storage.
func (f *FileStorage) Path() string {
	return f.path
}

func (f *FileStorage) Get(key string) (string, bool, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	file, err := f.readSchema()
	if err != nil {
		return "", false, err
	}
	value, ok := file.Slots[key]
	return value, ok, nil
}

func (f *FileStorage) Set(key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	file, _, err := f.readSchemaForWrite()
	if err != nil {
		return err
	}
	file.Slots[key] = value
	return f.writeSchema(file)
}

func (f *FileStorage) Remove(key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	file, corrupt, err := f.readSchemaForWrite()
	if err != nil {
		return err
	}
	if _, ok := file.Slots[key]; !ok && !corrupt {
		return nil
	}
	delete(file.Slots, key)
	return f.writeSchema(file)
}

// readSchemaForWrite reads the file about to be rewritten. A corrupt file
// is reported and replaced by an empty one.
func (f *FileStorage) readSchemaForWrite() (fileSchema, bool, error) {
	file, err := f.readSchema()
	if errors.Is(err, ErrCorruptStateFile) {
		log.Warn("Replacing %s: %v", f.path, err)
		return fileSchema{Version: fileSchemaVersion, Slots: map[string]string{}}, true, nil
	}
	return file, false, err
}

func (f *FileStorage) readSchema() (fileSchema, error) {
	file := fileSchema{Version: fileSchemaVersion, Slots: map[string]string{}}

	data, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return file, nil
		}
		return fileSchema{}, fmt.Errorf("read state file: %w", err)
	}

	if err := toml.Unmarshal(data, &file); err != nil {
		return fileSchema{}, fmt.Errorf("%w %s: %v", ErrCorruptStateFile, f.path, err)
	}
	if file.Version > fileSchemaVersion {
		return fileSchema{}, fmt.Errorf("unsupported state file version %d", file.Version)
	}
	if file.Slots == nil {
		file.Slots = map[string]string{}
	}
	return file, nil
}

func (f *FileStorage) writeSchema(file fileSchema) error {
	file.Version = fileSchemaVersion

	if err := os.MkdirAll(filepath.Dir(f.path), stateDirMode); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}

	data, err := toml.Marshal(file)
	if err != nil {
		return fmt.Errorf("encode state file: %w", err)
	}

	tempFile, err := os.CreateTemp(filepath.Dir(f.path), tempFilePattern)
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}

	tempName := tempFile.Name()
	cleanup := true
	defer func() {
		if cleanup {
			_ = os.Remove(tempName)
		}
	}()

	if _, err := tempFile.Write(data); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("write temp state file: %w", err)
	}
	if err := tempFile.Chmod(stateFileMode); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("chmod temp state file: %w", err)
	}
	if err := tempFile.Sync(); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("sync temp state file: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("close temp state file: %w", err)
	}

	if err := os.Rename(tempName, f.path); err != nil {
		return fmt.Errorf("replace state file: %w", err)
	}
	cleanup = false
	return nil
}

func lockForPath(path string) *sync.RWMutex {
	lockRegistryMu.Lock()
	defer lockRegistryMu.Unlock()

	if mu, ok := pathLockMap[path]; ok {
		return mu
	}
	mu := &sync.RWMutex{}
	pathLockMap[path] = mu
	return mu
}
