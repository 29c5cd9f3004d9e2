package storage

import (
	"bytes"
	"context"
	"io"
	"strings"
	"sync"

	exportapp "github.com/compliancesync/backend/internal/application/export"
	"github.com/compliancesync/backend/internal/domain/shared"
)

const memoryScheme = "mem://"

var _ exportapp.ArtifactStore = (*MemoryArtifactStore)(nil)

// MemoryArtifactStore keeps artifacts in process memory for development.
// It cannot issue download links, so artifacts are streamed by the API.
type MemoryArtifactStore struct {
	mu      sync.RWMutex
	objects map[string]memoryObject
}

type memoryObject struct {
	body        []byte
	contentType string
}

// NewMemoryArtifactStore creates an empty store
func NewMemoryArtifactStore() *MemoryArtifactStore {
	return &MemoryArtifactStore{objects: make(map[string]memoryObject)}
}

// Put stores a copy of body
func (m *MemoryArtifactStore) Put(_ context.Context, key string, body []byte, contentType string) (string, error) {
	if key == "" {
		return "", shared.ErrInvalidInput.WithMessage("Storage key is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = memoryObject{body: bytes.Clone(body), contentType: contentType}
	return memoryScheme + key, nil
}

// Open returns a reader over the stored artifact
func (m *MemoryArtifactStore) Open(_ context.Context, handle string) (io.ReadCloser, error) {
	key, ok := strings.CutPrefix(handle, memoryScheme)
	if !ok {
		return nil, shared.ErrInvalidInput.WithMessage("Artifact handle does not belong to this store")
	}
	m.mu.RLock()
	obj, found := m.objects[key]
	m.mu.RUnlock()
	if !found {
		return nil, shared.ErrNotFound.WithMessage("Artifact not found")
	}
	return io.NopCloser(bytes.NewReader(obj.body)), nil
}

// ContentType returns the content type recorded for handle
func (m *MemoryArtifactStore) ContentType(handle string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.objects[strings.TrimPrefix(handle, memoryScheme)].contentType
}

// Len returns the number of stored artifacts
func (m *MemoryArtifactStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}
