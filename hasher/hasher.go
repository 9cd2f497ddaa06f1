package hasher

import (
	"sync"

	"github.com/cespare/xxhash/v2"
)

// Fingerprint identifies file content within a single run.
type Fingerprint struct {
	Sum  uint64
	Size int
}

func Sum(content []byte) Fingerprint {
	return Fingerprint{Sum: xxhash.Sum64(content), Size: len(content)}
}

// Registry remembers fingerprints seen so far. It is safe for concurrent use;
// a nil Registry accepts everything.
type Registry struct {
	mu   sync.Mutex
	seen map[Fingerprint]string
}

func NewRegistry() *Registry {
	return &Registry{seen: make(map[Fingerprint]string)}
}

// Add records content under name. It returns the name of the first file with
// identical content and false when the content was already registered.
func (r *Registry) Add(name string, content []byte) (string, bool) {
	if r == nil {
		return "", true
	}
	fp := Sum(content)
	r.mu.Lock()
	defer r.mu.Unlock()
	if first, ok := r.seen[fp]; ok {
		return first, false
	}
	r.seen[fp] = name
	return name, true
}

func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.seen)
}
