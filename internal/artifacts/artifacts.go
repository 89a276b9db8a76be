// Package artifacts loads the per-circuit (wasm, provingKey,
// verificationKey) triples the prover/verifier need, from either a
// filesystem directory or an HTTP base URL, generalized from a
// compile-at-startup circuit manager that cached proving/verifying keys in
// a mutex-guarded map. Here the artifacts are precompiled externally and
// simply loaded, cached, and served as pure accessors after one eager Init
// call.
package artifacts

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"sync"
)

// CircuitName enumerates the fixed circuit set the pool uses.
type CircuitName string

const (
	CircuitCommitment CircuitName = "commitment"
	CircuitMerkleTree CircuitName = "merkleTree"
	CircuitWithdraw   CircuitName = "withdraw"
)

var allCircuits = []CircuitName{CircuitCommitment, CircuitMerkleTree, CircuitWithdraw}

// ErrFetchArtifact is returned when a network fetch fails or returns non-200.
var ErrFetchArtifact = errors.New("artifacts: fetch failed")

// ErrCircuitInitialization wraps any failure encountered during the single
// eager Init pass.
var ErrCircuitInitialization = errors.New("artifacts: circuit initialization failed")

// Bundle holds one circuit's loaded artifact bytes.
type Bundle struct {
	Wasm            []byte
	ProvingKey      []byte
	VerificationKey []byte
}

// Backend selects how artifacts are retrieved. Selection is a config flag,
// never runtime-sniffed.
type Backend int

const (
	BackendFilesystem Backend = iota
	BackendNetwork
)

// Loader loads every circuit's artifacts in one eager Init call and
// afterwards serves them through read-locked accessors. It does not
// initialize itself on first access: accessors return an error until Init
// has succeeded.
type Loader struct {
	backend Backend
	base    string // directory path or HTTP base URL
	client  *http.Client

	mu      sync.RWMutex
	bundles map[CircuitName]*Bundle
	loaded  bool
}

// New constructs a Loader for the given backend and base location.
func New(backend Backend, base string) *Loader {
	return &Loader{
		backend: backend,
		base:    base,
		client:  &http.Client{},
		bundles: make(map[CircuitName]*Bundle),
	}
}

// Init loads every circuit's (wasm, pk, vk) triple. Must be called once
// before any Get* accessor; a failure here is fatal to process startup.
func (l *Loader) Init() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.loaded {
		return nil
	}

	for _, name := range allCircuits {
		bundle, err := l.loadOne(name)
		if err != nil {
			return fmt.Errorf("%w: circuit %q: %v", ErrCircuitInitialization, name, err)
		}
		l.bundles[name] = bundle
	}
	l.loaded = true
	return nil
}

func (l *Loader) loadOne(name CircuitName) (*Bundle, error) {
	wasm, err := l.read(name, "wasm")
	if err != nil {
		return nil, err
	}
	pk, err := l.read(name, "zkey")
	if err != nil {
		return nil, err
	}
	vk, err := l.read(name, "vkey")
	if err != nil {
		return nil, err
	}
	return &Bundle{Wasm: wasm, ProvingKey: pk, VerificationKey: vk}, nil
}

func (l *Loader) read(name CircuitName, ext string) ([]byte, error) {
	rel := path.Join("artifacts", string(name)+"."+ext)
	switch l.backend {
	case BackendNetwork:
		url := l.base + "/" + rel
		resp, err := l.client.Get(url)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrFetchArtifact, err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("%w: %s returned %d", ErrFetchArtifact, url, resp.StatusCode)
		}
		return io.ReadAll(resp.Body)
	default:
		return os.ReadFile(path.Join(l.base, rel))
	}
}

// GetWasm returns the loaded wasm blob for the named circuit.
func (l *Loader) GetWasm(name CircuitName) ([]byte, error) {
	b, err := l.bundle(name)
	if err != nil {
		return nil, err
	}
	return b.Wasm, nil
}

// GetProvingKey returns the loaded proving key blob.
func (l *Loader) GetProvingKey(name CircuitName) ([]byte, error) {
	b, err := l.bundle(name)
	if err != nil {
		return nil, err
	}
	return b.ProvingKey, nil
}

// GetVerificationKey returns the loaded verification key blob.
func (l *Loader) GetVerificationKey(name CircuitName) ([]byte, error) {
	b, err := l.bundle(name)
	if err != nil {
		return nil, err
	}
	return b.VerificationKey, nil
}

func (l *Loader) bundle(name CircuitName) (*Bundle, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if !l.loaded {
		return nil, fmt.Errorf("artifacts: Init not called")
	}
	b, ok := l.bundles[name]
	if !ok {
		return nil, fmt.Errorf("artifacts: unknown circuit %q", name)
	}
	return b, nil
}
