package identity

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/dgraph-io/ristretto/v2"
	"go.uber.org/zap"
)

// DefaultCacheTTL bounds how long a resolved identity is served from cache.
const DefaultCacheTTL = 5 * time.Minute

// DefaultLoadTimeout bounds a cold identity load. A timeout is the source's
// failure, reported to the caller, never an indefinite stall.
const DefaultLoadTimeout = 5 * time.Second

// Source loads the raw identity record for an agent name.
type Source interface {
	Load(ctx context.Context, name string) ([]byte, error)
}

var validAgentName = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)

// DirSource reads identity records from <dir>/<name>.yaml.
type DirSource struct {
	dir string
}

// NewDirSource creates a Source over a directory of identity records.
func NewDirSource(dir string) *DirSource {
	return &DirSource{dir: dir}
}

// Load reads the record file for the given agent name. Names that could
// escape the directory are rejected.
func (d *DirSource) Load(_ context.Context, name string) ([]byte, error) {
	if name == "" || strings.Contains(name, "..") || !validAgentName.MatchString(name) {
		return nil, fmt.Errorf("identity: invalid agent name %q", name)
	}
	data, err := os.ReadFile(filepath.Join(d.dir, name+".yaml"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoIdentity
		}
		return nil, fmt.Errorf("identity: read record for %q: %w", name, err)
	}
	return data, nil
}

// Resolver resolves agent names to validated identities through a TTL cache.
// Cache hits stay off the disk entirely; a cache-miss load is bounded by
// loadTimeout and validated before it is cached.
type Resolver struct {
	cache       *ristretto.Cache[string, *AgentIdentity]
	source      Source
	ttl         time.Duration
	loadTimeout time.Duration
	logger      *zap.Logger
}

// NewResolver creates a Resolver over the given source.
func NewResolver(source Source, logger *zap.Logger) (*Resolver, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	cache, err := ristretto.NewCache(&ristretto.Config[string, *AgentIdentity]{
		NumCounters: 10_000, // ~10x expected identity count
		MaxCost:     1_000,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("identity: create cache: %w", err)
	}
	return &Resolver{
		cache:       cache,
		source:      source,
		ttl:         DefaultCacheTTL,
		loadTimeout: DefaultLoadTimeout,
		logger:      logger.Named("identity"),
	}, nil
}

// Resolve returns the identity for an agent name. An empty name resolves to
// the anonymous system identity. Records whose validation reports hard
// errors are rejected; warnings are logged and tolerated.
func (r *Resolver) Resolve(ctx context.Context, name string) (*AgentIdentity, error) {
	if name == "" || name == SystemAgentName {
		return SystemIdentity(), nil
	}

	if id, ok := r.cache.Get(name); ok {
		return id, nil
	}

	loadCtx, cancel := context.WithTimeout(ctx, r.loadTimeout)
	defer cancel()

	data, err := r.source.Load(loadCtx, name)
	if err != nil {
		return nil, err
	}

	id, err := ParseRecord(data)
	if err != nil {
		return nil, err
	}

	report := Validate(id)
	if !report.Valid {
		return nil, fmt.Errorf("identity: record for %q is invalid: %s", name, strings.Join(report.Errors, "; "))
	}
	for _, w := range report.Warnings {
		r.logger.Warn("identity warning", zap.String("agent", name), zap.String("warning", w))
	}

	r.cache.SetWithTTL(name, id, 1, r.ttl)
	return id, nil
}

// Invalidate drops a cached identity so the next lookup hits the source.
func (r *Resolver) Invalidate(name string) {
	r.cache.Del(name)
}

// Close releases cache resources.
func (r *Resolver) Close() {
	r.cache.Close()
}
