// Package schema keeps the versioned XML Schema Definitions the gateway
// validates inbound messages against.
//
// Versions are normalized by stripping trailing ".0" segments, so files named
// taf_cat_complete_3.5.0.0.xsd and lookups for "3.5" or "3.5.0" all resolve to
// the key "3.5". The registry is filled once at startup and is safe for
// concurrent lookups afterwards.
package schema

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"li-gateway/internal/common/errors"
	"li-gateway/internal/common/logging"

	"github.com/beevik/etree"
)

// Schema validates a standalone message element.
type Schema interface {
	Validate(el *etree.Element) error
}

// Compiler turns a schema file into a Schema.
type Compiler func(path string) (Schema, error)

// Registry maps normalized versions to compiled schemas.
type Registry struct {
	mu      sync.RWMutex
	schemas map[string]Schema
	compile Compiler
	logger  logging.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithCompiler replaces the libxml2 compiler.
func WithCompiler(c Compiler) Option {
	return func(r *Registry) {
		r.compile = c
	}
}

// WithLogger sets the registry logger.
func WithLogger(logger logging.Logger) Option {
	return func(r *Registry) {
		r.logger = logger
	}
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		schemas: make(map[string]Schema),
		compile: CompileFile,
		logger:  logging.GetGlobalLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.WithFields(logging.Field{Key: "component", Value: "schema_registry"})
	return r
}

// Normalize strips trailing ".0" segments until none remain.
func Normalize(version string) string {
	v := strings.TrimSpace(version)
	for strings.HasSuffix(v, ".0") {
		v = strings.TrimSuffix(v, ".0")
	}
	return v
}

// VersionFromFilename extracts the normalized version from a schema file
// name: the part after the last '_' and before the extension.
func VersionFromFilename(name string) (string, bool) {
	base := filepath.Base(name)
	base = strings.TrimSuffix(base, filepath.Ext(base))

	idx := strings.LastIndex(base, "_")
	if idx < 0 {
		return "", false
	}

	version := Normalize(base[idx+1:])
	if version == "" {
		return "", false
	}
	return version, true
}

// Load compiles every schema in dir, and in its direct sub-directories.
// An unreadable dir is fatal; individual bad files are skipped.
func (r *Registry) Load(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return errors.ConfigError("schema directory is not readable").
			WithContext("dir", dir).
			WithCode("SCHEMA_DIR")
	}

	var files []string
	for _, entry := range entries {
		path := filepath.Join(dir, entry.Name())
		if !entry.IsDir() {
			files = append(files, path)
			continue
		}

		nested, err := os.ReadDir(path)
		if err != nil {
			r.logger.Warn("Skipping unreadable schema sub-directory",
				logging.Field{Key: "dir", Value: path},
				logging.Field{Key: "error", Value: err.Error()},
			)
			continue
		}
		for _, n := range nested {
			if !n.IsDir() {
				files = append(files, filepath.Join(path, n.Name()))
			}
		}
	}

	loaded := 0
	for _, path := range files {
		if !strings.EqualFold(filepath.Ext(path), ".xsd") {
			continue
		}

		version, ok := VersionFromFilename(path)
		if !ok {
			r.logger.Warn("Skipping schema without version suffix", logging.Field{Key: "file", Value: path})
			continue
		}

		if _, exists := r.Lookup(version); exists {
			r.logger.Warn("Duplicate schema version, keeping the first",
				logging.Field{Key: "file", Value: path},
				logging.Field{Key: "version", Value: version},
			)
			continue
		}

		compiled, err := r.compile(path)
		if err != nil {
			r.logger.Error("Failed to compile schema", err,
				logging.Field{Key: "file", Value: path},
				logging.Field{Key: "version", Value: version},
			)
			continue
		}

		r.Register(version, compiled)
		loaded++
		r.logger.Info("Schema loaded",
			logging.Field{Key: "file", Value: path},
			logging.Field{Key: "version", Value: version},
		)
	}

	r.logger.Info("Schema registry ready", logging.Field{Key: "schemas", Value: loaded})
	return nil
}

// Register stores a schema under the normalized version.
func (r *Registry) Register(version string, s Schema) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.schemas[Normalize(version)] = s
}

// Lookup normalizes version and returns the matching schema.
func (r *Registry) Lookup(version string) (Schema, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.schemas[Normalize(version)]
	return s, ok
}

// Versions lists the registered keys in sorted order.
func (r *Registry) Versions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	versions := make([]string, 0, len(r.schemas))
	for v := range r.schemas {
		versions = append(versions, v)
	}
	sort.Strings(versions)
	return versions
}

// Close frees compiled schemas that hold native resources.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for version, s := range r.schemas {
		if f, ok := s.(interface{ Free() }); ok {
			f.Free()
		}
		delete(r.schemas, version)
	}
}
