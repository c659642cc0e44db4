// Package imqconfig loads the imqd daemon's configuration from a layered
// set of YAML/JSON files plus environment-variable overrides. Programmatic
// embedders of pkg/imq never need this package — they build imq.Options
// directly; this exists for the daemon entrypoint.
package imqconfig

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

var (
	ErrTooManyFiles   = errors.New("imqconfig: too many config files")
	ErrFileTooLarge   = errors.New("imqconfig: config file too large")
	ErrInvalidRoot    = errors.New("imqconfig: root directory invalid")
	ErrUnsupportedExt = errors.New("imqconfig: unsupported config file extension")
)

const (
	// MaxFiles bounds how many layer files Load will read.
	MaxFiles = 8
	// MaxFileBytes bounds a single config file's size.
	MaxFileBytes = 2 << 20 // 2 MiB
	// MaxEnvVars bounds how many matching env vars Load will apply.
	MaxEnvVars = 256
)

// Options controls how Load resolves its layers.
type Options struct {
	// Root is the directory conventionally holding "imqd.yaml" (base) and
	// "env/<Env>/imqd.yaml" (override).
	Root string
	// Env selects the optional environment-specific layer; empty disables it.
	Env string
	// EnvPrefix is the environment-variable override prefix; default "IMQ_".
	EnvPrefix string
	// PathDelimiter separates nested path segments in an overriding env var
	// name; default "__" (e.g. IMQ_SAFEDELIVERY__TTL).
	PathDelimiter string
}

func (o Options) withDefaults() Options {
	if o.EnvPrefix == "" {
		o.EnvPrefix = "IMQ_"
	}
	if o.PathDelimiter == "" {
		o.PathDelimiter = "__"
	}
	return o
}

// Document is one loaded, parsed layer.
type Document struct {
	Path   string
	Tier   string // base|env|explicit
	SHA256 string
	Data   map[string]any
}

// Bundle is the deterministic merge of every loaded layer plus env overrides.
type Bundle struct {
	Documents []Document
	Data      map[string]any
}

// Load reads the base layer, an optional env layer, and environment-variable
// overrides, merging them deterministically (later layers win; see merge.go).
func Load(opts Options) (Bundle, error) {
	opts = opts.withDefaults()
	if opts.Root == "" {
		return Bundle{}, ErrInvalidRoot
	}
	info, err := os.Stat(opts.Root)
	if err != nil || !info.IsDir() {
		return Bundle{}, fmt.Errorf("%w: %s", ErrInvalidRoot, opts.Root)
	}

	var docs []Document
	fileCount := 0

	readLayer := func(path, tier string) error {
		if _, err := os.Stat(path); err != nil {
			return nil // optional layer
		}
		fileCount++
		if fileCount > MaxFiles {
			return ErrTooManyFiles
		}
		doc, err := readDocument(path, tier)
		if err != nil {
			return err
		}
		docs = append(docs, doc)
		return nil
	}

	if err := readLayer(filepath.Join(opts.Root, "imqd.yaml"), "base"); err != nil {
		return Bundle{}, err
	}
	if err := readLayer(filepath.Join(opts.Root, "imqd.yml"), "base"); err != nil {
		return Bundle{}, err
	}
	if err := readLayer(filepath.Join(opts.Root, "imqd.json"), "base"); err != nil {
		return Bundle{}, err
	}
	if opts.Env != "" {
		envDir := filepath.Join(opts.Root, "env", opts.Env)
		for _, name := range []string{"imqd.yaml", "imqd.yml", "imqd.json"} {
			if err := readLayer(filepath.Join(envDir, name), "env"); err != nil {
				return Bundle{}, err
			}
		}
	}

	merged := map[string]any{}
	for _, d := range docs {
		merged = deepMergeDeterministic(merged, d.Data)
	}

	if err := applyEnvOverrides(merged, opts.EnvPrefix, opts.PathDelimiter); err != nil {
		return Bundle{}, err
	}

	return Bundle{Documents: docs, Data: merged}, nil
}

func readDocument(path, tier string) (Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return Document{}, err
	}
	defer f.Close()

	limited := io.LimitReader(f, MaxFileBytes+1)
	raw, err := io.ReadAll(limited)
	if err != nil {
		return Document{}, err
	}
	if len(raw) > MaxFileBytes {
		return Document{}, fmt.Errorf("%w: %s", ErrFileTooLarge, path)
	}

	var data map[string]any
	switch ext := filepath.Ext(path); ext {
	case ".json":
		if err := json.Unmarshal(raw, &data); err != nil {
			return Document{}, fmt.Errorf("imqconfig: parse %s: %w", path, err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(raw, &data); err != nil {
			return Document{}, fmt.Errorf("imqconfig: parse %s: %w", path, err)
		}
	default:
		return Document{}, fmt.Errorf("%w: %s", ErrUnsupportedExt, ext)
	}

	sum := sha256.Sum256(raw)
	return Document{
		Path:   path,
		Tier:   tier,
		SHA256: hex.EncodeToString(sum[:]),
		Data:   data,
	}, nil
}

// applyEnvOverrides walks environ variables with the given prefix, inserting
// them into merged along PathDelimiter-separated nested paths. Values are
// parsed as JSON scalars/objects when possible, else kept as raw strings.
func applyEnvOverrides(merged map[string]any, prefix, delim string) error {
	applied := 0
	for _, kv := range os.Environ() {
		idx := strings.IndexByte(kv, '=')
		if idx < 0 {
			continue
		}
		key, val := kv[:idx], kv[idx+1:]
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		applied++
		if applied > MaxEnvVars {
			return ErrTooManyFiles
		}
		path := strings.Split(strings.TrimPrefix(key, prefix), delim)
		insertPath(merged, path, decodeEnvValue(val))
	}
	return nil
}

func decodeEnvValue(val string) any {
	var v any
	if err := json.Unmarshal([]byte(val), &v); err == nil {
		return v
	}
	return val
}

func insertPath(root map[string]any, path []string, value any) {
	cur := root
	for i, seg := range path {
		seg = strings.ToLower(seg)
		if i == len(path)-1 {
			cur[seg] = value
			return
		}
		next, ok := cur[seg].(map[string]any)
		if !ok {
			next = map[string]any{}
			cur[seg] = next
		}
		cur = next
	}
}

// As decodes the merged bundle into a destination struct via JSON tags,
// giving callers (e.g. cmd/imqd) a typed view without this package needing
// to know imq.Options's shape.
func (b Bundle) As(dest any) error {
	raw, err := json.Marshal(b.Data)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, dest)
}
