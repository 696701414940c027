// Package config loads overflow pipelines from YAML.
//
//	name: sessions
//	async: true
//	interval: 30s
//	validator:
//	  kind: memsize
//	  max: 64MiB
//	algorithm:
//	  kind: lfu
//	  ratio: true
//	action:
//	  kind: relocate
//	  store: {kind: bolt, path: /var/lib/sessions.db, compress: true}
//
// Durations use time.ParseDuration syntax; byte sizes accept anything
// go-humanize parses ("512KB", "1.5GiB", "1048576").
package config

import (
	"bytes"
	"errors"
	"io"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/IvanBrykalov/refcache/cacheerr"
)

// Validator kinds.
const (
	Capacity = "capacity"
	Expiry   = "expiry"
	MemUsage = "memusage"
	MemSize  = "memsize"
)

// Algorithm kinds.
const (
	LRU  = "lru"
	LFU  = "lfu"
	LIFO = "lifo"
	TwoQ = "twoq"
)

// Action kinds.
const (
	Remove   = "remove"
	Relocate = "relocate"
	Soft     = "soft"
	External = "external"
)

// Store kinds.
const (
	MapStore  = "map"
	LRUStore  = "lru"
	BoltStore = "bolt"
)

// Size is a byte count written in human form.
type Size uint64

func (s *Size) UnmarshalYAML(n *yaml.Node) error {
	var raw string
	if err := n.Decode(&raw); err != nil {
		return err
	}
	b, err := humanize.ParseBytes(raw)
	if err != nil {
		return cacheerr.Config("config.Size", "line %d: %w", n.Line, err)
	}
	*s = Size(b)
	return nil
}

func (s Size) MarshalYAML() (any, error) { return s.String(), nil }

func (s Size) String() string { return humanize.IBytes(uint64(s)) }

// Config describes one overflow controller and its pipeline.
type Config struct {
	Name       string        `yaml:"name"`
	Async      bool          `yaml:"async"`
	Interval   time.Duration `yaml:"interval"`
	TrackOnAdd bool          `yaml:"track_on_add"`
	Batch      bool          `yaml:"batch"`

	Log       Log       `yaml:"log"`
	Validator Validator `yaml:"validator"`
	Algorithm Algorithm `yaml:"algorithm"`
	Action    Action    `yaml:"action"`
}

// Log configures the zap logger returned by Config.Logger.
type Log struct {
	Level       string `yaml:"level"` // debug, info, warn, error
	Development bool   `yaml:"development"`
}

// Validator selects the overflow measure. Fields apply to the kinds noted.
type Validator struct {
	Kind string `yaml:"kind"`

	MaxSize   int `yaml:"max_size"`  // capacity
	Threshold int `yaml:"threshold"` // capacity

	TTL    time.Duration `yaml:"ttl"`    // expiry
	Every  time.Duration `yaml:"every"`  // expiry
	Offset time.Duration `yaml:"offset"` // expiry

	High       Size `yaml:"high"`         // memusage
	Max        Size `yaml:"max"`          // memusage, memsize
	CacheOnAdd bool `yaml:"cache_on_add"` // memsize
}

// Algorithm selects the victim ranking.
type Algorithm struct {
	Kind string `yaml:"kind"`

	Ratio bool          `yaml:"ratio"` // lfu
	Unit  time.Duration `yaml:"unit"`  // lfu

	In     int `yaml:"in"`     // twoq: probation queue length
	Ghosts int `yaml:"ghosts"` // twoq: remembered evicted keys
}

// Action selects what happens to a victim.
type Action struct {
	Kind string `yaml:"kind"`

	// Store is the secondary store for relocate (required), soft (optional
	// backing copy) and external (must be bolt; it records the saved keys).
	Store Store `yaml:"store"`

	// Self and Nodes enable hash partitioning for external: only keys
	// owned by node Self out of Nodes are saved. Nodes 0 saves every key.
	Self  int `yaml:"self"`
	Nodes int `yaml:"nodes"`
}

// Store configures a secondary store.
type Store struct {
	Kind     string `yaml:"kind"`
	Size     int    `yaml:"size"`     // lru
	Path     string `yaml:"path"`     // bolt
	Bucket   string `yaml:"bucket"`   // bolt
	Compress bool   `yaml:"compress"` // bolt
	JSON     bool   `yaml:"json"`     // bolt: JSON instead of gob values
}

// Load reads and parses the file at path.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, cacheerr.Config("config.Load", "%w", err)
	}
	return Parse(b)
}

// Parse decodes a YAML document, applies defaults and validates it.
// Unknown fields are rejected.
func Parse(b []byte) (*Config, error) {
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)

	var c Config
	if err := dec.Decode(&c); err != nil && !errors.Is(err, io.EOF) {
		if errors.Is(err, cacheerr.ErrConfiguration) {
			return nil, err
		}
		return nil, cacheerr.Config("config.Parse", "%w", err)
	}
	c.defaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Marshal renders c as YAML.
func (c *Config) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (c *Config) defaults() {
	if c.Name == "" {
		c.Name = "refcache"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Algorithm.Kind == "" {
		c.Algorithm.Kind = LRU
	}
	if c.Action.Kind == "" {
		c.Action.Kind = Remove
	}
	if c.Action.Store.Kind == BoltStore && c.Action.Store.Bucket == "" {
		c.Action.Store.Bucket = c.Name
	}
}

// Validate checks kinds and the fields each kind requires. It opens no
// resources; limits the constructors enforce are checked again by Build.
func (c *Config) Validate() error {
	const op = "config.Validate"
	if c.Interval < 0 {
		return cacheerr.Config(op, "interval %v must be >= 0", c.Interval)
	}
	if _, err := zap.ParseAtomicLevel(c.Log.Level); err != nil {
		return cacheerr.Config(op, "log.level: %w", err)
	}

	v := c.Validator
	switch v.Kind {
	case Capacity:
		if v.MaxSize < 0 {
			return cacheerr.Config(op, "validator.max_size %d must be >= 0", v.MaxSize)
		}
	case Expiry:
		if v.TTL == 0 && v.Every == 0 {
			return cacheerr.Config(op, "validator: expiry needs ttl or every")
		}
	case MemUsage:
	case MemSize:
		if v.Max == 0 {
			return cacheerr.Config(op, "validator: memsize needs max")
		}
	case "":
		return cacheerr.Config(op, "validator.kind is required")
	default:
		return cacheerr.Config(op, "unknown validator kind %q", v.Kind)
	}

	switch c.Algorithm.Kind {
	case LRU, LFU, LIFO, TwoQ:
	default:
		return cacheerr.Config(op, "unknown algorithm kind %q", c.Algorithm.Kind)
	}

	a := c.Action
	switch a.Kind {
	case Remove:
	case Relocate:
		if a.Store.Kind == "" {
			return cacheerr.Config(op, "action: relocate needs a store")
		}
	case Soft:
	case External:
		if a.Store.Kind != BoltStore {
			return cacheerr.Config(op, "action: external needs a bolt store, got %q", a.Store.Kind)
		}
		if a.Nodes < 0 || (a.Nodes > 0 && (a.Self < 0 || a.Self >= a.Nodes)) {
			return cacheerr.Config(op, "action: self %d out of range for %d nodes", a.Self, a.Nodes)
		}
	default:
		return cacheerr.Config(op, "unknown action kind %q", a.Kind)
	}

	switch a.Store.Kind {
	case "", MapStore:
	case LRUStore:
		if a.Store.Size <= 0 {
			return cacheerr.Config(op, "store: lru needs size > 0")
		}
	case BoltStore:
		if a.Store.Path == "" {
			return cacheerr.Config(op, "store: bolt needs a path")
		}
	default:
		return cacheerr.Config(op, "unknown store kind %q", a.Store.Kind)
	}
	return nil
}

// Logger builds the zap logger described by c.Log.
func (c *Config) Logger() (*zap.Logger, error) {
	lvl, err := zap.ParseAtomicLevel(c.Log.Level)
	if err != nil {
		return nil, cacheerr.Config("config.Logger", "%w", err)
	}
	zc := zap.NewProductionConfig()
	if c.Log.Development {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = lvl
	l, err := zc.Build()
	if err != nil {
		return nil, err
	}
	return l.Named(c.Name), nil
}
