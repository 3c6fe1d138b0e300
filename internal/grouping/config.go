package grouping

import (
	"log"
)

// DefaultConfigID is the strategy configuration used for new projects.
const DefaultConfigID = "newstyle:2023-01-11"

// Config is a grouping strategy configuration. Configurations are
// versioned so that projects keep stable hashes until they opt into a
// newer strategy.
type Config struct {
	ID string

	// Base names the configuration this one derives from, empty for
	// root configurations
	Base string

	// NormalizeMessage strips volatile values (numbers, uuids, ...)
	// from messages and exception values before hashing
	NormalizeMessage bool

	// ContextLinePlatforms lists platforms whose source context line
	// participates in frame hashing
	ContextLinePlatforms []string

	// WithExceptionValueFallback groups on type+value when no
	// stacktrace contributes
	WithExceptionValueFallback bool

	// DetectRecursion drops frames that repeat their predecessor
	DetectRecursion bool
}

// usesContextLine reports whether the platform's context line feeds
// the hash.
func (c Config) usesContextLine(platform string) bool {
	for _, p := range c.ContextLinePlatforms {
		if p == platform {
			return true
		}
	}
	return false
}

// configurations maps configuration ids to their definitions. Newer
// entries inherit from their base and override individual flags.
var configurations = map[string]Config{}

// register derives a configuration from its base (when named), applies
// the override, and adds it to the registry.
func register(id, base string, override func(*Config)) {
	cfg, ok := configurations[base]
	if base != "" && !ok {
		panic("grouping config " + id + " derives from unknown base " + base)
	}
	cfg.ID = id
	cfg.Base = base
	if override != nil {
		override(&cfg)
	}
	configurations[id] = cfg
}

func init() {
	register("newstyle:2019-05-08", "", func(c *Config) {
		c.NormalizeMessage = true
		c.ContextLinePlatforms = []string{"javascript", "node", "python", "php", "ruby"}
		c.WithExceptionValueFallback = true
	})
	register("newstyle:2023-01-11", "newstyle:2019-05-08", func(c *Config) {
		c.DetectRecursion = true
	})
}

// ConfigByID resolves a configuration id, falling back to the default
// configuration for unknown ids.
func ConfigByID(id string) Config {
	if cfg, ok := configurations[id]; ok {
		return cfg
	}
	if id != "" {
		log.Printf("Unknown grouping config %q, using %s", id, DefaultConfigID)
	}
	return configurations[DefaultConfigID]
}
