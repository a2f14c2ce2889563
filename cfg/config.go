// Package cfg holds BackFS's configuration surface: the fields a mount
// can be configured with, their YAML shape, and the pflag/viper wiring
// that binds them to command-line flags and an optional config file.
package cfg

// Config is the full set of settings for a BackFS mount.
type Config struct {
	Cache     CacheConfig     `yaml:"cache" mapstructure:"cache"`
	BackingFS BackingFSConfig `yaml:"backing-fs" mapstructure:"backing-fs"`
	Logging   LoggingConfig   `yaml:"logging" mapstructure:"logging"`
	Debug     DebugConfig     `yaml:"debug" mapstructure:"debug"`
}

// CacheConfig controls the on-disk cache directory and its budget.
type CacheConfig struct {
	// Dir is the cache directory's root. Required.
	Dir string `yaml:"dir" mapstructure:"dir"`
	// BlockSizeKB is the size, in KiB, of each cached block. Required, must
	// be positive.
	BlockSizeKB int64 `yaml:"block-size-kb" mapstructure:"block-size-kb"`
	// MaxSizeMB bounds the cache's total size, in MiB. Zero or negative
	// means unbounded.
	MaxSizeMB int64 `yaml:"max-size-mb" mapstructure:"max-size-mb"`
	// ReadWrite enables write-through mounts. Unimplemented; false (the
	// default) serves a read-only mount.
	ReadWrite bool `yaml:"read-write" mapstructure:"read-write"`
}

// BackingFSConfig names the directory tree BackFS caches reads from.
type BackingFSConfig struct {
	// Dir is the backing directory's root. Required, must differ from
	// Cache.Dir.
	Dir string `yaml:"dir" mapstructure:"dir"`
}

// LoggingConfig controls where and how BackFS logs.
type LoggingConfig struct {
	// Severity is one of TRACE, DEBUG, INFO, WARNING, ERROR, OFF.
	Severity string `yaml:"severity" mapstructure:"severity"`
	// Format is "text" or "json".
	Format string `yaml:"format" mapstructure:"format"`
	// File, if set, redirects log output to this path (rotated); empty
	// means stderr.
	File string `yaml:"file" mapstructure:"file"`
}

// DebugConfig controls internal-consistency behavior useful while
// developing or diagnosing the cache.
type DebugConfig struct {
	// ExitOnInvariantViolation is read from flags and the config file, but
	// nothing acts on it: detected corruption of on-disk state is returned
	// as an error whether or not it is set.
	ExitOnInvariantViolation bool `yaml:"exit-on-invariant-violation" mapstructure:"exit-on-invariant-violation"`
}
