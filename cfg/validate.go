package cfg

import "fmt"

var validSeverities = map[string]bool{
	"TRACE": true, "DEBUG": true, "INFO": true,
	"WARNING": true, "ERROR": true, "OFF": true,
}

// Validate checks a Config for internal consistency, after Rationalize
// has run. It returns the first problem found.
func Validate(c *Config) error {
	if c.Cache.Dir == "" {
		return fmt.Errorf("cache.dir is required")
	}
	if c.BackingFS.Dir == "" {
		return fmt.Errorf("backing-fs.dir is required")
	}
	if c.Cache.Dir == c.BackingFS.Dir {
		return fmt.Errorf("cache.dir and backing-fs.dir must be different directories")
	}
	if c.Cache.BlockSizeKB <= 0 {
		return fmt.Errorf("cache.block-size-kb must be positive, got %d", c.Cache.BlockSizeKB)
	}
	if !validSeverities[c.Logging.Severity] {
		return fmt.Errorf("logging.severity %q is not one of TRACE, DEBUG, INFO, WARNING, ERROR, OFF", c.Logging.Severity)
	}
	if c.Logging.Format != "" && c.Logging.Format != "text" && c.Logging.Format != "json" {
		return fmt.Errorf("logging.format %q must be \"text\" or \"json\"", c.Logging.Format)
	}
	return nil
}
