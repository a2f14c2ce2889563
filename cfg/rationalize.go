package cfg

// Rationalize normalizes fields whose meaning depends on other fields,
// before validation runs: a non-positive MaxSizeMB means "unbounded", per
// spec.md's "absent = unbounded" cache budget rule.
func Rationalize(c *Config) error {
	if c.Cache.MaxSizeMB <= 0 {
		c.Cache.MaxSizeMB = 0
	}
	return nil
}
