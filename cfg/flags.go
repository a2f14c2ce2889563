package cfg

import "github.com/spf13/pflag"

// BindFlags registers every Config field as a command-line flag on fs,
// using the same dashed names as the YAML keys so a config file and the
// CLI agree on vocabulary.
func BindFlags(fs *pflag.FlagSet) error {
	fs.String("cache.dir", "", "cache directory root (required)")
	fs.Int64("cache.block-size-kb", DefaultBlockSizeKB, "cached block size, in KiB")
	fs.Int64("cache.max-size-mb", 0, "cache size budget, in MiB (0 = unbounded)")
	fs.Bool("cache.read-write", false, "mount read-write (unimplemented; read-only is the default)")

	fs.String("backing-fs.dir", "", "backing filesystem directory root (required)")

	fs.String("logging.severity", "INFO", "log severity: TRACE|DEBUG|INFO|WARNING|ERROR|OFF")
	fs.String("logging.format", "text", "log format: text|json")
	fs.String("logging.file", "", "log file path (empty = stderr)")

	fs.Bool("debug.exit-on-invariant-violation", false, "exit immediately on detected on-disk cache corruption (parsed, not acted on)")

	return nil
}
