// Package configtypes holds small leaf config structs shared by packages
// that must not import the full config package (avoids import cycles),
// mirroring the teacher's split between configtypes and config.
package configtypes

const (
	LogLevelDebug = "debug"
	LogLevelInfo  = "info"
	LogLevelWarn  = "warn"
	LogLevelError = "error"

	LogFormatJSON    = "json"
	LogFormatText    = "text"
	LogFormatConsole = "console"
)

// RotationConfig controls lumberjack-backed file rotation.
type RotationConfig struct {
	MaxSize    int  `yaml:"maxSize"`
	MaxAge     int  `yaml:"maxAge"`
	MaxBackups int  `yaml:"maxBackups"`
	Compress   bool `yaml:"compress"`
}

// ConsoleLogConfig configures the stderr logging core.
type ConsoleLogConfig struct {
	Enabled bool   `yaml:"enabled"`
	Level   string `yaml:"level"`
	Format  string `yaml:"format"`
}

// FileLogConfig configures the rotated-file logging core.
type FileLogConfig struct {
	Enabled  bool           `yaml:"enabled"`
	Level    string         `yaml:"level"`
	Format   string         `yaml:"format"`
	Path     string         `yaml:"path"`
	Rotation RotationConfig `yaml:"rotation"`
}

// NDJSONLogConfig configures the optional structured per-crawl event log (spec §6).
type NDJSONLogConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// LogConfig is the top-level logging configuration.
type LogConfig struct {
	Level   string           `yaml:"level"`
	Console ConsoleLogConfig `yaml:"console"`
	File    FileLogConfig    `yaml:"file"`
	NDJSON  NDJSONLogConfig  `yaml:"ndjson"`
}
