// Package config loads a bench's tunables from YAML or JSON, with
// environment variable overrides, grounded on the loader/merge pattern
// used across the example pack's service-config packages.
package config

// TraceFormat names a supported trace sink backend.
type TraceFormat string

const (
	TraceFormatNone   TraceFormat = "none"
	TraceFormatCSV    TraceFormat = "csv"
	TraceFormatJSON   TraceFormat = "json"
	TraceFormatSQLite TraceFormat = "sqlite"
)

// TraceConfig selects and configures the tracing backend a bench writes
// to while running.
type TraceConfig struct {
	Format TraceFormat `yaml:"format" json:"format"`
	Path   string      `yaml:"path" json:"path"`
}

// BenchConfig is the full set of tunables a bench YAML/JSON file can
// override. Models themselves are still wired up in Go (a bench file
// configures the engine around them, not the model graph itself).
type BenchConfig struct {
	Name string `yaml:"name" json:"name"`

	Workers    int `yaml:"workers" json:"workers"`
	MailboxCap int `yaml:"mailbox_capacity" json:"mailbox_capacity"`

	TimeoutMillis    int64 `yaml:"timeout_millis" json:"timeout_millis"`
	MaxSameInstant   int   `yaml:"max_same_instant_iterations" json:"max_same_instant_iterations"`
	DistributedIDs   bool  `yaml:"distributed_ids" json:"distributed_ids"`

	Trace TraceConfig `yaml:"trace" json:"trace"`

	Log LogConfig `yaml:"log" json:"log"`

	Custom map[string]interface{} `yaml:"custom" json:"custom"`
}

// LogConfig holds the bench's logging knobs. The CLI's run command reads
// only Level: "debug" attaches a standard-library log.Logger-backed
// EventLogger. Pretty is loaded and merged but not read by the CLI.
type LogConfig struct {
	Level  string `yaml:"level" json:"level"`
	Pretty bool   `yaml:"pretty" json:"pretty"`
}

// DefaultBenchConfig returns the configuration a bench runs with when no
// file or environment override is present.
func DefaultBenchConfig() *BenchConfig {
	return &BenchConfig{
		Name:           "bench",
		Workers:        0, // 0 means GOMAXPROCS(0), resolved by the executor
		MailboxCap:     256,
		MaxSameInstant: 10000,
		Trace: TraceConfig{
			Format: TraceFormatNone,
		},
		Log: LogConfig{
			Level:  "info",
			Pretty: true,
		},
	}
}

// Validate checks that the configuration is internally consistent.
func (c *BenchConfig) Validate() error {
	if c.Workers < 0 {
		return &ValidationError{Field: "workers", Detail: "must be >= 0"}
	}

	if c.MailboxCap < 0 {
		return &ValidationError{Field: "mailbox_capacity", Detail: "must be >= 0"}
	}

	if c.MaxSameInstant <= 0 {
		return &ValidationError{Field: "max_same_instant_iterations", Detail: "must be > 0"}
	}

	switch c.Trace.Format {
	case TraceFormatNone, TraceFormatCSV, TraceFormatJSON, TraceFormatSQLite:
	default:
		return &ValidationError{Field: "trace.format", Detail: "unknown trace format " + string(c.Trace.Format)}
	}

	if c.Trace.Format != TraceFormatNone && c.Trace.Path == "" {
		return &ValidationError{Field: "trace.path", Detail: "required when trace.format is set"}
	}

	return nil
}
