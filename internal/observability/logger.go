package observability

import (
	"fmt"
	"strings"

	"github.com/fulmenhq/gofulmen/logging"
)

var (
	// CLILogger is used for CLI commands (SIMPLE profile)
	CLILogger *logging.Logger

	// ServerLogger is used by serve (STRUCTURED profile, JSON on stderr)
	ServerLogger *logging.Logger
)

// ServerLoggerOptions configures the structured server logger.
type ServerLoggerOptions struct {
	Service string
	// Level is one of trace, debug, info, warn, error. Anything else is info.
	Level string
	// Namespace is attached to every entry when set.
	Namespace string
	// Development switches the environment field and keeps stack traces
	// for warnings.
	Development bool
}

// InitCLILogger initializes the CLI logger. verbose lowers the level to
// debug.
func InitCLILogger(serviceName string, verbose bool) error {
	logger, err := logging.NewCLI(serviceName)
	if err != nil {
		return fmt.Errorf("init cli logger: %w", err)
	}
	if verbose {
		logger.SetLevel(logging.DEBUG)
	}
	CLILogger = logger
	return nil
}

// InitServerLogger replaces ServerLogger. Loggers handed out earlier keep
// their old configuration.
func InitServerLogger(opts ServerLoggerOptions) error {
	logger, err := logging.New(serverLoggerConfig(opts))
	if err != nil {
		return fmt.Errorf("init server logger: %w", err)
	}
	ServerLogger = logger
	return nil
}

func serverLoggerConfig(opts ServerLoggerOptions) *logging.LoggerConfig {
	static := map[string]any{}
	if opts.Namespace != "" {
		static["namespace"] = opts.Namespace
	}
	environment := "production"
	if opts.Development {
		environment = "development"
	}

	return &logging.LoggerConfig{
		Profile:      logging.ProfileStructured,
		DefaultLevel: NormalizeLevel(opts.Level),
		Service:      opts.Service,
		Environment:  environment,
		StaticFields: static,
		Middleware: []logging.MiddlewareConfig{
			{Name: "correlation", Enabled: true, Order: 100, Config: map[string]any{}},
		},
		Sinks: []logging.SinkConfig{
			{
				Type:    "console",
				Format:  "json",
				Console: &logging.ConsoleSinkConfig{Stream: "stderr"},
			},
		},
		EnableCaller:     true,
		EnableStacktrace: opts.Development,
	}
}

// Logger returns the server logger when the HTTP server is running and
// the CLI logger otherwise. It may return nil before initialization.
func Logger() *logging.Logger {
	if ServerLogger != nil {
		return ServerLogger
	}
	return CLILogger
}

// NormalizeLevel maps a configured level to the severity names the
// logging package expects.
func NormalizeLevel(level string) string {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace":
		return "TRACE"
	case "debug":
		return "DEBUG"
	case "warn", "warning":
		return "WARN"
	case "error":
		return "ERROR"
	default:
		return "INFO"
	}
}
