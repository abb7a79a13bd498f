package cmd

import (
	"fmt"
	"net/url"
	"runtime"
	"strconv"
	"strings"

	"github.com/fulmenhq/gofulmen/crucible"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/qrandom/qrandom/internal/appid"
	"github.com/qrandom/qrandom/internal/config"
	"github.com/qrandom/qrandom/internal/core/source"
	"github.com/qrandom/qrandom/internal/observability"
	"github.com/qrandom/qrandom/internal/output"
)

type envField struct {
	Key   string `json:"key" yaml:"key"`
	Value string `json:"value" yaml:"value"`
}

type envSection struct {
	Title  string     `json:"section" yaml:"section"`
	Fields []envField `json:"fields" yaml:"fields"`
}

func (s *envSection) add(key, value string) {
	s.Fields = append(s.Fields, envField{Key: key, Value: value})
}

var envInfoCmd = &cobra.Command{
	Use:   "envinfo",
	Short: "Display environment information",
	Long:  "Display build, runtime and effective configuration, including the source rotation order.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			observability.CLILogger.Warn("Config load failed, showing build info only", zap.Error(err))
		}
		sections := environmentReport(cfg)

		format, err := resolveOutputFormat(cmd)
		if err != nil {
			return err
		}
		if format != output.FormatTable {
			return output.Write(cmd.OutOrStdout(), format, sections)
		}

		logger := observability.CLILogger
		for i, section := range sections {
			if i > 0 {
				logger.Info("")
			}
			logger.Info(section.Title + ":")
			for _, f := range section.Fields {
				logger.Info(fmt.Sprintf("  %-22s %s", f.Key+":", f.Value))
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(envInfoCmd)
	envInfoCmd.Flags().String("output-format", string(output.FormatTable), "Output format: table|json|yaml")
}

// environmentReport collects what envinfo prints. cfg may be nil when the
// configuration failed to load. Credentials are redacted.
func environmentReport(cfg *config.Config) []envSection {
	deps := crucible.GetVersion()

	name := appid.BinaryName
	if identity := GetAppIdentity(); identity != nil {
		name = identity.BinaryName
	}

	app := envSection{Title: "Application"}
	app.add("Name", name)
	app.add("Version", versionInfo.Version)
	app.add("Commit", versionInfo.Commit)
	app.add("Built", versionInfo.BuildDate)
	app.add("Gofulmen", deps.Gofulmen)
	app.add("Crucible", deps.Crucible)

	rt := envSection{Title: "Runtime"}
	rt.add("Go", runtime.Version())
	rt.add("Platform", runtime.GOOS+"/"+runtime.GOARCH)
	rt.add("CPUs", strconv.Itoa(runtime.NumCPU()))

	if cfg == nil {
		return []envSection{app, rt}
	}

	server := envSection{Title: "Server"}
	server.add("Listen", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port))
	server.add("Log level", cfg.Logging.Level)
	server.add("Log profile", cfg.Logging.Profile)
	server.add("Metrics port", strconv.Itoa(cfg.Metrics.Port))
	server.add("Rate limit", fmt.Sprintf("%d req/min per client", cfg.RateLimit.RequestsPerMinute))
	if margin := cfg.RateLimit.SafetyMargin; margin > 0 && margin < 1 {
		server.add("Rate limit margin", strconv.FormatFloat(margin, 'f', -1, 64))
	}
	server.add("Stream", fmt.Sprintf("%d values every %s", cfg.Stream.BatchSize, cfg.Stream.Interval))
	server.add("Config file", config.DefaultConfigPath())

	sources := envSection{Title: "Sources (rotation order)"}
	if cfg.Sources.ANU.Enabled {
		sources.add(source.ANUName, fmt.Sprintf("%s (timeout %s, cooldown %s)",
			cfg.Sources.ANU.URL, cfg.Sources.ANU.Timeout, cfg.Sources.ANU.Cooldown))
	} else {
		sources.add(source.ANUName, "disabled")
	}
	if custom := strings.TrimSpace(cfg.Sources.Custom.URL); custom != "" {
		sources.add(source.CustomName, redactCredentials(custom))
	} else {
		sources.add(source.CustomName, "not configured")
	}
	sources.add(source.LocalName, "always last")
	if cfg.Rotation.ReprobeInterval > 0 {
		sources.add("Reprobe every", cfg.Rotation.ReprobeInterval.String())
	}

	cache := envSection{Title: "Cache"}
	cache.add("Backend", cfg.Cache.Backend)
	cache.add("TTL", cfg.Cache.TTL.String())
	cache.add("Stats TTL", cfg.Cache.StatsTTL.String())
	if strings.EqualFold(cfg.Cache.Backend, "redis") {
		cache.add("Redis", redactCredentials(cfg.Cache.RedisURL))
	}

	store := envSection{Title: "Store"}
	store.add("Enabled", strconv.FormatBool(cfg.Store.Enabled))
	store.add("Driver", cfg.Store.Driver)
	if remote := strings.TrimSpace(cfg.Store.URL); remote != "" {
		store.add("URL", redactCredentials(remote))
	} else {
		store.add("Path", cfg.Store.Path)
	}

	return []envSection{app, rt, server, sources, cache, store}
}

// redactCredentials hides user info and auth query parameters of raw.
func redactCredentials(raw string) string {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "(invalid url)"
	}
	if parsed.User != nil {
		parsed.User = url.User("***")
	}
	query := parsed.Query()
	for _, key := range []string{"authToken", "auth_token", "token"} {
		if query.Has(key) {
			query.Set(key, "***")
		}
	}
	parsed.RawQuery = query.Encode()
	return parsed.String()
}
