package flags

import (
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/ruteri/sbs/api"
	"github.com/ruteri/sbs/common"
	"github.com/urfave/cli/v2"
)

func SetupLogger(cCtx *cli.Context) (log *slog.Logger) {
	logJSON := cCtx.Bool(LogJsonFlag.Name)
	logDebug := cCtx.Bool(LogDebugFlag.Name)
	logUID := cCtx.Bool(LogUidFlag.Name)
	logService := cCtx.String(LogServiceFlag.Name)

	logger := common.SetupLogger(&common.LoggingOpts{
		Debug:   logDebug,
		JSON:    logJSON,
		Service: logService,
		Version: common.Version,
	})

	if logUID {
		id := uuid.Must(uuid.NewRandom())
		logger = logger.With("uid", id.String())
	}
	return logger
}

func ConfigureServer(cCtx *cli.Context, logger *slog.Logger) *api.HTTPServerConfig {
	return &api.HTTPServerConfig{
		ListenAddr:               cCtx.String(ListenAddrFlag.Name),
		MetricsAddr:              cCtx.String(MetricsAddrFlag.Name),
		Log:                      logger,
		EnablePprof:              cCtx.Bool(PprofFlag.Name),
		DrainDuration:            time.Duration(cCtx.Int64(DrainSecondsFlag.Name)) * time.Second,
		GracefulShutdownDuration: cCtx.Duration(ShutdownTimeoutFlag.Name),
		ReadTimeout:              60 * time.Second,
		WriteTimeout:             cCtx.Duration(WriteTimeoutFlag.Name),
		MaxRequestBodySize:       1024 * 1024,
	}
}

var ServerAddrFlag = &cli.StringFlag{
	Name:    "server-addr",
	Value:   "http://127.0.0.1:8080",
	EnvVars: []string{"SBS_SERVER_ADDR"},
	Usage:   "blob storage server to talk to",
}

var ListenAddrFlag = &cli.StringFlag{
	Name:    "listen-addr",
	Value:   "127.0.0.1:8080",
	EnvVars: []string{"SBS_LISTEN_ADDR"},
	Usage:   "address to listen on for API",
}

var ConfigFlag = &cli.StringFlag{
	Name:     "config",
	Required: true,
	EnvVars:  []string{"SBS_CONFIG"},
	Usage:    "YAML file listing the libraries and their storage locations",
}

var WorkersFlag = &cli.IntFlag{
	Name:    "workers",
	Value:   100,
	EnvVars: []string{"SBS_WORKERS"},
	Usage:   "number of downloads processed concurrently",
}

var MaxRecordsFlag = &cli.IntFlag{
	Name:    "max-records",
	Value:   0,
	EnvVars: []string{"SBS_MAX_RECORDS"},
	Usage:   "number of ingestion records kept for status reporting, 0 keeps all",
}

var FetchTimeoutFlag = &cli.DurationFlag{
	Name:    "fetch-timeout",
	Value:   10 * time.Minute,
	EnvVars: []string{"SBS_FETCH_TIMEOUT"},
	Usage:   "timeout of a single remote download",
}

var UserAgentFlag = &cli.StringFlag{
	Name:    "user-agent",
	Value:   common.PackageName + "/" + common.Version,
	EnvVars: []string{"SBS_USER_AGENT"},
	Usage:   "User-Agent sent with remote downloads",
}

var WriteTimeoutFlag = &cli.DurationFlag{
	Name:    "write-timeout",
	Value:   5 * time.Minute,
	EnvVars: []string{"SBS_WRITE_TIMEOUT"},
	Usage:   "maximum duration of writing a response, bounds blob downloads",
}

var ShutdownTimeoutFlag = &cli.DurationFlag{
	Name:    "shutdown-timeout",
	Value:   30 * time.Second,
	EnvVars: []string{"SBS_SHUTDOWN_TIMEOUT"},
	Usage:   "how long shutdown waits for requests and running ingestions",
}

var LogJsonFlag = &cli.BoolFlag{
	Name:    "log-json",
	Value:   false,
	EnvVars: []string{"SBS_LOG_JSON"},
	Usage:   "log in JSON format",
}
var LogDebugFlag = &cli.BoolFlag{
	Name:    "log-debug",
	Value:   false,
	EnvVars: []string{"SBS_LOG_DEBUG"},
	Usage:   "log debug messages",
}
var LogUidFlag = &cli.BoolFlag{
	Name:    "log-uid",
	Value:   false,
	EnvVars: []string{"SBS_LOG_UID"},
	Usage:   "generate a uuid and add to all log messages",
}
var LogServiceFlag = &cli.StringFlag{
	Name:    "log-service",
	Value:   common.PackageName,
	EnvVars: []string{"SBS_LOG_SERVICE"},
	Usage:   "add 'service' tag to logs",
}

var PprofFlag = &cli.BoolFlag{
	Name:    "pprof",
	Value:   false,
	EnvVars: []string{"SBS_PPROF"},
	Usage:   "enable pprof debug endpoint",
}
var DrainSecondsFlag = &cli.Int64Flag{
	Name:    "drain-seconds",
	Value:   45,
	EnvVars: []string{"SBS_DRAIN_SECONDS"},
	Usage:   "seconds to wait in drain HTTP request",
}
var MetricsAddrFlag = &cli.StringFlag{
	Name:    "metrics-addr",
	Value:   "127.0.0.1:8090",
	EnvVars: []string{"SBS_METRICS_ADDR"},
	Usage:   "address to listen on for Prometheus metrics",
}

var LogFlags = []cli.Flag{
	LogJsonFlag,
	LogDebugFlag,
	LogUidFlag,
	LogServiceFlag,
}

var CommonFlags = append([]cli.Flag{
	PprofFlag,
	DrainSecondsFlag,
	MetricsAddrFlag,
}, LogFlags...)
