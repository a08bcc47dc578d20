package config

import (
	"time"

	"github.com/creasty/defaults"
)

type ServerModeType string

const (
	ServerModeProd ServerModeType = "prod"
	ServerModeDev  ServerModeType = "dev"
)

// Configuration is the full agent configuration, populated from defaults
// and command line flags.
type Configuration struct {
	Server    Server
	Collector Collector

	// Log
	LogFormat string `default:"console"`
	LogLevel  string `default:"info"`
}

type Server struct {
	HTTPPort      int    `default:"8080"`
	ServerMode    string `default:"dev"`
	StaticsFolder string
}

// Collector groups the settings of the collection engine: destination
// layout, remote compression, connection keep-alive and space checks.
type Collector struct {
	DataFolder      string
	DestinationRoot string `default:"./collected"`

	// RemoteTempDir is where server-side archives are staged before download.
	RemoteTempDir string `default:"/tmp"`
	// ArchiveCommand is the remote compression command template. The
	// placeholders {{archive}}, {{dir}} and {{files}} are substituted at
	// invocation time; the tool itself is deployment configuration.
	ArchiveCommand string `default:"tar -czf {{archive}} -C {{dir}} {{files}}"`

	ConnectTimeout    time.Duration `default:"15s"`
	CommandTimeout    time.Duration `default:"5m"`
	KeepAliveInterval time.Duration `default:"30s"`
	ReconnectAttempts int           `default:"3"`
	ReconnectBackoff  time.Duration `default:"5s"`

	// FreeSpaceMargin is the headroom required on top of the estimated
	// uncompressed size before a transfer is allowed to start.
	FreeSpaceMargin int64 `default:"104857600"`

	NumWorkers int `default:"2"`
}

type Option func(*Configuration)

func WithHTTPPort(port int) Option {
	return func(c *Configuration) { c.Server.HTTPPort = port }
}

func WithServerMode(mode string) Option {
	return func(c *Configuration) { c.Server.ServerMode = mode }
}

func WithLogFormat(format string) Option {
	return func(c *Configuration) { c.LogFormat = format }
}

func WithLogLevel(level string) Option {
	return func(c *Configuration) { c.LogLevel = level }
}

func WithDestinationRoot(path string) Option {
	return func(c *Configuration) { c.Collector.DestinationRoot = path }
}

// NewConfigurationWithOptionsAndDefaults applies struct tag defaults first,
// then the given options on top.
func NewConfigurationWithOptionsAndDefaults(opts ...Option) *Configuration {
	cfg := &Configuration{}
	if err := defaults.Set(cfg); err != nil {
		panic(err)
	}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

func (s Server) DebugMap() map[string]any {
	return map[string]any{
		"HTTPPort":      s.HTTPPort,
		"ServerMode":    s.ServerMode,
		"StaticsFolder": s.StaticsFolder,
	}
}

func (c Collector) DebugMap() map[string]any {
	return map[string]any{
		"DataFolder":        c.DataFolder,
		"DestinationRoot":   c.DestinationRoot,
		"RemoteTempDir":     c.RemoteTempDir,
		"ArchiveCommand":    c.ArchiveCommand,
		"ConnectTimeout":    c.ConnectTimeout.String(),
		"CommandTimeout":    c.CommandTimeout.String(),
		"KeepAliveInterval": c.KeepAliveInterval.String(),
		"ReconnectAttempts": c.ReconnectAttempts,
		"ReconnectBackoff":  c.ReconnectBackoff.String(),
		"FreeSpaceMargin":   c.FreeSpaceMargin,
		"NumWorkers":        c.NumWorkers,
	}
}
