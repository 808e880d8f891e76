package main

import (
	"bytes"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

// Config is the daemon configuration. It is read from an optional YAML
// file and then overridden by any flags given on the command line.
type Config struct {
	NodeID string `yaml:"node_id"`

	HTTP struct {
		Listen    string        `yaml:"listen"`
		SecretKey string        `yaml:"secret_key"`
		NoAuth    bool          `yaml:"no_auth"`
		TokenTTL  time.Duration `yaml:"token_ttl"`
		Keepalive time.Duration `yaml:"keepalive"`
	} `yaml:"http"`

	Peer struct {
		Listen    string   `yaml:"listen"`
		Upstreams []string `yaml:"upstreams"`
	} `yaml:"peer"`

	Broker struct {
		ClientBufferSize  int  `yaml:"client_buffer_size"`
		MaxEventsPerTopic int  `yaml:"max_events_per_topic"`
		TopicCacheSize    int  `yaml:"topic_cache_size"`
		StrictFilters     bool `yaml:"strict_filters"`
	} `yaml:"broker"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

// defaultConfig returns the configuration used when nothing is set
func defaultConfig() *Config {
	c := &Config{NodeID: getDefaultNodeID()}
	c.HTTP.Listen = ":8081"
	c.Peer.Listen = ":9090"
	c.Log.Level = "info"
	c.Log.Format = "json"
	return c
}

// Validate checks the parts of the configuration the components do not
// check themselves
func (c *Config) Validate() error {
	if c.NodeID == "" {
		return errors.New("node ID cannot be empty")
	}
	if c.HTTP.Listen == "" {
		return errors.New("http listen address cannot be empty")
	}
	if c.Peer.Listen == "" {
		return errors.New("peer listen address cannot be empty")
	}
	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("invalid log format %q: want json or console", c.Log.Format)
	}
	return nil
}

// options are the command line settings that are not part of Config
type options struct {
	configPath  string
	showVersion bool
}

// loadConfig parses args, reads the config file if one is named and
// applies explicitly set flags on top of it
func loadConfig(args []string, output io.Writer) (*Config, *options, error) {
	fs := flag.NewFlagSet(appName, flag.ContinueOnError)
	fs.SetOutput(output)

	var (
		opts      options
		flagCfg   = defaultConfig()
		upstreams string
	)
	fs.StringVar(&opts.configPath, "config", "", "Path to a YAML config file")
	fs.BoolVar(&opts.showVersion, "version", false, "Show version and exit")
	fs.StringVar(&flagCfg.NodeID, "node-id", flagCfg.NodeID, "Unique node identifier")
	fs.StringVar(&flagCfg.HTTP.Listen, "listen", flagCfg.HTTP.Listen, "Listen address for the HTTP API")
	fs.StringVar(&flagCfg.HTTP.SecretKey, "secret-key", "", "Secret used to sign client tokens")
	fs.BoolVar(&flagCfg.HTTP.NoAuth, "no-auth", false, "Disable client authentication (development only)")
	fs.StringVar(&flagCfg.Peer.Listen, "peer-listen", flagCfg.Peer.Listen, "Listen address for downstream peer links")
	fs.StringVar(&upstreams, "upstream", "", "Comma separated upstream node addresses to bridge to")
	fs.IntVar(&flagCfg.Broker.MaxEventsPerTopic, "max-events-per-topic", 0, "Messages kept per topic (0 = default)")
	fs.BoolVar(&flagCfg.Broker.StrictFilters, "strict-filters", false, "Reject filters with a non-terminal '#'")
	fs.StringVar(&flagCfg.Log.Level, "log-level", flagCfg.Log.Level, "Log level (debug, info, warn, error)")
	fs.StringVar(&flagCfg.Log.Format, "log-format", flagCfg.Log.Format, "Log format (json, console)")

	if err := fs.Parse(args); err != nil {
		return nil, nil, err
	}
	if opts.showVersion {
		return nil, &opts, nil
	}

	config := defaultConfig()
	if opts.configPath != "" {
		if err := readConfigFile(opts.configPath, config); err != nil {
			return nil, nil, err
		}
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "node-id":
			config.NodeID = flagCfg.NodeID
		case "listen":
			config.HTTP.Listen = flagCfg.HTTP.Listen
		case "secret-key":
			config.HTTP.SecretKey = flagCfg.HTTP.SecretKey
		case "no-auth":
			config.HTTP.NoAuth = flagCfg.HTTP.NoAuth
		case "peer-listen":
			config.Peer.Listen = flagCfg.Peer.Listen
		case "upstream":
			config.Peer.Upstreams = splitList(upstreams)
		case "max-events-per-topic":
			config.Broker.MaxEventsPerTopic = flagCfg.Broker.MaxEventsPerTopic
		case "strict-filters":
			config.Broker.StrictFilters = flagCfg.Broker.StrictFilters
		case "log-level":
			config.Log.Level = flagCfg.Log.Level
		case "log-format":
			config.Log.Format = flagCfg.Log.Format
		}
	})

	if err := config.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return config, &opts, nil
}

// readConfigFile decodes path over config. Unknown keys are rejected.
func readConfigFile(path string, config *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(config); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// newLogger builds the process logger from the log settings
func newLogger(config *Config) (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(config.Log.Level)
	if err != nil {
		return nil, err
	}

	zapConfig := zap.NewProductionConfig()
	if config.Log.Format == "console" {
		zapConfig = zap.NewDevelopmentConfig()
	}
	zapConfig.Level = level
	return zapConfig.Build()
}

// getDefaultNodeID generates a default node ID based on hostname
func getDefaultNodeID() string {
	hostname, err := os.Hostname()
	if err != nil {
		return "topicmesh-node-1"
	}
	return fmt.Sprintf("topicmesh-%s", hostname)
}
