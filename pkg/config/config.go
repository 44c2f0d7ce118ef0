// Package config loads the tunables for the metadata journal subsystem:
// segment layout, trim limits, journal format, and the ambient logging and
// metrics knobs shared by every component.
package config

import (
	"encoding/json"
	"flag"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cephmds/mdjournal/util"
)

// Config holds every tunable read at process start. Fields are filled in
// three layers: flag values (each flag's default when it is not given), then
// an optional YAML/JSON file, then Normalize for anything still unset. The
// file is applied after the flags, so a field set in the file overrides the
// same setting given as an explicit flag.
type Config struct {
	NodeID         uint64 `yaml:"node_id" json:"node_id"`
	MetadataPoolID uint64 `yaml:"metadata_pool_id" json:"metadata_pool_id"`

	// On-disk layout of the reference ObjectJournal.
	JournalDir    string `yaml:"journal_dir" json:"journal_dir"`
	JournalFormat uint32 `yaml:"journal_format" json:"journal_format"`
	LayoutPeriod  uint64 `yaml:"layout_period" json:"layout_period"`
	LayoutObjSize uint64 `yaml:"layout_object_size" json:"layout_object_size"`

	// Trim limits.
	MaxSegments int           `yaml:"max_segments" json:"max_segments"`
	MaxEvents   int           `yaml:"max_events" json:"max_events"`
	MaxExpiring int           `yaml:"max_expiring" json:"max_expiring"`
	TrimBudget  time.Duration `yaml:"trim_budget" json:"trim_budget"`
	TrimPeriod  time.Duration `yaml:"trim_period" json:"trim_period"`

	// Replay behavior.
	SkipCorruptEvents bool `yaml:"skip_corrupt_events" json:"skip_corrupt_events"`
	ReplayResyncLimit int  `yaml:"replay_resync_limit" json:"replay_resync_limit"`

	// Debug / test knobs.
	DebugSubtrees bool `yaml:"debug_subtrees" json:"debug_subtrees"`

	// Metrics.
	EnableExporter bool `yaml:"enable_exporter" json:"enable_exporter"`
	ExporterPort   int  `yaml:"exporter_port" json:"exporter_port"`

	// Logging.
	LogFilePath  string        `yaml:"log_file_path" json:"log_file_path"`
	LogToConsole bool          `yaml:"log_to_console" json:"log_to_console"`
	LogLevel     util.LogLevel `yaml:"log_level" json:"log_level"`

	// Writer-lease / fencing.
	RaftBindAddr    string        `yaml:"raft_bind_addr" json:"raft_bind_addr"`
	RaftDataDir     string        `yaml:"raft_data_dir" json:"raft_data_dir"`
	RaftBootstrap   bool          `yaml:"raft_bootstrap" json:"raft_bootstrap"`
	RaftPeers       []string      `yaml:"raft_peers" json:"raft_peers"`
	LeaseWatchEvery time.Duration `yaml:"lease_watch_every" json:"lease_watch_every"`
}

// LoadConfig parses flags, optionally overlays a config file named by
// -config or $MDJOURNAL_CONFIG_PATH, then normalizes defaults.
func LoadConfig() (*Config, error) {
	cfg := &Config{}

	configPath := flag.String("config", "", "Path to YAML/JSON config file")
	nodeIDStr := flag.String("node-id", "0", "MDS node ID owning this journal")
	poolIDStr := flag.String("metadata-pool-id", "0", "Metadata pool ID")
	journalDirStr := flag.String("journal-dir", "mdjournal-data", "Directory backing the reference ObjectJournal")
	journalFormatStr := flag.String("journal-format", "1", "Target on-disk stream format version")
	layoutPeriodStr := flag.String("layout-period", "4194304", "Segment rotation period in bytes")
	maxSegmentsStr := flag.String("max-segments", "30", "Maximum resident segments before trim pressure")
	maxEventsStr := flag.String("max-events", "1000000", "Maximum resident events before trim pressure")
	maxExpiringStr := flag.String("max-expiring", "20", "Maximum segments concurrently expiring")
	skipCorruptStr := flag.String("skip-corrupt-events", "false", "Skip corrupt events during replay instead of aborting")
	debugSubtreesStr := flag.String("debug-subtrees", "false", "Inject a SUBTREEMAP_TEST event after every submit")
	exporterStr := flag.String("exporter", "true", "Enable Prometheus exporter")
	exporterPortStr := flag.String("exporter-port", "9108", "Exporter port")
	logLevelStr := flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	logFilePathStr := flag.String("log-file", "", "Path to log file; empty disables file logging")
	logToConsoleStr := flag.String("log-console", "true", "Also log to stderr")

	if envPath := os.Getenv("MDJOURNAL_CONFIG_PATH"); envPath != "" && *configPath == "" {
		*configPath = envPath
	}

	flag.Parse()

	applyDefaults(cfg, nodeIDStr, poolIDStr, journalDirStr, journalFormatStr, layoutPeriodStr,
		maxSegmentsStr, maxEventsStr, maxExpiringStr, skipCorruptStr, debugSubtreesStr,
		exporterStr, exporterPortStr, logLevelStr, logFilePathStr, logToConsoleStr)

	if *configPath != "" {
		data, err := os.ReadFile(*configPath)
		if err != nil {
			return nil, err
		}
		if strings.HasSuffix(*configPath, ".json") {
			if err := json.Unmarshal(data, cfg); err != nil {
				return nil, err
			}
		} else {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, err
			}
		}
	}

	cfg.Normalize()
	util.SetLevel(cfg.LogLevel)

	return cfg, nil
}

func applyDefaults(cfg *Config, nodeIDStr, poolIDStr, journalDirStr, journalFormatStr, layoutPeriodStr,
	maxSegmentsStr, maxEventsStr, maxExpiringStr, skipCorruptStr, debugSubtreesStr,
	exporterStr, exporterPortStr, logLevelStr, logFilePathStr, logToConsoleStr *string) {

	if v, err := strconv.ParseUint(*nodeIDStr, 10, 64); err == nil {
		cfg.NodeID = v
	}
	if v, err := strconv.ParseUint(*poolIDStr, 10, 64); err == nil {
		cfg.MetadataPoolID = v
	}
	cfg.JournalDir = *journalDirStr
	if v, err := strconv.ParseUint(*journalFormatStr, 10, 32); err == nil {
		cfg.JournalFormat = uint32(v)
	}
	if v, err := strconv.ParseUint(*layoutPeriodStr, 10, 64); err == nil {
		cfg.LayoutPeriod = v
	}
	if v, err := strconv.Atoi(*maxSegmentsStr); err == nil {
		cfg.MaxSegments = v
	}
	if v, err := strconv.Atoi(*maxEventsStr); err == nil {
		cfg.MaxEvents = v
	}
	if v, err := strconv.Atoi(*maxExpiringStr); err == nil {
		cfg.MaxExpiring = v
	}
	if v, err := strconv.ParseBool(*skipCorruptStr); err == nil {
		cfg.SkipCorruptEvents = v
	}
	if v, err := strconv.ParseBool(*debugSubtreesStr); err == nil {
		cfg.DebugSubtrees = v
	}
	if v, err := strconv.ParseBool(*exporterStr); err == nil {
		cfg.EnableExporter = v
	}
	if v, err := strconv.Atoi(*exporterPortStr); err == nil {
		cfg.ExporterPort = v
	}
	switch strings.ToLower(*logLevelStr) {
	case "debug":
		cfg.LogLevel = util.LogLevelDebug
	case "warn", "warning":
		cfg.LogLevel = util.LogLevelWarn
	case "error":
		cfg.LogLevel = util.LogLevelError
	default:
		cfg.LogLevel = util.LogLevelInfo
	}
	cfg.LogFilePath = *logFilePathStr
	if v, err := strconv.ParseBool(*logToConsoleStr); err == nil {
		cfg.LogToConsole = v
	}
}

// Normalize fills in defaults left unset by flags or the config file.
func (cfg *Config) Normalize() {
	if strings.TrimSpace(cfg.JournalDir) == "" {
		cfg.JournalDir = "mdjournal-data"
	}
	if cfg.JournalFormat == 0 {
		cfg.JournalFormat = 1
	}
	if cfg.LayoutPeriod == 0 {
		cfg.LayoutPeriod = 4 << 20
	}
	if cfg.LayoutObjSize == 0 {
		cfg.LayoutObjSize = 4 << 20
	}
	if cfg.MaxSegments <= 0 {
		cfg.MaxSegments = 30
	}
	if cfg.MaxEvents <= 0 {
		cfg.MaxEvents = 1_000_000
	}
	if cfg.MaxExpiring <= 0 {
		cfg.MaxExpiring = 20
	}
	if cfg.TrimBudget <= 0 {
		cfg.TrimBudget = 2 * time.Second
	}
	if cfg.TrimPeriod <= 0 {
		cfg.TrimPeriod = 5 * time.Second
	}
	if cfg.ReplayResyncLimit <= 0 {
		cfg.ReplayResyncLimit = 16
	}
	if cfg.ExporterPort <= 0 {
		cfg.ExporterPort = 9108
	}
	if cfg.RaftDataDir == "" {
		cfg.RaftDataDir = cfg.JournalDir + "/raft"
	}
	if cfg.LeaseWatchEvery <= 0 {
		cfg.LeaseWatchEvery = 500 * time.Millisecond
	}
}
