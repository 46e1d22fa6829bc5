package config

const (
	DefaultIntervalSeconds         = 60
	DefaultJitterSeconds           = 5
	DefaultDryRun                  = true
	DefaultWorkerTimeoutSeconds    = 20
	DefaultBreakerFailureThreshold = 3
	DefaultBreakerCooldownCycles   = 3

	DefaultBatchSize        = 10
	DefaultSimulatedDelayMs = 50

	DefaultStorageDriver = SQLite
	DefaultSQLitePath    = "data/agent_state.sqlite3"
	DefaultEventsPath    = "data/events.jsonl"
	DefaultMirrorQueue   = "autopilot.events"
	DefaultStatusPort    = 8089
	DefaultConfigPath    = "config/defaults.yaml"
)

var (
	DefaultTerminalCommands = [][]string{{"/bin/echo", "TerminalWorker active: local action completed"}}
	DefaultAllowedBinaries  = []string{"/bin/echo", "echo"}
	DefaultBrowserURLs      = []string{"about:blank"}
)

// DefaultPlatforms lists the adapters known at startup. All of them are disabled until the
// configuration turns them on.
var DefaultPlatforms = []string{"twitter", "reddit", "linkedin", "facebook", "instagram", "tiktok", "mastodon"}
