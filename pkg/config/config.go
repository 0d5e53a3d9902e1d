package config

// this holds the resolved configuration values from CLI
//
//nolint:lll // readablity
var (
	DB              string // connection string for the database
	NatsURL         string // URL of the NATS server
	APIBaseURL      string // base URL of the race-control REST application
	LogLevel        string // sets the log level (zap log level values)
	SQLLogLevel     string // sets the log level for sql subsystem
	LogFormat       string // text vs json
	LogFilter       string // zapfilter rules for named loggers
	PollInterval    string // interval between dispatch queue polls
	PollLimit       int    // max events fetched per poll
	LeaseTTL        string // in-progress lease time-to-live
	Workers         int    // size of the correction worker pool
	TR203Addr       string // listen addr for GlobalSat TR203 (tcp)
	GH3000Addr      string // listen addr for Teltonika GH3000 (udp)
	App13Addr       string // listen addr for app13/pmtracker frames (tcp)
	GT60Addr        string // listen addr for RedView GT60 (tcp)
	MobileAddr      string // listen addr for the legacy mobile tracker (tcp)
	AuditLogPath    string // path of the receiver audit log ("" disables)
	WaitForServices string // duration to wait for other services to be ready
)
