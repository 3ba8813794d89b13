package config

// this holds the resolved configuration values from CLI
//
//nolint:lll // readablity
var (
	DB                string // connection string for the database
	SQLiteFile        string // path to sqlite artifact store (used if DB is empty)
	WaitForServices   string // duration to wait for other services to be ready
	LogLevel          string // sets the log level (zap log level values)
	SQLLogLevel       string // sets the log level for sql subsystem
	LogFormat         string // text vs json
	LogFilter         string // zapfilter rules
	EnableTelemetry   bool   // enable telemetry
	TelemetryEndpoint string // endpoint for telemetry (host:port or "stdout")
	NatsURL           string // if set, results are published to nats
	Corpus            string // name of the calibration corpus
	Parallel          int    // number of sessions processed concurrently
)

// Analysis holds the parameters of the modeling pipeline.
// It is passed by value to the components, never stored globally.
type Analysis struct {
	BaselineLaps     int     // laps 1..N used for driver baselines
	MinBaselineLaps  int     // minimum valid laps for a baseline
	RollingWindow    int     // W prior laps for rolling relative performance
	WarmupLaps       int     // minimum known laps before a prediction is issued
	MinSamples       int     // minimum valid samples per signal channel and lap
	TrafficGap       float64 // gap to car ahead (s) below which a lap is a traffic lap
	MinFieldFraction float64 // share of field that must complete a lap for a confident median
	EarlyEnd         int     // last lap of the early segment
	MidEnd           int     // last lap of the mid segment
	ProfileThreshold float64 // variance ratio above => PROFILE
	StateThreshold   float64 // variance ratio below => STATE
}

func DefaultAnalysis() Analysis {
	return Analysis{
		BaselineLaps:     5,
		MinBaselineLaps:  3,
		RollingWindow:    3,
		WarmupLaps:       3,
		MinSamples:       20,
		TrafficGap:       1.0,
		MinFieldFraction: 0.5,
		EarlyEnd:         5,
		MidEnd:           15,
		ProfileThreshold: 1.5,
		StateThreshold:   0.7,
	}
}

// AnalysisFlags holds the flag targets for the Analysis values
var AnalysisFlags = DefaultAnalysis()
