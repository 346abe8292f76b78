package config

import "time"

// Config holds runtime settings for the portal agent.
//
// Fields:
//   - APIBaseURL: base URL of the clinic backend, e.g. "https://portal.clinic.example".
//   - DatabasePath: filesystem path of the local SQLite database.
//   - PatientID: identifier of the patient this installation belongs to.
//   - OnlineCheckInterval: how often the agent probes backend reachability.
//
// Units: OnlineCheckInterval is a time.Duration (e.g., 30*time.Second).
type Config struct {
	APIBaseURL          string
	DatabasePath        string
	PatientID           string
	OnlineCheckInterval time.Duration
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.APIBaseURL = "http://127.0.0.1:8080"
	c.DatabasePath = "portal.db"
	c.OnlineCheckInterval = 30 * time.Second
}

// LoadConfig constructs a Config, applies defaults, then overlays values from
// JSON (if present) and command-line flags (if present). Later sources take
// precedence over earlier ones.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJSON(cfg)
	parseFlags(cfg)
	return cfg
}
