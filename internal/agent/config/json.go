package config

import (
	"encoding/json"
	"os"
	"time"

	"clinsync/internal/flagx"
	"clinsync/internal/timex"
)

// jsonConfig is a DTO used exclusively for JSON unmarshalling.
// It relies on timex.Duration so JSON can specify intervals either as
// strings like "30s" or as integer nanoseconds. After parsing, values
// are copied into the runtime Config (which uses time.Duration).
type jsonConfig struct {
	APIBaseURL          string         `json:"api_base_url"`
	DatabasePath        string         `json:"database_path"`
	PatientID           string         `json:"patient_id"`
	OnlineCheckInterval timex.Duration `json:"online_check_interval"`
}

// parseJSON overlays Config with values loaded from a JSON file.
//
// Lookup order for the JSON file path:
//  1. Command-line flags (-c or -config) via flagx.JSONConfigFlags().
//  2. If empty, no JSON is loaded and the function returns.
//
// Behavior:
//   - Reads and unmarshals the JSON into jsonConfig.
//   - Copies known fields into the provided Config.
//   - Panics on read or unmarshal errors (caller should recover if desired).
//
// Intended usage is: defaults -> parseJSON -> parseFlags, where later stages
// override earlier ones.
func parseJSON(cfg *Config) {
	// Resolve file path from flags.
	jsonConfigFile := flagx.JSONConfigFlags()
	if jsonConfigFile == "" {
		return
	}

	var jc jsonConfig

	data, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}
	if err := json.Unmarshal(data, &jc); err != nil {
		panic(err)
	}

	cfg.APIBaseURL = jc.APIBaseURL
	cfg.DatabasePath = jc.DatabasePath
	cfg.PatientID = jc.PatientID
	cfg.OnlineCheckInterval = time.Duration(jc.OnlineCheckInterval.Duration)
}
