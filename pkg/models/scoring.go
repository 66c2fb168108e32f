package models

import "time"

// Comparison operators a ScoreTest may use against a metric value.
const (
	OpLT = "lt"
	OpLE = "le"
	OpEQ = "eq"
	OpNE = "ne"
	OpGE = "ge"
	OpGT = "gt"
)

// ValidOps contains all valid comparison operator names.
var ValidOps = []string{OpLT, OpLE, OpEQ, OpNE, OpGE, OpGT}

// IsValidOp checks if the given operator name is valid.
func IsValidOp(op string) bool {
	for _, o := range ValidOps {
		if o == op {
			return true
		}
	}
	return false
}

// ScoreTest is a single weighted assertion against a flattened fine-match
// metric. Threshold is stored as text and treated as bool ("true"/"false")
// or numeric at evaluation time.
type ScoreTest struct {
	ETLID     int64     `json:"etl_id"`
	TestName  string    `json:"test_name"`
	Metric    string    `json:"metric"`
	Threshold string    `json:"threshold"`
	Operator  string    `json:"operator"`
	Weight    float64   `json:"weight"`
	TouchedBy string    `json:"touched_by"`
	TouchedTS time.Time `json:"touched_ts"`
}

// ScoreBattery binds a test into a named battery. A battery is the set of
// rows sharing battery_name; prod fine matching runs the battery named in
// configuration.
type ScoreBattery struct {
	ETLID       int64     `json:"etl_id"`
	BatteryName string    `json:"battery_name"`
	TestName    string    `json:"test_name"`
	TouchedBy   string    `json:"touched_by"`
	TouchedTS   time.Time `json:"touched_ts"`
}
