package util

import (
	"encoding/json"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

func parseLogLevelString(s string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LogLevelDebug
	case "warn", "warning":
		return LogLevelWarn
	case "error":
		return LogLevelError
	default:
		return LogLevelInfo
	}
}

// UnmarshalYAML accepts either a level name ("debug") or a numeric LogLevel
// in a config file overlay.
func (l *LogLevel) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err == nil {
		if i, numErr := strconv.Atoi(s); numErr == nil {
			*l = LogLevel(i)
			return nil
		}
		*l = parseLogLevelString(s)
		return nil
	}
	var i int
	if err := value.Decode(&i); err != nil {
		return err
	}
	*l = LogLevel(i)
	return nil
}

// UnmarshalJSON accepts either a level name ("debug") or a numeric LogLevel.
func (l *LogLevel) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*l = parseLogLevelString(s)
		return nil
	}
	var i int
	if err := json.Unmarshal(data, &i); err != nil {
		return err
	}
	*l = LogLevel(i)
	return nil
}
