package util

import "testing"

func TestSetLevelUpdatesCurrentLevel(t *testing.T) {
	SetLevel(LogLevelWarn)
	defer SetLevel(LogLevelInfo)

	if currentLevel != LogLevelWarn {
		t.Fatalf("SetLevel did not update currentLevel: %v", currentLevel)
	}
}

func TestParseLogLevelString(t *testing.T) {
	cases := map[string]LogLevel{
		"debug":   LogLevelDebug,
		"DEBUG":   LogLevelDebug,
		"warn":    LogLevelWarn,
		"warning": LogLevelWarn,
		"error":   LogLevelError,
		"":        LogLevelInfo,
		"bogus":   LogLevelInfo,
	}
	for in, want := range cases {
		if got := parseLogLevelString(in); got != want {
			t.Errorf("parseLogLevelString(%q) = %v, want %v", in, got, want)
		}
	}
}
