package logging

import (
	"testing"

	"go.uber.org/zap"
)

func TestNew(t *testing.T) {
	cases := []struct {
		level, format string
		wantErr       bool
	}{
		{level: "debug", format: "json"},
		{level: "WARNING", format: "console"},
		{level: "", format: ""},
		{level: "loud", format: "json", wantErr: true},
		{level: "info", format: "xml", wantErr: true},
	}
	for _, tc := range cases {
		logger, err := New(tc.level, tc.format)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("New(%q, %q) expected error", tc.level, tc.format)
			}
			continue
		}
		if err != nil {
			t.Fatalf("New(%q, %q) error = %v", tc.level, tc.format, err)
		}
		_ = logger.Sync()
	}
}

func TestParseLevelGatesOutput(t *testing.T) {
	logger, err := New("warn", "json")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if logger.Core().Enabled(zap.InfoLevel) {
		t.Fatalf("info should be disabled at warn level")
	}
	if !logger.Core().Enabled(zap.ErrorLevel) {
		t.Fatalf("error should be enabled at warn level")
	}
}
