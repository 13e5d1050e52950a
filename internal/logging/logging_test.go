package logging

import (
	"bytes"
	"os"
	"testing"

	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]zerolog.Level{
		"off":     zerolog.Disabled,
		"0":       zerolog.Disabled,
		"full":    zerolog.DebugLevel,
		"DEBUG":   zerolog.DebugLevel,
		" warn ":  zerolog.WarnLevel,
		"error":   zerolog.ErrorLevel,
		"info":    zerolog.InfoLevel,
		"":        zerolog.InfoLevel,
		"verbose": zerolog.InfoLevel,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestSetup_EnvOverride(t *testing.T) {
	t.Setenv(EnvLevel, "off")
	Setup("debug", "json", &bytes.Buffer{})
	if zerolog.GlobalLevel() != zerolog.Disabled {
		t.Errorf("expected logging disabled, got %v", zerolog.GlobalLevel())
	}
}

func TestSetup_WritesJSON(t *testing.T) {
	os.Unsetenv(EnvLevel)
	var buf bytes.Buffer
	logger := Setup("info", "json", &buf)
	logger.Info().Str("organism", "h_sapiens").Msg("opened")
	logger.Debug().Msg("hidden")

	out := buf.String()
	if !bytes.Contains([]byte(out), []byte(`"organism":"h_sapiens"`)) {
		t.Errorf("expected structured field in output, got %q", out)
	}
	if bytes.Contains([]byte(out), []byte("hidden")) {
		t.Errorf("debug message should be filtered at info level: %q", out)
	}
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
}
