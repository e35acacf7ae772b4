package dotenv

import (
	"os"
	"path/filepath"
	"testing"
)

func TestParseLine(t *testing.T) {
	t.Parallel()

	tests := []struct {
		line string
		key  string
		val  string
		ok   bool
	}{
		{"KEY=value", "KEY", "value", true},
		{"  KEY = value  ", "KEY", "value", true},
		{"export PORT=8000", "PORT", "8000", true},
		{`GREETING="hello world"`, "GREETING", "hello world", true},
		{"NAME='single quoted'", "NAME", "single quoted", true},
		{"EMPTY=", "EMPTY", "", true},
		{"# KEY=commented", "", "", false},
		{"", "", "", false},
		{"no equals sign", "", "", false},
		{"=orphan", "", "", false},
	}
	for _, tc := range tests {
		key, val, ok := parseLine(tc.line)
		if ok != tc.ok {
			t.Fatalf("parseLine(%q) ok=%v, want %v", tc.line, ok, tc.ok)
		}
		if key != tc.key || val != tc.val {
			t.Fatalf("parseLine(%q) = %q=%q, want %q=%q", tc.line, key, val, tc.key, tc.val)
		}
	}
}

func TestLoadFile_MissingFileIsNoop(t *testing.T) {
	t.Parallel()
	if err := LoadFile(filepath.Join(t.TempDir(), ".env")); err != nil {
		t.Fatalf("LoadFile missing file error: %v", err)
	}
}

func TestLoadFile_NeverOverridesProcessEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	body := "NERA_ADDR=:9999\nNERA_TTS_VOICE=ru\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}

	t.Setenv("NERA_ADDR", ":8000")

	if err := LoadFile(path); err != nil {
		t.Fatalf("LoadFile error: %v", err)
	}
	if got := os.Getenv("NERA_ADDR"); got != ":8000" {
		t.Fatalf("NERA_ADDR=%q, file values must not shadow the environment", got)
	}
	if got := os.Getenv("NERA_TTS_VOICE"); got != "ru" {
		t.Fatalf("NERA_TTS_VOICE=%q, want the file value", got)
	}
}

func TestLoad_UsesFirstExistingPath(t *testing.T) {
	dir := t.TempDir()
	missing := filepath.Join(dir, "first.env")
	present := filepath.Join(dir, "second.env")
	if err := os.WriteFile(present, []byte("PICKED=second\n"), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}

	t.Setenv("PICKED", "")
	os.Unsetenv("PICKED")

	if err := Load(missing, present); err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if got := os.Getenv("PICKED"); got != "second" {
		t.Fatalf("PICKED=%q, want the value from the first existing file", got)
	}
}
