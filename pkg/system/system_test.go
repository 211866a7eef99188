package system

import (
	"os"
	"path/filepath"
	"testing"
)

func TestGenerateSessionID(t *testing.T) {
	a := GenerateSessionID()
	b := GenerateSessionID()
	if len(a) != 16 {
		t.Fatalf("session id length = %d, want 16", len(a))
	}
	if a == b {
		t.Fatalf("two session ids are equal: %s", a)
	}
}

func TestParseEnvLine(t *testing.T) {
	tests := []struct {
		line  string
		key   string
		value string
		ok    bool
	}{
		{"FOO=bar", "FOO", "bar", true},
		{"  SPACED = value ", "SPACED", "value", true},
		{"export EXPORTED=1", "EXPORTED", "1", true},
		{`QUOTED="a b"`, "QUOTED", "a b", true},
		{"SINGLE='x'", "SINGLE", "x", true},
		{"# comment", "", "", false},
		{"", "", "", false},
		{"NOEQUALS", "", "", false},
		{"URL=wss://host/ws?a=b", "URL", "wss://host/ws?a=b", true},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			key, value, ok := parseEnvLine(tt.line)
			if ok != tt.ok || key != tt.key || value != tt.value {
				t.Errorf("parseEnvLine(%q) = (%q, %q, %v), want (%q, %q, %v)",
					tt.line, key, value, ok, tt.key, tt.value, tt.ok)
			}
		})
	}
}

func TestLoadEnvKeepsExisting(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.env")
	content := "VR_TEST_NEW=fromfile\nVR_TEST_SET=fromfile\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("VR_TEST_SET", "fromenv")
	t.Setenv("VR_TEST_NEW", "")
	os.Unsetenv("VR_TEST_NEW")

	if err := LoadEnv(path); err != nil {
		t.Fatalf("LoadEnv: %v", err)
	}
	if got := os.Getenv("VR_TEST_NEW"); got != "fromfile" {
		t.Errorf("VR_TEST_NEW = %q, want fromfile", got)
	}
	if got := os.Getenv("VR_TEST_SET"); got != "fromenv" {
		t.Errorf("VR_TEST_SET = %q, want fromenv", got)
	}
}
