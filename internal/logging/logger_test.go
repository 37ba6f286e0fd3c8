package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func resetLogging() {
	CloseAll()
	configMu.Lock()
	debugMode = false
	logLevel = LevelInfo
	configMu.Unlock()
	logsDir = ""
}

func TestInitializeDisabledIsNoOp(t *testing.T) {
	defer resetLogging()
	ws := t.TempDir()

	if err := Initialize(ws, "info", false); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	Boot("should go nowhere")
	if _, err := os.Stat(filepath.Join(ws, ".arf", "logs")); !os.IsNotExist(err) {
		t.Fatalf("logs dir should not exist in production mode")
	}
}

func TestDebugModeWritesCategoryFiles(t *testing.T) {
	defer resetLogging()
	ws := t.TempDir()

	if err := Initialize(ws, "debug", true); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	Cycle("cycle %d started", 1)
	Validation("running %d experiments", 3)
	CloseAll()

	entries, err := os.ReadDir(filepath.Join(ws, ".arf", "logs"))
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}

	found := map[string]bool{}
	for _, e := range entries {
		for _, cat := range []string{"boot", "cycle", "validation"} {
			if strings.Contains(e.Name(), cat) {
				found[cat] = true
			}
		}
	}
	for _, cat := range []string{"boot", "cycle", "validation"} {
		if !found[cat] {
			t.Fatalf("missing log file for category %s (have %v)", cat, entries)
		}
	}
}

func TestLevelFiltering(t *testing.T) {
	defer resetLogging()
	ws := t.TempDir()

	if err := Initialize(ws, "warn", true); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	l := Get(CategoryModels)
	l.Info("filtered out")
	l.Warn("kept")
	CloseAll()

	data, err := os.ReadFile(findCategoryFile(t, ws, "models"))
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if strings.Contains(string(data), "filtered out") {
		t.Fatalf("info line should be filtered at warn level")
	}
	if !strings.Contains(string(data), "kept") {
		t.Fatalf("warn line missing")
	}
}

func findCategoryFile(t *testing.T, ws, cat string) string {
	t.Helper()
	dir := filepath.Join(ws, ".arf", "logs")
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	for _, e := range entries {
		if strings.Contains(e.Name(), cat) {
			return filepath.Join(dir, e.Name())
		}
	}
	t.Fatalf("no log file for category %s", cat)
	return ""
}
