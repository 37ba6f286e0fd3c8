package browser

import (
	"strings"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if !cfg.Headless {
		t.Error("default should be headless")
	}
	if cfg.SlowMo < 500*time.Millisecond {
		t.Errorf("SlowMo=%v, want human-like pacing", cfg.SlowMo)
	}
	if cfg.UserAgent == "" {
		t.Error("default user agent empty")
	}
}

func TestSessionRejectsUnknownService(t *testing.T) {
	o := NewOrchestrator(DefaultConfig())
	defer o.Close()

	_, err := o.Session(Service("myspace"))
	if err == nil {
		t.Fatal("expected error for unknown service")
	}
	if !strings.Contains(err.Error(), "myspace") {
		t.Fatalf("err=%v", err)
	}
}

func TestServiceURLsCoverAllServices(t *testing.T) {
	for _, svc := range []Service{ServiceChatGPT, ServiceGemini, ServiceClaude} {
		if serviceURLs[svc] == "" {
			t.Errorf("no URL for %s", svc)
		}
	}
}
