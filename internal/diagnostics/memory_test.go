package diagnostics

import (
	"os"
	"testing"
)

func TestSystemMemory(t *testing.T) {
	status, err := SystemMemory()
	if err != nil {
		t.Fatalf("SystemMemory() error = %v", err)
	}
	if status.TotalMB <= 0 {
		t.Errorf("TotalMB = %v, want > 0", status.TotalMB)
	}
	if status.AvailableMB < 0 || status.AvailableMB > status.TotalMB {
		t.Errorf("AvailableMB = %v out of range (total %v)", status.AvailableMB, status.TotalMB)
	}
}

func TestProcessRSSMB(t *testing.T) {
	rss, err := ProcessRSSMB(os.Getpid())
	if err != nil {
		t.Fatalf("ProcessRSSMB() error = %v", err)
	}
	if rss <= 0 {
		t.Errorf("RSS = %v MB, want > 0 for a live process", rss)
	}
}

func TestProcessRSSMBUnknownPid(t *testing.T) {
	if _, err := ProcessRSSMB(-1); err == nil {
		t.Error("ProcessRSSMB(-1) returned nil error")
	}
}

func TestPreflightWarnings(t *testing.T) {
	if warnings := PreflightWarnings(0); len(warnings) != 0 {
		t.Errorf("PreflightWarnings(0) = %v, want none with the check disabled", warnings)
	}
	// An absurd threshold must trip the warning on any machine.
	if warnings := PreflightWarnings(1 << 30); len(warnings) == 0 {
		t.Error("PreflightWarnings(huge) produced no warning")
	}
}
