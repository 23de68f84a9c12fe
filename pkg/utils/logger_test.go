package utils

import (
	"testing"

	"github.com/sirupsen/logrus"
)

func TestDistinctHooks(t *testing.T) {
	logger := logrus.New()
	all := &ServiceHook{Service: "bastion", Version: "test"}
	logger.AddHook(all)

	// Registered under every level, but it is one hook.
	if got := DistinctHooks(logger.Hooks); len(got) != 1 {
		t.Fatalf("distinct hooks = %d, want 1", len(got))
	}

	second := &ServiceHook{Service: "other", Version: "test"}
	logger.AddHook(second)
	if got := DistinctHooks(logger.Hooks); len(got) != 2 {
		t.Fatalf("distinct hooks = %d, want 2", len(got))
	}

	if got := DistinctHooks(logrus.New().Hooks); len(got) != 0 {
		t.Fatalf("distinct hooks of a bare logger = %d, want 0", len(got))
	}
}

func TestServiceHookFire(t *testing.T) {
	hook := &ServiceHook{Service: "bastion", Version: "1.0.0", Hostname: "node-1"}
	entry := &logrus.Entry{Data: logrus.Fields{}}
	if err := hook.Fire(entry); err != nil {
		t.Fatalf("Fire: %v", err)
	}
	if entry.Data["service"] != "bastion" || entry.Data["version"] != "1.0.0" || entry.Data["hostname"] != "node-1" {
		t.Errorf("entry data = %v", entry.Data)
	}
}
