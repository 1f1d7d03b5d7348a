package scheduler

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rtkjbillo/wazuh"
	"github.com/rtkjbillo/wazuh/internal/statestore"
)

func TestSaturatingSubNeverGoesNegative(t *testing.T) {
	tests := []struct {
		d, elapsed, want time.Duration
	}{
		{d: 10 * time.Second, elapsed: 3 * time.Second, want: 7 * time.Second},
		{d: 3 * time.Second, elapsed: 10 * time.Second, want: 0},
		{d: 0, elapsed: time.Second, want: 0},
	}
	for _, tc := range tests {
		if got := saturatingSub(tc.d, tc.elapsed); got != tc.want {
			t.Errorf("saturatingSub(%v, %v) = %v, want %v", tc.d, tc.elapsed, got, tc.want)
		}
	}
}

func TestSleepDurationPicksSmallestEnabledTimer(t *testing.T) {
	s := &Scheduler{
		Config: Config{
			UpdateFamily: map[wazuh.Family]bool{wazuh.Ubuntu: true, wazuh.RedHat: true},
		},
		detect: 30 * time.Second,
		ubuntu: 10 * time.Second,
		redhat: 20 * time.Second,
	}
	if got := s.sleepDuration(); got != 10*time.Second {
		t.Errorf("sleepDuration = %v, want 10s (smallest of detect/ubuntu/redhat)", got)
	}
}

func TestSleepDurationIgnoresDisabledFamilyTimers(t *testing.T) {
	s := &Scheduler{
		Config: Config{
			UpdateFamily: map[wazuh.Family]bool{},
		},
		detect: 30 * time.Second,
		ubuntu: 1 * time.Second,
		redhat: 1 * time.Second,
	}
	if got := s.sleepDuration(); got != 30*time.Second {
		t.Errorf("sleepDuration = %v, want 30s (family timers disabled, only detect counts)", got)
	}
}

func TestSleepDurationFloorsAtMinSleep(t *testing.T) {
	s := &Scheduler{detect: -5 * time.Second}
	if got := s.sleepDuration(); got != minSleep {
		t.Errorf("sleepDuration = %v, want the minSleep floor (%v) instead of a busy-spin", got, minSleep)
	}
}

func TestSleepDurationFloorsStuckFamilyTimer(t *testing.T) {
	s := &Scheduler{
		Config: Config{UpdateFamily: map[wazuh.Family]bool{wazuh.Ubuntu: true}},
		detect: time.Hour,
		ubuntu: 0,
	}
	if got := s.sleepDuration(); got != minSleep {
		t.Errorf("sleepDuration = %v, want the minSleep floor (%v) when a family timer is stuck at zero", got, minSleep)
	}
}

func TestInitTimersRunOnStartZeroesEverything(t *testing.T) {
	s := &Scheduler{
		Config: Config{RunOnStart: true, MaxDetect: time.Minute, MaxUbuntu: time.Hour, MaxRedHat: time.Hour},
	}
	s.initTimers(context.Background())
	if s.detect != 0 || s.ubuntu != 0 || s.redhat != 0 {
		t.Errorf("initTimers with RunOnStart = %v/%v/%v, want all zero", s.detect, s.ubuntu, s.redhat)
	}
}

func TestInitTimersFallsBackToMaxWithNoPersistedState(t *testing.T) {
	s := &Scheduler{
		Config: Config{MaxDetect: time.Minute, MaxUbuntu: time.Hour, MaxRedHat: 2 * time.Hour},
	}
	s.initTimers(context.Background())
	if s.detect != time.Minute || s.ubuntu != time.Hour || s.redhat != 2*time.Hour {
		t.Errorf("initTimers = %v/%v/%v, want the configured max values", s.detect, s.ubuntu, s.redhat)
	}
}

func TestInitTimersLoadsPersistedState(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	store := statestore.FileStore{Path: path}

	writer := &Scheduler{
		Config: Config{MaxDetect: time.Minute, MaxUbuntu: time.Hour, MaxRedHat: time.Hour},
		State:  store,
		detect: 42 * time.Second,
		ubuntu: 7 * time.Second,
		redhat: 9 * time.Second,
	}
	writer.persistState(context.Background())

	reader := &Scheduler{
		Config: Config{MaxDetect: time.Minute, MaxUbuntu: time.Hour, MaxRedHat: time.Hour},
		State:  store,
	}
	reader.initTimers(context.Background())

	if reader.detect != 42*time.Second || reader.ubuntu != 7*time.Second || reader.redhat != 9*time.Second {
		t.Errorf("initTimers after persistState = %v/%v/%v, want 42s/7s/9s", reader.detect, reader.ubuntu, reader.redhat)
	}
}
