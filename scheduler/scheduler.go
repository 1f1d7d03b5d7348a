// Package scheduler implements the Scheduler component (spec.md §4.1,
// C1): a single-threaded cooperative loop driven by three independent
// countdown timers.
package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/quay/zlog"

	"github.com/rtkjbillo/wazuh"
	"github.com/rtkjbillo/wazuh/catalog"
	"github.com/rtkjbillo/wazuh/fetch"
	"github.com/rtkjbillo/wazuh/internal/statestore"
	"github.com/rtkjbillo/wazuh/internal/tmp"
	"github.com/rtkjbillo/wazuh/oval"
	"github.com/rtkjbillo/wazuh/scan"
)

// Config is the recognized option set of spec.md §6.
type Config struct {
	Enabled     bool
	RunOnStart  bool
	UpdateFamily map[wazuh.Family]bool
	DistroEnabled map[wazuh.Distro]bool

	MaxDetect time.Duration
	MaxUbuntu time.Duration
	MaxRedHat time.Duration
}

// Scanner is the subset of scan.Scanner the loop needs.
type Scanner interface {
	Run(ctx context.Context) error
}

// Scheduler owns the three countdown timers and sequences the Fetcher,
// Preparser, Parser, Catalog, and Scanner through each tick.
type Scheduler struct {
	Config  Config
	Fetcher *fetch.Fetcher
	Catalog *catalog.Store
	Scanner Scanner
	State   statestore.Store

	detect, ubuntu, redhat time.Duration
}

// timerState is the JSON shape persisted via Scheduler.State between loop
// iterations (spec.md §6, "Module state"). It is opaque to every caller
// but this process, which is why it lives unexported.
type timerState struct {
	DetectSeconds int64 `json:"detect_seconds"`
	UbuntuSeconds int64 `json:"ubuntu_seconds"`
	RedHatSeconds int64 `json:"redhat_seconds"`
}

// Run executes the scheduling loop until ctx is canceled. Every failure
// inside a phase is logged and does not stop the loop (spec.md §7,
// "errors never escape the scheduler loop") with one exception: a
// QueueFatal from the Scanner (alert sink unreachable even after
// reopen) is fatal and returned to the caller, which is expected to
// exit the process (spec.md §4.7, §7).
func (s *Scheduler) Run(ctx context.Context) error {
	s.initTimers(ctx)

	for {
		if err := ctx.Err(); err != nil {
			return nil
		}

		ctx := zlog.ContextWithValues(ctx, "tick_id", uuid.NewString())

		if s.Config.Enabled {
			s.refreshFamily(ctx, wazuh.Ubuntu)
			s.refreshFamily(ctx, wazuh.RedHat)
		}

		if s.detect <= 0 {
			if err := s.Scanner.Run(ctx); err != nil {
				var e *wazuh.Error
				if errors.As(err, &e) && e.Kind == wazuh.ErrQueueFatal {
					return err
				}
				zlog.Error(ctx).Err(err).Msg("scan cycle failed")
			}
			s.detect = s.Config.MaxDetect
		}

		s.persistState(ctx)

		sleep := s.sleepDuration()
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(sleep):
		}
		s.subtractElapsed(sleep)
	}
}

// initTimers sets the three timers to zero (fire immediately) when
// RunOnStart is set, otherwise loads persisted state, falling back to
// each timer's max reload value (spec.md §4.1).
func (s *Scheduler) initTimers(ctx context.Context) {
	if s.Config.RunOnStart {
		s.detect, s.ubuntu, s.redhat = 0, 0, 0
		return
	}

	s.detect, s.ubuntu, s.redhat = s.Config.MaxDetect, s.Config.MaxUbuntu, s.Config.MaxRedHat

	if s.State == nil {
		return
	}
	b, err := s.State.Load()
	if err != nil || b == nil {
		return
	}
	var st timerState
	if err := json.Unmarshal(b, &st); err != nil {
		zlog.Info(ctx).Err(err).Msg("discarding unreadable persisted timer state")
		return
	}
	s.detect = time.Duration(st.DetectSeconds) * time.Second
	s.ubuntu = time.Duration(st.UbuntuSeconds) * time.Second
	s.redhat = time.Duration(st.RedHatSeconds) * time.Second
}

func (s *Scheduler) persistState(ctx context.Context) {
	if s.State == nil {
		return
	}
	st := timerState{
		DetectSeconds: int64(s.detect / time.Second),
		UbuntuSeconds: int64(s.ubuntu / time.Second),
		RedHatSeconds: int64(s.redhat / time.Second),
	}
	b, err := json.Marshal(st)
	if err != nil {
		zlog.Error(ctx).Err(err).Msg("marshaling timer state")
		return
	}
	if err := s.State.Save(b); err != nil {
		zlog.Error(ctx).Err(err).Msg("persisting timer state")
	}
}

// minSleep floors the loop's sleep so a family timer stuck at zero (its
// update gate is on but no distro in it is enabled, so refreshFamily
// never reloads it) cannot turn the loop into a busy-spin.
const minSleep = time.Second

func (s *Scheduler) sleepDuration() time.Duration {
	min := s.detect
	if s.Config.UpdateFamily[wazuh.Ubuntu] && s.ubuntu < min {
		min = s.ubuntu
	}
	if s.Config.UpdateFamily[wazuh.RedHat] && s.redhat < min {
		min = s.redhat
	}
	if min <= 0 {
		return minSleep
	}
	return min
}

func (s *Scheduler) subtractElapsed(elapsed time.Duration) {
	s.detect = saturatingSub(s.detect, elapsed)
	s.ubuntu = saturatingSub(s.ubuntu, elapsed)
	s.redhat = saturatingSub(s.redhat, elapsed)
}

func saturatingSub(d, elapsed time.Duration) time.Duration {
	d -= elapsed
	if d < 0 {
		return 0
	}
	return d
}

// refreshFamily refreshes every enabled distribution in family, in the
// order spec.md §3 names ({UbuntuPrecise, UbuntuTrusty, UbuntuXenial}
// then {RHEL5, RHEL6, RHEL7}), when that family's timer is zero and its
// update gate is set. A successful refresh of at least one distro
// reloads the family timer.
func (s *Scheduler) refreshFamily(ctx context.Context, family wazuh.Family) {
	if !s.Config.UpdateFamily[family] {
		return
	}
	timer := &s.ubuntu
	max := s.Config.MaxUbuntu
	distros := wazuh.UbuntuDistros()
	if family == wazuh.RedHat {
		timer = &s.redhat
		max = s.Config.MaxRedHat
		distros = wazuh.RedHatDistros()
	}
	if *timer > 0 {
		return
	}

	ok := false
	for _, d := range distros {
		if !s.Config.DistroEnabled[d] {
			continue
		}
		if err := s.refreshDistro(ctx, d, family); err != nil {
			zlog.Error(ctx).Err(err).Str("os", string(d)).Msg("feed refresh failed")
			continue
		}
		ok = true
	}
	if ok {
		*timer = max
	}
}

func (s *Scheduler) refreshDistro(ctx context.Context, d wazuh.Distro, family wazuh.Family) error {
	ctx = zlog.ContextWithValues(ctx, "os", string(d))

	lookup := func(d wazuh.Distro) (string, error) { return s.Catalog.TimestampFor(ctx, d) }
	res, err := s.Fetcher.Fetch(ctx, d, lookup)
	if err != nil {
		return err
	}
	if res.UpToDate {
		return nil
	}
	defer res.File.Close()

	filtered, err := tmp.NewFile("", "oval-filtered-"+string(d)+"-")
	if err != nil {
		return wazuh.NewError("scheduler.refreshDistro", wazuh.ErrIo, "creating filtered temp file", err)
	}
	defer filtered.Close()

	if err := oval.ForFamily(family).Preparse(res.File, filtered); err != nil {
		return err
	}
	if _, err := filtered.Seek(0, io.SeekStart); err != nil {
		return wazuh.NewError("scheduler.refreshDistro", wazuh.ErrIo, "rewinding filtered temp file", err)
	}

	parser := oval.Parser{OS: d, Family: family}
	parsed, err := parser.Parse(filtered)
	if err != nil {
		return err
	}

	return s.Catalog.ReplaceOS(ctx, parsed)
}
