/*
scheduler.go - Automated daily sweep scheduler

PURPOSE:
  Runs the batch reconciliation for every tenant once a day, at the
  tenant's configured missing-OUT detection time in the tenant's own
  timezone, sweeping the previous work date. A second daily job sends
  managers the digest of overtime awaiting approval at the tenant's
  overtime pending notification time.

DESIGN:
  - Up to two robfig/cron entries per tenant, sweep and overtime digest:
    "CRON_TZ=<tz> <min> <hour> * * *"
  - SkipIfStillRunning: a slow sweep is never stacked on itself
  - Refresh re-reads tenants and settings and re-registers entries, so a
    settings change takes effect without a restart
  - A failed tenant is logged by the Sweeper; the next day retries

USAGE:
  scheduler := NewSweepScheduler(engine, sweeper, store)
  if err := scheduler.Start(ctx); err != nil { ... }
  // ... later
  scheduler.Stop()

SEE ALSO:
  - attendance/sweep.go: Sweeper
  - handlers.go: TriggerSweep endpoint (manual sweep)
*/
package api

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/warp/attendance-engine/attendance"
)

// SweepScheduler registers the daily jobs of every tenant.
type SweepScheduler struct {
	Engine  *attendance.Engine
	Sweeper *attendance.Sweeper
	Tenants attendance.TenantLister
	Enabled bool

	// Timeout bounds one tenant job.
	Timeout time.Duration

	cron    *cron.Cron
	entries map[jobKey]scheduledEntry
	mu      sync.Mutex
}

type jobKind string

const (
	jobSweep           jobKind = "sweep"
	jobOvertimePending jobKind = "overtime-pending"
)

type jobKey struct {
	tenant attendance.TenantID
	kind   jobKind
}

type scheduledEntry struct {
	id   cron.EntryID
	spec string
}

// NewSweepScheduler creates a new scheduler.
func NewSweepScheduler(engine *attendance.Engine, sweeper *attendance.Sweeper, tenants attendance.TenantLister) *SweepScheduler {
	return &SweepScheduler{
		Engine:  engine,
		Sweeper: sweeper,
		Tenants: tenants,
		Enabled: true,
		Timeout: 30 * time.Minute,
		entries: make(map[jobKey]scheduledEntry),
	}
}

// Start registers every tenant and starts the cron loop.
func (s *SweepScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if !s.Enabled {
		s.mu.Unlock()
		log.Println("[Scheduler] Disabled, not starting")
		return nil
	}
	s.cron = cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)))
	s.mu.Unlock()

	if err := s.Refresh(ctx); err != nil {
		return err
	}
	s.cron.Start()
	log.Printf("[Scheduler] Started with %d schedules", s.EntryCount())
	return nil
}

// Stop stops the scheduler and waits for running jobs.
func (s *SweepScheduler) Stop() {
	s.mu.Lock()
	c := s.cron
	s.mu.Unlock()

	if c != nil {
		<-c.Stop().Done()
		log.Println("[Scheduler] Stopped")
	}
}

// Refresh (re)registers the jobs of every tenant from its current settings.
// Entries whose schedule is unchanged are kept; removed tenants and
// disabled digests are dropped.
func (s *SweepScheduler) Refresh(ctx context.Context) error {
	tenants, err := s.Tenants.Tenants(ctx)
	if err != nil {
		return fmt.Errorf("list tenants: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron == nil {
		return nil
	}

	wanted := make(map[jobKey]bool, 2*len(tenants))
	for _, t := range tenants {
		settings, err := s.Engine.Settings(ctx, t.ID)
		if err != nil {
			log.Printf("[Scheduler] Skipping tenant %s: %v", t.ID, err)
			for _, kind := range []jobKind{jobSweep, jobOvertimePending} {
				if _, ok := s.entries[jobKey{t.ID, kind}]; ok {
					wanted[jobKey{t.ID, kind}] = true
				}
			}
			continue
		}
		sweep := jobKey{t.ID, jobSweep}
		wanted[sweep] = true
		s.schedule(sweep, SweepSpec(settings), s.sweepJob(t.ID))

		if settings.NotifyOvertimePending {
			digest := jobKey{t.ID, jobOvertimePending}
			wanted[digest] = true
			s.schedule(digest, OvertimePendingSpec(settings), s.overtimePendingJob(t.ID))
		}
	}
	for key, e := range s.entries {
		if !wanted[key] {
			s.cron.Remove(e.id)
			delete(s.entries, key)
		}
	}
	return nil
}

// schedule registers fn under key unless the same spec is already
// registered. Caller holds s.mu.
func (s *SweepScheduler) schedule(key jobKey, spec string, fn func()) {
	if cur, ok := s.entries[key]; ok {
		if cur.spec == spec {
			return
		}
		s.cron.Remove(cur.id)
		delete(s.entries, key)
	}
	id, err := s.cron.AddFunc(spec, fn)
	if err != nil {
		log.Printf("[Scheduler] Invalid %s schedule %q for tenant %s: %v", key.kind, spec, key.tenant, err)
		return
	}
	s.entries[key] = scheduledEntry{id: id, spec: spec}
	log.Printf("[Scheduler] Tenant %s %s at %q", key.tenant, key.kind, spec)
}

// EntryCount returns the number of registered cron entries.
func (s *SweepScheduler) EntryCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// SweepSpec returns the cron spec for a tenant: daily at the detection time
// in the tenant's timezone.
func SweepSpec(settings attendance.TenantSettings) string {
	return dailySpec(settings, settings.MissingOutDetectionTime)
}

// OvertimePendingSpec returns the cron spec of the tenant's daily digest of
// overtime awaiting approval.
func OvertimePendingSpec(settings attendance.TenantSettings) string {
	return dailySpec(settings, settings.OvertimePendingNotificationTime)
}

func dailySpec(settings attendance.TenantSettings, t attendance.TimeOfDay) string {
	return fmt.Sprintf("CRON_TZ=%s %d %d * * *", settings.Location().String(), t.Minute(), t.Hour())
}

func (s *SweepScheduler) sweepJob(tenant attendance.TenantID) func() {
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.Timeout)
		defer cancel()

		settings, err := s.Engine.Settings(ctx, tenant)
		if err != nil {
			log.Printf("[Scheduler] Tenant %s: %v", tenant, err)
			return
		}
		date := attendance.PreviousDay(s.Engine.Clock.Now(), settings)
		if _, err := s.Sweeper.SweepTenant(ctx, tenant, date); err != nil {
			log.Printf("[Scheduler] Tenant %s sweep for %s finished with errors: %v", tenant, date, err)
		}
	}
}

func (s *SweepScheduler) overtimePendingJob(tenant attendance.TenantID) func() {
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.Timeout)
		defer cancel()

		res, err := s.Engine.NotifyPendingOvertime(ctx, tenant)
		if err != nil {
			log.Printf("[Scheduler] Tenant %s overtime digest: %v", tenant, err)
		}
		if res.Sent > 0 {
			log.Printf("[Scheduler] Tenant %s overtime digest sent to %d managers", tenant, res.Sent)
		}
	}
}
