package attendance

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// =============================================================================
// SWEEPER - Daily batch reconciliation across tenants
// =============================================================================

// DefaultSweepConcurrency bounds how many tenants are swept at once.
const DefaultSweepConcurrency = 4

// Sweeper runs ReconcileTenantDay for every tenant. Tenants run in
// parallel; runs for the same tenant are serialized. One tenant failing
// never stops the others.
type Sweeper struct {
	Engine      *Engine
	Tenants     TenantLister
	Concurrency int
	Logger      *log.Logger

	tenants keyedMutex
}

func NewSweeper(engine *Engine, tenants TenantLister) *Sweeper {
	return &Sweeper{Engine: engine, Tenants: tenants, Concurrency: DefaultSweepConcurrency}
}

type SweepReport struct {
	Date     Date
	Now      time.Time
	Tenants  []TenantReport
	Failures map[TenantID]string
}

func (r SweepReport) Failed() bool { return len(r.Failures) > 0 }

// Run sweeps date for every tenant using a single captured "now".
func (s *Sweeper) Run(ctx context.Context, date Date) (SweepReport, error) {
	tenants, err := s.Tenants.Tenants(ctx)
	if err != nil {
		return SweepReport{}, fmt.Errorf("list tenants: %w", err)
	}
	ids := make([]TenantID, len(tenants))
	for i, t := range tenants {
		ids[i] = t.ID
	}
	return s.RunTenants(ctx, date, ids...), nil
}

// RunTenants sweeps date for the given tenants.
func (s *Sweeper) RunTenants(ctx context.Context, date Date, tenants ...TenantID) SweepReport {
	now := s.Engine.Clock.Now()
	report := SweepReport{Date: date, Now: now, Failures: map[TenantID]string{}}

	var mu sync.Mutex
	limit := s.Concurrency
	if limit <= 0 {
		limit = DefaultSweepConcurrency
	}
	// errgroup.Group without WithContext: a failing tenant must not cancel
	// its siblings, so every Go func returns nil.
	var g errgroup.Group
	g.SetLimit(limit)
	for _, tenant := range tenants {
		tenant := tenant
		g.Go(func() error {
			tr, err := s.sweepTenant(ctx, tenant, date, now)
			mu.Lock()
			defer mu.Unlock()
			report.Tenants = append(report.Tenants, tr)
			if err != nil {
				report.Failures[tenant] = err.Error()
				s.logf("[Sweep] Tenant %s on %s failed: %v", tenant, date, err)
			}
			return nil
		})
	}
	_ = g.Wait()
	s.logf("[Sweep] %s: %d tenants, %d failed", date, len(tenants), len(report.Failures))
	return report
}

// SweepTenant runs one tenant behind its lock, with its own captured "now".
func (s *Sweeper) SweepTenant(ctx context.Context, tenant TenantID, date Date) (TenantReport, error) {
	return s.sweepTenant(ctx, tenant, date, s.Engine.Clock.Now())
}

func (s *Sweeper) sweepTenant(ctx context.Context, tenant TenantID, date Date, now time.Time) (tr TenantReport, err error) {
	unlock := s.tenants.Lock(string(tenant))
	defer unlock()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic sweeping %s: %v", tenant, r)
		}
	}()

	tr, err = s.Engine.ReconcileTenantDay(ctx, tenant, date, now)
	if err == nil {
		s.logf("[Sweep] Tenant %s on %s: %d employees, %d new anomalies", tenant, date, tr.Employees, tr.AnomalyCount())
	}
	return tr, err
}

// PreviousDay returns the work date a sweep at now should reconcile for a
// tenant: the day before now in the tenant's timezone.
func PreviousDay(now time.Time, settings TenantSettings) Date {
	return DateOf(now, settings.Location()).AddDays(-1)
}

func (s *Sweeper) logf(format string, args ...any) {
	if s.Logger != nil {
		s.Logger.Printf(format, args...)
		return
	}
	log.Printf(format, args...)
}
