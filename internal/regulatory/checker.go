package regulatory

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hadesus/analyzerforCP/internal/metrics"
	"github.com/hadesus/analyzerforCP/internal/model"
	"github.com/hadesus/analyzerforCP/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const defaultCheckTimeout = 45 * time.Second

// Subject is the drug a check runs against.
type Subject struct {
	INN          string
	SourceName   string
	SourceDosage string
}

// Check is one regulator lookup. Errors are converted to an Error status by
// the Checker.
type Check interface {
	Regulator() model.Regulator
	Check(ctx context.Context, s Subject) (model.RegulatoryStatus, error)
}

// DosageComparer classifies a source dosage against a reference text.
type DosageComparer interface {
	Compare(ctx context.Context, source, standard string) model.DosageComparison
}

type Checker struct {
	checks       []Check
	dosage       DosageComparer
	checkTimeout time.Duration
	logger       *zap.Logger
}

type Option func(*Checker)

func WithCheckTimeout(d time.Duration) Option {
	return func(c *Checker) {
		if d > 0 {
			c.checkTimeout = d
		}
	}
}

func NewChecker(checks []Check, dosage DosageComparer, logger *zap.Logger, opts ...Option) *Checker {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Checker{
		checks:       checks,
		dosage:       dosage,
		checkTimeout: defaultCheckTimeout,
		logger:       logger.Named("regulatory"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CheckAll runs every check concurrently and always returns the full fixed
// regulator key set. A failing check never affects the others.
func (c *Checker) CheckAll(ctx context.Context, s Subject) model.RegulatoryReport {
	ctx, span := telemetry.Tracer("regulatory").Start(ctx, "regulatory.check_all")
	span.SetAttributes(attribute.String("drug.inn", s.INN))
	defer span.End()

	var (
		mu       sync.Mutex
		statuses = make(map[model.Regulator]model.RegulatoryStatus, len(model.Regulators))
		g        errgroup.Group
	)
	for _, chk := range c.checks {
		chk := chk
		g.Go(func() error {
			st := c.runOne(ctx, chk, s)
			mu.Lock()
			statuses[chk.Regulator()] = st
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	for _, r := range model.Regulators {
		if _, ok := statuses[r]; !ok {
			statuses[r] = model.RegulatoryStatus{Status: model.StatusError, Detail: "check did not complete"}
		}
	}
	for r := range statuses {
		if !isKnownRegulator(r) {
			delete(statuses, r)
		}
	}

	report := model.RegulatoryReport{Checks: statuses}
	standard := statuses[model.RegulatorFDA].StandardDosage
	if c.dosage != nil {
		report.DosageCheck = c.dosage.Compare(ctx, s.SourceDosage, standard)
	} else {
		report.DosageCheck = notEvaluated("no dosage comparer configured")
	}
	return report
}

func (c *Checker) runOne(ctx context.Context, chk Check, s Subject) (st model.RegulatoryStatus) {
	reg := chk.Regulator()
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("regulatory check panicked", zap.String("regulator", string(reg)), zap.Any("panic", r))
			metrics.RecordDegradation("regulatory_" + strings.ToLower(string(reg)))
			st = model.RegulatoryStatus{Status: model.StatusError, Detail: fmt.Sprintf("internal error: %v", r)}
		}
	}()
	checkCtx, cancel := context.WithTimeout(ctx, c.checkTimeout)
	defer cancel()

	start := time.Now()
	st, err := chk.Check(checkCtx, s)
	if err != nil {
		c.logger.Warn("regulatory check failed", zap.String("regulator", string(reg)), zap.String("inn", s.INN), zap.Duration("elapsed", time.Since(start)), zap.Error(err))
		metrics.RecordDegradation("regulatory_" + strings.ToLower(string(reg)))
		return model.RegulatoryStatus{Status: model.StatusError, Detail: err.Error()}
	}
	if st.Status == "" {
		st.Status = model.StatusUnknown
	}
	c.logger.Debug("regulatory check done", zap.String("regulator", string(reg)), zap.String("status", string(st.Status)), zap.Duration("elapsed", time.Since(start)))
	return st
}

func isKnownRegulator(r model.Regulator) bool {
	for _, k := range model.Regulators {
		if k == r {
			return true
		}
	}
	return false
}
