package stock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/andreasstove999/cafeteria-system/services/menu-stock-service-go/internal/metrics"
)

const tracerName = "github.com/andreasstove999/cafeteria-system/services/menu-stock-service-go/internal/stock"

// Service orchestrates stock operations on top of a Store. Low-stock events
// are handed to the Dispatcher only after the Store has committed the
// mutation that produced them.
type Service struct {
	store      Store
	groups     GroupDirectory
	dispatcher Dispatcher

	logger  *zap.Logger
	metrics *metrics.Stock
	tracer  trace.Tracer
	now     func() time.Time
	loc     *time.Location
}

type Option func(*Service)

func WithLogger(l *zap.Logger) Option { return func(s *Service) { s.logger = l } }

func WithMetrics(m *metrics.Stock) Option { return func(s *Service) { s.metrics = m } }

func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

// WithLocation sets the operating calendar. Defaults to Asia/Seoul.
func WithLocation(loc *time.Location) Option { return func(s *Service) { s.loc = loc } }

func NewService(store Store, groups GroupDirectory, dispatcher Dispatcher, opts ...Option) *Service {
	s := &Service{
		store:      store,
		groups:     groups,
		dispatcher: dispatcher,
		logger:     zap.NewNop(),
		tracer:     otel.Tracer(tracerName),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.loc == nil {
		loc, err := time.LoadLocation(DefaultTimeZone)
		if err != nil {
			loc = time.FixedZone("KST", 9*60*60)
		}
		s.loc = loc
	}
	return s
}

// Today is the current operating day.
func (s *Service) Today() time.Time {
	return DateOf(s.now(), s.loc)
}

func (s *Service) Get(ctx context.Context, groupID string) (Result, error) {
	rec, err := s.store.Get(ctx, groupID)
	if err != nil {
		return Result{}, err
	}
	return Result{GroupID: rec.GroupID, Stock: rec.Stock}, nil
}

// Provision creates the record of a newly created group at full capacity.
func (s *Service) Provision(ctx context.Context, groupID string, capacity int) (Result, error) {
	if capacity <= 0 {
		return Result{}, fmt.Errorf("%w: capacity must be positive, got %d", ErrInvalidValue, capacity)
	}
	if _, err := s.groups.Lookup(ctx, groupID); err != nil {
		return Result{}, err
	}
	rec := NewRecord(groupID, capacity)
	if err := s.store.Create(ctx, rec); err != nil {
		return Result{}, err
	}
	s.logger.Info("stock provisioned", zap.String("group_id", groupID), zap.Int("capacity", capacity))
	return Result{GroupID: groupID, Stock: rec.Stock}, nil
}

// Deprovision removes the record of a group that is being destroyed.
func (s *Service) Deprovision(ctx context.Context, groupID string) error {
	if err := s.store.Delete(ctx, groupID); err != nil {
		return err
	}
	s.logger.Info("stock deprovisioned", zap.String("group_id", groupID))
	return nil
}

// Deduct sells amount servings of the group.
func (s *Service) Deduct(ctx context.Context, groupID string, amount int) (Result, error) {
	return s.deduct(ctx, "", groupID, amount)
}

// DeductOnce is Deduct keyed by requestID. A repeated requestID fails with
// ErrDuplicateRequest and changes nothing.
func (s *Service) DeductOnce(ctx context.Context, requestID, groupID string, amount int) (Result, error) {
	if requestID == "" {
		return Result{}, fmt.Errorf("%w: request id is required", ErrInvalidValue)
	}
	return s.deduct(ctx, requestID, groupID, amount)
}

func (s *Service) deduct(ctx context.Context, requestID, groupID string, amount int) (Result, error) {
	ctx, span := s.tracer.Start(ctx, "stock.Deduct", trace.WithAttributes(
		attribute.String("group.id", groupID),
		attribute.Int("amount", amount),
	))
	defer span.End()

	if amount <= 0 {
		err := fmt.Errorf("%w: deduction amount must be positive, got %d", ErrInvalidValue, amount)
		s.metrics.Deduction(outcome(err))
		return Result{}, err
	}

	today := s.Today()
	var pending *Crossing

	rec, err := s.store.Mutate(ctx, groupID, Mutation{
		RequestID: requestID,
		Apply: func(current Record) (Record, error) {
			pending = nil
			next, crossing, err := Deduct(current, amount, today)
			if err != nil {
				return current, err
			}
			pending = crossing
			return next, nil
		},
	})
	s.metrics.Deduction(outcome(err))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Result{}, err
	}

	// Committed; only now may the crossing be observed.
	if pending != nil {
		s.publish(ctx, groupID, *pending, today)
	}
	return Result{GroupID: rec.GroupID, Stock: rec.Stock}, nil
}

// SetStock overwrites the group's stock. It never emits a low-stock event.
func (s *Service) SetStock(ctx context.Context, groupID string, value int) (Result, error) {
	ctx, span := s.tracer.Start(ctx, "stock.SetStock", trace.WithAttributes(
		attribute.String("group.id", groupID),
		attribute.Int("value", value),
	))
	defer span.End()

	if value < 0 {
		return Result{}, fmt.Errorf("%w: stock must not be negative, got %d", ErrInvalidValue, value)
	}

	rec, err := s.store.Mutate(ctx, groupID, Mutation{Apply: func(current Record) (Record, error) {
		return SetStock(current, value)
	}})
	if err != nil {
		span.RecordError(err)
		return Result{}, err
	}
	s.logger.Info("stock set", zap.String("group_id", groupID), zap.Int("stock", rec.Stock))
	return Result{GroupID: rec.GroupID, Stock: rec.Stock}, nil
}

// ResetDaily refills the group to capacity and re-arms its warnings.
func (s *Service) ResetDaily(ctx context.Context, groupID string) error {
	ctx, span := s.tracer.Start(ctx, "stock.ResetDaily", trace.WithAttributes(attribute.String("group.id", groupID)))
	defer span.End()

	_, err := s.store.Mutate(ctx, groupID, Mutation{Apply: func(current Record) (Record, error) {
		return ResetDaily(current), nil
	}})
	if err != nil {
		span.RecordError(err)
		return err
	}
	return nil
}

// ResetAll runs ResetDaily for every group and reports how many succeeded.
// Failures do not stop the sweep; they are joined into the returned error.
func (s *Service) ResetAll(ctx context.Context) (int, error) {
	ids, err := s.store.List(ctx)
	if err != nil {
		return 0, err
	}

	var (
		done int
		errs []error
	)
	for _, id := range ids {
		if err := s.ResetDaily(ctx, id); err != nil {
			errs = append(errs, fmt.Errorf("reset %s: %w", id, err))
			continue
		}
		done++
	}
	s.logger.Info("daily stock reset", zap.Int("groups", done), zap.Int("failed", len(errs)))
	return done, errors.Join(errs...)
}

func (s *Service) publish(ctx context.Context, groupID string, c Crossing, today time.Time) {
	s.metrics.Crossing(c.Threshold)

	// The sale is done; the caller going away must not cancel its notification.
	ctx = context.WithoutCancel(ctx)

	ev := LowStock{
		GroupID:      groupID,
		Remaining:    c.Remaining,
		Threshold:    c.Threshold,
		OperatingDay: today,
	}
	g, err := s.groups.Lookup(ctx, groupID)
	if err != nil {
		s.logger.Warn("group lookup for low-stock notification failed",
			zap.String("group_id", groupID), zap.Error(err))
	} else {
		ev.StoreID = g.StoreID
		ev.GroupName = g.Name
	}

	fields := []zap.Field{
		zap.String("group_id", groupID),
		zap.Int("threshold", c.Threshold),
		zap.Int("remaining", c.Remaining),
	}
	if err := s.dispatcher.Notify(ctx, ev); err != nil {
		s.metrics.Notification("handoff_failed")
		s.logger.Error("low-stock notification failed", append(fields, zap.Error(err))...)
		return
	}
	s.metrics.Notification("handed_off")
	s.logger.Info("low-stock threshold crossed", fields...)
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, ErrGroupNotFound):
		return "group_not_found"
	case errors.Is(err, ErrInvalidValue):
		return "invalid_value"
	case errors.Is(err, ErrDuplicateRequest):
		return "duplicate"
	case errors.Is(err, ErrLockTimeout):
		return "lock_timeout"
	default:
		return "error"
	}
}
