package alert

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/voiceguard/internal/observe"
	"github.com/MrWong99/voiceguard/internal/resilience"
)

const (
	defaultTimeout     = 15 * time.Second
	defaultConcurrency = 4
)

// Result reports the delivery outcome for one destination.
type Result struct {
	Destination string
	Err         error
}

// OK reports whether the delivery succeeded.
func (r Result) OK() bool { return r.Err == nil }

type route struct {
	transport Transport
	breaker   *resilience.CircuitBreaker
}

// Option configures a [Dispatcher].
type Option func(*Dispatcher)

// WithTransport registers t for its scheme. A later registration for the same
// scheme replaces the earlier one.
func WithTransport(t Transport) Option {
	return func(d *Dispatcher) {
		if t != nil {
			d.pending = append(d.pending, t)
		}
	}
}

// WithTimeout bounds each individual delivery. Default: 15 s.
func WithTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.timeout = timeout
		}
	}
}

// WithConcurrency limits parallel deliveries. Default: 4.
func WithConcurrency(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.concurrency = n
		}
	}
}

// WithBreakerConfig sets the template for the per-transport circuit breakers.
// Name and OnStateChange are filled in by the dispatcher.
func WithBreakerConfig(cfg resilience.CircuitBreakerConfig) Option {
	return func(d *Dispatcher) { d.breakerCfg = cfg }
}

// WithMetrics overrides the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(d *Dispatcher) {
		if m != nil {
			d.metrics = m
		}
	}
}

// Dispatcher routes alerts to transports by destination scheme.
//
// The route table is fixed at construction, so a Dispatcher is safe for
// concurrent use without locking.
type Dispatcher struct {
	routes      map[string]route
	pending     []Transport
	timeout     time.Duration
	concurrency int
	breakerCfg  resilience.CircuitBreakerConfig
	metrics     *observe.Metrics
}

// NewDispatcher creates a Dispatcher with the given transports and options.
func NewDispatcher(opts ...Option) *Dispatcher {
	d := &Dispatcher{
		routes:      make(map[string]route),
		timeout:     defaultTimeout,
		concurrency: defaultConcurrency,
		breakerCfg:  resilience.CircuitBreakerConfig{MaxFailures: 3, ResetTimeout: time.Minute, HalfOpenMax: 1},
	}
	for _, o := range opts {
		o(d)
	}
	if d.metrics == nil {
		d.metrics = observe.DefaultMetrics()
	}
	for _, t := range d.pending {
		cfg := d.breakerCfg
		cfg.Name = "alert." + t.Scheme()
		cfg.OnStateChange = func(name string, _, to resilience.State) {
			d.metrics.RecordBreakerTransition(context.Background(), name, to.String())
		}
		d.routes[t.Scheme()] = route{transport: t, breaker: resilience.NewCircuitBreaker(cfg)}
	}
	d.pending = nil
	return d
}

// Schemes returns the registered destination schemes.
func (d *Dispatcher) Schemes() []string {
	out := make([]string, 0, len(d.routes))
	for s := range d.routes {
		out = append(out, s)
	}
	return out
}

// Dispatch delivers a to every destination and returns one [Result] per
// destination in input order. Failures are logged and recorded but never stop
// delivery to the remaining destinations. The caller owns dests; Dispatch does
// not retain it.
func (d *Dispatcher) Dispatch(ctx context.Context, dests []string, a Alert) []Result {
	results := make([]Result, len(dests))
	if len(dests) == 0 {
		return results
	}

	ctx, span := observe.StartSpan(ctx, "alert.dispatch")
	defer span.End()
	log := observe.Logger(ctx)

	var g errgroup.Group
	g.SetLimit(d.concurrency)
	for i, dest := range dests {
		g.Go(func() error {
			err := d.deliver(ctx, dest, a)
			results[i] = Result{Destination: dest, Err: err}
			if err != nil {
				log.Warn("alert: delivery failed", "destination", dest, "incident_id", a.IncidentID, "err", err)
			} else {
				log.Info("alert: delivered", "destination", dest, "incident_id", a.IncidentID)
			}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (d *Dispatcher) deliver(ctx context.Context, dest string, a Alert) error {
	scheme, recipient, err := ParseDestination(dest)
	if err != nil {
		d.metrics.RecordAlert(ctx, "invalid", "error")
		return err
	}
	r, ok := d.routes[scheme]
	if !ok {
		d.metrics.RecordAlert(ctx, scheme, "error")
		return fmt.Errorf("%w %q", ErrNoTransport, scheme)
	}

	err = r.breaker.Execute(func() error {
		sendCtx, cancel := context.WithTimeout(ctx, d.timeout)
		defer cancel()
		return r.transport.Send(sendCtx, recipient, a)
	})
	switch {
	case err == nil:
		d.metrics.RecordAlert(ctx, scheme, "ok")
		return nil
	case errors.Is(err, resilience.ErrCircuitOpen):
		d.metrics.RecordAlert(ctx, scheme, "circuit_open")
	default:
		d.metrics.RecordAlert(ctx, scheme, "error")
	}
	return fmt.Errorf("alert: %s: %w", scheme, err)
}
