package gateway

import (
	"context"
	"database/sql/driver"
	"errors"
	"io"
	"net"
	"time"

	"payhuk-core/pkg/config"
	"payhuk-core/pkg/errutil"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("gateway", fx.Provide(NewCaller))

var callsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "gateway_calls_total",
	Help: "Remote data gateway calls by operation and outcome.",
}, []string{"op", "outcome"})

func init() {
	prometheus.MustRegister(callsTotal)
}

const defaultCallTimeout = 10 * time.Second

// Caller bounds every gateway round trip. The call itself runs on a
// context detached from the caller, so abandoning the wait never aborts a
// request that was already sent; the gateway finishes it on its own.
type Caller struct {
	timeout time.Duration
}

func NewCaller(cfg *config.Config) *Caller {
	return NewCallerWithTimeout(cfg.Gateway.CallTimeout)
}

func NewCallerWithTimeout(timeout time.Duration) *Caller {
	if timeout <= 0 {
		timeout = defaultCallTimeout
	}
	return &Caller{timeout: timeout}
}

// Do runs fn and classifies its result. Business errors (errutil.BaseError)
// pass through untouched; timeouts and transport failures become
// errutil.StatusIndeterminate since the mutation may have committed.
func (c *Caller) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)

	done := make(chan error, 1)
	go func() {
		defer cancel()
		done <- fn(callCtx)
	}()

	select {
	case err := <-done:
		err = classify(op, err)
		callsTotal.WithLabelValues(op, outcome(err)).Inc()
		return err
	case <-ctx.Done():
		callsTotal.WithLabelValues(op, "abandoned").Inc()
		go func() {
			// drain so the late result is at least visible in logs
			if err := <-done; err != nil {
				zap.L().Warn("[Gateway] abandoned call finished with error", zap.String("op", op), zap.Error(err))
				return
			}
			zap.L().Info("[Gateway] abandoned call completed", zap.String("op", op))
		}()
		return errutil.Indeterminate("request abandoned before the gateway answered", ctx.Err())
	}
}

func classify(op string, err error) error {
	if err == nil {
		return nil
	}

	var be errutil.BaseError
	if errors.As(err, &be) {
		return err
	}

	if isTransport(err) {
		zap.L().Warn("[Gateway] call outcome unknown", zap.String("op", op), zap.Error(err))
		return errutil.Indeterminate("gateway did not confirm the operation, retry with the same idempotency key", err)
	}

	zap.L().Error("[Gateway] call failed", zap.String("op", op), zap.Error(err))
	return errutil.Internal("gateway call failed", err)
}

func isTransport(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errutil.CodeOf(err) == errutil.StatusIndeterminate:
		return "indeterminate"
	case errutil.CodeOf(err) == errutil.StatusInternal:
		return "error"
	default:
		return "rejected"
	}
}
