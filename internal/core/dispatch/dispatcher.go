// Package dispatch applies decoded operations to an entity registry, one
// after the other, in transaction order.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/umi3d/umisync/internal/core/observability/log"
	"github.com/umi3d/umisync/internal/core/observability/metrics"
	"github.com/umi3d/umisync/internal/core/operation"
	"github.com/umi3d/umisync/internal/core/registry"
)

// UnknownHandler receives operations this build cannot apply: *operation.Unknown
// and *operation.Malformed. Its error is logged; the transaction continues.
type UnknownHandler func(ctx context.Context, op operation.Operation) error

type Option func(*Dispatcher)

func WithLoader(l ResourceLoader) Option {
	return func(d *Dispatcher) { d.loader = l }
}

func WithUnknownHandler(h UnknownHandler) Option {
	return func(d *Dispatcher) { d.unknown = h }
}

// WithStrictMissingEntity makes an operation on an unregistered entity abort
// its transaction instead of being skipped.
func WithStrictMissingEntity(strict bool) Option {
	return func(d *Dispatcher) { d.strict = strict }
}

func WithLogger(l log.Log) Option {
	return func(d *Dispatcher) { d.logger = l }
}

// Dispatcher applies operations to one registry.
type Dispatcher struct {
	reg     *registry.Registry
	loader  ResourceLoader
	unknown UnknownHandler
	strict  bool
	logger  log.Log
}

func New(reg *registry.Registry, opts ...Option) (*Dispatcher, error) {
	if reg == nil {
		return nil, ErrNilRegistry
	}
	d := &Dispatcher{reg: reg, logger: log.NewNop()}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.Named("dispatch").With(log.Environment(reg.Environment()))
	if d.unknown == nil {
		d.unknown = d.logUnknown
	}
	return d, nil
}

func (d *Dispatcher) Registry() *registry.Registry {
	return d.reg
}

// PerformTransaction applies the operations of tx strictly in order, each one
// only after the previous one completed, including asynchronous loads. It
// stops at the first error that invalidates the rest of the batch (context
// end, closed registry, a missing entity in strict mode) and returns it as
// *Error. Other failures are logged and counted and the batch continues.
func (d *Dispatcher) PerformTransaction(ctx context.Context, tx *operation.Transaction) error {
	if tx == nil {
		return fmt.Errorf("%w: nil transaction", ErrInvalidOperation)
	}
	start := time.Now()
	defer func() { metrics.ReportTransaction(tx.Reliable, time.Since(start)) }()

	for i, op := range tx.Operations {
		if err := ctx.Err(); err != nil {
			return wrap(i, op, err)
		}
		if err := d.apply(ctx, i, op); err != nil && d.aborts(err) {
			return err
		}
	}
	return nil
}

// PerformTransactionAsync runs PerformTransaction on a new goroutine. The
// channel receives its result and is closed.
func (d *Dispatcher) PerformTransactionAsync(ctx context.Context, tx *operation.Transaction) <-chan error {
	done := make(chan error, 1)
	go func() {
		done <- d.PerformTransaction(ctx, tx)
		close(done)
	}()
	return done
}

// PerformOperation applies a single operation on a new goroutine and calls
// onComplete with its outcome once it is done. A nil onComplete is allowed.
func (d *Dispatcher) PerformOperation(ctx context.Context, op operation.Operation, onComplete func(error)) {
	go func() {
		err := d.apply(ctx, 0, op)
		if onComplete != nil {
			onComplete(err)
		}
	}()
}

// PerformBytes decodes a binary transaction and applies it. A payload holding
// a single operation is accepted as a one operation transaction.
func (d *Dispatcher) PerformBytes(ctx context.Context, data []byte) error {
	tx, err := operation.DecodeTransaction(data)
	if errors.Is(err, operation.ErrNotTransaction) {
		var op operation.Operation
		op, err = operation.Decode(data)
		if err == nil {
			tx = operation.NewTransaction(true, op)
		}
	}
	if err != nil {
		metrics.ReportDecodeFailure("transaction")
		return &Error{Code: codeOf(err), Index: -1, Cause: fmt.Errorf("decode transaction: %w", err)}
	}
	return d.PerformTransaction(ctx, tx)
}

// PerformObject decodes the JSON object form of a transaction, or of a single
// operation, and applies it.
func (d *Dispatcher) PerformObject(ctx context.Context, data []byte) error {
	tx, err := operation.UnmarshalTransactionJSON(data)
	if errors.Is(err, operation.ErrNotTransaction) {
		var od operation.Dto
		if err = json.Unmarshal(data, &od); err == nil {
			tx = operation.NewTransaction(true, od.Operation(0))
		}
	}
	if err != nil {
		metrics.ReportDecodeFailure("object")
		return &Error{Code: ErrorCodeInvalidOperation, Index: -1, Cause: fmt.Errorf("decode object: %w", err)}
	}
	return d.PerformTransaction(ctx, tx)
}

func (d *Dispatcher) aborts(err error) bool {
	var de *Error
	if !errors.As(err, &de) {
		return true
	}
	switch de.Code {
	case ErrorCodeCanceled, ErrorCodeRegistryClosed:
		return true
	case ErrorCodeEntityNotFound:
		return d.strict
	default:
		return false
	}
}

// apply runs one operation and classifies its outcome. The returned error is
// nil or *Error.
func (d *Dispatcher) apply(ctx context.Context, index int, op operation.Operation) error {
	if op == nil {
		return &Error{Code: ErrorCodeInvalidOperation, Index: index, Cause: fmt.Errorf("%w: nil operation", ErrInvalidOperation)}
	}
	kind := metricKind(op)
	err := op.Accept(&applier{d: d, ctx: ctx})
	if err == nil {
		metrics.ReportOperation(kind, metrics.OutcomeOK)
		return nil
	}

	de := wrap(index, op, err)
	fields := []log.Field{log.Operation(op.Kind()), log.Int("index", index), log.EntityID(de.EntityID), log.Error(de.Cause)}
	switch {
	case de.Code == ErrorCodeEntityNotFound && !d.strict:
		metrics.ReportMissingEntity(kind)
		metrics.ReportOperation(kind, metrics.OutcomeSkipped)
		d.logger.Warn("operation on missing entity skipped", fields...)
	case de.Code == ErrorCodeCanceled:
		metrics.ReportOperation(kind, metrics.OutcomeSkipped)
		d.logger.Debug("operation canceled", fields...)
	default:
		if de.Code == ErrorCodeEntityNotFound {
			metrics.ReportMissingEntity(kind)
		}
		metrics.ReportOperation(kind, metrics.OutcomeFailed)
		d.logger.Warn("operation failed", fields...)
	}
	return de
}

func (d *Dispatcher) logUnknown(_ context.Context, op operation.Operation) error {
	switch o := op.(type) {
	case *operation.Malformed:
		metrics.ReportDecodeFailure("operation")
		d.logger.Warn("malformed operation skipped",
			log.Operation(o.OpKind),
			log.String("dtype", o.Dtype),
			log.Int("index", o.Index),
			log.Int("payload_bytes", len(o.Payload)),
			log.Error(o.Err),
		)
	default:
		metrics.ReportUnknownOperation(op.Kind().String())
		fields := []log.Field{log.Operation(op.Kind())}
		if u, ok := op.(*operation.Unknown); ok && u.Dtype != "" {
			fields = append(fields, log.String("dtype", u.Dtype))
		}
		d.logger.Warn("unknown operation skipped", fields...)
	}
	return nil
}

// metricKind keeps label cardinality bounded for kinds sent by peers.
func metricKind(op operation.Operation) string {
	switch op.(type) {
	case *operation.Unknown:
		return "unknown"
	case *operation.Malformed:
		return "malformed"
	default:
		return op.Kind().String()
	}
}
