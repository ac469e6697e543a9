// Package retry classifies infrastructure errors and retries the transient
// ones. Custody operations are never retried; only connection setup is.
package retry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/emperorhan/rwa-custody/internal/domain"
)

type Class string

const (
	ClassTerminal  Class = "terminal"
	ClassTransient Class = "transient"
)

type Decision struct {
	Class  Class
	Reason string
}

func (d Decision) IsTransient() bool {
	return d.Class == ClassTransient
}

type classifiedError struct {
	err    error
	class  Class
	reason string
}

func (e *classifiedError) Error() string {
	return e.err.Error()
}

func (e *classifiedError) Unwrap() error {
	return e.err
}

func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &classifiedError{err: err, class: ClassTransient, reason: "explicit_transient"}
}

func Terminal(err error) error {
	if err == nil {
		return nil
	}
	return &classifiedError{err: err, class: ClassTerminal, reason: "explicit_terminal"}
}

func Classify(err error) Decision {
	if err == nil {
		return Decision{Class: ClassTerminal, Reason: "nil_error"}
	}

	var marked *classifiedError
	if errors.As(err, &marked) {
		return Decision{Class: marked.class, Reason: marked.reason}
	}

	if errors.Is(err, context.Canceled) {
		return Decision{Class: ClassTerminal, Reason: "context_canceled"}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Decision{Class: ClassTransient, Reason: "context_deadline_exceeded"}
	}

	// Domain failures describe the request, not the infrastructure.
	if kind := domain.KindOf(err); kind != "Internal" {
		return Decision{Class: ClassTerminal, Reason: "domain_" + strings.ToLower(kind)}
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return classifySQLState(pqErr.Code)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return Decision{Class: ClassTransient, Reason: "net_timeout"}
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return Decision{Class: ClassTransient, Reason: "net_dial"}
	}

	lower := strings.ToLower(err.Error())
	if containsAny(lower, terminalMessageTokens) {
		return Decision{Class: ClassTerminal, Reason: "message_terminal"}
	}
	if containsAny(lower, transientMessageTokens) {
		return Decision{Class: ClassTransient, Reason: "message_transient"}
	}

	return Decision{Class: ClassTerminal, Reason: "unknown_terminal_default"}
}

// classifySQLState treats connection loss, serialization conflicts, resource
// exhaustion and a database still starting up as transient.
func classifySQLState(code pq.ErrorCode) Decision {
	switch {
	case code == "57P03":
		return Decision{Class: ClassTransient, Reason: "sqlstate_cannot_connect_now"}
	case code.Class() == "08":
		return Decision{Class: ClassTransient, Reason: "sqlstate_connection_exception"}
	case code.Class() == "40":
		return Decision{Class: ClassTransient, Reason: "sqlstate_transaction_rollback"}
	case code.Class() == "53":
		return Decision{Class: ClassTransient, Reason: "sqlstate_insufficient_resources"}
	default:
		return Decision{Class: ClassTerminal, Reason: "sqlstate_" + string(code)}
	}
}

func containsAny(msg string, tokens []string) bool {
	for _, token := range tokens {
		if strings.Contains(msg, token) {
			return true
		}
	}
	return false
}

var transientMessageTokens = []string{
	"timeout",
	"timed out",
	"temporar",
	"unavailable",
	"connection reset",
	"connection refused",
	"broken pipe",
	"econnreset",
	"econnrefused",
	"no such host",
	"loading the dataset in memory",
	"server closed idle connection",
	"the database system is starting up",
}

var terminalMessageTokens = []string{
	"password authentication failed",
	"noauth",
	"wrongpass",
	"invalid argument",
	"no such file",
	"permission denied",
	"constraint violation",
}

// Policy bounds Do. Zero fields take the defaults below.
type Policy struct {
	MaxAttempts int
	Initial     time.Duration
	Max         time.Duration
}

const (
	defaultMaxAttempts = 5
	defaultInitial     = 200 * time.Millisecond
	defaultMax         = 5 * time.Second
)

func (p Policy) withDefaults() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = defaultMaxAttempts
	}
	if p.Initial <= 0 {
		p.Initial = defaultInitial
	}
	if p.Max <= 0 || p.Max < p.Initial {
		p.Max = max(p.Initial, defaultMax)
	}
	return p
}

// Delay returns the exponential backoff before the given 1-based retry,
// capped at Max.
func (p Policy) Delay(attempt int) time.Duration {
	p = p.withDefaults()
	delay := p.Initial
	for i := 1; i < attempt; i++ {
		if delay >= p.Max/2 {
			return p.Max
		}
		delay *= 2
	}
	return min(delay, p.Max)
}

// OnRetry observes a transient failure before Do sleeps.
type OnRetry func(attempt int, err error, d Decision, wait time.Duration)

// sleepFn is swapped in tests.
var sleepFn = func(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Do runs fn until it succeeds, fails terminally, or attempts run out. The
// returned error wraps the last failure.
func Do(ctx context.Context, p Policy, onRetry OnRetry, fn func(ctx context.Context) error) error {
	p = p.withDefaults()
	var last error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		last = err
		d := Classify(err)
		if !d.IsTransient() {
			return err
		}
		if attempt == p.MaxAttempts {
			break
		}
		wait := p.Delay(attempt)
		if onRetry != nil {
			onRetry(attempt, err, d, wait)
		}
		if err := sleepFn(ctx, wait); err != nil {
			return fmt.Errorf("retry interrupted: %w", errors.Join(err, last))
		}
	}
	return fmt.Errorf("gave up after %d attempts: %w", p.MaxAttempts, last)
}
