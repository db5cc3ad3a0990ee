package retry

import (
	"fmt"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	gretry "github.com/sethvargo/go-retry"
)

type Strategy string

const (
	StrategyExponential  Strategy = "exponential"
	StrategyFibonacci    Strategy = "fibonacci"
	StrategyDecorrelated Strategy = "decorrelated"
)

// DefaultMaxDelay - потолок задержки для всех стратегий
const DefaultMaxDelay = 30 * time.Second

const (
	jitterLow  = 0.85
	jitterHigh = 1.15
)

func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case StrategyExponential, StrategyFibonacci, StrategyDecorrelated:
		return Strategy(s), nil
	}
	return "", fmt.Errorf("unknown retry strategy %q", s)
}

// ExponentialBackoff: base·2^attempt·jitter[0.85,1.15], не больше maxDelay.
// attempt считается с нуля: первая повторная попытка ждёт ~base.
func ExponentialBackoff(attempt int, base, maxDelay time.Duration) time.Duration {
	maxDelay = normalizeMax(maxDelay)
	if attempt < 0 {
		attempt = 0
	}
	jitter := jitterLow + rand.Float64()*(jitterHigh-jitterLow)
	d := float64(base) * math.Pow(2, float64(attempt)) * jitter
	return clamp(d, maxDelay)
}

// FibonacciBackoff: base·fib(attempt), fib(0)=1, fib(1)=1, fib(2)=2, ...
func FibonacciBackoff(attempt int, base, maxDelay time.Duration) time.Duration {
	maxDelay = normalizeMax(maxDelay)
	d := float64(base) * float64(fib(attempt))
	return clamp(d, maxDelay)
}

func fib(n int) uint64 {
	a, b := uint64(1), uint64(1)
	for i := 0; i < n; i++ {
		a, b = b, a+b
		if a > math.MaxUint64/2 {
			return a
		}
	}
	return a
}

// decorrelated - следующая задержка random(base, min(maxDelay, prev*3))
type decorrelated struct {
	mu       sync.Mutex
	base     time.Duration
	maxDelay time.Duration
	prev     time.Duration
}

func newDecorrelated(base, maxDelay time.Duration) *decorrelated {
	return &decorrelated{base: base, maxDelay: normalizeMax(maxDelay), prev: base}
}

func (d *decorrelated) next() time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()

	upper := d.prev * 3
	if upper > d.maxDelay || upper <= 0 {
		upper = d.maxDelay
	}
	next := DecorrelatedBackoff(d.base, upper)
	d.prev = next
	return next
}

// DecorrelatedBackoff: случайная задержка в [base, maxDelay]
func DecorrelatedBackoff(base, maxDelay time.Duration) time.Duration {
	maxDelay = normalizeMax(maxDelay)
	if base >= maxDelay {
		return maxDelay
	}
	return base + time.Duration(rand.Int64N(int64(maxDelay-base)+1))
}

// backoffFor превращает стратегию в go-retry Backoff.
// Количество повторов и общий потолок навешиваются отдельно в Executor.
func backoffFor(p Policy) gretry.Backoff {
	var attempt int
	var mu sync.Mutex
	nextAttempt := func() int {
		mu.Lock()
		defer mu.Unlock()
		a := attempt
		attempt++
		return a
	}

	switch p.Strategy {
	case StrategyFibonacci:
		return gretry.BackoffFunc(func() (time.Duration, bool) {
			return FibonacciBackoff(nextAttempt(), p.BaseDelay, p.MaxDelay), false
		})
	case StrategyDecorrelated:
		d := newDecorrelated(p.BaseDelay, p.MaxDelay)
		return gretry.BackoffFunc(func() (time.Duration, bool) {
			return d.next(), false
		})
	default:
		return gretry.BackoffFunc(func() (time.Duration, bool) {
			return ExponentialBackoff(nextAttempt(), p.BaseDelay, p.MaxDelay), false
		})
	}
}

func normalizeMax(maxDelay time.Duration) time.Duration {
	if maxDelay <= 0 {
		return DefaultMaxDelay
	}
	return maxDelay
}

func clamp(d float64, maxDelay time.Duration) time.Duration {
	if d >= float64(maxDelay) || math.IsInf(d, 0) || math.IsNaN(d) {
		return maxDelay
	}
	if d < 0 {
		return 0
	}
	return time.Duration(d)
}
