package engine

// Default goodwill settings.
const (
	DefaultGoodwillCeiling   = 100000
	DefaultGoodwillAllowance = 10000
)

// GoodwillGuard bounds how much work document logic may do.
//
// The budget is reset to the ceiling when the document is constructed and
// topped up by the allowance (never past the ceiling) on every invalidate.
// Every tracked instruction debits it. When a debit would take it below
// zero the guard raises a fatal DocumentError, and the transaction that was
// running is reverted, budget included.
//
// This is what turns `while (true) {}` in a handler into a bounded
// failure instead of a stuck executor.
//
// The budget is runtime-only and not persisted: a document hydrated from
// storage starts with a full ceiling.
type GoodwillGuard struct {
	ceiling   int64
	allowance int64
	remaining int64
	spent     int64
}

// NewGoodwillGuard creates a guard with a full budget.
func NewGoodwillGuard(ceiling, allowance int64) *GoodwillGuard {
	if ceiling <= 0 {
		ceiling = DefaultGoodwillCeiling
	}
	if allowance < 0 {
		allowance = 0
	}
	return &GoodwillGuard{ceiling: ceiling, allowance: allowance, remaining: ceiling}
}

// Debit spends n units. It returns a fatal error once the budget is gone.
func (g *GoodwillGuard) Debit(n int64) error {
	if n <= 0 {
		return nil
	}
	if g.remaining < n {
		g.spent += g.remaining
		g.remaining = 0
		return newError(KindFatal, CodeGoodwillExhausted, "goodwill exhausted (ceiling %d)", g.ceiling)
	}
	g.remaining -= n
	g.spent += n
	return nil
}

// Reset restores the full ceiling.
func (g *GoodwillGuard) Reset() {
	g.remaining = g.ceiling
}

// Replenish adds the allowance, capped at the ceiling.
func (g *GoodwillGuard) Replenish() {
	g.remaining = min(g.remaining+g.allowance, g.ceiling)
}

// Remaining returns the unspent budget.
func (g *GoodwillGuard) Remaining() int64 {
	return g.remaining
}

// Spent returns the total units debited over the guard's life, including
// reverted transactions. It is the document's code cost.
func (g *GoodwillGuard) Spent() int64 {
	return g.spent
}

// Ceiling returns the configured ceiling.
func (g *GoodwillGuard) Ceiling() int64 {
	return g.ceiling
}

// checkpoint captures the budget so a reverted transaction can restore it.
func (g *GoodwillGuard) checkpoint() int64 {
	return g.remaining
}

func (g *GoodwillGuard) restore(remaining int64) {
	g.remaining = remaining
}
