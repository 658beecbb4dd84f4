package cache

import (
	"math"
	"runtime/debug"
)

// fallbackBudget is used when the process runs without a memory limit.
const fallbackBudget = 512 * 1024 * 1024

// RuntimeBudget returns the memory budget of the process: the soft memory
// limit when one is set (GOMEMLIMIT), otherwise a fixed 512 MiB.
func RuntimeBudget() int64 {
	limit := debug.SetMemoryLimit(-1)
	if limit <= 0 || limit == math.MaxInt64 {
		return fallbackBudget
	}
	return limit
}

// Capacity returns budget/divisor, defaulting the divisor to DefaultMemoryDivisor.
func Capacity(budget int64, divisor int) int64 {
	if divisor <= 0 {
		divisor = DefaultMemoryDivisor
	}
	if budget <= 0 {
		budget = RuntimeBudget()
	}
	return budget / int64(divisor)
}
