// Package limiters holds the per-user failure budgets for second-factor
// submissions made outside a login challenge: backup codes (keys "ebk:uid")
// and TOTP codes during setup confirmation or disable (keys "etp:uid").
//
// A nil *FailureLimiter allows everything. Policy beyond counting, such as
// what a blocked user is told, belongs to the caller.
package limiters
