package eventsync

// ShouldSync reports whether invocation runNumber syncs under mode.
// Mode 0 never syncs on a schedule (manual only), modes 1 through 4 sync on
// every mode-th run, and 5 or more syncs on every run. Run numbers start at
// 1, so mode 1 syncs on the first run.
func ShouldSync(runNumber int64, mode int) bool {
	switch {
	case mode <= 0:
		return false
	case mode >= 5:
		return true
	default:
		return runNumber%int64(mode) == 0
	}
}
