package perception

// Tension levels as reported by tone events.
const (
	TensionLow     = "low"
	TensionRising  = "rising"
	TensionHigh    = "high"
	TensionUnknown = "unknown"
)

// TensionLevel scans a batch of events for an explicit tone reading and
// returns the level plus a hint that the mediator should notify someone.
// The first tone event wins; batches rarely contain more than one.
func TensionLevel(events []*Event) (level string, notify bool) {
	for _, ev := range events {
		if ev.ClaimType != ClaimTone {
			continue
		}
		level = ev.TensionLevel
		if level == "" {
			level = TensionUnknown
		}
		notify = level == TensionRising || level == TensionHigh
		if !notify {
			for _, sig := range ev.Signals {
				if sig == "rapid_escalation" {
					notify = true
					break
				}
			}
		}
		return level, notify
	}
	return TensionUnknown, false
}
