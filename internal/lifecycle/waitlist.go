package lifecycle

// WaitlistStatus is the state of a waitlist entry.
type WaitlistStatus string

const (
	WaitlistWaiting   WaitlistStatus = "WAITING"
	WaitlistNotified  WaitlistStatus = "NOTIFIED"
	WaitlistBooked    WaitlistStatus = "BOOKED"
	WaitlistExpired   WaitlistStatus = "EXPIRED"
	WaitlistCancelled WaitlistStatus = "CANCELLED"
)

// Active reports whether the entry still holds a queue position.
func (s WaitlistStatus) Active() bool {
	return s == WaitlistWaiting || s == WaitlistNotified
}

// WaitlistEvent triggers a waitlist transition.
type WaitlistEvent string

const (
	WaitlistEventNotify WaitlistEvent = "notify"
	WaitlistEventBook   WaitlistEvent = "book"
	WaitlistEventExpire WaitlistEvent = "expire"
	WaitlistEventLeave  WaitlistEvent = "leave"
)

var waitlistTransitions = map[WaitlistStatus]map[WaitlistEvent]WaitlistStatus{
	WaitlistWaiting: {
		WaitlistEventNotify: WaitlistNotified,
		WaitlistEventBook:   WaitlistBooked,
		WaitlistEventExpire: WaitlistExpired,
		WaitlistEventLeave:  WaitlistCancelled,
	},
	WaitlistNotified: {
		WaitlistEventBook:   WaitlistBooked,
		WaitlistEventExpire: WaitlistExpired,
	},
}

// NextWaitlist returns the status reached by applying ev to from.
func NextWaitlist(from WaitlistStatus, ev WaitlistEvent) (WaitlistStatus, error) {
	if to, ok := waitlistTransitions[from][ev]; ok {
		return to, nil
	}
	return "", &TransitionError{From: string(from), Event: string(ev)}
}
