package loginflow

import "time"

// Options bounds every wait of a flow and sets the typing cadence.
type Options struct {
	// NavigationTimeout bounds one page load.
	NavigationTimeout time.Duration
	// NavigationRetries is the number of extra attempts after a failed page load.
	NavigationRetries int
	// RetryInterval is the first backoff interval between page load attempts.
	RetryInterval time.Duration
	// ElementTimeout bounds the wait for a form element to appear.
	ElementTimeout time.Duration
	// OutcomeTimeout bounds the wait for a terminal marker after a submit.
	OutcomeTimeout time.Duration
	// TwoFactorProbeTimeout bounds the check that a held page still shows the code input.
	TwoFactorProbeTimeout time.Duration
	PollInterval          time.Duration
	KeystrokeDelay        time.Duration
	KeystrokeJitter       time.Duration
}

func DefaultOptions() Options {
	return Options{
		NavigationTimeout:     30 * time.Second,
		NavigationRetries:     2,
		RetryInterval:         2 * time.Second,
		ElementTimeout:        15 * time.Second,
		OutcomeTimeout:        30 * time.Second,
		TwoFactorProbeTimeout: 5 * time.Second,
		PollInterval:          250 * time.Millisecond,
		KeystrokeDelay:        100 * time.Millisecond,
		KeystrokeJitter:       40 * time.Millisecond,
	}
}

// withDefaults fills zero durations that would make a wait unbounded or a
// poll spin.
func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.NavigationTimeout <= 0 {
		o.NavigationTimeout = d.NavigationTimeout
	}
	if o.NavigationRetries < 0 {
		o.NavigationRetries = 0
	}
	if o.RetryInterval <= 0 {
		o.RetryInterval = d.RetryInterval
	}
	if o.ElementTimeout <= 0 {
		o.ElementTimeout = d.ElementTimeout
	}
	if o.OutcomeTimeout <= 0 {
		o.OutcomeTimeout = d.OutcomeTimeout
	}
	if o.TwoFactorProbeTimeout <= 0 {
		o.TwoFactorProbeTimeout = d.TwoFactorProbeTimeout
	}
	if o.PollInterval <= 0 {
		o.PollInterval = d.PollInterval
	}
	if o.KeystrokeDelay < 0 {
		o.KeystrokeDelay = 0
	}
	if o.KeystrokeJitter < 0 || o.KeystrokeJitter > o.KeystrokeDelay {
		o.KeystrokeJitter = o.KeystrokeDelay
	}
	return o
}
