package autosync

import (
	"sync"
	"time"
)

// IdleEvent is one transition an IdleDetector observer receives.
type IdleEvent int

const (
	OsIdle IdleEvent = iota
	OsActive
	AppIdle
	AppActive
	GoingOffline
	BackOnline
	Shutdown
)

func (e IdleEvent) String() string {
	switch e {
	case OsIdle:
		return "os-idle"
	case OsActive:
		return "os-active"
	case AppIdle:
		return "app-idle"
	case AppActive:
		return "app-active"
	case GoingOffline:
		return "going-offline"
	case BackOnline:
		return "back-online"
	case Shutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

// IdleObserver receives IdleDetector transitions.
type IdleObserver func(IdleEvent)

// IdleDetector tracks activity and network reachability for the
// manager's queue processing. Its idle/active signal comes from the
// activity clock alone: idle once no activity has been recorded for the
// subscribed threshold. There is no separate app-idle input
// (NotifyActivity records OS and app activity together), and network
// reachability only fires GoingOffline/BackOnline; it does not change
// the idle state.
type IdleDetector struct {
	mu            sync.Mutex
	observers     []IdleObserver
	timeoutSec    int
	lastActivity  time.Time
	osActive      bool
	appActive     bool
	online        bool
	compositeIdle bool

	ticker  *time.Ticker
	stopCh  chan struct{}
	started bool
}

// NewIdleDetector creates a detector that starts in the active, online
// state; call Start to begin the 1-second composite poll.
func NewIdleDetector() *IdleDetector {
	return &IdleDetector{
		osActive:     true,
		appActive:    true,
		online:       true,
		lastActivity: time.Now(),
	}
}

// Subscribe registers an observer and the OS-idle threshold it cares
// about. The same threshold drives this detector's own OS-idle
// transition, matching the single idleTimeSec knob the core exposes.
func (d *IdleDetector) Subscribe(o IdleObserver, timeoutSeconds int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.observers = append(d.observers, o)
	if timeoutSeconds > d.timeoutSec {
		d.timeoutSec = timeoutSeconds
	}
}

// Start begins the 1-second composite-state poll.
func (d *IdleDetector) Start() {
	d.mu.Lock()
	if d.started {
		d.mu.Unlock()
		return
	}
	d.started = true
	d.ticker = time.NewTicker(time.Second)
	d.stopCh = make(chan struct{})
	ticker, stopCh := d.ticker, d.stopCh
	d.mu.Unlock()

	go func() {
		for {
			select {
			case <-ticker.C:
				d.tick()
			case <-stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop ends the poll and notifies observers of shutdown.
func (d *IdleDetector) Stop() {
	d.mu.Lock()
	if !d.started {
		d.mu.Unlock()
		return
	}
	d.started = false
	close(d.stopCh)
	observers := append([]IdleObserver(nil), d.observers...)
	d.mu.Unlock()

	for _, o := range observers {
		o(Shutdown)
	}
}

// NotifyActivity records OS or app activity, resetting the idle clock.
func (d *IdleDetector) NotifyActivity() {
	d.mu.Lock()
	wasOsActive := d.osActive
	d.lastActivity = time.Now()
	d.osActive = true
	d.appActive = true
	d.mu.Unlock()

	if !wasOsActive {
		d.notify(OsActive)
		d.notify(AppActive)
	}
}

// SetOnline updates network reachability, firing GoingOffline or
// BackOnline exactly on the edges.
func (d *IdleDetector) SetOnline(online bool) {
	d.mu.Lock()
	changed := d.online != online
	d.online = online
	d.mu.Unlock()

	if !changed {
		return
	}
	if online {
		d.notify(BackOnline)
	} else {
		d.notify(GoingOffline)
	}
}

// IsIdle reports the current idle state: no activity recorded for at
// least the threshold. It does not reflect network reachability.
func (d *IdleDetector) IsIdle() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.compositeIdle
}

// IsOnline reports the last-known network reachability.
func (d *IdleDetector) IsOnline() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.online
}

func (d *IdleDetector) tick() {
	d.mu.Lock()
	if d.timeoutSec <= 0 {
		d.mu.Unlock()
		return
	}
	idleFor := time.Since(d.lastActivity)
	shouldBeIdle := idleFor >= time.Duration(d.timeoutSec)*time.Second
	wasIdle := d.compositeIdle
	d.compositeIdle = shouldBeIdle
	d.osActive = !shouldBeIdle
	d.mu.Unlock()

	if shouldBeIdle && !wasIdle {
		d.notify(OsIdle)
	} else if !shouldBeIdle && wasIdle {
		d.notify(OsActive)
	}
}

func (d *IdleDetector) notify(e IdleEvent) {
	d.mu.Lock()
	observers := append([]IdleObserver(nil), d.observers...)
	d.mu.Unlock()
	for _, o := range observers {
		o(e)
	}
}
