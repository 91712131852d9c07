package autosync

// QueueKind names one of the three global queues a folder can be on.
type QueueKind int

const (
	PriorityQueue QueueKind = iota
	DiscoveryQueue
	UpdateQueue
)

func (q QueueKind) String() string {
	switch q {
	case PriorityQueue:
		return "priority"
	case DiscoveryQueue:
		return "discovery"
	case UpdateQueue:
		return "update"
	default:
		return "unknown"
	}
}

// Listener observes queue and state-change events. Every method is
// invoked on the manager's own executor, in registration order across
// listeners, so an implementation must not block.
type Listener interface {
	OnFolderAddedIntoQ(queue QueueKind, folderID string)
	OnFolderRemovedFromQ(queue QueueKind, folderID string)
	OnDiscoveryQProcessed(folderID string, processed, leftToProcess int)
	OnDownloadStarted(folderID string, msgsInBatch, totalInFolder int)
	OnDownloadCompleted(folderID string)
	OnDownloadError(folderID string)
	OnStateChanged(isRunning bool)
	OnAutoSyncInitiated(folderID string)
}

// NopListener implements Listener with no-ops; embed it to observe
// only the events you care about.
type NopListener struct{}

func (NopListener) OnFolderAddedIntoQ(QueueKind, string)          {}
func (NopListener) OnFolderRemovedFromQ(QueueKind, string)        {}
func (NopListener) OnDiscoveryQProcessed(string, int, int)        {}
func (NopListener) OnDownloadStarted(string, int, int)            {}
func (NopListener) OnDownloadCompleted(string)                    {}
func (NopListener) OnDownloadError(string)                        {}
func (NopListener) OnStateChanged(bool)                           {}
func (NopListener) OnAutoSyncInitiated(string)                    {}

var _ Listener = NopListener{}
