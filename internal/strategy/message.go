package strategy

import (
	"sort"
	"time"

	"github.com/mailcore/autosync/internal/message"
)

// Message decides which messages are eligible for offline download and
// in what order they're downloaded.
type Message interface {
	// Excluded reports whether h should never be added to a folder's
	// download queue.
	Excluded(h *message.Header) bool
	// Compare ranks two messages both eligible for download. Lower
	// values sort first (downloaded sooner).
	Compare(a, b *message.Header) Rank
}

// DefaultLargeMessageThreshold is the size, in bytes, above which a
// message is pushed to the back of its folder's download queue rather
// than competing with smaller messages on recency, when an account has
// not overridden it.
const DefaultLargeMessageThreshold = 256 * 1024

// DefaultMessage excludes zero-size headers and anything older than
// OfflineAgeDaysMax (when positive). Eligible messages sort with large
// messages last; within each size tier, newest first, then smallest
// first as the final tie-break.
type DefaultMessage struct {
	// OfflineAgeDaysMax excludes messages older than this many days.
	// Zero or negative disables the age filter.
	OfflineAgeDaysMax int
	// LargeMessageThreshold overrides DefaultLargeMessageThreshold for
	// this instance. Zero or negative means "use the default".
	LargeMessageThreshold int64
	// Now returns the current time; defaults to time.Now when nil.
	Now func() time.Time
}

func (s *DefaultMessage) largeMessageThreshold() int64 {
	if s.LargeMessageThreshold > 0 {
		return s.LargeMessageThreshold
	}
	return DefaultLargeMessageThreshold
}

func (s *DefaultMessage) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *DefaultMessage) Excluded(h *message.Header) bool {
	if h.Size <= 0 {
		return true
	}
	if s.OfflineAgeDaysMax > 0 {
		cutoff := s.now().AddDate(0, 0, -s.OfflineAgeDaysMax)
		if h.Date.Before(cutoff) {
			return true
		}
	}
	return false
}

func (s *DefaultMessage) Compare(a, b *message.Header) Rank {
	threshold := s.largeMessageThreshold()
	la, lb := a.Size > threshold, b.Size > threshold
	if la != lb {
		if la {
			return Higher
		}
		return Lower
	}

	if !a.Date.Equal(b.Date) {
		if a.Date.After(b.Date) {
			return Lower
		}
		return Higher
	}

	return rankInt64(a.Size, b.Size)
}

func rankInt64(a, b int64) Rank {
	switch {
	case a < b:
		return Lower
	case a > b:
		return Higher
	default:
		return Same
	}
}

// SortMessages orders headers in place per s, dropping excluded ones.
func SortMessages(s Message, headers []*message.Header) []*message.Header {
	kept := headers[:0:0]
	for _, h := range headers {
		if !s.Excluded(h) {
			kept = append(kept, h)
		}
	}
	sort.SliceStable(kept, func(i, j int) bool {
		return s.Compare(kept[i], kept[j]) == Lower
	})
	return kept
}
