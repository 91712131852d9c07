// Package strategy ranks folders and messages for the order auto-sync
// should visit and download them in, and excludes the ones it shouldn't
// touch at all.
package strategy

import (
	"sort"

	"github.com/mailcore/autosync/internal/folder"
)

// Rank is the outcome of comparing two folders or messages: whether the
// first ranks strictly before, the same as, or strictly after the
// second. Equal rank means the existing relative order is preserved.
type Rank int

const (
	Lower Rank = -1
	Same  Rank = 0
	Higher Rank = 1
)

// Folder decides which folders participate in auto-sync and in what
// order they're visited.
type Folder interface {
	// Excluded reports whether f should never be queued for update or
	// download at all.
	Excluded(f *folder.Folder) bool
	// Compare ranks two folders that are both eligible. Lower values
	// sort first.
	Compare(a, b *folder.Folder) Rank
}

// folderPriority assigns the fixed role ordering: Inbox first, then
// Drafts, then any other regular folder, with Trash last.
func folderPriority(f *folder.Folder) int {
	switch {
	case f.Flags.Has(folder.FlagInbox):
		return 0
	case f.Flags.Has(folder.FlagDrafts):
		return 1
	case f.Flags.Has(folder.FlagTrash):
		return 3
	default:
		return 2
	}
}

// DefaultFolder is the strategy: Inbox ranks first, Drafts next, Trash
// last, everything else in between; folders open in the UI outrank
// closed ones at the same priority tier; Virtual and orphaned folders
// are excluded entirely.
type DefaultFolder struct {
	// IsOpen reports whether a folder is currently open in the UI, by
	// folder ID. A nil func means no folder is ever considered open.
	IsOpen func(folderID string) bool
}

func (s *DefaultFolder) Excluded(f *folder.Folder) bool {
	return f.Flags.Has(folder.FlagVirtual) || f.IsOrphaned()
}

func (s *DefaultFolder) Compare(a, b *folder.Folder) Rank {
	pa, pb := folderPriority(a), folderPriority(b)
	if pa != pb {
		return rankInt(pa, pb)
	}

	if s.IsOpen != nil {
		oa, ob := s.IsOpen(a.ID), s.IsOpen(b.ID)
		if oa != ob {
			if oa {
				return Lower
			}
			return Higher
		}
	}

	return Same
}

func rankInt(a, b int) Rank {
	switch {
	case a < b:
		return Lower
	case a > b:
		return Higher
	default:
		return Same
	}
}

// SortFolders orders folders in place per s, dropping excluded ones.
// The sort is stable: folders ranked Same keep their relative order,
// matching the total-preorder contract Compare promises.
func SortFolders(s Folder, folders []*folder.Folder) []*folder.Folder {
	kept := folders[:0:0]
	for _, f := range folders {
		if !s.Excluded(f) {
			kept = append(kept, f)
		}
	}
	sort.SliceStable(kept, func(i, j int) bool {
		return s.Compare(kept[i], kept[j]) == Lower
	})
	return kept
}
