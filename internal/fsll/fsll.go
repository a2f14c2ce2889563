// Package fsll implements an intrusive doubly-linked list realized entirely
// as symlinks on disk: a head link and a tail link in the list's base
// directory, and a next/prev pair of links inside every member directory.
// It backs both the bucket store's used-bucket LRU and its free-bucket
// list, and survives a crash at any point because every mutation is a
// single atomic symlink replace.
package fsll

import (
	"fmt"

	"github.com/backfs-project/backfs/internal/linkutil"
)

// FSLL is a linked list whose nodes are directory paths, and whose
// head/tail pointers live as HeadLink/TailLink symlinks directly in
// BaseDir. Node paths are used as given, so they must be in the same form
// as BaseDir: both absolute, or both relative to the working directory.
type FSLL struct {
	BaseDir  string
	HeadLink string
	TailLink string
}

// New returns a list rooted at baseDir, using headLink and tailLink as the
// names of the pointer symlinks inside it.
func New(baseDir, headLink, tailLink string) *FSLL {
	return &FSLL{BaseDir: baseDir, HeadLink: headLink, TailLink: tailLink}
}

func (l *FSLL) getLink(dir, name string) (string, bool, error) {
	target, ok, err := linkutil.GetLink(dir, name)
	if err != nil {
		return "", false, fmt.Errorf("fsll: reading link %s/%s: %w", dir, name, err)
	}
	return target, ok, nil
}

func (l *FSLL) makeLink(dir, name string, target *string) error {
	if err := linkutil.MakeLink(dir, name, target); err != nil {
		if target == nil {
			return fmt.Errorf("fsll: removing link %s/%s: %w", dir, name, err)
		}
		return fmt.Errorf("fsll: creating link %s/%s -> %s: %w", dir, name, *target, err)
	}
	return nil
}

func (l *FSLL) headTail(caller string) (head, tail string, err error) {
	head, ok, err := l.getLink(l.BaseDir, l.HeadLink)
	if err != nil {
		return "", "", err
	}
	if !ok {
		return "", "", fmt.Errorf("fsll: %s: head %s is unset", caller, l.HeadLink)
	}
	tail, ok, err = l.getLink(l.BaseDir, l.TailLink)
	if err != nil {
		return "", "", err
	}
	if !ok {
		return "", "", fmt.Errorf("fsll: %s: tail %s is unset", caller, l.TailLink)
	}
	return head, tail, nil
}

// IsEmpty reports whether the list has neither a head nor a tail.
func (l *FSLL) IsEmpty() (bool, error) {
	_, headOK, err := l.getLink(l.BaseDir, l.HeadLink)
	if err != nil {
		return false, err
	}
	_, tailOK, err := l.getLink(l.BaseDir, l.TailLink)
	if err != nil {
		return false, err
	}
	return !headOK && !tailOK, nil
}

// Tail returns the path of the current tail entry, or ("", false, nil) if
// the list is empty.
func (l *FSLL) Tail() (string, bool, error) {
	return l.getLink(l.BaseDir, l.TailLink)
}

func str(s string) *string { return &s }

// ToHead promotes an existing list member to the head. The entry must
// already be linked in; use InsertAsHead to add a brand-new one.
func (l *FSLL) ToHead(p string) error {
	head, tail, err := l.headTail("ToHead")
	if err != nil {
		return err
	}

	next, nextOK, err := l.getLink(p, "next")
	if err != nil {
		return err
	}
	prev, prevOK, err := l.getLink(p, "prev")
	if err != nil {
		return err
	}

	if prevOK == (head == p) {
		if prevOK {
			return fmt.Errorf("fsll: head entry has a prev: %s", p)
		}
		return fmt.Errorf("fsll: entry has no prev but is not head: %s", p)
	}
	if nextOK == (tail == p) {
		if nextOK {
			return fmt.Errorf("fsll: tail entry has a next: %s", p)
		}
		return fmt.Errorf("fsll: entry has no next but is not tail: %s", p)
	}
	if nextOK && next == p {
		return fmt.Errorf("fsll: entry points to itself as next: %s", p)
	}
	if prevOK && prev == p {
		return fmt.Errorf("fsll: entry points to itself as prev: %s", p)
	}

	if !prevOK {
		// Already head; we're done.
		return nil
	}
	var nextArg *string
	if nextOK {
		nextArg = str(next)
	}
	if err := l.makeLink(prev, "next", nextArg); err != nil {
		return err
	}

	if nextOK {
		if err := l.makeLink(next, "prev", str(prev)); err != nil {
			return err
		}
	} else {
		if err := l.makeLink(l.BaseDir, l.TailLink, str(prev)); err != nil {
			return err
		}
	}

	if err := l.makeLink(head, "prev", str(p)); err != nil {
		return err
	}
	if err := l.makeLink(p, "next", str(head)); err != nil {
		return err
	}
	if err := l.makeLink(p, "prev", nil); err != nil {
		return err
	}
	return l.makeLink(l.BaseDir, l.HeadLink, str(p))
}

// InsertAsHead links a brand-new entry in at the head of the list.
func (l *FSLL) InsertAsHead(p string) error {
	head, headOK, err := l.getLink(l.BaseDir, l.HeadLink)
	if err != nil {
		return err
	}
	_, tailOK, err := l.getLink(l.BaseDir, l.TailLink)
	if err != nil {
		return err
	}

	switch {
	case headOK && tailOK:
		if err := l.makeLink(p, "next", str(head)); err != nil {
			return err
		}
		if err := l.makeLink(head, "prev", str(p)); err != nil {
			return err
		}
		return l.makeLink(l.BaseDir, l.HeadLink, str(p))
	case !headOK && !tailOK:
		if err := l.makeLink(l.BaseDir, l.HeadLink, str(p)); err != nil {
			return err
		}
		if err := l.makeLink(l.BaseDir, l.TailLink, str(p)); err != nil {
			return err
		}
		if err := l.makeLink(p, "next", nil); err != nil {
			return err
		}
		return l.makeLink(p, "prev", nil)
	case headOK:
		return fmt.Errorf("fsll: list has a head %s but no tail", head)
	default:
		return fmt.Errorf("fsll: list has a tail but no head")
	}
}

// InsertAsTail links a brand-new entry in at the tail of the list.
func (l *FSLL) InsertAsTail(p string) error {
	_, headOK, err := l.getLink(l.BaseDir, l.HeadLink)
	if err != nil {
		return err
	}
	tail, tailOK, err := l.getLink(l.BaseDir, l.TailLink)
	if err != nil {
		return err
	}

	switch {
	case headOK && tailOK:
		if err := l.makeLink(p, "prev", str(tail)); err != nil {
			return err
		}
		if err := l.makeLink(tail, "next", str(p)); err != nil {
			return err
		}
		return l.makeLink(l.BaseDir, l.TailLink, str(p))
	case !headOK && !tailOK:
		if err := l.makeLink(l.BaseDir, l.HeadLink, str(p)); err != nil {
			return err
		}
		if err := l.makeLink(l.BaseDir, l.TailLink, str(p)); err != nil {
			return err
		}
		if err := l.makeLink(p, "next", nil); err != nil {
			return err
		}
		return l.makeLink(p, "prev", nil)
	case headOK:
		return fmt.Errorf("fsll: list has a head but no tail")
	default:
		return fmt.Errorf("fsll: list has a tail %s but no head", tail)
	}
}

// Disconnect unlinks an entry from wherever it sits in the list, fixing up
// head/tail and its neighbors' next/prev as needed, and clears the entry's
// own next/prev.
func (l *FSLL) Disconnect(p string) error {
	head, tail, err := l.headTail("Disconnect")
	if err != nil {
		return err
	}
	next, nextOK, err := l.getLink(p, "next")
	if err != nil {
		return err
	}
	prev, prevOK, err := l.getLink(p, "prev")
	if err != nil {
		return err
	}

	if head == p {
		switch {
		case nextOK:
			if err := l.makeLink(l.BaseDir, l.HeadLink, str(next)); err != nil {
				return err
			}
			if err := l.makeLink(next, "prev", nil); err != nil {
				return err
			}
		case tail == p:
			if err := l.makeLink(l.BaseDir, l.TailLink, nil); err != nil {
				return err
			}
		default:
			return fmt.Errorf("fsll: entry has no next but is not tail: %s", p)
		}
	} else if !prevOK {
		return fmt.Errorf("fsll: entry has no prev but is not head: %s", p)
	}

	if tail == p {
		switch {
		case prevOK:
			if err := l.makeLink(l.BaseDir, l.TailLink, str(prev)); err != nil {
				return err
			}
			if err := l.makeLink(prev, "next", nil); err != nil {
				return err
			}
		case head == p:
			if err := l.makeLink(l.BaseDir, l.HeadLink, nil); err != nil {
				return err
			}
		default:
			return fmt.Errorf("fsll: entry has no prev but is not head: %s", p)
		}
	} else if !nextOK {
		return fmt.Errorf("fsll: entry has no next but is not tail: %s", p)
	}

	if nextOK && prevOK {
		if err := l.makeLink(next, "prev", str(prev)); err != nil {
			return err
		}
		if err := l.makeLink(prev, "next", str(next)); err != nil {
			return err
		}
	}

	if err := l.makeLink(p, "next", nil); err != nil {
		return err
	}
	return l.makeLink(p, "prev", nil)
}
