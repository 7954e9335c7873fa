package watcher

import (
	"errors"
	"fmt"
	"sort"

	"filewatch/internal/fsutil"
)

// ErrInvariant marks an internal consistency failure while coalescing events.
// The worker treats it as fatal.
var ErrInvariant = errors.New("watcher invariant violated")

type bufferSlot struct {
	event   ChangeEvent
	removed bool
}

// coalescer holds the working state of a single Normalize call. Slots keep
// arrival order; index maps a path to its live slot.
type coalescer struct {
	slots []bufferSlot
	index map[string]int
	live  int
}

func newCoalescer(capacity int) *coalescer {
	return &coalescer{
		slots: make([]bufferSlot, 0, capacity),
		index: make(map[string]int, capacity),
	}
}

// Normalize merges a burst of events into the minimal equivalent ordered
// sequence. The input is not modified.
func Normalize(events []ChangeEvent) ([]ChangeEvent, error) {
	if len(events) == 0 {
		return nil, nil
	}
	coalescer := newCoalescer(len(events))
	for position, event := range events {
		if err := validateEvent(event); err != nil {
			return nil, fmt.Errorf("%w: event %d: %v", ErrInvariant, position, err)
		}
		if err := coalescer.add(event); err != nil {
			return nil, err
		}
	}
	return suppressNestedDeletes(coalescer.survivors()), nil
}

func validateEvent(event ChangeEvent) error {
	if !event.ChangeType.valid() {
		return fmt.Errorf("unknown change type %d", int(event.ChangeType))
	}
	if event.FullPath == "" {
		return errors.New("empty path")
	}
	if event.ChangeType == Renamed && event.OldFullPath == "" {
		return fmt.Errorf("rename of %q has no old path", event.FullPath)
	}
	if event.ChangeType != Renamed && event.OldFullPath != "" {
		return fmt.Errorf("%s of %q carries an old path", event.ChangeType, event.FullPath)
	}
	return nil
}

func (c *coalescer) add(incoming ChangeEvent) error {
	existing, hasExisting := c.index[incoming.FullPath]
	if hasExisting {
		previous := c.slots[existing].event.ChangeType
		switch {
		case previous == Created && incoming.ChangeType == Deleted:
			c.remove(existing)
			return nil
		case previous == Deleted && incoming.ChangeType == Created:
			c.reclassify(existing, Changed, "")
			return nil
		case previous == Created && incoming.ChangeType == Changed:
			return nil
		}
	}

	if incoming.ChangeType == Renamed {
		deletedAtTarget := hasExisting && c.slots[existing].event.ChangeType == Deleted
		resolved, err := c.resolveRename(incoming, deletedAtTarget, c.live+1)
		if err != nil {
			return err
		}
		incoming = resolved
		existing, hasExisting = c.index[incoming.FullPath]
	}

	if hasExisting {
		c.reclassify(existing, incoming.ChangeType, incoming.OldFullPath)
		return nil
	}
	c.insert(incoming)
	return nil
}

// resolveRename follows chained renames through the OldFullPath of event.
// Every step consumes one live slot, so maxSteps bounds a well-formed chain;
// running out of steps means the buffer is corrupt.
func (c *coalescer) resolveRename(event ChangeEvent, deletedAtTarget bool, maxSteps int) (ChangeEvent, error) {
	for step := 0; ; step++ {
		if step >= maxSteps {
			return event, fmt.Errorf("%w: rename chain for %q exceeds %d steps", ErrInvariant, event.FullPath, maxSteps)
		}
		source, ok := c.index[event.OldFullPath]
		if !ok {
			return settleRename(event), nil
		}
		from := c.slots[source].event
		switch from.ChangeType {
		case Created:
			c.remove(source)
			event.ChangeType = Created
			event.OldFullPath = ""
			if deletedAtTarget {
				event.ChangeType = Changed
			}
			return event, nil
		case Renamed:
			c.remove(source)
			event.OldFullPath = from.OldFullPath
		default:
			return settleRename(event), nil
		}
	}
}

// settleRename turns a chain that ends where it started into a modification.
func settleRename(event ChangeEvent) ChangeEvent {
	if event.ChangeType == Renamed && event.OldFullPath == event.FullPath {
		event.ChangeType = Changed
		event.OldFullPath = ""
	}
	return event
}

func (c *coalescer) insert(event ChangeEvent) {
	c.slots = append(c.slots, bufferSlot{event: event})
	c.index[event.FullPath] = len(c.slots) - 1
	c.live++
}

func (c *coalescer) remove(position int) {
	slot := &c.slots[position]
	if slot.removed {
		return
	}
	slot.removed = true
	delete(c.index, slot.event.FullPath)
	c.live--
}

func (c *coalescer) reclassify(position int, changeType ChangeType, oldFullPath string) {
	slot := &c.slots[position]
	slot.event.ChangeType = changeType
	slot.event.OldFullPath = oldFullPath
}

func (c *coalescer) survivors() []ChangeEvent {
	out := make([]ChangeEvent, 0, c.live)
	for _, slot := range c.slots {
		if slot.removed {
			continue
		}
		out = append(out, slot.event)
	}
	return out
}

// suppressNestedDeletes drops Deleted events whose ancestor directory was
// also deleted in the same burst. Shallow paths are visited first; the output
// keeps the input order.
func suppressNestedDeletes(events []ChangeEvent) []ChangeEvent {
	order := make([]int, len(events))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return len(events[order[a]].FullPath) < len(events[order[b]].FullPath)
	})

	keep := make([]bool, len(events))
	deleted := make([]string, 0)
	for _, position := range order {
		event := events[position]
		if event.ChangeType == Deleted {
			if hasDeletedAncestor(deleted, event.FullPath) {
				continue
			}
			deleted = append(deleted, event.FullPath)
		}
		keep[position] = true
	}

	out := make([]ChangeEvent, 0, len(events))
	for position, event := range events {
		if keep[position] {
			out = append(out, event)
		}
	}
	return out
}

func hasDeletedAncestor(deleted []string, path string) bool {
	for _, candidate := range deleted {
		if fsutil.IsParent(path, candidate) {
			return true
		}
	}
	return false
}
