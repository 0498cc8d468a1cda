package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/slogtx/optx/address"
	"github.com/slogtx/optx/logservice"
)

// VersionLockedObject is the materialized half of a replicated object:
// one Object instance, the address it is synced to, and — while some
// thread is inside a transaction against it — an optimistic overlay of
// that thread's not-yet-committed writes applied directly on top (§4.1
// Version-Locked Object).
//
// Grounded on the teacher's mvcc/version.go (copy-on-write version,
// atomic refcount) and mvcc/map.go's commit critical section, which
// this generalizes from swapping an in-process version slice to
// rolling a materialized object forward and backward against an
// external log.
type VersionLockedObject struct {
	mu sync.RWMutex

	stream address.StreamID
	log    logservice.Log
	logger *slog.Logger

	object  Object
	version address.Address

	overlay            *StreamView
	overlayOwner       ThreadID
	overlayApplied     int
	overlayInstalledAt time.Time
}

// newVersionLockedObject returns a VLO materialized to an empty object,
// seeded from a fresh instance of the same concrete type as initial
// (initial's Cloner.New; initial itself when it does not implement
// Cloner).
func newVersionLockedObject(stream address.StreamID, log logservice.Log, initial Object, logger *slog.Logger) *VersionLockedObject {
	object := initial
	if cloner, ok := initial.(Cloner); ok {
		object = cloner.New()
	}
	return &VersionLockedObject{
		stream:  stream,
		log:     log,
		logger:  logger,
		object:  object,
		version: address.NeverRead,
	}
}

// Access syncs the object to snapshot with owner's overlay applied, then
// invokes method against it without recording a new write (§4.4.1). Per
// §5's concurrency model, a read that finds the fast-path guard already
// true runs under only the read lock, alongside any other such reader;
// anything that actually needs to sync takes the write lock instead.
func (vlo *VersionLockedObject) Access(ctx context.Context, snapshot address.Address, owner ThreadID, overlay *StreamView, method string, args []any) (any, bool, error) {
	vlo.mu.RLock()
	if vlo.fastPathOK(snapshot, owner, overlay) {
		result, hasResult := vlo.object.Apply(method, args)
		vlo.mu.RUnlock()
		return result, hasResult, nil
	}
	vlo.mu.RUnlock()

	vlo.mu.Lock()
	defer vlo.mu.Unlock()
	if err := vlo.syncLocked(ctx, snapshot, owner, overlay); err != nil {
		return nil, false, err
	}
	result, hasResult := vlo.object.Apply(method, args)
	return result, hasResult, nil
}

// Update syncs the object to snapshot with owner's overlay applied, then
// applies method as a new speculative write directly against the
// materialized object (§4.4.2). The caller is responsible for appending
// the corresponding entry to overlay itself; Update advances the
// applied-count so the next sync does not redo it.
func (vlo *VersionLockedObject) Update(ctx context.Context, snapshot address.Address, owner ThreadID, overlay *StreamView, method string, args []any) (any, bool, error) {
	vlo.mu.Lock()
	defer vlo.mu.Unlock()

	if err := vlo.syncLocked(ctx, snapshot, owner, overlay); err != nil {
		return nil, false, err
	}
	result, hasResult := vlo.object.Apply(method, args)
	if overlay != nil {
		vlo.overlayApplied++
	}
	return result, hasResult, nil
}

// fastPathOK reports whether the object is already synced for owner: at
// the requested snapshot, with no foreign overlay installed and the
// caller's own overlay (if any) fully applied.
func (vlo *VersionLockedObject) fastPathOK(snapshot address.Address, owner ThreadID, overlay *StreamView) bool {
	if vlo.version != snapshot {
		return false
	}
	// Identity, not just "nil or matching": a brand new overlay that has
	// never been installed must still go through syncLocked once so its
	// pointer gets recorded, even if it has zero entries to replay yet.
	if vlo.overlay != overlay {
		return false
	}
	if vlo.overlay != nil && vlo.overlayOwner != owner {
		return false
	}
	if overlay != nil && vlo.overlayApplied != overlay.Len() {
		return false
	}
	return true
}

// syncLocked brings the object to the state Access/Update need: no
// stale foreign overlay, materialized state at exactly snapshot, and
// owner's overlay (if any) fully applied on top (§4.1).
func (vlo *VersionLockedObject) syncLocked(ctx context.Context, snapshot address.Address, owner ThreadID, overlay *StreamView) error {
	if vlo.fastPathOK(snapshot, owner, overlay) {
		return nil
	}

	// 1. undo whatever overlay is currently installed if it isn't the
	// caller's own.
	if vlo.overlay != nil && (vlo.overlay != overlay || vlo.overlayOwner != owner) {
		if err := vlo.undoOverlayLocked(ctx, vlo.overlay); err != nil {
			return err
		}
		vlo.overlay = nil
		vlo.overlayApplied = 0
	}

	// 2. move the version pointer to snapshot.
	if snapshot < vlo.version {
		if err := vlo.resetAndReplayLocked(ctx, snapshot); err != nil {
			return err
		}
	} else if snapshot > vlo.version {
		if err := vlo.rollForwardLocked(ctx, vlo.version, snapshot); err != nil {
			return err
		}
	}

	// 3. (re)install the caller's overlay and drain any entries not yet
	// reflected in materialized state.
	if overlay != nil {
		vlo.applyOverlayLocked(overlay)
		vlo.overlayOwner = owner
	}
	return nil
}

// undoOverlayLocked rolls a foreign overlay back out of materialized
// state by applying each entry's undo record in reverse. An entry with
// no undo record forces a full reset-and-replay from origin instead,
// since a real committed log can't be rewound the way a speculative
// overlay can.
func (vlo *VersionLockedObject) undoOverlayLocked(ctx context.Context, view *StreamView) error {
	n := view.Len()
	for i := n - 1; i >= 0; i-- {
		e, ok := view.EntryAt(i)
		if !ok {
			continue
		}
		if e.Undo == nil {
			vlo.logger.Debug("undoing overlay without undo record, resetting from origin",
				"stream", vlo.stream, "index", i)
			return vlo.resetAndReplayLocked(ctx, vlo.version)
		}
		vlo.object.Apply(e.Undo.Method, e.Undo.Args)
	}
	return nil
}

// applyOverlayLocked applies every entry of view not already reflected
// in materialized state, caching upcall results back into view so a
// later GetUpcallResult doesn't need to resync.
func (vlo *VersionLockedObject) applyOverlayLocked(view *StreamView) {
	if vlo.overlay != view {
		vlo.overlay = view
		vlo.overlayApplied = 0
		vlo.overlayInstalledAt = time.Now()
	}
	n := view.Len()
	for i := vlo.overlayApplied; i < n; i++ {
		e, ok := view.EntryAt(i)
		if !ok {
			continue
		}
		result, hasResult := vlo.object.Apply(e.Method, e.Args)
		if hasResult {
			view.SetUpcallResult(i, result)
		}
	}
	vlo.overlayApplied = n
}

// rollForwardLocked applies every committed entry on (from, to] to
// materialized state and advances version to to.
func (vlo *VersionLockedObject) rollForwardLocked(ctx context.Context, from, to address.Address) error {
	entries, err := vlo.log.StreamUpTo(ctx, vlo.stream, from, to)
	if err != nil {
		return fmt.Errorf("engine: sync stream %s to %s: %w", vlo.stream, to, err)
	}
	for _, se := range entries {
		for _, op := range se.Ops {
			vlo.object.Apply(op.Method, op.Args)
		}
	}
	vlo.version = to
	return nil
}

// resetAndReplayLocked rebuilds the object from a fresh instance and
// replays every committed entry up to and including target. It is the
// only way to move version backward, since committed log entries — as
// opposed to an in-memory speculative overlay — have no undo record.
func (vlo *VersionLockedObject) resetAndReplayLocked(ctx context.Context, target address.Address) error {
	cloner, ok := vlo.object.(Cloner)
	if !ok {
		return fmt.Errorf("engine: object on stream %s does not implement Cloner, cannot sync backward to %s", vlo.stream, target)
	}
	vlo.object = cloner.New()
	vlo.version = address.NeverRead
	if target == address.NeverRead {
		return nil
	}
	return vlo.rollForwardLocked(ctx, address.NeverRead, target)
}

// conflictParamsFor derives the conflict parameters method/args would
// touch via the materialized object's ConflictExtractor, if it
// implements one (§4.4.7's proxy.getConflictFromEntry). The second
// return is false when the object doesn't implement ConflictExtractor,
// letting the caller fall back to a wire-attached alternative.
func (vlo *VersionLockedObject) conflictParamsFor(method string, args []any) ([]any, bool) {
	vlo.mu.RLock()
	defer vlo.mu.RUnlock()
	ce, ok := vlo.object.(ConflictExtractor)
	if !ok {
		return nil, false
	}
	return ce.ConflictParams(method, args), true
}

// Version returns the address the object is currently materialized to.
func (vlo *VersionLockedObject) Version() address.Address {
	vlo.mu.Lock()
	defer vlo.mu.Unlock()
	return vlo.version
}

// installCommit brings the object up to a successfully committed write
// set's final address (§4.4.6 post-commit installation): whatever
// overlay is installed (the committer's own, or one another thread took
// over since) is undone and released, then the object rolls forward
// through the log to addr, picking up the committed entry and any commit
// that landed between the object's version and addr. An object already
// synced past addr is left where it is. If the overlay cannot be undone,
// version is stamped to addr without replaying.
func (vlo *VersionLockedObject) installCommit(addr address.Address) {
	vlo.mu.Lock()
	defer vlo.mu.Unlock()
	ctx := context.Background()
	var undoErr error
	if vlo.overlay != nil {
		undoErr = vlo.undoOverlayLocked(ctx, vlo.overlay)
	}
	vlo.overlay = nil
	vlo.overlayOwner = 0
	vlo.overlayApplied = 0
	vlo.overlayInstalledAt = time.Time{}
	if undoErr != nil {
		vlo.logger.Warn("commit installation could not undo overlay in place", "stream", vlo.stream, "error", undoErr)
		vlo.version = addr
		return
	}
	if vlo.version != address.NeverRead && vlo.version >= addr {
		return
	}
	if err := vlo.rollForwardLocked(ctx, vlo.version, addr); err != nil {
		vlo.logger.Warn("commit installation could not sync to commit address", "stream", vlo.stream, "error", err)
	}
}

// rollbackOverlay undoes view's entries if it is still the installed
// overlay. Called on abort; a no-op if this VLO's overlay was already
// taken over by another thread's sync (in which case that sync already
// undid it).
func (vlo *VersionLockedObject) rollbackOverlay(view *StreamView) {
	vlo.mu.Lock()
	defer vlo.mu.Unlock()
	if vlo.overlay != view {
		return
	}
	if err := vlo.undoOverlayLocked(context.Background(), view); err != nil {
		vlo.logger.Warn("rollback could not undo overlay in place, object left at last reset",
			"stream", vlo.stream, "error", err)
	}
	vlo.overlay = nil
	vlo.overlayOwner = 0
	vlo.overlayApplied = 0
	vlo.overlayInstalledAt = time.Time{}
}

// transferOverlay hands overlay ownership from a folded child's view to
// its parent's, without undoing or replaying anything: the parent's
// view already reports the combined length after the fold's merge, and
// every entry up to that length is already reflected in materialized
// state (§4.7).
func (vlo *VersionLockedObject) transferOverlay(from, to *StreamView) {
	vlo.mu.Lock()
	defer vlo.mu.Unlock()
	if vlo.overlay != from {
		return
	}
	vlo.overlay = to
	vlo.overlayApplied = to.Len()
}

// evictStaleOverlay reclaims an overlay that has sat installed longer
// than ttl — a thread that began a transaction and never called TXEnd
// or TXAbort (crashed, deadlocked, or simply leaked it), adapted from
// the teacher's gc.go/deadlock.go maintenance sweep.
func (vlo *VersionLockedObject) evictStaleOverlay(ttl time.Duration, logger *slog.Logger) {
	vlo.mu.Lock()
	defer vlo.mu.Unlock()
	if vlo.overlay == nil || vlo.overlayInstalledAt.IsZero() {
		return
	}
	if time.Since(vlo.overlayInstalledAt) < ttl {
		return
	}
	logger.Warn("evicting stale overlay", "stream", vlo.stream, "age", time.Since(vlo.overlayInstalledAt))
	if err := vlo.undoOverlayLocked(context.Background(), vlo.overlay); err != nil {
		logger.Warn("stale overlay eviction could not undo in place", "stream", vlo.stream, "error", err)
	}
	vlo.overlay = nil
	vlo.overlayOwner = 0
	vlo.overlayApplied = 0
	vlo.overlayInstalledAt = time.Time{}
}
