package engine

// Object is the contract a replicated in-memory object must satisfy to
// be driven by a Version-Locked Object. It is deliberately the smallest
// possible surface: "apply one deterministic mutation, optionally
// producing a result". Undo is modeled as just another Apply call — an
// UndoRecord is itself a (method, args) pair whose effect is the inverse
// of the entry it undoes, so no separate Undo method is needed.
type Object interface {
	// Apply performs method(args...) against the object's own state and
	// returns the upcall result, if the method is an accessor-mutator
	// (e.g. a map's previous value on Put).
	Apply(method string, args []any) (result any, hasResult bool)
}

// Cloner is optionally implemented by an Object that can produce a fresh
// zero-value copy of itself, used to reset-and-replay from origin when a
// Version-Locked Object's overlay or backward sync cannot be undone
// in-place (§4.1 step 1/2). Objects that don't implement Cloner must
// always be undoable, or sync will fail on the fallback path.
type Cloner interface {
	Object
	New() Object
}

// ConflictExtractor is optionally implemented by an Object to derive the
// conflict parameters a given (method, args) call touches, the way
// proxy.getConflictFromEntry does in §4.4.7's precise-conflict scan. An
// Object that doesn't implement it can still be precisely resolved for
// writes that carried explicit conflict parameters on the wire (via
// PersistedOp.ConflictParams); a (method, args) pair with neither an
// extractor nor attached parameters can't be proven to overlap and is
// treated as non-conflicting by the precise pass.
type ConflictExtractor interface {
	Object
	ConflictParams(method string, args []any) []any
}
