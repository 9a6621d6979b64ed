package backend

// Field transforms understood by every DocumentStore in Set, Merge and
// Update payloads.

type serverTimestamp struct{}

// ServerTimestamp is replaced by the store's clock at write time.
var ServerTimestamp any = serverTimestamp{}

type deleteField struct{}

// DeleteField removes the field in Update and Merge.
var DeleteField any = deleteField{}

type ArrayUnionOp struct{ Elems []any }
type ArrayRemoveOp struct{ Elems []any }
type IncrementOp struct{ By int64 }

func ArrayUnion(elems ...any) any  { return ArrayUnionOp{Elems: elems} }
func ArrayRemove(elems ...any) any { return ArrayRemoveOp{Elems: elems} }
func Increment(by int64) any       { return IncrementOp{By: by} }

func IsServerTimestamp(v any) bool { _, ok := v.(serverTimestamp); return ok }
func IsDeleteField(v any) bool     { _, ok := v.(deleteField); return ok }
