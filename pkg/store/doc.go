/*
Package store holds the normalized form state.

The Store is the only writer of a FormState. Mutations are plain method calls
that report whether they were applied; structural no-ops (unknown ids,
invalid parents, moves that would create a cycle) leave the state untouched
and return false or "". Every applied mutation increments a version counter
that derived views use as their change signal.

The restore primitives (ExtractSubtree, RestoreSubtree, ReplaceNode,
RestoreQuestion, ReplaceQuestion, RestoreQuestionOrder) exist for the
command package, which uses them to undo and redo edits.
*/
package store
