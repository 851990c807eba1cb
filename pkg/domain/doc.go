/*
Package domain contains the core entities of the form editor.

It defines the normalized form tree (nodes and questions), the invariants that
every state must satisfy, and the event vocabulary shared by the rest of the
module. This package is kept pure and free of I/O, timers or persistence.

# Key Entities

  - Node: a sealed sum type of RootNode, GroupNode and ServiceNode.
  - Question: an opaque configuration owned by exactly one service.
  - FormState: the normalized snapshot (id-indexed nodes and questions plus metadata).
  - FormDiff: the structural difference between two snapshots.
*/
package domain
