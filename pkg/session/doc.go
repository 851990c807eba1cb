/*
Package session implements form access management and persistence orchestration.

It serializes reads and writes per form (optionally across replicas through a
distributed locker) and keeps one formtree.Editor per open form, wired to save
through the same locks.
*/
package session
