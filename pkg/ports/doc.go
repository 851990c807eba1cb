/*
Package ports defines the driven ports (interfaces) of the form editor.

These interfaces decouple the editor core from external implementations, allowing
forms to be persisted in memory, on disk, in Redis or SQLite, and templates to be
read from any document source.

# Key Interfaces

  - FormStore: Responsible for persisting and loading FormState documents.
  - DistributedLocker: Provides distributed locking for forms edited from several replicas.
  - TemplateSource: Read-only catalogue of form templates (e.g., a Loam vault).
*/
package ports
