// Package memory is the agent's long-term per-user memory. Entries are
// plain text rows in sqlite with access tracking; keyword search is
// LIKE-based. Curation runs nightly and on liveness recovery: stale
// entries are dropped after 90 days without access and each user is
// capped at 500 entries, most recently used kept.
package memory
