// Package syncer drives one mirror run for a GitHub owner: it enumerates the
// owner's repositories, diffs them against the local mirror inventory and
// executes the resulting clone-or-fetch tasks on a bounded pool of workers.
//
// Data flows strictly one way, enumeration → plan → execution. Execution
// only begins once the full filtered task list is known, and an enumeration
// failure aborts the run before any mirror work: acting on a partial
// repository list would silently drop repositories from the mirror set.
//
// Each task owns a disjoint local path so workers never contend for the same
// mirror. A failing task is recorded in the run summary and never blocks or
// corrupts sibling tasks.
package syncer
