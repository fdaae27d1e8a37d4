// Package dcvalidate validates data-center power-device telemetry against a
// library of declarative and code-implemented rules, producing scored
// evidence of anomalies: stale readings, circular topology, mismatched
// parent/children power figures, hierarchy violations, incomplete records.
//
// # Architecture
//
// The system is a queue-driven worker built from two cores:
//
// Rule expression engine:
//   - schema: typed descriptors replacing runtime reflection
//   - path: property-path resolution with collection operators
//     (Where, Select, Sum, Count, Traverse, ...)
//   - operator: comparison and tolerance operators with proportional scores
//   - expression: JSON condition trees compiled into memoized predicates
//     and evidence walkers
//
// Validation pipeline:
//   - pipeline: bounded parallel produce -> enrich -> transform -> batch ->
//     persist, with per-run counters and job-scoped cancellation
//   - coderule: compiled evaluators for checks a JSON rule cannot express
//   - rules: rule storage (NATS KV), compilation cache keyed by store
//     modification time, startup registration of code rules
//   - queue/service: JetStream-backed job queue and the paced worker loop
//     with retry and dead-lettering
//
// Everything rides on NATS JetStream: job queue, rule store, device
// topology, run records and result publication. Prometheus metrics and
// structured slog logging are wired throughout.
//
// The cmd/dcvalidate binary assembles the worker; every package is usable
// on its own against the in-memory implementations for tests and local
// development.
package dcvalidate
