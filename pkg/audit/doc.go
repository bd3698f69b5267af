// Package audit records entity mutations as audit entries and delivers them
// to sinks.
//
// # Overview
//
// A Configuration says which entity types are audited, with which strategy,
// and how their properties are named and rendered. It is built once from a
// Builder, optionally seeded from YAML rules, and validated against the schema:
//
//	b := audit.NewBuilder(audit.WithDefaultStrategy(audit.Partial))
//	audit.Configure[Order](b).
//		FriendlyName("Purchase order").
//		Property("CustomerID").FriendlyName("Customer").
//		Lookup(reflect.TypeOf(Customer{}), func(c any) string { return c.(*Customer).Name })
//	audit.Configure[Order](b).Property("Secret").Ignore()
//	cfg, err := b.Build(s)
//
// Entries for the same type may be declared more than once and on base or
// interface types. The most specific declaration wins per setting, and among
// equally specific declarations the first one declared wins.
//
// # Strategies
//
// Partial records inserted properties with a value, deleted properties that
// had one, and modified properties of updates. Full records every non-key
// property. With DropEmpty, entries without recorded properties are discarded.
//
// # Sessions
//
// The Auditor is driven by the trigger pipeline. Before the write it drafts
// one entry per pending entity in a Session owned by that commit; after the
// write it refreshes new values and primary keys (generated keys are only
// known then) and resolves friendly values. Sessions are keyed by the unit of
// work, so concurrent commits never see each other's drafts.
//
// # Sinks
//
// A Fanout delivers the finalized entries of a commit to every Sink.
// Transactional sinks (DBSink) run before the unit of work's transaction is
// finished and write through it under a savepoint. Detached sinks (FileSink,
// RedisSink, KafkaSink, S3Sink, LogSink) run afterwards. A failing sink does
// not stop the others; failures are joined into a *SinkError chain.
//
// # Querying and Retention
//
// DBStore searches, exports (JSON, NDJSON, CSV) and summarises what DBSink
// wrote, and Handlers exposes that over HTTP. Cleanup deletes entries older
// than the RetentionPolicy, archiving them to a sink first when one is set.
package audit
