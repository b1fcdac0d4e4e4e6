// Package scheduler connects the external task scheduler to the runtime.
//
// Routine start branches describe a schedule (core.RoutineConfig) that an
// external CRON service evaluates. When a routine fires, the service
// publishes an engine.RoutineRequest as JSON on a NATS subject; the
// NATSSubscriber consumes it in a queue group and calls Runtime.Callback.
// Requests published with a reply subject receive a Reply.
package scheduler
