// Package task defines the wire types exchanged with the remote task worker.
//
// A request travels as an Envelope on the work queue; the worker answers with
// a Result on the caller's reply queue, tagged with the same correlation id.
//
// The worker speaks loosely typed JSON. This package pins each task name to an
// explicit request schema (QueryDatabase, ProcessDebtorRegister, SendEmail) and
// an explicit reply schema (SumsData, RecordsData, RegisterReport,
// EmailReport) while keeping the field names the worker expects.
//
// Field names on the wire are snake_case and MUST NOT change: the worker is an
// external process owned by another team.
package task
