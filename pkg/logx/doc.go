// Package logx wraps zerolog behind a small structured logging API.
//
// It provides:
//   - a Field-based call style (logx.String, logx.Int64, logx.Err, ...)
//   - a Service that owns the sinks (console, optional file) and can
//     re-apply level/sink settings at runtime on config reload
//   - a zero-value Logger that is a safe no-op
package logx
