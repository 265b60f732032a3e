// Package logger wraps zap behind a process-wide singleton plus a
// context-propagation helper, so handlers and services can do
// logger.From(ctx) without threading a *zap.Logger through every call.
package logger
