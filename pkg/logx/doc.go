// Package logx is thingwatch's logging layer on top of zerolog.
//
// Console output is human readable with a short file:line caller, the file
// sink writes JSON lines, and an optional chat sink forwards warnings and
// errors to Telegram under a rate limit. A Service owns the sinks and can
// swap them at runtime; Loggers it hands out follow the swap.
package logx
