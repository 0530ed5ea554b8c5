// Package logx configures portalshot's structured logging.
//
// Logger is a small value type on top of zerolog that keeps:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured
//   - Levels and sinks swappable at runtime through Service.Apply
package logx
