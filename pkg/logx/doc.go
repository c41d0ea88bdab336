// Package logx configures contentpilot's structured logging.
//
// It is a small wrapper (logx.Logger) on top of zerolog that keeps:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured, one event per line
//   - Sinks swappable at runtime when the config file is reloaded
package logx
