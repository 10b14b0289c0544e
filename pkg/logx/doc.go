// Package logx configures courier's structured logging.
//
// This repo uses a small wrapper (logx.Logger) on top of zerolog to keep:
//   - Loggers "live" across runtime config changes (Service.Apply swaps sinks
//     and levels without invalidating existing Logger values).
//   - Call sites free of zerolog's builder chaining (Field helpers instead).
//
// Sinks: console (human-friendly) and an append-only JSON file. Both can be
// toggled at runtime through the config file.
package logx
