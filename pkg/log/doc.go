package log

// Package log provides a very small opinionated wrapper around Go's standard
// library logging facilities. Its goal is to offer a consistent way to emit
// logs per component while keeping migration friction low.
//
// Key Features
//
//   - Per component loggers via For(name)
//   - Automatic prefix in every line: `[name]`  (example: `[hub] session created`)
//   - Convenience level helpers: Infof, Warnf, Errorf, Debugf
//   - Debug logging can be enabled globally (SetGlobalDebug) or per component
//     (EnableDebugFor / DisableDebugFor)
//   - Uses the standard library *log.Logger* under the hood
//   - Central output writer (SetOutput) that updates existing loggers
//
// Non-Goals (for now)
//
//   - Full-featured leveled logging framework
//   - Structured / JSON logging
//   - Log sampling, rotation, or asynchronous buffering
//
// Basic Usage
//
//	hublog := log.For("hub")
//	hublog.Infof("listening on %s", addr)
//	hublog.Debugf("raw event: %v", ev) // only with debug enabled
//
// Selective Debug
//
//	// Only enable debug for the hub component.
//	log.EnableDebugFor("hub")
//	log.For("hub").Debugf("visible")
//	log.For("rowdb").Debugf("NOT visible")
//
// Thread Safety
//
// All exported functions are safe for concurrent use. Internally the package
// relies on sync.Map and atomic primitives for minimal locking.
//
// Testing
//
// Tests can redirect output by calling SetOutput with a bytes.Buffer,
// enabling assertions on log contents.
