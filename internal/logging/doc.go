// Package logging provides a simple leveled logging interface for chromi.
//
// It supports the following log levels:
//   - DEBUG: Verbose debugging information
//   - INFO: General operational messages
//   - WARN: Warning conditions
//   - ERROR: Error conditions
//   - FATAL: Fatal errors that terminate the application
//
// The log level is configured via the LOG_LEVEL environment variable (DEBUG=true
// forces debug). Output is written through zerolog; LOG_FORMAT=json selects
// structured JSON lines, anything else the plain console layout.
package logging
