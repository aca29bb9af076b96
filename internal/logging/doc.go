// Package logging provides structured logging for tasktree.
//
// It wraps log/slog so that every component logs JSON lines (or text, for
// interactive use) with persistent attributes such as the task ID and the
// node path. The registry and engine log through this package; nothing in
// the module writes to the standard library log package directly.
//
// # Thread Safety
//
// [Logger] is safe for concurrent use. Child loggers created via With* share
// the parent's handler and file, and closing any of them closes the file once.
//
// # Basic Usage
//
//	logger, err := logging.NewLogger("/var/log/tasktree", "INFO")
//	if err != nil {
//	    return err
//	}
//	defer logger.Close()
//
//	logger.WithTask(id).Info("Task Execute", "name", "installModpack")
//
// For interactive commands, log to stderr in text form:
//
//	logger := logging.NewWriterLogger(os.Stderr, cfg.Logging.Level, logging.FormatText)
//
// # Testing
//
// Use [NopLogger] to discard all log output.
package logging
