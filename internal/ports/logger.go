package ports

// Logger is the structured logging seam every component depends on
// instead of a package-global logger, so tests can substitute an
// observed or no-op implementation. A zap.SugaredLogger satisfies this
// interface directly.
type Logger interface {
	Debugw(msg string, keysAndValues ...interface{})
	Infow(msg string, keysAndValues ...interface{})
	Warnw(msg string, keysAndValues ...interface{})
	Errorw(msg string, keysAndValues ...interface{})
	Fatalw(msg string, keysAndValues ...interface{})
}
