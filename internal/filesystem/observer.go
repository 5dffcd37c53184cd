package filesystem

// Observer records filesystem metrics. Implementations are provided by the
// metrics package to break the import cycle between filesystem and metrics.
type Observer interface {
	// ObserveOperation records duration and error status for a filesystem operation.
	// volume is the area label ("uploads", "converted") resolved from the path.
	// operation is one of "create", "remove", "open".
	ObserveOperation(volume, operation string, durationSeconds float64, err error)

	ObserveAllocate(area string)
	ObserveRelease(area string)
	ObserveSweep(removed int)

	// Retry metrics for stale NFS handles.
	ObserveRetryAttempt(retryOp, volume string)
	ObserveRetrySuccess(retryOp, volume string)
	ObserveRetryFailure(retryOp, volume string)
	ObserveRetryDuration(retryOp, volume string, durationSeconds float64)
	ObserveStaleError(retryOp, volume string)
}

// defaultObserver is the package-level observer set at startup.
var defaultObserver Observer = nopObserver{}

// SetObserver sets the package-level metrics observer.
// Call this once at startup after creating the observer implementation.
func SetObserver(o Observer) {
	if o == nil {
		o = nopObserver{}
	}
	defaultObserver = o
}

func observe() Observer {
	return defaultObserver
}

type nopObserver struct{}

func (nopObserver) ObserveOperation(string, string, float64, error) {}
func (nopObserver) ObserveAllocate(string)                          {}
func (nopObserver) ObserveRelease(string)                           {}
func (nopObserver) ObserveSweep(int)                                {}
func (nopObserver) ObserveRetryAttempt(string, string)              {}
func (nopObserver) ObserveRetrySuccess(string, string)              {}
func (nopObserver) ObserveRetryFailure(string, string)              {}
func (nopObserver) ObserveRetryDuration(string, string, float64)    {}
func (nopObserver) ObserveStaleError(string, string)                {}
