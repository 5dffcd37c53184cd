/*
Package filesystem manages the short-lived files chromi works with: uploaded
clips and the GIFs produced from them.

# Manager

A Manager owns one directory. Files are created with random UUID names so
concurrent requests never collide, and paths are never derived from user
input:

	uploads, err := filesystem.NewManager("uploads", "/data/media/uploads")
	path, err := uploads.Allocate(".mp4")
	defer uploads.Release(path)

Release is idempotent. A missing path is not an error.

# Scope

Request and job handlers allocate through a Scope so that every exit path
cleans up. A path is handed to a new owner with Keep:

	scope := filesystem.NewScope()
	defer scope.Close()
	out, _ := scope.Allocate(converted, ".gif")
	...
	scope.Keep(out)

# Sweep

Files whose owner disappeared (a crashed worker, a Redis token that expired
without being redeemed) are removed by Sweep, which the server runs on an
interval.

# Retry

OpenWithRetry and StatWithRetry wrap os.Open and os.Stat with exponential
backoff on ESTALE, for work directories mounted over NFS. Other errors fail
immediately.

Metrics are recorded through an Observer installed with SetObserver.
*/
package filesystem
