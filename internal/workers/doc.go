/*
Package workers sizes worker pools in containerized environments.

runtime.NumCPU() reports the host's CPUs, not the container's limit, while
GOMAXPROCS follows cgroup CPU limits since Go 1.19. Worker counts are
therefore derived from GOMAXPROCS:

	// One ffmpeg conversion per available CPU, at most 4
	n := workers.ForCPU(4)

Every ffmpeg process is itself multi-threaded, so running more conversions
than CPUs only adds contention.

# Environment Variable Override

QUEUE_WORKERS pins the count (still capped by limit):

	env:
	- name: QUEUE_WORKERS
	  value: "2"
*/
package workers
