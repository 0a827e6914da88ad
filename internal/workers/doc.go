/*
Package workers provides utilities for determining worker pool sizes in
containerized environments.

runtime.NumCPU() reports the host machine's CPU count even when a container
is limited to a fraction of it; GOMAXPROCS (Go 1.19+) tracks the cgroup
limit. The helpers here size the transcode and convert worker pools from
GOMAXPROCS, with the PIPELINE_WORKERS environment variable as an operator
override.
*/
package workers
