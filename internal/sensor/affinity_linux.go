//go:build linux

package sensor

import "golang.org/x/sys/unix"

// pinToCore restricts the calling thread to a single CPU. The caller must
// hold runtime.LockOSThread.
func pinToCore(core int) error {
	var set unix.CPUSet
	set.Zero()
	set.Set(core)
	return unix.SchedSetaffinity(0, &set)
}
