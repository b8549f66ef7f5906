package supervisor

import "time"

// cgroupDrainInterval/cgroupDrainAttempts bound how long the teardown
// path waits for a killed cgroup's processes to actually finish exiting
// before giving up on rmdir (§4.5 step 10: "wait for them to be empty
// first"). A cgroup.kill already SIGKILLs everything in the subtree, so
// in practice this drains almost immediately; the bound exists so a
// pathological case (a zombie stuck in uninterruptible sleep) can't wedge
// the whole supervisor loop forever.
const (
	cgroupDrainInterval = 5 * time.Millisecond
	cgroupDrainAttempts = 200
)

// waitCgroupEmpty polls cgroup.procs until it's empty or the attempt
// budget is exhausted, so Remove() doesn't race a lingering process.
func waitCgroupEmpty(leaf *cgroupLeaf) error {
	for i := 0; i < cgroupDrainAttempts; i++ {
		empty, err := leaf.Empty()
		if err != nil {
			return err
		}
		if empty {
			return nil
		}
		time.Sleep(cgroupDrainInterval)
	}
	return nil
}
