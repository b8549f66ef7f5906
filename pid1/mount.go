package pid1

import (
	"github.com/boxd/boxd/mount"
)

// applyMounts runs §4.6 step 4 (the mount-operation list) and, if the
// request named a new root, step 5 (verify + pivot_root into it).
func applyMounts(cfg *config) error {
	if err := mount.Apply(cfg.opts.Namespaces.Mount.Operations); err != nil {
		return opErr("mount setup", err)
	}

	newRoot := cfg.opts.Namespaces.Mount.NewRootMountPath
	if newRoot == "" {
		return nil
	}

	if err := mount.VerifyMountpoint(newRoot); err != nil {
		return opErr("verify new root", err)
	}
	if err := mount.PivotRoot(newRoot); err != nil {
		return opErr("pivot_root", err)
	}
	return nil
}
