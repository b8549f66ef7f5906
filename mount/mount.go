// Package mount executes the per-request mount-operation list pid1
// builds its root filesystem from (spec.md §4.6.3): tmpfs/proc mounts,
// bind mounts, and bare directory/file creation, followed by an
// optional pivot_root into the assembled tree.
package mount

import (
	"errors"
	"fmt"
	"os"

	"github.com/moby/sys/mountinfo"
	"golang.org/x/sys/unix"

	"github.com/boxd/boxd/domain"
	"github.com/boxd/boxd/result"
)

// Apply executes ops in order, the way pid1 assembles the tracee's
// filesystem before the optional pivot (§4.6.3: "in the order given").
func Apply(ops []domain.MountOperation) error {
	for i, op := range ops {
		if err := applyOne(op); err != nil {
			return fmt.Errorf("mount operation %d (%T): %w", i, op, err)
		}
	}
	return nil
}

func applyOne(op domain.MountOperation) error {
	switch v := op.(type) {
	case *domain.MountTmpfs:
		return mountTmpfs(v)
	case *domain.MountProc:
		return mountProc(v)
	case *domain.BindMount:
		return bindMount(v)
	case *domain.CreateDir:
		return createDir(v)
	case *domain.CreateFile:
		return createFile(v)
	default:
		return fmt.Errorf("unhandled mount operation type %T", op)
	}
}

// maxMode is the highest valid Unix permission bitmask (§4.6 step 4:
// "validate root_dir_mode <= 0o777").
const maxMode = 0o777

func mountTmpfs(m *domain.MountTmpfs) error {
	if m.RootDirMode > maxMode {
		return fmt.Errorf("tmpfs root_dir_mode %#o exceeds %#o", m.RootDirMode, maxMode)
	}
	opts := tmpfsOptions(m)
	if err := unix.Mount("tmpfs", m.Path, "tmpfs", mountFlags(m.ReadOnly, m.NoExec, false), opts); err != nil {
		return fmt.Errorf("mount tmpfs at %s: %w", m.Path, err)
	}
	mode := m.RootDirMode
	if mode == 0 {
		mode = 0o755
	}
	if err := unix.Chmod(m.Path, uint32(mode)); err != nil {
		return fmt.Errorf("chmod tmpfs root %s: %w", m.Path, err)
	}
	return nil
}

func tmpfsOptions(m *domain.MountTmpfs) string {
	opts := ""
	if m.MaxTotalSizeOfFilesInBytes != nil {
		opts = appendOpt(opts, fmt.Sprintf("size=%d", *m.MaxTotalSizeOfFilesInBytes))
	}
	if m.InodeLimit != nil {
		opts = appendOpt(opts, fmt.Sprintf("nr_inodes=%d", *m.InodeLimit))
	}
	return opts
}

func appendOpt(opts, next string) string {
	if opts == "" {
		return next
	}
	return opts + "," + next
}

func mountProc(m *domain.MountProc) error {
	if err := unix.Mount("proc", m.Path, "proc", mountFlags(m.ReadOnly, m.NoExec, false), ""); err != nil {
		return fmt.Errorf("mount proc at %s: %w", m.Path, err)
	}
	return nil
}

func bindMount(m *domain.BindMount) error {
	flags := uintptr(unix.MS_BIND)
	if m.Recursive {
		flags |= unix.MS_REC
	}
	if err := unix.Mount(m.Source, m.Dest, "", flags, ""); err != nil {
		return fmt.Errorf("bind mount %s -> %s: %w", m.Source, m.Dest, err)
	}
	if m.ReadOnly || m.NoExec {
		remount := uintptr(unix.MS_BIND | unix.MS_REMOUNT)
		if m.Recursive {
			remount |= unix.MS_REC
		}
		remount |= mountFlags(m.ReadOnly, m.NoExec, true)
		if err := unix.Mount("", m.Dest, "", remount, ""); err != nil {
			return fmt.Errorf("remount bind %s read-only/noexec: %w", m.Dest, err)
		}
	}
	return nil
}

// createDir makes a bare directory at m.Path. A pre-existing entry is a
// failure, not a no-op (§4.6 step 4: "fail with File exists (os error
// 17) if already present") — the operation list is meant to build a
// fresh tree, so a collision signals a mount-ops bug upstream rather
// than something to paper over.
func createDir(m *domain.CreateDir) error {
	if m.Mode > maxMode {
		return fmt.Errorf("mkdir mode %#o exceeds %#o", m.Mode, maxMode)
	}
	mode := m.Mode
	if mode == 0 {
		mode = 0o755
	}
	if err := os.Mkdir(m.Path, os.FileMode(mode)); err != nil {
		return errors.New(result.Errno(err))
	}
	return nil
}

// createFile makes a bare empty file at m.Path; O_EXCL enforces the
// same collision-is-failure rule as createDir.
func createFile(m *domain.CreateFile) error {
	if m.Mode > maxMode {
		return fmt.Errorf("create mode %#o exceeds %#o", m.Mode, maxMode)
	}
	mode := m.Mode
	if mode == 0 {
		mode = 0o644
	}
	f, err := os.OpenFile(m.Path, os.O_CREATE|os.O_EXCL, os.FileMode(mode))
	if err != nil {
		return errors.New(result.Errno(err))
	}
	return f.Close()
}

// mountFlags builds the MS_* bitmask shared by the tmpfs/proc/bind
// mount paths. bindRemount omits MS_BIND/MS_REC (the caller already set
// those) and is used only for the read-only/noexec remount pass.
func mountFlags(readOnly, noExec, bindRemount bool) uintptr {
	var flags uintptr
	if readOnly {
		flags |= unix.MS_RDONLY
	}
	if noExec {
		flags |= unix.MS_NOEXEC
	}
	if !bindRemount {
		flags |= unix.MS_NOSUID | unix.MS_NODEV
	}
	return flags
}

// VerifyMountpoint confirms path is actually a mountpoint before
// pivot_root is attempted on it (§4.6.3: pivot_root's new_root argument
// "must itself be a mount point").
func VerifyMountpoint(path string) error {
	ok, err := mountinfo.Mounted(path)
	if err != nil {
		return fmt.Errorf("check mountpoint %s: %w", path, err)
	}
	if !ok {
		return fmt.Errorf("%s is not a mount point", path)
	}
	return nil
}

// PivotRoot performs the classic pivot_root(".", ".") dance into
// newRoot: chdir into it, pivot_root(new_root=".", put_old="."), chdir
// to "/", then lazily unmount the old root now mounted over itself
// (§4.6.3's pivot step).
func PivotRoot(newRoot string) error {
	if err := unix.Chdir(newRoot); err != nil {
		return fmt.Errorf("chdir to new root %s: %w", newRoot, err)
	}
	if err := unix.PivotRoot(".", "."); err != nil {
		return fmt.Errorf("pivot_root: %w", err)
	}
	if err := unix.Chdir("/"); err != nil {
		return fmt.Errorf("chdir to /: %w", err)
	}
	if err := unix.Unmount("/", unix.MNT_DETACH); err != nil {
		return fmt.Errorf("unmount old root: %w", err)
	}
	return nil
}
