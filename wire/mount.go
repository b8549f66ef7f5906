package wire

import "github.com/boxd/boxd/domain"

// mount operation flag bits, packed into the flags:u8 byte that precedes
// a mount operation's other fields where applicable (§4.1 field 5).
const (
	mountFlagReadOnly uint8 = 1 << 0
	mountFlagNoExec   uint8 = 1 << 1
	mountFlagRecursive uint8 = 1 << 2
)

// optU64 bits within a mount operation's own presence byte (MountTmpfs
// has two independently-optional u64 fields, so it carries its own mask
// ahead of the shared flags byte).
const (
	tmpfsMaskSize  uint8 = 1 << 0
	tmpfsMaskInode uint8 = 1 << 1
)

func sizeMountNamespace(m domain.MountNamespace) (int, error) {
	n := 4 // operations_len
	for _, op := range m.Operations {
		s, err := sizeMountOperation(op)
		if err != nil {
			return 0, err
		}
		n += 1 + s // kind byte + op body
	}
	n += 4 // new_root_mount_path_len
	if m.NewRootMountPath != "" {
		if err := checkNoNUL("mount.new_root_mount_path", m.NewRootMountPath); err != nil {
			return 0, err
		}
		n += sizeCString(m.NewRootMountPath)
	}
	return n, nil
}

func sizeMountOperation(op domain.MountOperation) (int, error) {
	switch v := op.(type) {
	case *domain.MountTmpfs:
		if err := checkNoNUL("mount.tmpfs.path", v.Path); err != nil {
			return 0, err
		}
		return 1 + 1 + 8 + 8 + 2 + sizeCString(v.Path), nil // tmpfs_mask + flags + size + inode + mode + path
	case *domain.MountProc:
		if err := checkNoNUL("mount.proc.path", v.Path); err != nil {
			return 0, err
		}
		return 1 + sizeCString(v.Path), nil // flags + path
	case *domain.BindMount:
		if err := checkNoNUL("mount.bind.source", v.Source); err != nil {
			return 0, err
		}
		if err := checkNoNUL("mount.bind.dest", v.Dest); err != nil {
			return 0, err
		}
		return 1 + sizeCString(v.Source) + sizeCString(v.Dest), nil
	case *domain.CreateDir:
		if err := checkNoNUL("mount.mkdir.path", v.Path); err != nil {
			return 0, err
		}
		return 2 + sizeCString(v.Path), nil // mode + path
	case *domain.CreateFile:
		if err := checkNoNUL("mount.mkfile.path", v.Path); err != nil {
			return 0, err
		}
		return 2 + sizeCString(v.Path), nil
	default:
		return 0, errUnknownMountKind(0)
	}
}

func encodeMountNamespace(e *encoder, m domain.MountNamespace) error {
	e.putU32(uint32(len(m.Operations)))
	for _, op := range m.Operations {
		if err := encodeMountOperation(e, op); err != nil {
			return err
		}
	}
	if m.NewRootMountPath == "" {
		e.putU32(0)
	} else {
		e.putU32(uint32(sizeCString(m.NewRootMountPath)))
		e.putCString(m.NewRootMountPath)
	}
	return nil
}

func encodeMountOperation(e *encoder, op domain.MountOperation) error {
	switch v := op.(type) {
	case *domain.MountTmpfs:
		e.putU8(domain.MountKindTmpfs)
		var tmask uint8
		if v.MaxTotalSizeOfFilesInBytes != nil {
			tmask |= tmpfsMaskSize
		}
		if v.InodeLimit != nil {
			tmask |= tmpfsMaskInode
		}
		e.putU8(tmask)
		e.putU8(mountFlags(v.ReadOnly, v.NoExec, false))
		e.putU64(deref64(v.MaxTotalSizeOfFilesInBytes))
		e.putU64(deref64(v.InodeLimit))
		e.putU16(v.RootDirMode)
		e.putCString(v.Path)
	case *domain.MountProc:
		e.putU8(domain.MountKindProc)
		e.putU8(mountFlags(v.ReadOnly, v.NoExec, false))
		e.putCString(v.Path)
	case *domain.BindMount:
		e.putU8(domain.MountKindBind)
		e.putU8(mountFlags(v.ReadOnly, v.NoExec, v.Recursive))
		e.putCString(v.Source)
		e.putCString(v.Dest)
	case *domain.CreateDir:
		e.putU8(domain.MountKindCreateDir)
		e.putU16(v.Mode)
		e.putCString(v.Path)
	case *domain.CreateFile:
		e.putU8(domain.MountKindCreateFile)
		e.putU16(v.Mode)
		e.putCString(v.Path)
	default:
		return errUnknownMountKind(0)
	}
	return nil
}

func mountFlags(readOnly, noExec, recursive bool) uint8 {
	var f uint8
	if readOnly {
		f |= mountFlagReadOnly
	}
	if noExec {
		f |= mountFlagNoExec
	}
	if recursive {
		f |= mountFlagRecursive
	}
	return f
}

func decodeMountNamespace(d *decoder) (domain.MountNamespace, error) {
	var m domain.MountNamespace
	n, err := d.getU32("mount.operations_len")
	if err != nil {
		return m, err
	}
	m.Operations = make([]domain.MountOperation, 0, n)
	for i := uint32(0); i < n; i++ {
		op, err := decodeMountOperation(d)
		if err != nil {
			return m, err
		}
		m.Operations = append(m.Operations, op)
	}
	pathLen, err := d.getU32("mount.new_root_mount_path_len")
	if err != nil {
		return m, err
	}
	if pathLen > 0 {
		s, err := d.getCString("mount.new_root_mount_path")
		if err != nil {
			return m, err
		}
		m.NewRootMountPath = s
	}
	return m, nil
}

func decodeMountOperation(d *decoder) (domain.MountOperation, error) {
	kind, err := d.getU8("mount.kind")
	if err != nil {
		return nil, err
	}
	switch kind {
	case domain.MountKindTmpfs:
		tmask, err := d.getU8("mount.tmpfs.mask")
		if err != nil {
			return nil, err
		}
		flags, err := d.getU8("mount.tmpfs.flags")
		if err != nil {
			return nil, err
		}
		size, err := d.getU64("mount.tmpfs.size")
		if err != nil {
			return nil, err
		}
		inode, err := d.getU64("mount.tmpfs.inode")
		if err != nil {
			return nil, err
		}
		mode, err := d.getU16("mount.tmpfs.mode")
		if err != nil {
			return nil, err
		}
		path, err := d.getCString("mount.tmpfs.path")
		if err != nil {
			return nil, err
		}
		op := &domain.MountTmpfs{
			Path:        path,
			RootDirMode: mode,
			ReadOnly:    flags&mountFlagReadOnly != 0,
			NoExec:      flags&mountFlagNoExec != 0,
		}
		if tmask&tmpfsMaskSize != 0 {
			op.MaxTotalSizeOfFilesInBytes = &size
		}
		if tmask&tmpfsMaskInode != 0 {
			op.InodeLimit = &inode
		}
		return op, nil
	case domain.MountKindProc:
		flags, err := d.getU8("mount.proc.flags")
		if err != nil {
			return nil, err
		}
		path, err := d.getCString("mount.proc.path")
		if err != nil {
			return nil, err
		}
		return &domain.MountProc{
			Path:     path,
			ReadOnly: flags&mountFlagReadOnly != 0,
			NoExec:   flags&mountFlagNoExec != 0,
		}, nil
	case domain.MountKindBind:
		flags, err := d.getU8("mount.bind.flags")
		if err != nil {
			return nil, err
		}
		source, err := d.getCString("mount.bind.source")
		if err != nil {
			return nil, err
		}
		dest, err := d.getCString("mount.bind.dest")
		if err != nil {
			return nil, err
		}
		return &domain.BindMount{
			Source:    source,
			Dest:      dest,
			Recursive: flags&mountFlagRecursive != 0,
			ReadOnly:  flags&mountFlagReadOnly != 0,
			NoExec:    flags&mountFlagNoExec != 0,
		}, nil
	case domain.MountKindCreateDir:
		mode, err := d.getU16("mount.mkdir.mode")
		if err != nil {
			return nil, err
		}
		path, err := d.getCString("mount.mkdir.path")
		if err != nil {
			return nil, err
		}
		return &domain.CreateDir{Path: path, Mode: mode}, nil
	case domain.MountKindCreateFile:
		mode, err := d.getU16("mount.mkfile.mode")
		if err != nil {
			return nil, err
		}
		path, err := d.getCString("mount.mkfile.path")
		if err != nil {
			return nil, err
		}
		return &domain.CreateFile{Path: path, Mode: mode}, nil
	default:
		return nil, errUnknownMountKind(kind)
	}
}
