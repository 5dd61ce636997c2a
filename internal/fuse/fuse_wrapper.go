package fuse

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"syscall"
	"time"

	"bazil.org/fuse"
	"bazil.org/fuse/fs"
	"github.com/sirupsen/logrus"
)

// attrValid bounds how long the kernel caches attributes. Files can
// change behind the mount, so keep it short.
const attrValid = time.Second

// FuseFS implements the fs.FS interface
type FuseFS struct {
	ops   Operations
	nodes *nodeTable
}

var _ fs.FS = (*FuseFS)(nil)
var _ fs.FSStatfser = (*FuseFS)(nil)

// NewFuseFS serves ops through bazil
func NewFuseFS(ops Operations) *FuseFS {
	return &FuseFS{ops: ops, nodes: newNodeTable(ops)}
}

// Root returns the root directory
func (f *FuseFS) Root() (fs.Node, error) {
	return f.nodes.root(), nil
}

// Statfs returns filesystem statistics
func (f *FuseFS) Statfs(ctx context.Context, req *fuse.StatfsRequest, resp *fuse.StatfsResponse) error {
	statfs, err := f.ops.Statfs(ctx, "/")
	if err != nil {
		return toFuseError(err)
	}
	resp.Blocks = statfs.Blocks
	resp.Bfree = statfs.Bfree
	resp.Bavail = statfs.Bavail
	resp.Files = statfs.Files
	resp.Ffree = statfs.Ffree
	resp.Bsize = statfs.Bsize
	resp.Namelen = statfs.Namelen
	resp.Frsize = statfs.Frsize
	return nil
}

// Dir represents a directory node
type Dir struct {
	nodes *nodeTable
	entry *nodeEntry
}

var _ fs.Node = (*Dir)(nil)
var _ fs.NodeStringLookuper = (*Dir)(nil)
var _ fs.HandleReadDirAller = (*Dir)(nil)
var _ fs.NodeSetattrer = (*Dir)(nil)
var _ fs.NodeGetxattrer = (*Dir)(nil)
var _ fs.NodeListxattrer = (*Dir)(nil)
var _ fs.NodeMkdirer = (*Dir)(nil)
var _ fs.NodeCreater = (*Dir)(nil)
var _ fs.NodeRemover = (*Dir)(nil)
var _ fs.NodeRenamer = (*Dir)(nil)
var _ fs.NodeSymlinker = (*Dir)(nil)
var _ fs.NodeLinker = (*Dir)(nil)
var _ fs.NodeMknoder = (*Dir)(nil)
var _ fs.NodeAccesser = (*Dir)(nil)
var _ fs.NodeFsyncer = (*Dir)(nil)
var _ fs.NodeForgetter = (*Dir)(nil)

func (d *Dir) path() string {
	return d.nodes.pathOf(d.entry)
}

func (d *Dir) child(name string) string {
	return path.Join(d.path(), name)
}

// Attr returns directory attributes
func (d *Dir) Attr(ctx context.Context, a *fuse.Attr) error {
	return getAttr(ctx, d.nodes.ops, d.path(), a)
}

// Lookup looks up a child node
func (d *Dir) Lookup(ctx context.Context, name string) (fs.Node, error) {
	childPath := d.child(name)
	attr, err := d.nodes.ops.GetAttr(ctx, childPath)
	if err != nil {
		return nil, toFuseError(err)
	}
	return d.nodes.node(childPath, attr.Mode), nil
}

// ReadDirAll reads all directory entries
func (d *Dir) ReadDirAll(ctx context.Context) ([]fuse.Dirent, error) {
	entries, err := d.nodes.ops.ReadDir(ctx, d.path())
	if err != nil {
		return nil, toFuseError(err)
	}

	dirents := make([]fuse.Dirent, 0, len(entries))
	for _, entry := range entries {
		dirents = append(dirents, fuse.Dirent{
			Inode: entry.Ino,
			Name:  entry.Name,
			Type:  direntType(entry.Type),
		})
	}
	return dirents, nil
}

// Setattr sets directory attributes
func (d *Dir) Setattr(ctx context.Context, req *fuse.SetattrRequest, resp *fuse.SetattrResponse) error {
	return setAttr(ctx, d.nodes.ops, d.path(), req, resp)
}

// Getxattr gets an extended attribute
func (d *Dir) Getxattr(ctx context.Context, req *fuse.GetxattrRequest, resp *fuse.GetxattrResponse) error {
	return getXattr(ctx, d.nodes.ops, d.path(), req, resp)
}

// Listxattr lists extended attributes
func (d *Dir) Listxattr(ctx context.Context, req *fuse.ListxattrRequest, resp *fuse.ListxattrResponse) error {
	return listXattr(ctx, d.nodes.ops, d.path(), resp)
}

// Mkdir creates a new directory
func (d *Dir) Mkdir(ctx context.Context, req *fuse.MkdirRequest) (fs.Node, error) {
	childPath := d.child(req.Name)
	if err := d.nodes.ops.Mkdir(ctx, childPath, req.Mode&^req.Umask); err != nil {
		return nil, toFuseError(err)
	}
	return d.nodes.node(childPath, os.ModeDir), nil
}

// Create creates and opens a new file in the directory
func (d *Dir) Create(ctx context.Context, req *fuse.CreateRequest, resp *fuse.CreateResponse) (fs.Node, fs.Handle, error) {
	childPath := d.child(req.Name)
	fh, err := d.nodes.ops.Create(ctx, childPath, int(req.Flags), req.Mode&^req.Umask)
	if err != nil {
		return nil, nil, toFuseError(err)
	}
	node := d.nodes.node(childPath, 0)
	return node, node.(*File).handle(fh), nil
}

// Remove removes a file or empty directory
func (d *Dir) Remove(ctx context.Context, req *fuse.RemoveRequest) error {
	childPath := d.child(req.Name)
	var err error
	if req.Dir {
		err = d.nodes.ops.Rmdir(ctx, childPath)
	} else {
		err = d.nodes.ops.Unlink(ctx, childPath)
	}
	if err != nil {
		return toFuseError(err)
	}
	d.nodes.remove(childPath)
	return nil
}

// Rename moves a child of d into newDir. The moved node, and any node
// below it, answers for the new path from then on.
func (d *Dir) Rename(ctx context.Context, req *fuse.RenameRequest, newDir fs.Node) error {
	target, ok := newDir.(*Dir)
	if !ok {
		return fuse.Errno(syscall.EINVAL)
	}
	oldPath := d.child(req.OldName)
	newPath := target.child(req.NewName)
	if err := d.nodes.ops.Rename(ctx, oldPath, newPath); err != nil {
		return toFuseError(err)
	}
	d.nodes.rename(oldPath, newPath)
	return nil
}

// Symlink creates a symbolic link
func (d *Dir) Symlink(ctx context.Context, req *fuse.SymlinkRequest) (fs.Node, error) {
	childPath := d.child(req.NewName)
	if err := d.nodes.ops.Symlink(ctx, req.Target, childPath); err != nil {
		return nil, toFuseError(err)
	}
	return d.nodes.node(childPath, os.ModeSymlink), nil
}

// Link creates a hard link to old inside d
func (d *Dir) Link(ctx context.Context, req *fuse.LinkRequest, old fs.Node) (fs.Node, error) {
	oldFile, ok := old.(*File)
	if !ok {
		return nil, fuse.Errno(syscall.EPERM)
	}
	childPath := d.child(req.NewName)
	if err := d.nodes.ops.Link(ctx, oldFile.path(), childPath); err != nil {
		return nil, toFuseError(err)
	}
	return d.nodes.node(childPath, 0), nil
}

// Mknod creates a special file
func (d *Dir) Mknod(ctx context.Context, req *fuse.MknodRequest) (fs.Node, error) {
	childPath := d.child(req.Name)
	if err := d.nodes.ops.Mknod(ctx, childPath, req.Mode&^req.Umask, req.Rdev); err != nil {
		return nil, toFuseError(err)
	}
	return d.nodes.node(childPath, req.Mode), nil
}

// Access checks directory access permissions
func (d *Dir) Access(ctx context.Context, req *fuse.AccessRequest) error {
	return toFuseError(d.nodes.ops.Access(ctx, d.path(), req.Mask))
}

// Fsync syncs the directory
func (d *Dir) Fsync(ctx context.Context, req *fuse.FsyncRequest) error {
	return toFuseError(d.nodes.ops.Fsync(ctx, d.path(), NoHandle, req.Flags&1 != 0))
}

// Forget drops the node from the table
func (d *Dir) Forget() {
	d.nodes.forget(d.entry)
}

// File represents a non-directory node: regular files, symlinks and
// special files
type File struct {
	nodes *nodeTable
	entry *nodeEntry
}

var _ fs.Node = (*File)(nil)
var _ fs.NodeOpener = (*File)(nil)
var _ fs.NodeSetattrer = (*File)(nil)
var _ fs.NodeGetxattrer = (*File)(nil)
var _ fs.NodeListxattrer = (*File)(nil)
var _ fs.NodeReadlinker = (*File)(nil)
var _ fs.NodeAccesser = (*File)(nil)
var _ fs.NodeFsyncer = (*File)(nil)
var _ fs.NodeForgetter = (*File)(nil)

func (f *File) path() string {
	return f.nodes.pathOf(f.entry)
}

func (f *File) handle(fh uint64) *Handle {
	return &Handle{nodes: f.nodes, entry: f.entry, fh: fh}
}

// Attr returns file attributes
func (f *File) Attr(ctx context.Context, a *fuse.Attr) error {
	return getAttr(ctx, f.nodes.ops, f.path(), a)
}

// Open opens the file and returns a handle bound to the host descriptor
func (f *File) Open(ctx context.Context, req *fuse.OpenRequest, resp *fuse.OpenResponse) (fs.Handle, error) {
	fh, err := f.nodes.ops.Open(ctx, f.path(), int(req.Flags))
	if err != nil {
		return nil, toFuseError(err)
	}
	return f.handle(fh), nil
}

// Setattr sets file attributes
func (f *File) Setattr(ctx context.Context, req *fuse.SetattrRequest, resp *fuse.SetattrResponse) error {
	return setAttr(ctx, f.nodes.ops, f.path(), req, resp)
}

// Getxattr gets an extended attribute
func (f *File) Getxattr(ctx context.Context, req *fuse.GetxattrRequest, resp *fuse.GetxattrResponse) error {
	return getXattr(ctx, f.nodes.ops, f.path(), req, resp)
}

// Listxattr lists extended attributes
func (f *File) Listxattr(ctx context.Context, req *fuse.ListxattrRequest, resp *fuse.ListxattrResponse) error {
	return listXattr(ctx, f.nodes.ops, f.path(), resp)
}

// Readlink reads the target of a symbolic link
func (f *File) Readlink(ctx context.Context, req *fuse.ReadlinkRequest) (string, error) {
	target, err := f.nodes.ops.Readlink(ctx, f.path())
	return target, toFuseError(err)
}

// Access checks file access permissions
func (f *File) Access(ctx context.Context, req *fuse.AccessRequest) error {
	return toFuseError(f.nodes.ops.Access(ctx, f.path(), req.Mask))
}

// Fsync syncs file data to storage. bazil delivers fsync to the node, not
// the handle, so the file is synced through its own descriptor.
func (f *File) Fsync(ctx context.Context, req *fuse.FsyncRequest) error {
	// req.Flags bit 0 requests fdatasync
	return toFuseError(f.nodes.ops.Fsync(ctx, f.path(), NoHandle, req.Flags&1 != 0))
}

// Forget drops the node from the table
func (f *File) Forget() {
	f.nodes.forget(f.entry)
}

// Handle is an open file. It shares its node's entry, so transfers
// after a rename report the new path.
type Handle struct {
	nodes *nodeTable
	entry *nodeEntry
	fh    uint64
}

var _ fs.HandleReader = (*Handle)(nil)
var _ fs.HandleWriter = (*Handle)(nil)
var _ fs.HandleFlusher = (*Handle)(nil)
var _ fs.HandleReleaser = (*Handle)(nil)

func (h *Handle) path() string {
	return h.nodes.pathOf(h.entry)
}

// Read reads file data
func (h *Handle) Read(ctx context.Context, req *fuse.ReadRequest, resp *fuse.ReadResponse) error {
	buf := make([]byte, req.Size)
	n, err := h.nodes.ops.Read(ctx, h.path(), h.fh, buf, req.Offset)
	if err != nil {
		return toFuseError(err)
	}
	resp.Data = buf[:n]
	return nil
}

// Write writes file data
func (h *Handle) Write(ctx context.Context, req *fuse.WriteRequest, resp *fuse.WriteResponse) error {
	n, err := h.nodes.ops.Write(ctx, h.path(), h.fh, req.Data, req.Offset)
	if err != nil {
		return toFuseError(err)
	}
	resp.Size = n
	return nil
}

// Flush is called on each close of the handle
func (h *Handle) Flush(ctx context.Context, req *fuse.FlushRequest) error {
	return toFuseError(h.nodes.ops.Flush(ctx, h.path(), h.fh))
}

// Release closes the handle
func (h *Handle) Release(ctx context.Context, req *fuse.ReleaseRequest) error {
	return toFuseError(h.nodes.ops.Release(ctx, h.path(), h.fh))
}

func getAttr(ctx context.Context, ops Operations, p string, a *fuse.Attr) error {
	attr, err := ops.GetAttr(ctx, p)
	if err != nil {
		return toFuseError(err)
	}
	fillAttr(a, attr)
	return nil
}

func fillAttr(a *fuse.Attr, attr *Attr) {
	a.Valid = attrValid
	a.Inode = attr.Ino
	a.Mode = attr.Mode
	a.Nlink = attr.Nlink
	a.Size = uint64(attr.Size)
	a.Atime = attr.Atime
	a.Mtime = attr.Mtime
	a.Ctime = attr.Ctime
	a.Uid = attr.Uid
	a.Gid = attr.Gid
	a.Rdev = attr.Rdev
}

// setAttr applies a setattr request as chmod, chown, truncate and
// utimens calls, then reports the resulting attributes
func setAttr(ctx context.Context, ops Operations, p string, req *fuse.SetattrRequest, resp *fuse.SetattrResponse) error {
	if req.Valid.Mode() {
		if err := ops.Chmod(ctx, p, req.Mode); err != nil {
			return toFuseError(err)
		}
	}

	if req.Valid.Uid() || req.Valid.Gid() || req.Valid.Atime() || req.Valid.Mtime() || req.Valid.AtimeNow() || req.Valid.MtimeNow() {
		current, err := ops.GetAttr(ctx, p)
		if err != nil {
			return toFuseError(err)
		}

		if req.Valid.Uid() || req.Valid.Gid() {
			uid, gid := current.Uid, current.Gid
			if req.Valid.Uid() {
				uid = req.Uid
			}
			if req.Valid.Gid() {
				gid = req.Gid
			}
			if err := ops.Chown(ctx, p, uid, gid); err != nil {
				return toFuseError(err)
			}
		}

		if req.Valid.Atime() || req.Valid.Mtime() || req.Valid.AtimeNow() || req.Valid.MtimeNow() {
			now := time.Now()
			atime, mtime := current.Atime, current.Mtime
			switch {
			case req.Valid.AtimeNow():
				atime = now
			case req.Valid.Atime():
				atime = req.Atime
			}
			switch {
			case req.Valid.MtimeNow():
				mtime = now
			case req.Valid.Mtime():
				mtime = req.Mtime
			}
			if err := ops.Utimens(ctx, p, atime, mtime); err != nil {
				return toFuseError(err)
			}
		}
	}

	if req.Valid.Size() {
		if err := ops.Truncate(ctx, p, int64(req.Size)); err != nil {
			return toFuseError(err)
		}
	}

	attr, err := ops.GetAttr(ctx, p)
	if err != nil {
		return toFuseError(err)
	}
	fillAttr(&resp.Attr, attr)
	return nil
}

func getXattr(ctx context.Context, ops Operations, p string, req *fuse.GetxattrRequest, resp *fuse.GetxattrResponse) error {
	value, err := ops.GetXattr(ctx, p, req.Name)
	if err != nil {
		return toFuseError(err)
	}
	resp.Xattr = value
	return nil
}

func listXattr(ctx context.Context, ops Operations, p string, resp *fuse.ListxattrResponse) error {
	names, err := ops.ListXattr(ctx, p)
	if err != nil {
		return toFuseError(err)
	}
	resp.Append(names...)
	return nil
}

func direntType(mode os.FileMode) fuse.DirentType {
	switch {
	case mode.IsDir():
		return fuse.DT_Dir
	case mode&os.ModeSymlink != 0:
		return fuse.DT_Link
	case mode&os.ModeNamedPipe != 0:
		return fuse.DT_FIFO
	case mode&os.ModeSocket != 0:
		return fuse.DT_Socket
	case mode&os.ModeCharDevice != 0:
		return fuse.DT_Char
	case mode&os.ModeDevice != 0:
		return fuse.DT_Block
	default:
		return fuse.DT_File
	}
}

// toFuseError maps errors onto the errno the kernel sees. A
// PermissionError always becomes EACCES, whatever it wraps.
func toFuseError(err error) error {
	if err == nil {
		return nil
	}
	var numbered fuse.ErrorNumber
	if errors.As(err, &numbered) {
		return numbered.Errno()
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return fuse.Errno(errno)
	}
	return err
}

// MountOptions contains options for mounting the filesystem
type MountOptions struct {
	FSName     string
	AllowOther bool
	Logger     *logrus.Logger
}

// Mount mounts ops at mountpoint and serves requests until the
// filesystem is unmounted or ctx is cancelled, which unmounts it
func Mount(ctx context.Context, mountpoint string, ops Operations, options MountOptions) error {
	logger := options.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	fsName := options.FSName
	if fsName == "" {
		fsName = "reusetrackfs"
	}

	mountOpts := []fuse.MountOption{
		fuse.FSName(fsName),
		fuse.Subtype("reusetrackfs"),
	}
	if options.AllowOther {
		mountOpts = append(mountOpts, fuse.AllowOther())
	}

	c, err := fuse.Mount(mountpoint, mountOpts...)
	if err != nil {
		return fmt.Errorf("failed to mount %s: %w", mountpoint, err)
	}
	defer c.Close()

	log := logger.WithField("mountpoint", mountpoint)
	log.Info("Mounted filesystem")

	served := make(chan struct{})
	defer close(served)
	go func() {
		select {
		case <-ctx.Done():
			if err := fuse.Unmount(mountpoint); err != nil {
				log.WithError(err).Warn("Unmount failed")
			}
		case <-served:
		}
	}()

	if err := fs.Serve(c, NewFuseFS(ops)); err != nil {
		return err
	}
	log.Info("Unmounted filesystem")
	return nil
}
