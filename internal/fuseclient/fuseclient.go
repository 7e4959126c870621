// Package fuseclient is the kernel-VFS↔RPC translator spec §2 describes as
// out of the size budget: it holds no durable state of its own and speaks
// to a ZippyNFS server only through internal/rpcsvc's net/rpc client stub,
// translating FUSE callbacks into the spec §6 operation table and back.
//
// The Inode/InodeEmbedder tree shape below follows
// other_examples/hanwen-go-fuse's fs package (c3c41272_hanwen-go-fuse__fs-api.go.go).
package fuseclient

import (
	"context"
	"net/rpc"
	"sync"
	"syscall"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/mark-i-m/zippynfs/internal/rpcsvc"
)

// Client owns the RPC connection shared by every node in the tree.
type Client struct {
	rpc *rpc.Client
}

// Dial connects to a ZippyNFS server at address.
func Dial(network, address string) (*Client, error) {
	c, err := rpcsvc.Dial(network, address)
	if err != nil {
		return nil, err
	}
	return &Client{rpc: c}, nil
}

func (c *Client) Close() error { return c.rpc.Close() }

// Node is one FUSE inode, identified by the server FID it mirrors.
type Node struct {
	fs.Inode

	client *Client
	fid    uint64

	mu sync.Mutex // guards nothing yet; held for future per-node bookkeeping
}

var _ fs.InodeEmbedder = (*Node)(nil)
var _ fs.NodeLookuper = (*Node)(nil)
var _ fs.NodeGetattrer = (*Node)(nil)
var _ fs.NodeSetattrer = (*Node)(nil)
var _ fs.NodeReaddirer = (*Node)(nil)
var _ fs.NodeCreater = (*Node)(nil)
var _ fs.NodeMkdirer = (*Node)(nil)
var _ fs.NodeUnlinker = (*Node)(nil)
var _ fs.NodeRmdirer = (*Node)(nil)
var _ fs.NodeRenamer = (*Node)(nil)
var _ fs.NodeOpener = (*Node)(nil)
var _ fs.FileReader = (*fileHandle)(nil)
var _ fs.FileWriter = (*fileHandle)(nil)

// Root constructs the root Node for fs.Mount, mirroring store.RootFid (1).
func Root(client *Client) *Node {
	return &Node{client: client, fid: 1}
}

func errnoFor(err error) syscall.Errno {
	if err == nil {
		return 0
	}
	// The engine's *store.Error doesn't survive net/rpc's gob-encoded
	// error string, so faults are mapped by substring against the Code
	// names errors.go's (Code).String() produces.
	switch {
	case containsAny(err.Error(), "NOENT"):
		return syscall.ENOENT
	case containsAny(err.Error(), "EXIST"):
		return syscall.EEXIST
	case containsAny(err.Error(), "NOTDIR"):
		return syscall.ENOTDIR
	case containsAny(err.Error(), "ISDIR"):
		return syscall.EISDIR
	case containsAny(err.Error(), "NOTEMPTY"):
		return syscall.ENOTEMPTY
	case containsAny(err.Error(), "STALE"):
		return syscall.ESTALE
	default:
		return syscall.EIO
	}
}

func containsAny(s, sub string) bool {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return true
		}
	}
	return false
}

func attrToFuse(a rpcsvc.WireAttr, out *fuse.Attr) {
	out.Ino = a.Fid
	out.Mode = a.Mode | fuseTypeBits(a.Type)
	out.Uid = a.Uid
	out.Gid = a.Gid
	out.Size = a.Size
	out.Nlink = a.Nlink
	out.Atime = uint64(a.Atime)
	out.Mtime = uint64(a.Mtime)
	out.Ctime = uint64(a.Ctime)
}

func fuseTypeBits(t uint8) uint32 {
	switch t {
	case 2: // store.TypeDirectory
		return syscall.S_IFDIR
	case 5: // store.TypeSymlink
		return syscall.S_IFLNK
	default:
		return syscall.S_IFREG
	}
}

func (n *Node) child(fid uint64) *Node {
	return &Node{client: n.client, fid: fid}
}

// Lookup implements spec §6 lookup translated onto FUSE's Lookup callback.
func (n *Node) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	var reply rpcsvc.LookupReply
	err := n.client.rpc.Call("Service.Lookup", &rpcsvc.LookupArgs{Dir: n.fid, Name: name}, &reply)
	if err != nil {
		return nil, errnoFor(err)
	}
	attrToFuse(reply.Attr, &out.Attr)
	child := n.child(reply.Fid)
	stable := fs.StableAttr{Mode: attrToFuse0(reply.Attr), Ino: reply.Fid}
	return n.NewInode(ctx, child, stable), 0
}

func attrToFuse0(a rpcsvc.WireAttr) uint32 { return fuseTypeBits(a.Type) }

// Getattr implements spec §6 getattr.
func (n *Node) Getattr(ctx context.Context, f fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	var reply rpcsvc.GetAttrReply
	if err := n.client.rpc.Call("Service.GetAttr", &rpcsvc.GetAttrArgs{Fid: n.fid}, &reply); err != nil {
		return errnoFor(err)
	}
	attrToFuse(reply.Attr, &out.Attr)
	return 0
}

// Setattr implements spec §6 setattr.
func (n *Node) Setattr(ctx context.Context, f fs.FileHandle, in *fuse.SetAttrIn, out *fuse.AttrOut) syscall.Errno {
	var changes rpcsvc.WireSetAttr
	if mode, ok := in.GetMode(); ok {
		changes.SetMode, changes.Mode = true, mode
	}
	if uid, ok := in.GetUID(); ok {
		changes.SetUid, changes.Uid = true, uid
	}
	if gid, ok := in.GetGID(); ok {
		changes.SetGid, changes.Gid = true, gid
	}
	if atime, ok := in.GetATime(); ok {
		changes.SetAtime, changes.Atime = true, atime.Unix()
	}
	if mtime, ok := in.GetMTime(); ok {
		changes.SetMtime, changes.Mtime = true, mtime.Unix()
	}

	var reply rpcsvc.SetAttrReply
	if err := n.client.rpc.Call("Service.SetAttr", &rpcsvc.SetAttrArgs{Fid: n.fid, Changes: changes}, &reply); err != nil {
		return errnoFor(err)
	}
	attrToFuse(reply.Attr, &out.Attr)
	return 0
}

type dirStream struct {
	entries []rpcsvc.WireDirEntry
	pos     int
}

func (d *dirStream) HasNext() bool { return d.pos < len(d.entries) }
func (d *dirStream) Next() (fuse.DirEntry, syscall.Errno) {
	e := d.entries[d.pos]
	d.pos++
	return fuse.DirEntry{Ino: e.Fid, Name: e.Name}, 0
}
func (d *dirStream) Close() {}

// Readdir implements spec §6 readdir.
func (n *Node) Readdir(ctx context.Context) (fs.DirStream, syscall.Errno) {
	var reply rpcsvc.ReaddirReply
	if err := n.client.rpc.Call("Service.Readdir", &rpcsvc.ReaddirArgs{Dir: n.fid}, &reply); err != nil {
		return nil, errnoFor(err)
	}
	return &dirStream{entries: reply.Entries}, 0
}

// Create implements spec §6 create.
func (n *Node) Create(ctx context.Context, name string, flags uint32, mode uint32, out *fuse.EntryOut) (*fs.Inode, fs.FileHandle, uint32, syscall.Errno) {
	m := mode
	var reply rpcsvc.CreateReply
	err := n.client.rpc.Call("Service.Create", &rpcsvc.CreateArgs{
		Dir: n.fid, Name: name, Changes: rpcsvc.WireSetAttr{SetMode: true, Mode: m},
	}, &reply)
	if err != nil {
		return nil, nil, 0, errnoFor(err)
	}
	attrToFuse(reply.Attr, &out.Attr)
	child := n.child(reply.Fid)
	inode := n.NewInode(ctx, child, fs.StableAttr{Mode: syscall.S_IFREG, Ino: reply.Fid})
	return inode, &fileHandle{client: n.client, fid: reply.Fid}, 0, 0
}

// Mkdir implements spec §6 mkdir.
func (n *Node) Mkdir(ctx context.Context, name string, mode uint32, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	var reply rpcsvc.MkdirReply
	err := n.client.rpc.Call("Service.Mkdir", &rpcsvc.MkdirArgs{
		Dir: n.fid, Name: name, Changes: rpcsvc.WireSetAttr{SetMode: true, Mode: mode},
	}, &reply)
	if err != nil {
		return nil, errnoFor(err)
	}
	attrToFuse(reply.Attr, &out.Attr)
	child := n.child(reply.Fid)
	return n.NewInode(ctx, child, fs.StableAttr{Mode: syscall.S_IFDIR, Ino: reply.Fid}), 0
}

// Unlink implements spec §6 remove.
func (n *Node) Unlink(ctx context.Context, name string) syscall.Errno {
	var reply rpcsvc.RemoveReply
	err := n.client.rpc.Call("Service.Remove", &rpcsvc.RemoveArgs{Dir: n.fid, Name: name}, &reply)
	return errnoFor(err)
}

// Rmdir implements spec §6 rmdir.
func (n *Node) Rmdir(ctx context.Context, name string) syscall.Errno {
	var reply rpcsvc.RmdirReply
	err := n.client.rpc.Call("Service.Rmdir", &rpcsvc.RmdirArgs{Dir: n.fid, Name: name}, &reply)
	return errnoFor(err)
}

// Rename implements spec §6 rename.
func (n *Node) Rename(ctx context.Context, name string, newParent fs.InodeEmbedder, newName string, flags uint32) syscall.Errno {
	dst, ok := newParent.(*Node)
	if !ok {
		return syscall.EXDEV
	}
	var reply rpcsvc.RenameReply
	err := n.client.rpc.Call("Service.Rename", &rpcsvc.RenameArgs{
		DirOld: n.fid, NameOld: name, DirNew: dst.fid, NameNew: newName,
	}, &reply)
	return errnoFor(err)
}

// Open implements spec §6 file-open: ZippyNFS has no separate open op
// (every file op carries the FID directly), so this just hands back a
// fileHandle bound to this node's FID.
func (n *Node) Open(ctx context.Context, flags uint32) (fs.FileHandle, uint32, syscall.Errno) {
	return &fileHandle{client: n.client, fid: n.fid}, 0, 0
}

type fileHandle struct {
	client *Client
	fid    uint64
}

// Read implements spec §6 read.
func (f *fileHandle) Read(ctx context.Context, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	var reply rpcsvc.ReadReply
	err := f.client.rpc.Call("Service.Read", &rpcsvc.ReadArgs{Fid: f.fid, Offset: off, Count: len(dest)}, &reply)
	if err != nil {
		return nil, errnoFor(err)
	}
	return fuse.ReadResultData(reply.Data), 0
}

// Write implements spec §6 write, always requesting FILE_SYNC: a local
// FUSE mount has no notion of the NFS client-side commit cache, so every
// write through the kernel is made durable immediately.
func (f *fileHandle) Write(ctx context.Context, data []byte, off int64) (uint32, syscall.Errno) {
	var reply rpcsvc.WriteReply
	err := f.client.rpc.Call("Service.Write", &rpcsvc.WriteArgs{
		Fid: f.fid, Offset: off, Data: data, Stability: rpcsvc.WireFileSync,
	}, &reply)
	if err != nil {
		return 0, errnoFor(err)
	}
	return uint32(reply.Count), 0
}
