// Package rpcsvc is the service facade spec §6 calls "external collaborators
// with fixed interfaces": it wraps a *store.Engine with one plain-Go-struct
// method per row of the operation table, leaving the wire codec and
// transport (explicitly out of scope) to transport.go.
package rpcsvc

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mark-i-m/zippynfs/internal/store"
)

// Service dispatches the ZippyNFS operation table onto an *store.Engine. It
// holds no state of its own; every call is safe from any goroutine.
type Service struct {
	Engine *store.Engine
	Log    *logrus.Logger
}

// New constructs a Service. A nil log falls back to logrus's standard
// logger, matching how rclone's own commands reuse the package-level
// logger when a caller doesn't supply one.
func New(engine *store.Engine, log *logrus.Logger) *Service {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Service{Engine: engine, Log: log}
}

// logFault records a host-FS error that didn't map to a named NFS
// condition, matching spec §7's propagation policy: never silently
// retried, always surfaced with its Code.
func (s *Service) logFault(op string, err error) {
	if err == nil {
		return
	}
	code := store.CodeOf(err)
	if code == store.CodeIO {
		s.Log.WithFields(logrus.Fields{"op": op, "code": code.String()}).Error(err)
		return
	}
	s.Log.WithFields(logrus.Fields{"op": op, "code": code.String()}).Debug(err)
}

// NullArgs/NullReply: spec §6 null, a no-op reachability check.
type NullArgs struct{}
type NullReply struct{}

func (s *Service) Null(args *NullArgs, reply *NullReply) error {
	err := s.Engine.Null()
	s.logFault("null", err)
	return err
}

// WireAttr is the wire-shaped form of store.Attr: Go duration/time types
// don't round-trip through encoding/gob-agnostic RPC codecs as cleanly as
// plain integers, so timestamps cross this boundary as Unix seconds.
type WireAttr struct {
	Type      uint8
	Mode      uint32
	Uid       uint32
	Gid       uint32
	Size      uint64
	BlockSize uint32
	Blocks    uint64
	Rdev      uint64
	Nlink     uint32
	Fsid      uint64
	Fid       uint64
	Atime     int64
	Mtime     int64
	Ctime     int64
}

func toWireAttr(a store.Attr) WireAttr {
	return WireAttr{
		Type:      uint8(a.Type),
		Mode:      a.Mode,
		Uid:       a.Uid,
		Gid:       a.Gid,
		Size:      a.Size,
		BlockSize: a.BlockSize,
		Blocks:    a.Blocks,
		Rdev:      a.Rdev,
		Nlink:     a.Nlink,
		Fsid:      a.Fsid,
		Fid:       uint64(a.Fid),
		Atime:     a.Atime.Unix(),
		Mtime:     a.Mtime.Unix(),
		Ctime:     a.Ctime.Unix(),
	}
}

// WireSetAttr mirrors store.SetAttr with explicit "set" flags standing in
// for Go's nil-pointer "leave unchanged" convention, since net/rpc codecs
// handle flat value types more predictably than pointer fields.
type WireSetAttr struct {
	SetMode  bool
	Mode     uint32
	SetUid   bool
	Uid      uint32
	SetGid   bool
	Gid      uint32
	SetAtime bool
	Atime    int64
	SetMtime bool
	Mtime    int64
}

func (w WireSetAttr) toStoreSetAttr() store.SetAttr {
	var sa store.SetAttr
	if w.SetMode {
		sa.Mode = &w.Mode
	}
	if w.SetUid {
		sa.Uid = &w.Uid
	}
	if w.SetGid {
		sa.Gid = &w.Gid
	}
	if w.SetAtime {
		t := time.Unix(w.Atime, 0).UTC()
		sa.Atime = &t
	}
	if w.SetMtime {
		t := time.Unix(w.Mtime, 0).UTC()
		sa.Mtime = &t
	}
	return sa
}

type GetAttrArgs struct{ Fid uint64 }
type GetAttrReply struct{ Attr WireAttr }

func (s *Service) GetAttr(args *GetAttrArgs, reply *GetAttrReply) error {
	attr, err := s.Engine.GetAttr(store.Fid(args.Fid))
	s.logFault("getattr", err)
	if err != nil {
		return err
	}
	reply.Attr = toWireAttr(attr)
	return nil
}

type SetAttrArgs struct {
	Fid     uint64
	Changes WireSetAttr
}
type SetAttrReply struct{ Attr WireAttr }

func (s *Service) SetAttr(args *SetAttrArgs, reply *SetAttrReply) error {
	attr, err := s.Engine.SetAttr(store.Fid(args.Fid), args.Changes.toStoreSetAttr())
	s.logFault("setattr", err)
	if err != nil {
		return err
	}
	reply.Attr = toWireAttr(attr)
	return nil
}

type LookupArgs struct {
	Dir  uint64
	Name string
}
type LookupReply struct {
	Fid  uint64
	Attr WireAttr
}

func (s *Service) Lookup(args *LookupArgs, reply *LookupReply) error {
	fid, attr, err := s.Engine.Lookup(store.Fid(args.Dir), args.Name)
	s.logFault("lookup", err)
	if err != nil {
		return err
	}
	reply.Fid = uint64(fid)
	reply.Attr = toWireAttr(attr)
	return nil
}

type CreateArgs struct {
	Dir     uint64
	Name    string
	Changes WireSetAttr
}
type CreateReply struct {
	Fid  uint64
	Attr WireAttr
}

func (s *Service) Create(args *CreateArgs, reply *CreateReply) error {
	fid, attr, err := s.Engine.Create(store.Fid(args.Dir), args.Name, args.Changes.toStoreSetAttr())
	s.logFault("create", err)
	if err != nil {
		return err
	}
	reply.Fid = uint64(fid)
	reply.Attr = toWireAttr(attr)
	return nil
}

type MkdirArgs struct {
	Dir     uint64
	Name    string
	Changes WireSetAttr
}
type MkdirReply struct {
	Fid  uint64
	Attr WireAttr
}

func (s *Service) Mkdir(args *MkdirArgs, reply *MkdirReply) error {
	fid, attr, err := s.Engine.Mkdir(store.Fid(args.Dir), args.Name, args.Changes.toStoreSetAttr())
	s.logFault("mkdir", err)
	if err != nil {
		return err
	}
	reply.Fid = uint64(fid)
	reply.Attr = toWireAttr(attr)
	return nil
}

type RemoveArgs struct {
	Dir  uint64
	Name string
}
type RemoveReply struct{}

func (s *Service) Remove(args *RemoveArgs, reply *RemoveReply) error {
	err := s.Engine.Remove(store.Fid(args.Dir), args.Name)
	s.logFault("remove", err)
	return err
}

type RmdirArgs struct {
	Dir  uint64
	Name string
}
type RmdirReply struct{}

func (s *Service) Rmdir(args *RmdirArgs, reply *RmdirReply) error {
	err := s.Engine.Rmdir(store.Fid(args.Dir), args.Name)
	s.logFault("rmdir", err)
	return err
}

type RenameArgs struct {
	DirOld  uint64
	NameOld string
	DirNew  uint64
	NameNew string
}
type RenameReply struct{}

func (s *Service) Rename(args *RenameArgs, reply *RenameReply) error {
	err := s.Engine.Rename(store.Fid(args.DirOld), args.NameOld, store.Fid(args.DirNew), args.NameNew)
	s.logFault("rename", err)
	return err
}

type ReaddirArgs struct{ Dir uint64 }
type WireDirEntry struct {
	Fid  uint64
	Name string
}
type ReaddirReply struct{ Entries []WireDirEntry }

func (s *Service) Readdir(args *ReaddirArgs, reply *ReaddirReply) error {
	entries, err := s.Engine.Readdir(store.Fid(args.Dir))
	s.logFault("readdir", err)
	if err != nil {
		return err
	}
	reply.Entries = make([]WireDirEntry, len(entries))
	for i, e := range entries {
		reply.Entries[i] = WireDirEntry{Fid: uint64(e.Fid), Name: e.Name}
	}
	return nil
}

type ReadArgs struct {
	Fid    uint64
	Offset int64
	Count  int
}
type ReadReply struct {
	Data []byte
	Attr WireAttr
	EOF  bool
}

func (s *Service) Read(args *ReadArgs, reply *ReadReply) error {
	data, attr, err := s.Engine.Read(store.Fid(args.Fid), args.Offset, args.Count)
	s.logFault("read", err)
	if err != nil {
		return err
	}
	reply.Data = data
	reply.Attr = toWireAttr(attr)
	reply.EOF = len(data) < args.Count
	return nil
}

// WireStability mirrors store.Stability over the wire.
type WireStability uint8

const (
	WireUnstable WireStability = iota
	WireDataSync
	WireFileSync
)

func (w WireStability) toStoreStability() store.Stability {
	switch w {
	case WireDataSync:
		return store.DataSync
	case WireFileSync:
		return store.FileSync
	default:
		return store.Unstable
	}
}

func fromStoreStability(st store.Stability) WireStability {
	switch st {
	case store.DataSync:
		return WireDataSync
	case store.FileSync:
		return WireFileSync
	default:
		return WireUnstable
	}
}

type WriteArgs struct {
	Fid       uint64
	Offset    int64
	Data      []byte
	Stability WireStability
}
type WriteReply struct {
	Count     int
	Committed WireStability
	Verifier  uint64
}

func (s *Service) Write(args *WriteArgs, reply *WriteReply) error {
	n, committed, verifier, err := s.Engine.Write(store.Fid(args.Fid), args.Offset, args.Data, args.Stability.toStoreStability())
	s.logFault("write", err)
	if err != nil {
		return err
	}
	reply.Count = n
	reply.Committed = fromStoreStability(committed)
	reply.Verifier = verifier
	return nil
}

type CommitArgs struct {
	Fid    uint64
	Offset int64
	Count  int
}
type CommitReply struct{ Verifier uint64 }

func (s *Service) Commit(args *CommitArgs, reply *CommitReply) error {
	verifier, err := s.Engine.Commit(store.Fid(args.Fid), args.Offset, args.Count)
	s.logFault("commit", err)
	if err != nil {
		return err
	}
	reply.Verifier = verifier
	return nil
}

type StatFsArgs struct{}
type StatFsReply struct {
	TSize  uint32
	BSize  uint32
	Blocks uint64
	BFree  uint64
	BAvail uint64
}

func (s *Service) StatFs(args *StatFsArgs, reply *StatFsReply) error {
	st, err := s.Engine.StatFS()
	s.logFault("statfs", err)
	if err != nil {
		return err
	}
	reply.TSize = st.TSize
	reply.BSize = st.BSize
	reply.Blocks = st.Blocks
	reply.BFree = st.BFree
	reply.BAvail = st.BAvail
	return nil
}
