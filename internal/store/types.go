// Package store implements the ZippyNFS server-side storage engine: the
// on-disk layout, FID allocation, path resolution, and the directory and
// file-I/O operations that back an exported NFS-shaped namespace on top of
// an ordinary host filesystem.
package store

import "time"

// Fid is a 64-bit file identifier, unique within a data directory for the
// lifetime of that data directory. Fid 1 is reserved for the exported root.
type Fid uint64

// RootFid is the identifier of the exported root directory.
const RootFid Fid = 1

// FileType enumerates the NFS file types this engine reports.
type FileType uint8

// File types, mirroring the NFSv3 ftype3 enumeration.
const (
	TypeNone FileType = iota
	TypeRegular
	TypeDirectory
	TypeBlock
	TypeChar
	TypeSymlink
)

// Attr is the decoded form of a metadata record (spec §3): the attributes
// the engine tracks for every NFS file.
type Attr struct {
	Type      FileType
	Mode      uint32
	Uid       uint32
	Gid       uint32
	Size      uint64
	BlockSize uint32
	Blocks    uint64
	Rdev      uint64
	Nlink     uint32
	Fsid      uint64
	Fid       Fid
	Atime     time.Time
	Mtime     time.Time
	Ctime     time.Time
}

// SetAttr carries the fields a setattr call wants to change, matching the
// sattr(mode, uid, gid, atime, mtime) fields from spec §6. A nil pointer
// means "leave unchanged".
type SetAttr struct {
	Mode  *uint32
	Uid   *uint32
	Gid   *uint32
	Atime *time.Time
	Mtime *time.Time
}

// DirEntry is one (Fid, name) pair returned by readdir.
type DirEntry struct {
	Fid  Fid
	Name string
}

// Stability is the write-commitment level requested by a write call,
// mirroring NFSv3's stable_how.
type Stability uint8

// Write stability levels.
const (
	Unstable Stability = iota
	DataSync
	FileSync
)

// StatFS is the response to the statfs operation.
type StatFS struct {
	TSize  uint32
	BSize  uint32
	Blocks uint64
	BFree  uint64
	BAvail uint64
}
