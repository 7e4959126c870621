package store

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"os"
)

// metadataRecord is the on-disk encoding of Attr. It is a plain Go struct
// encoded with encoding/gob: this record is written and read back only by
// this program (never across languages or processes other than this one),
// so gob's self-describing binary format is the idiomatic standard-library
// fit here — see DESIGN.md for why no third-party codec from the pack was
// wired to this concern instead.
type metadataRecord struct {
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
	Fid       uint64
	AtimeUnix int64
	AtimeNsec int32
	MtimeUnix int64
	MtimeNsec int32
	CtimeUnix int64
	CtimeNsec int32
}

func encodeMetadata(a Attr) ([]byte, error) {
	rec := metadataRecord{
		Type:      a.Type,
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
		AtimeUnix: a.Atime.Unix(),
		AtimeNsec: int32(a.Atime.Nanosecond()),
		MtimeUnix: a.Mtime.Unix(),
		MtimeNsec: int32(a.Mtime.Nanosecond()),
		CtimeUnix: a.Ctime.Unix(),
		CtimeNsec: int32(a.Ctime.Nanosecond()),
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&rec); err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}
	return buf.Bytes(), nil
}

func decodeMetadata(data []byte) (Attr, error) {
	var rec metadataRecord
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&rec); err != nil {
		return Attr{}, fmt.Errorf("decode metadata: %w", err)
	}
	return Attr{
		Type:      rec.Type,
		Mode:      rec.Mode,
		Uid:       rec.Uid,
		Gid:       rec.Gid,
		Size:      rec.Size,
		BlockSize: rec.BlockSize,
		Blocks:    rec.Blocks,
		Rdev:      rec.Rdev,
		Nlink:     rec.Nlink,
		Fsid:      rec.Fsid,
		Fid:       Fid(rec.Fid),
		Atime:     unixToTime(rec.AtimeUnix, rec.AtimeNsec),
		Mtime:     unixToTime(rec.MtimeUnix, rec.MtimeNsec),
		Ctime:     unixToTime(rec.CtimeUnix, rec.CtimeNsec),
	}, nil
}

// readMetadataFile reads and decodes the metadata entry at path.
func readMetadataFile(path string) (Attr, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Attr{}, err
	}
	return decodeMetadata(data)
}

// writeMetadataFile encodes attr and writes it to path, replacing any
// existing content. Callers needing atomicity stage into tmp and rename;
// this helper is used both for staging (fresh file) and for in-place
// attribute updates (setattr), where no rename-atomicity is promised by
// spec for metadata-only edits.
func writeMetadataFile(path string, attr Attr) error {
	data, err := encodeMetadata(attr)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
