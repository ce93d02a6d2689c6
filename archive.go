package compute

import (
	"bytes"
	"encoding/binary"
	"hash/fnv"
)

// Binary archive wire format: magic, version, entry count, then per entry
// an entry-point name and the kernel payload (source text or library
// blob), all length-prefixed, followed by an FNV-1a hash of everything
// before it.
const (
	archiveMagic   = uint32(0x43504152) // "CPAR"
	archiveVersion = uint32(1)
)

// BinaryArchive persists kernels so later runs can load them without the
// original source files. Serialize produces a self-checking blob;
// LoadBinaryArchive validates magic, version and content hash before
// accepting it.
//
// Gated on Capabilities().SupportsBinaryArchives.
type BinaryArchive struct {
	ctx     *Context
	entries map[string]archiveEntry
}

type archiveEntry struct {
	source  string
	library []byte
}

// NewBinaryArchive creates an empty archive.
func (c *Context) NewBinaryArchive() (*BinaryArchive, error) {
	if err := c.checkOpen("NewBinaryArchive"); err != nil {
		return nil, err
	}
	if !c.caps.SupportsBinaryArchives {
		return nil, newError(ErrNotSupported, "NewBinaryArchive", "device %q has no binary archives", c.caps.DeviceName)
	}
	return &BinaryArchive{ctx: c, entries: make(map[string]archiveEntry)}, nil
}

// AddKernel records a kernel in the archive under its entry point,
// replacing any previous record for the same entry.
func (a *BinaryArchive) AddKernel(k *Kernel) error {
	if k == nil {
		return newError(ErrInvalidArgument, "BinaryArchive.AddKernel", "kernel is nil")
	}
	if k.source == "" && len(k.library) == 0 {
		return newError(ErrInvalidArgument, "BinaryArchive.AddKernel", "kernel %q carries no source or library payload", k.entry)
	}
	a.entries[k.entry] = archiveEntry{source: k.source, library: k.library}
	return nil
}

// Len returns the number of archived kernels.
func (a *BinaryArchive) Len() int { return len(a.entries) }

// Serialize encodes the archive into a self-checking binary blob.
func (a *BinaryArchive) Serialize() []byte {
	var buf bytes.Buffer

	writeU32 := func(v uint32) {
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], v)
		buf.Write(b[:])
	}
	writeBytes := func(p []byte) {
		writeU32(uint32(len(p)))
		buf.Write(p)
	}

	writeU32(archiveMagic)
	writeU32(archiveVersion)
	writeU32(uint32(len(a.entries)))
	for entry, rec := range a.entries {
		writeBytes([]byte(entry))
		if len(rec.library) > 0 {
			writeU32(1)
			writeBytes(rec.library)
		} else {
			writeU32(0)
			writeBytes([]byte(rec.source))
		}
	}

	h := fnv.New64a()
	h.Write(buf.Bytes())
	var sum [8]byte
	binary.LittleEndian.PutUint64(sum[:], h.Sum64())
	buf.Write(sum[:])

	return buf.Bytes()
}

// LoadBinaryArchive decodes a serialized archive. It fails with
// ErrInvalidArgument on a wrong magic, an unknown version or a content
// hash mismatch.
func LoadBinaryArchive(c *Context, data []byte) (*BinaryArchive, error) {
	const op = "LoadBinaryArchive"
	a, err := c.NewBinaryArchive()
	if err != nil {
		return nil, err
	}
	if len(data) < 20 {
		return nil, newError(ErrInvalidArgument, op, "truncated archive (%d bytes)", len(data))
	}

	payload, sum := data[:len(data)-8], data[len(data)-8:]
	h := fnv.New64a()
	h.Write(payload)
	if h.Sum64() != binary.LittleEndian.Uint64(sum) {
		return nil, newError(ErrInvalidArgument, op, "content hash mismatch")
	}

	r := bytes.NewReader(payload)
	readU32 := func() (uint32, error) {
		var b [4]byte
		if _, err := r.Read(b[:]); err != nil {
			return 0, err
		}
		return binary.LittleEndian.Uint32(b[:]), nil
	}
	readBytes := func() ([]byte, error) {
		n, err := readU32()
		if err != nil {
			return nil, err
		}
		if uint32(r.Len()) < n {
			return nil, newError(ErrInvalidArgument, op, "truncated archive entry")
		}
		p := make([]byte, n)
		if _, err := r.Read(p); err != nil {
			return nil, err
		}
		return p, nil
	}

	magic, err := readU32()
	if err != nil || magic != archiveMagic {
		return nil, newError(ErrInvalidArgument, op, "not a kernel archive")
	}
	version, err := readU32()
	if err != nil || version != archiveVersion {
		return nil, newError(ErrInvalidArgument, op, "unsupported archive version %d", version)
	}
	count, err := readU32()
	if err != nil {
		return nil, newError(ErrInvalidArgument, op, "truncated archive header")
	}

	for i := uint32(0); i < count; i++ {
		entry, err := readBytes()
		if err != nil {
			return nil, newError(ErrInvalidArgument, op, "truncated archive entry %d", i)
		}
		kind, err := readU32()
		if err != nil {
			return nil, newError(ErrInvalidArgument, op, "truncated archive entry %d", i)
		}
		payload, err := readBytes()
		if err != nil {
			return nil, newError(ErrInvalidArgument, op, "truncated archive entry %d", i)
		}
		rec := archiveEntry{}
		if kind == 1 {
			rec.library = payload
		} else {
			rec.source = string(payload)
		}
		a.entries[string(entry)] = rec
	}

	return a, nil
}

// NewKernelFromArchive builds a kernel from an archived record. The entry
// point must have been added before the archive was serialized.
func (c *Context) NewKernelFromArchive(a *BinaryArchive, entry string) (*Kernel, error) {
	const op = "NewKernelFromArchive"
	if a == nil {
		return nil, newError(ErrInvalidArgument, op, "archive is nil")
	}
	rec, ok := a.entries[entry]
	if !ok {
		return nil, newError(ErrInvalidArgument, op, "entry %q is not in the archive", entry)
	}
	if len(rec.library) > 0 {
		return c.NewKernelFromLibrary(rec.library, entry)
	}
	return c.NewKernelFromSource(rec.source, entry)
}
