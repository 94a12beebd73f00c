// Package pack moves snapshots between stores as zstd-compressed packs.
package pack

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"

	"snapgraph/cas"
	"snapgraph/graph"
)

// Pack format:
// [4 bytes: header length (big-endian)]
// [header JSON: Header]
// [object data...]
//
// The header lists each object's digest, kind, offset (relative to data start)
// and length. Objects are ordered children before parents.

const (
	HeaderLengthSize = 4
	MaxHeaderSize    = 64 * 1024 * 1024
)

// Object kinds.
const (
	KindNode    = "node"
	KindContent = "content"
)

var ErrInvalidPack = errors.New("invalid pack")

// Header describes the objects in a pack.
type Header struct {
	Root    cas.Hash `json:"root"`
	Objects []Entry  `json:"objects"`
}

// Entry describes a single object in a pack.
type Entry struct {
	Digest cas.Hash `json:"digest"`
	Kind   string   `json:"kind"`
	Offset int64    `json:"offset"`
	Length int64    `json:"length"`
}

// Stats counts what an export or import moved.
type Stats struct {
	Nodes   int `json:"nodes"`
	Content int `json:"content"`
	// MissingContent counts content addresses the source store did not hold.
	MissingContent int   `json:"missing_content"`
	Bytes          int64 `json:"bytes"`
}

type exporter struct {
	ctx    context.Context
	store  cas.Store
	seen   map[cas.Hash]bool
	header Header
	data   bytes.Buffer
	stats  Stats
}

// Export writes every node object reachable from root, plus the entity
// content those nodes address, to w as a compressed pack.
func Export(ctx context.Context, store cas.Store, root cas.Hash, w io.Writer) (Stats, error) {
	e := &exporter{ctx: ctx, store: store, seen: make(map[cas.Hash]bool), header: Header{Root: root}}
	if err := e.node(root); err != nil {
		return e.stats, err
	}

	headerJSON, err := json.Marshal(e.header)
	if err != nil {
		return e.stats, fmt.Errorf("marshaling header: %w", err)
	}

	encoder, err := zstd.NewWriter(w)
	if err != nil {
		return e.stats, fmt.Errorf("creating zstd encoder: %w", err)
	}
	headerLen := make([]byte, HeaderLengthSize)
	binary.BigEndian.PutUint32(headerLen, uint32(len(headerJSON)))
	for _, part := range [][]byte{headerLen, headerJSON, e.data.Bytes()} {
		if _, err := encoder.Write(part); err != nil {
			encoder.Close()
			return e.stats, fmt.Errorf("compressing: %w", err)
		}
	}
	if err := encoder.Close(); err != nil {
		return e.stats, fmt.Errorf("closing encoder: %w", err)
	}
	e.stats.Bytes = int64(e.data.Len())
	return e.stats, nil
}

func (e *exporter) node(h cas.Hash) error {
	if e.seen[h] {
		return nil
	}
	e.seen[h] = true
	if err := e.ctx.Err(); err != nil {
		return err
	}

	data, err := e.store.Get(e.ctx, h)
	if err != nil {
		return fmt.Errorf("reading node object %s: %w", h.Short(), err)
	}
	obj, err := graph.DecodeObject(data)
	if err != nil {
		return fmt.Errorf("node object %s: %w", h.Short(), err)
	}
	w, err := graph.Upgrade(obj.Node)
	if err != nil {
		return fmt.Errorf("node object %s: %w", h.Short(), err)
	}

	if addr := w.Content; !addr.IsRoot() && !addr.Hash.IsZero() && !e.seen[addr.Hash] {
		e.seen[addr.Hash] = true
		content, err := e.store.Get(e.ctx, addr.Hash)
		switch {
		case errors.Is(err, cas.ErrNotFound):
			e.stats.MissingContent++
		case err != nil:
			return fmt.Errorf("reading content %s: %w", addr, err)
		default:
			e.add(addr.Hash, KindContent, content)
			e.stats.Content++
		}
	}
	for _, edge := range obj.Edges {
		if err := e.node(edge.To); err != nil {
			return err
		}
	}
	e.add(h, KindNode, data)
	e.stats.Nodes++
	return nil
}

func (e *exporter) add(h cas.Hash, kind string, data []byte) {
	e.header.Objects = append(e.header.Objects, Entry{
		Digest: h,
		Kind:   kind,
		Offset: int64(e.data.Len()),
		Length: int64(len(data)),
	})
	e.data.Write(data)
}

// Import reads a pack from r, verifies every object against its digest and
// stores them. Nothing is stored unless the whole pack verifies.
func Import(ctx context.Context, store cas.Store, r io.Reader) (*Header, Stats, error) {
	var stats Stats
	decoder, err := zstd.NewReader(r)
	if err != nil {
		return nil, stats, fmt.Errorf("creating zstd decoder: %w", err)
	}
	defer decoder.Close()

	decompressed, err := io.ReadAll(decoder)
	if err != nil {
		return nil, stats, fmt.Errorf("decompressing: %w", err)
	}
	if len(decompressed) < HeaderLengthSize {
		return nil, stats, fmt.Errorf("%w: %d bytes", ErrInvalidPack, len(decompressed))
	}
	headerLen := binary.BigEndian.Uint32(decompressed[:HeaderLengthSize])
	if headerLen > MaxHeaderSize {
		return nil, stats, fmt.Errorf("%w: header too large: %d bytes", ErrInvalidPack, headerLen)
	}
	if int(HeaderLengthSize+headerLen) > len(decompressed) {
		return nil, stats, fmt.Errorf("%w: header length exceeds pack size", ErrInvalidPack)
	}

	var header Header
	if err := json.Unmarshal(decompressed[HeaderLengthSize:HeaderLengthSize+headerLen], &header); err != nil {
		return nil, stats, fmt.Errorf("%w: parsing header: %v", ErrInvalidPack, err)
	}
	objectData := decompressed[HeaderLengthSize+headerLen:]

	hasRoot := false
	for i, entry := range header.Objects {
		if entry.Offset < 0 || entry.Length < 0 || entry.Offset+entry.Length > int64(len(objectData)) {
			return nil, stats, fmt.Errorf("%w: object %d extends beyond pack", ErrInvalidPack, i)
		}
		if got := cas.Sum(objectData[entry.Offset : entry.Offset+entry.Length]); got != entry.Digest {
			return nil, stats, fmt.Errorf("%w: object %d digest mismatch: %s != %s", ErrInvalidPack, i, got.Short(), entry.Digest.Short())
		}
		if entry.Kind == KindNode && entry.Digest == header.Root {
			hasRoot = true
		}
	}
	if !hasRoot {
		return nil, stats, fmt.Errorf("%w: root %s is not in the pack", ErrInvalidPack, header.Root.Short())
	}

	for _, entry := range header.Objects {
		if _, err := store.Put(ctx, objectData[entry.Offset:entry.Offset+entry.Length]); err != nil {
			return nil, stats, fmt.Errorf("storing %s: %w", entry.Digest.Short(), err)
		}
		switch entry.Kind {
		case KindNode:
			stats.Nodes++
		case KindContent:
			stats.Content++
		}
		stats.Bytes += entry.Length
	}
	return &header, stats, nil
}
