// Copyright 2026 The Substrate Authors
// SPDX-License-Identifier: Apache-2.0

package ledger

import (
	"context"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/substrate-foundation/substrate/lib/codec"
	"github.com/substrate-foundation/substrate/lib/schema"
)

// CompressionTag identifies the compression algorithm for an export
// archive body. Stored in the archive header (1 byte). These values
// are format constants — changing them breaks archive compatibility.
type CompressionTag uint8

const (
	// CompressionNone stores the body uncompressed.
	CompressionNone CompressionTag = 0

	// CompressionLZ4 uses LZ4 block compression. Fast default when
	// the archive is consumed immediately.
	CompressionLZ4 CompressionTag = 1

	// CompressionZstd uses zstd at the default level. Better ratio
	// for archives kept around; ledger payloads are mostly CBOR maps
	// and compress well.
	CompressionZstd CompressionTag = 2
)

// String returns the human-readable name of a compression tag.
func (tag CompressionTag) String() string {
	switch tag {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", tag)
	}
}

// ParseCompressionTag parses a compression tag from its string form.
func ParseCompressionTag(name string) (CompressionTag, error) {
	switch name {
	case "none":
		return CompressionNone, nil
	case "lz4":
		return CompressionLZ4, nil
	case "zstd":
		return CompressionZstd, nil
	default:
		return 0, fmt.Errorf("unknown compression tag: %q", name)
	}
}

// archiveVersion is bumped when the archive layout changes.
const archiveVersion = 1

// archive is the on-disk export format: a CBOR envelope whose Body is
// the (possibly compressed) CBOR encoding of []ExportedEntry.
type archive struct {
	Version     uint32 `json:"version"`
	Compression uint8  `json:"compression"`
	RawSize     uint64 `json:"raw_size"`
	Body        []byte `json:"body"`
}

// ExportedEntry pairs a ledger entry with its raw payload so an
// exported chain segment is independently verifiable and replayable.
type ExportedEntry struct {
	Entry   schema.Entry `json:"entry"`
	Payload []byte       `json:"payload,omitempty"`
}

// Export writes entries with from <= sequence <= to (to zero meaning
// the current head) to w as a compressed archive. The segment carries
// payloads and chain links, so a reader holding the segment can check
// its internal consistency without database access.
func (s *Store) Export(ctx context.Context, w io.Writer, from, to uint64, tag CompressionTag) error {
	var exported []ExportedEntry
	err := s.Replay(ctx, from, to, func(entry schema.Entry, payload []byte) error {
		exported = append(exported, ExportedEntry{
			Entry:   entry,
			Payload: payload,
		})
		return nil
	})
	if err != nil {
		return err
	}

	raw, err := codec.Marshal(exported)
	if err != nil {
		return fmt.Errorf("ledger: encoding export: %w", err)
	}

	body, usedTag, err := compressBody(raw, tag)
	if err != nil {
		return err
	}

	if err := codec.NewEncoder(w).Encode(archive{
		Version:     archiveVersion,
		Compression: uint8(usedTag),
		RawSize:     uint64(len(raw)),
		Body:        body,
	}); err != nil {
		return fmt.Errorf("ledger: writing export: %w", err)
	}

	s.logger.Info("ledger segment exported",
		"entries", len(exported),
		"compression", usedTag.String(),
		"raw_bytes", len(raw),
		"archive_bytes", len(body),
	)
	return nil
}

// ReadExport decodes an export archive produced by [Store.Export].
func ReadExport(r io.Reader) ([]ExportedEntry, error) {
	var a archive
	if err := codec.NewDecoder(r).Decode(&a); err != nil {
		return nil, fmt.Errorf("ledger: reading export: %w", err)
	}
	if a.Version != archiveVersion {
		return nil, fmt.Errorf("ledger: export version %d, want %d", a.Version, archiveVersion)
	}

	raw, err := decompressBody(a.Body, CompressionTag(a.Compression), int(a.RawSize))
	if err != nil {
		return nil, err
	}

	var exported []ExportedEntry
	if err := codec.Unmarshal(raw, &exported); err != nil {
		return nil, fmt.Errorf("ledger: decoding export: %w", err)
	}
	return exported, nil
}

// VerifySegment checks the internal consistency of an exported chain
// segment: sequence continuity, chain links, payload digests, and
// entry hashes. The first entry's PrevHash is taken on trust (the
// segment may start mid-chain); everything after it must link up.
func VerifySegment(exported []ExportedEntry) error {
	for i, item := range exported {
		entry := item.Entry
		if i > 0 {
			prev := exported[i-1].Entry
			if entry.Sequence != prev.Sequence+1 {
				return fmt.Errorf("segment gap after entry %d: next is %d", prev.Sequence, entry.Sequence)
			}
			if entry.PrevHash != prev.Hash {
				return schema.NewError(schema.CodeChainVerification,
					"segment entry %d: chain link mismatch", entry.Sequence)
			}
		}
		if digest := PayloadDigest(item.Payload); digest != entry.PayloadDigest {
			return schema.NewError(schema.CodeChainVerification,
				"segment entry %d: payload digest mismatch", entry.Sequence)
		}
		computed, err := EntryHash(entry)
		if err != nil {
			return fmt.Errorf("hashing segment entry %d: %w", entry.Sequence, err)
		}
		if computed != entry.Hash {
			return schema.NewError(schema.CodeChainVerification,
				"segment entry %d: content hash mismatch", entry.Sequence)
		}
	}
	return nil
}

// zstdEncoder and zstdDecoder are reused across calls. Both are safe
// for concurrent use.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("ledger: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("ledger: zstd decoder initialization failed: " + err.Error())
	}
}

// compressBody compresses raw with the requested algorithm, falling
// back to CompressionNone when the output would not be smaller.
func compressBody(raw []byte, tag CompressionTag) ([]byte, CompressionTag, error) {
	switch tag {
	case CompressionNone:
		return raw, CompressionNone, nil

	case CompressionLZ4:
		bound := lz4.CompressBlockBound(len(raw))
		destination := make([]byte, bound)
		written, err := lz4.CompressBlock(raw, destination, nil)
		if err != nil {
			return nil, 0, fmt.Errorf("ledger: lz4 compress: %w", err)
		}
		// CompressBlock returns 0 for incompressible input.
		if written == 0 || written >= len(raw) {
			return raw, CompressionNone, nil
		}
		return destination[:written], CompressionLZ4, nil

	case CompressionZstd:
		compressed := zstdEncoder.EncodeAll(raw, nil)
		if len(compressed) >= len(raw) {
			return raw, CompressionNone, nil
		}
		return compressed, CompressionZstd, nil

	default:
		return nil, 0, fmt.Errorf("ledger: unsupported compression tag: %d", tag)
	}
}

// decompressBody reverses compressBody. rawSize must match the
// original length exactly.
func decompressBody(body []byte, tag CompressionTag, rawSize int) ([]byte, error) {
	switch tag {
	case CompressionNone:
		if len(body) != rawSize {
			return nil, fmt.Errorf("ledger: archive body is %d bytes, header says %d", len(body), rawSize)
		}
		return body, nil

	case CompressionLZ4:
		destination := make([]byte, rawSize)
		read, err := lz4.UncompressBlock(body, destination)
		if err != nil {
			return nil, fmt.Errorf("ledger: lz4 decompress: %w", err)
		}
		if read != rawSize {
			return nil, fmt.Errorf("ledger: lz4 decompress: got %d bytes, expected %d", read, rawSize)
		}
		return destination, nil

	case CompressionZstd:
		result, err := zstdDecoder.DecodeAll(body, make([]byte, 0, rawSize))
		if err != nil {
			return nil, fmt.Errorf("ledger: zstd decompress: %w", err)
		}
		if len(result) != rawSize {
			return nil, fmt.Errorf("ledger: zstd decompress: got %d bytes, expected %d", len(result), rawSize)
		}
		return result, nil

	default:
		return nil, fmt.Errorf("ledger: unsupported compression tag: %d", tag)
	}
}
