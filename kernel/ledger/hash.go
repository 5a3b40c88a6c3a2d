// Copyright 2026 The Substrate Authors
// SPDX-License-Identifier: Apache-2.0

package ledger

import (
	"github.com/zeebo/blake3"

	"github.com/substrate-foundation/substrate/lib/codec"
	"github.com/substrate-foundation/substrate/lib/schema"
)

// domainKey is a 32-byte key for BLAKE3 keyed hashing. Domain
// separation ensures the same bytes hash differently as an entry
// header versus a payload, preventing cross-domain collisions.
type domainKey [32]byte

// Domain separation keys. These are fixed protocol constants —
// changing them invalidates every hash in the chain. The byte values
// are the ASCII encoding of the domain name, zero-padded to 32 bytes,
// so the keys are inspectable in hex dumps.
var (
	entryDomainKey = domainKey{
		's', 'u', 'b', 's', 't', 'r', 'a', 't', 'e', '.', 'l', 'e', 'd', 'g', 'e', 'r',
		'.', 'e', 'n', 't', 'r', 'y', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	}

	payloadDomainKey = domainKey{
		's', 'u', 'b', 's', 't', 'r', 'a', 't', 'e', '.', 'l', 'e', 'd', 'g', 'e', 'r',
		'.', 'p', 'a', 'y', 'l', 'o', 'a', 'd', 0, 0, 0, 0, 0, 0, 0, 0,
	}
)

// entryHeader is the hashed portion of a ledger entry: everything
// except the entry's own hash. Its deterministic CBOR encoding is the
// canonical preimage — encoding the same header twice always yields
// identical bytes.
type entryHeader struct {
	Sequence      uint64            `json:"sequence"`
	Actor         string            `json:"actor"`
	ActionKind    schema.ActionKind `json:"action_kind"`
	PayloadDigest schema.Hash       `json:"payload_digest"`
	TimestampNS   int64             `json:"timestamp_ns"`
	Outcome       schema.Outcome    `json:"outcome"`
	PrevHash      schema.Hash       `json:"prev_hash"`
}

// EntryHash computes the content hash of an entry from everything
// except its Hash field. Verification recomputes this and compares.
func EntryHash(entry schema.Entry) (schema.Hash, error) {
	header := entryHeader{
		Sequence:      entry.Sequence,
		Actor:         entry.Actor,
		ActionKind:    entry.ActionKind,
		PayloadDigest: entry.PayloadDigest,
		TimestampNS:   entry.TimestampNS,
		Outcome:       entry.Outcome,
		PrevHash:      entry.PrevHash,
	}
	encoded, err := codec.Marshal(header)
	if err != nil {
		return schema.Hash{}, err
	}
	return keyedHash(entryDomainKey, encoded), nil
}

// PayloadDigest computes the payload-domain hash of raw payload
// bytes. A nil payload digests the empty string, so "no payload" has
// a stable, non-zero digest like any other value.
func PayloadDigest(payload []byte) schema.Hash {
	return keyedHash(payloadDomainKey, payload)
}

// keyedHash computes a BLAKE3 keyed hash with the given domain key.
func keyedHash(key domainKey, data []byte) schema.Hash {
	// NewKeyed only fails on wrong key length, which the fixed-size
	// domainKey type rules out.
	hasher, err := blake3.NewKeyed(key[:])
	if err != nil {
		panic("ledger: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	hasher.Write(data)
	var hash schema.Hash
	copy(hash[:], hasher.Sum(nil))
	return hash
}
