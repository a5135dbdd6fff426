// Copyright 2016 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package hash

import (
	"crypto/sha1"
	"encoding/binary"
	"encoding/hex"
	"fmt"
)

type Sig [sha1.Size]byte

func Hash(pieces ...[]byte) Sig {
	h := sha1.New()
	for _, data := range pieces {
		h.Write(data)
	}
	var sig Sig
	copy(sig[:], h.Sum(nil))
	return sig
}

// Addrs hashes a sequence of addresses.
// The result depends on the order of addresses.
func Addrs(addrs ...uint64) Sig {
	h := sha1.New()
	var buf [8]byte
	for _, addr := range addrs {
		binary.LittleEndian.PutUint64(buf[:], addr)
		h.Write(buf[:])
	}
	var sig Sig
	copy(sig[:], h.Sum(nil))
	return sig
}

func (sig Sig) String() string {
	return hex.EncodeToString(sig[:])
}

func FromString(str string) (Sig, error) {
	bin, err := hex.DecodeString(str)
	if err != nil {
		return Sig{}, fmt.Errorf("failed to decode sig '%v': %w", str, err)
	}
	if len(bin) != len(Sig{}) {
		return Sig{}, fmt.Errorf("failed to decode sig '%v': bad len", str)
	}
	var sig Sig
	copy(sig[:], bin)
	return sig, nil
}
