package state

import (
	"crypto/sha256"
	"encoding/binary"
	"io"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"
)

// Digest returns a SHA-256 over the canonical serialization of tokens, accounts and the
// applied position. Equal states produce equal digests.
func (s *AccountState) Digest() [32]byte {
	h := sha256.New()
	var buf [8]byte

	ids := make([]int, 0, len(s.tokens))
	for id := range s.tokens {
		ids = append(ids, int(id))
	}
	sort.Ints(ids)
	for _, id := range ids {
		binary.BigEndian.PutUint16(buf[:2], uint16(id))
		h.Write(buf[:2])
		addr := s.tokens[uint16(id)]
		h.Write(addr[:])
	}

	for _, owner := range s.Addresses() {
		acct := s.accounts[owner]
		h.Write(owner[:])
		for _, token := range sortedTokens(acct.Balances) {
			h.Write(token[:])
			writeInt(h, acct.Balances[token])
		}
		for _, id := range acct.OrderIDs() {
			rec := acct.Orders[id]
			binary.BigEndian.PutUint16(buf[:2], id)
			h.Write(buf[:2])
			binary.BigEndian.PutUint16(buf[:2], rec.BuyToken)
			h.Write(buf[:2])
			binary.BigEndian.PutUint16(buf[:2], rec.SellToken)
			h.Write(buf[:2])
			binary.BigEndian.PutUint32(buf[:4], rec.ValidFrom)
			h.Write(buf[:4])
			if rec.ValidUntil == nil {
				h.Write([]byte{0})
			} else {
				h.Write([]byte{1})
				binary.BigEndian.PutUint32(buf[:4], *rec.ValidUntil)
				h.Write(buf[:4])
			}
			writeInt(h, rec.PriceNumerator)
			writeInt(h, rec.PriceDenominator)
			writeInt(h, rec.RemainingAmount)
		}
		pending := make(map[common.Address]*big.Int, len(acct.PendingWithdrawals))
		for token, w := range acct.PendingWithdrawals {
			pending[token] = w.Amount
		}
		for _, token := range sortedTokens(pending) {
			h.Write(token[:])
			binary.BigEndian.PutUint32(buf[:4], acct.PendingWithdrawals[token].BatchID)
			h.Write(buf[:4])
			writeInt(h, pending[token])
		}
	}

	binary.BigEndian.PutUint64(buf[:], s.position.BlockNumber)
	h.Write(buf[:])
	binary.BigEndian.PutUint64(buf[:], uint64(s.position.LogIndex))
	h.Write(buf[:])

	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// writeInt writes sign, length and magnitude so distinct values never collide.
func writeInt(w io.Writer, v *big.Int) {
	if v == nil {
		v = new(big.Int)
	}
	mag := v.Bytes()
	var hdr [5]byte
	hdr[0] = byte(v.Sign() + 1)
	binary.BigEndian.PutUint32(hdr[1:], uint32(len(mag)))
	w.Write(hdr[:])
	w.Write(mag)
}

func sortedTokens[V any](m map[common.Address]V) []common.Address {
	keys := make([]common.Address, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Cmp(keys[j]) < 0 })
	return keys
}
