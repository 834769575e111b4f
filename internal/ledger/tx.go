package ledger

import (
	"bytes"
	"crypto/ed25519"
	"fmt"
)

// AccountMeta is one account reference within an instruction.
type AccountMeta struct {
	Pubkey     PublicKey
	IsSigner   bool
	IsWritable bool
}

// Instruction is a single program invocation.
type Instruction struct {
	ProgramID PublicKey
	Accounts  []AccountMeta
	Data      []byte
}

// BuildTransaction compiles instructions into a signed legacy transaction:
// header, compact account table (writable signers, readonly signers,
// writable non-signers, readonly non-signers), recent blockhash, compiled
// instructions, all prefixed by the signature list. The payer is forced to
// the first slot.
func BuildTransaction(instrs []Instruction, payer PublicKey, recentBlockhash [32]byte, signers map[PublicKey]ed25519.PrivateKey) ([]byte, error) {
	type acctFlags struct {
		signer   bool
		writable bool
	}
	flags := map[PublicKey]*acctFlags{
		payer: {signer: true, writable: true},
	}
	order := []PublicKey{payer}

	touch := func(pk PublicKey, signer, writable bool) {
		f, ok := flags[pk]
		if !ok {
			f = &acctFlags{}
			flags[pk] = f
			order = append(order, pk)
		}
		f.signer = f.signer || signer
		f.writable = f.writable || writable
	}

	for _, ix := range instrs {
		for _, m := range ix.Accounts {
			touch(m.Pubkey, m.IsSigner, m.IsWritable)
		}
		touch(ix.ProgramID, false, false)
	}

	// Stable partition preserving first-touch order within each class.
	var keys []PublicKey
	classes := [4]func(*acctFlags) bool{
		func(f *acctFlags) bool { return f.signer && f.writable },
		func(f *acctFlags) bool { return f.signer && !f.writable },
		func(f *acctFlags) bool { return !f.signer && f.writable },
		func(f *acctFlags) bool { return !f.signer && !f.writable },
	}
	for _, match := range classes {
		for _, pk := range order {
			if match(flags[pk]) {
				keys = append(keys, pk)
			}
		}
	}

	index := make(map[PublicKey]uint8, len(keys))
	var numSigners, numROSigned, numROUnsigned int
	for i, pk := range keys {
		index[pk] = uint8(i)
		f := flags[pk]
		if f.signer {
			numSigners++
			if !f.writable {
				numROSigned++
			}
		} else if !f.writable {
			numROUnsigned++
		}
	}

	var msg bytes.Buffer
	msg.Write([]byte{uint8(numSigners), uint8(numROSigned), uint8(numROUnsigned)})
	writeCompactU16(&msg, len(keys))
	for _, pk := range keys {
		msg.Write(pk[:])
	}
	msg.Write(recentBlockhash[:])
	writeCompactU16(&msg, len(instrs))
	for _, ix := range instrs {
		msg.WriteByte(index[ix.ProgramID])
		writeCompactU16(&msg, len(ix.Accounts))
		for _, m := range ix.Accounts {
			msg.WriteByte(index[m.Pubkey])
		}
		writeCompactU16(&msg, len(ix.Data))
		msg.Write(ix.Data)
	}
	msgBytes := msg.Bytes()

	var tx bytes.Buffer
	writeCompactU16(&tx, numSigners)
	for _, pk := range keys[:numSigners] {
		key, ok := signers[pk]
		if !ok {
			return nil, fmt.Errorf("missing signer for %s", pk)
		}
		tx.Write(ed25519.Sign(key, msgBytes))
	}
	tx.Write(msgBytes)
	return tx.Bytes(), nil
}

// writeCompactU16 encodes the ledger's shortvec length prefix.
func writeCompactU16(buf *bytes.Buffer, n int) {
	v := uint16(n)
	for {
		b := uint8(v & 0x7f)
		v >>= 7
		if v == 0 {
			buf.WriteByte(b)
			return
		}
		buf.WriteByte(b | 0x80)
	}
}
