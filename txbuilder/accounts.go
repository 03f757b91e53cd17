package txbuilder

import "github.com/solsniper/sniper/chain"

// accountEntry tracks the merged signer/writable flags for one account
// reference while compiling a message's static account key list.
type accountEntry struct {
	key      chain.PublicKey
	signer   bool
	writable bool
}

// compileMessage merges payer and every instruction's account references
// into the ordered, deduplicated static account key list a Solana
// message requires: payer first (always signer+writable), then the
// remaining signer+writable accounts, then signer+readonly, then
// writable, then readonly, matching the conventional Solana message
// compilation ordering so MessageHeader's counts land on contiguous
// prefixes.
func compileMessage(payer chain.PublicKey, instructions []chain.Instruction, recentBlockhash chain.BlockHash) chain.Message {
	order := []chain.PublicKey{payer}
	byKey := map[chain.PublicKey]*accountEntry{
		payer: {key: payer, signer: true, writable: true},
	}

	for _, ix := range instructions {
		if _, ok := byKey[ix.ProgramID]; !ok {
			byKey[ix.ProgramID] = &accountEntry{key: ix.ProgramID}
			order = append(order, ix.ProgramID)
		}
		for _, acc := range ix.Accounts {
			e, ok := byKey[acc.Pubkey]
			if !ok {
				e = &accountEntry{key: acc.Pubkey}
				byKey[acc.Pubkey] = e
				order = append(order, acc.Pubkey)
			}
			if acc.IsSigner {
				e.signer = true
			}
			if acc.IsWritable {
				e.writable = true
			}
		}
	}

	bucket := func(e *accountEntry) int {
		switch {
		case e.signer && e.writable:
			return 0
		case e.signer:
			return 1
		case e.writable:
			return 2
		default:
			return 3
		}
	}

	buckets := make([][]chain.PublicKey, 4)
	for _, k := range order {
		e := byKey[k]
		if k == payer {
			continue
		}
		b := bucket(e)
		buckets[b] = append(buckets[b], k)
	}

	keys := make([]chain.PublicKey, 0, len(order))
	keys = append(keys, payer)
	for _, b := range buckets {
		keys = append(keys, b...)
	}

	var header chain.MessageHeader
	numReadonlySigned := 0
	numReadonlyUnsigned := 0
	numSigners := 0
	for _, k := range keys {
		e := byKey[k]
		if e.signer {
			numSigners++
			if !e.writable {
				numReadonlySigned++
			}
		} else if !e.writable {
			numReadonlyUnsigned++
		}
	}
	header.NumRequiredSignatures = uint8(numSigners)
	header.NumReadonlySignedAccounts = uint8(numReadonlySigned)
	header.NumReadonlyUnsignedAccounts = uint8(numReadonlyUnsigned)

	return chain.Message{
		Header:            header,
		StaticAccountKeys: keys,
		Instructions:       instructions,
		RecentBlockhash:    recentBlockhash,
	}
}
