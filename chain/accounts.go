package chain

import (
	"crypto/ecdsa"
	"encoding/binary"

	"github.com/cosmos/go-bip39"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
)

// DefaultMnemonic is the well known development mnemonic. Never hold real
// funds on accounts derived from it.
const DefaultMnemonic = "test test test test test test test test test test test junk"

type DevAccount struct {
	Index   int
	Key     *ecdsa.PrivateKey
	Address common.Address
}

// DevAccounts derives n deterministic development accounts from mnemonic.
// Key i is keccak256(seed || i); this is not a BIP-44 derivation path.
func DevAccounts(mnemonic string, n int) ([]DevAccount, error) {
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, errors.New("invalid mnemonic")
	}

	seed := bip39.NewSeed(mnemonic, "")
	accounts := make([]DevAccount, 0, n)

	for i := 0; i < n; i++ {
		var idx [8]byte
		binary.BigEndian.PutUint64(idx[:], uint64(i))

		key, err := crypto.ToECDSA(crypto.Keccak256(seed, idx[:]))
		if err != nil {
			return nil, errors.Wrapf(err, "failed to derive account %d", i)
		}

		accounts = append(accounts, DevAccount{
			Index:   i,
			Key:     key,
			Address: crypto.PubkeyToAddress(key.PublicKey),
		})
	}

	return accounts, nil
}
