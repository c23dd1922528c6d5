package chain

import (
	"crypto/ecdsa"
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcutil/bech32"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Account is a deterministic test account.
type Account struct {
	Key     *ecdsa.PrivateKey
	Address common.Address
}

// KeyHex is the private key in the form expected by unsafe-import-eth-key.
func (a *Account) KeyHex() string {
	return hex.EncodeToString(crypto.FromECDSA(a.Key))
}

// GenAccount derives account index of the instance holding globalSeq. Index 0
// is the validator operator account; funded test accounts start at 1. Every
// (globalSeq, index) pair maps to a distinct key, so any process can derive
// the accounts of any instance.
func GenAccount(globalSeq, index int) (*Account, error) {
	if globalSeq < 0 || index < 0 {
		return nil, fmt.Errorf("invalid account coordinates (%d, %d)", globalSeq, index)
	}

	seed := make([]byte, 32)
	binary.BigEndian.PutUint64(seed[24:], uint64(globalSeq+1)<<32|uint64(index))

	key, err := crypto.ToECDSA(seed)
	if err != nil {
		return nil, fmt.Errorf("failed to derive account (%d, %d): %w", globalSeq, index, err)
	}
	return &Account{Key: key, Address: crypto.PubkeyToAddress(key.PublicKey)}, nil
}

// EthToBech32 renders an ethereum address with the given bech32 prefix.
func EthToBech32(addr common.Address, prefix string) (string, error) {
	conv, err := bech32.ConvertBits(addr.Bytes(), 8, 5, true)
	if err != nil {
		return "", err
	}
	return bech32.Encode(prefix, conv)
}
