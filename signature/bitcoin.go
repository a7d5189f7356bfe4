// Package signature checks Bitcoin signed messages against wallet addresses.
package signature

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

const messageMagic = "Bitcoin Signed Message:\n"

const compactSigSize = 65

var (
	ErrMalformedSignature = errors.New("malformed signature")
	ErrUnknownNetwork     = errors.New("unknown network")
)

// Verifier proves that signature over message was made by the key behind address
type Verifier interface {
	Verify(message, address, signature string) (bool, error)
}

type addressKind int

const (
	kindP2PKH addressKind = iota
	kindP2SHP2WPKH
	kindP2WPKH
)

// BitcoinVerifier verifies base64 compact signatures as produced by Bitcoin
// Core, Electrum and bitcoinjs-message.
type BitcoinVerifier struct {
	params *chaincfg.Params
}

func NewBitcoinVerifier(network string) (*BitcoinVerifier, error) {
	params, err := NetworkParams(network)
	if err != nil {
		return nil, err
	}
	return &BitcoinVerifier{params: params}, nil
}

// NetworkParams maps a network name to its chain parameters
func NetworkParams(network string) (*chaincfg.Params, error) {
	switch network {
	case "", "mainnet":
		return &chaincfg.MainNetParams, nil
	case "testnet", "testnet3":
		return &chaincfg.TestNet3Params, nil
	case "regtest":
		return &chaincfg.RegressionNetParams, nil
	case "signet":
		return &chaincfg.SigNetParams, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownNetwork, network)
}

// MessageHash is the double sha256 of the magic-prefixed message
func MessageHash(message string) []byte {
	var buf bytes.Buffer
	// writes to a bytes.Buffer do not fail
	_ = wire.WriteVarString(&buf, 0, messageMagic)
	_ = wire.WriteVarString(&buf, 0, message)
	return chainhash.DoubleHashB(buf.Bytes())
}

// Verify reports whether signature was made over message by address. Bad
// input (undecodable signature or address, unrecoverable key) is an error.
func (v *BitcoinVerifier) Verify(message, address, signature string) (bool, error) {
	raw, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrMalformedSignature, err)
	}
	if len(raw) != compactSigSize {
		return false, fmt.Errorf("%w: length %d", ErrMalformedSignature, len(raw))
	}

	// segwit flags map back onto the compressed key range
	flag := raw[0]
	kind := kindP2PKH
	switch {
	case flag >= 27 && flag <= 34:
	case flag >= 35 && flag <= 38:
		kind = kindP2SHP2WPKH
		raw[0] = flag - 4
	case flag >= 39 && flag <= 42:
		kind = kindP2WPKH
		raw[0] = flag - 8
	default:
		return false, fmt.Errorf("%w: header byte %d", ErrMalformedSignature, flag)
	}

	pubKey, compressed, err := ecdsa.RecoverCompact(raw, MessageHash(message))
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrMalformedSignature, err)
	}

	target, err := btcutil.DecodeAddress(address, v.params)
	if err != nil {
		return false, err
	}
	if !target.IsForNet(v.params) {
		return false, fmt.Errorf("address %s is not for %s", address, v.params.Name)
	}

	candidates, err := v.candidates(pubKey, compressed, kind)
	if err != nil {
		return false, err
	}
	for _, c := range candidates {
		if c.EncodeAddress() == target.EncodeAddress() {
			return true, nil
		}
	}
	return false, nil
}

// candidates lists the addresses the recovered key may legitimately sign for.
// A compressed key with a legacy header may also belong to a segwit wallet.
func (v *BitcoinVerifier) candidates(pub *btcec.PublicKey, compressed bool, kind addressKind) ([]btcutil.Address, error) {
	if !compressed {
		pkHash := btcutil.Hash160(pub.SerializeUncompressed())
		addr, err := btcutil.NewAddressPubKeyHash(pkHash, v.params)
		if err != nil {
			return nil, err
		}
		return []btcutil.Address{addr}, nil
	}

	pkHash := btcutil.Hash160(pub.SerializeCompressed())
	p2pkh, err := btcutil.NewAddressPubKeyHash(pkHash, v.params)
	if err != nil {
		return nil, err
	}
	p2wpkh, err := btcutil.NewAddressWitnessPubKeyHash(pkHash, v.params)
	if err != nil {
		return nil, err
	}
	redeem := append([]byte{0x00, 0x14}, pkHash...)
	p2sh, err := btcutil.NewAddressScriptHash(redeem, v.params)
	if err != nil {
		return nil, err
	}

	switch kind {
	case kindP2SHP2WPKH:
		return []btcutil.Address{p2sh}, nil
	case kindP2WPKH:
		return []btcutil.Address{p2wpkh}, nil
	}
	return []btcutil.Address{p2pkh, p2sh, p2wpkh}, nil
}

// SignMessage produces a base64 compact signature with a legacy header
func SignMessage(key *btcec.PrivateKey, message string, compressed bool) (string, error) {
	sig := ecdsa.SignCompact(key, MessageHash(message), compressed)
	return base64.StdEncoding.EncodeToString(sig), nil
}
