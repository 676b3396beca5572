// Package sponsorkey derives the relay's own sponsor wallets from a BIP39
// mnemonic (or a single raw private key), the same BIP32/BIP39 machinery
// the teacher's wallet services use for end-user wallets, repurposed here
// to provision the process's own signing wallets at startup. Grounded on
// the teacher's bip39service.BIP39Service (mnemonic -> seed) and
// hdkey.HDKeyService (seed -> extended key -> child keys along a BIP32
// path), generalized from Bitcoin addresses to the c32check-encoded
// addresses in stacksaddr.
package sponsorkey

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/aibtcdev/sponsor-relay/internal/stacksaddr"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/tyler-smith/go-bip39"
)

// derivationPrefix is the BIP32 account path sponsor wallets are derived
// under; the wallet index fills the final non-hardened component, the same
// m/44'/coin'/0'/0/index shape the teacher's services use for external
// chains, with 5757 standing in for Stacks (it has no registered SLIP-44
// coin type of its own at the time of writing).
const derivationPrefix = "44'/5757'/0'/0"

// Wallet is one derived sponsor signing key, indexed 0..WalletCount-1.
type Wallet struct {
	Index      int
	Address    string
	PrivateKey *btcec.PrivateKey
}

// DeriveFromMnemonic derives count wallets from a BIP39 mnemonic, one per
// index, along derivationPrefix/index. network selects the c32check
// address version.
func DeriveFromMnemonic(mnemonic string, count int, network string) ([]Wallet, error) {
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, fmt.Errorf("invalid sponsor mnemonic: checksum or wordlist mismatch")
	}
	seed := bip39.NewSeed(mnemonic, "")

	master, err := hdkeychain.NewMaster(seed, &chaincfg.MainNetParams)
	if err != nil {
		return nil, fmt.Errorf("derive master key: %w", err)
	}
	account, err := derivePath(master, derivationPrefix)
	if err != nil {
		return nil, fmt.Errorf("derive account path: %w", err)
	}

	version := addressVersion(network)
	wallets := make([]Wallet, 0, count)
	for i := 0; i < count; i++ {
		child, err := account.Derive(uint32(i))
		if err != nil {
			return nil, fmt.Errorf("derive wallet %d: %w", i, err)
		}
		priv, err := child.ECPrivKey()
		if err != nil {
			return nil, fmt.Errorf("extract private key for wallet %d: %w", i, err)
		}
		wallets = append(wallets, Wallet{
			Index:      i,
			Address:    stacksaddr.Encode(version, priv.PubKey().SerializeCompressed()),
			PrivateKey: priv,
		})
	}
	return wallets, nil
}

// DeriveFromPrivateKey builds a single-wallet set from one raw secp256k1
// private key, hex-encoded with an optional 0x prefix. It is the fallback
// for deployments that provision SPONSOR_PRIVATE_KEY instead of a mnemonic.
func DeriveFromPrivateKey(hexKey, network string) ([]Wallet, error) {
	hexKey = strings.TrimPrefix(strings.TrimSpace(hexKey), "0x")
	keyBytes, err := decodeHex(hexKey)
	if err != nil {
		return nil, fmt.Errorf("decode sponsor private key: %w", err)
	}
	priv, _ := btcec.PrivKeyFromBytes(keyBytes)
	version := addressVersion(network)
	return []Wallet{{
		Index:      0,
		Address:    stacksaddr.Encode(version, priv.PubKey().SerializeCompressed()),
		PrivateKey: priv,
	}}, nil
}

func decodeHex(s string) ([]byte, error) {
	if len(s)%2 != 0 {
		return nil, fmt.Errorf("odd-length hex string")
	}
	out := make([]byte, len(s)/2)
	for i := 0; i < len(out); i++ {
		hi, err := hexNibble(s[i*2])
		if err != nil {
			return nil, err
		}
		lo, err := hexNibble(s[i*2+1])
		if err != nil {
			return nil, err
		}
		out[i] = hi<<4 | lo
	}
	return out, nil
}

func hexNibble(c byte) (byte, error) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', nil
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, nil
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, nil
	default:
		return 0, fmt.Errorf("invalid hex character %q", c)
	}
}

func addressVersion(network string) stacksaddr.AddressVersion {
	if network == "mainnet" {
		return stacksaddr.VersionMainnetSingleSig
	}
	return stacksaddr.VersionTestnetSingleSig
}

// derivePath walks a BIP32 path of the form "44'/5757'/0'/0", hardening any
// component suffixed with '.
func derivePath(key *hdkeychain.ExtendedKey, path string) (*hdkeychain.ExtendedKey, error) {
	path = strings.TrimPrefix(path, "m/")
	current := key
	for _, component := range strings.Split(path, "/") {
		if component == "" {
			continue
		}
		hardened := strings.HasSuffix(component, "'")
		component = strings.TrimSuffix(component, "'")
		index, err := strconv.ParseUint(component, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid path component %q: %w", component, err)
		}
		childIndex := uint32(index)
		if hardened {
			childIndex += hdkeychain.HardenedKeyStart
		}
		child, err := current.Derive(childIndex)
		if err != nil {
			return nil, fmt.Errorf("derive index %d: %w", index, err)
		}
		current = child
	}
	return current, nil
}
