// Package stacksaddr derives checksummed chain addresses from a recovered
// compressed public key, the crockford-flavored base32 ("c32") encoding
// used by Stacks. Grounded on the teacher's custom chaincfg-param +
// checksum-encode pattern in internal/services/address/bitcoin.go
// (version byte + hash160 + checksum, base-encoded), adapted from
// base58check to c32check, using golang.org/x/crypto/ripemd160 for the
// hash160 step. It takes the public key bytes as given and does no key
// recovery itself.
package stacksaddr

import (
	"crypto/sha256"
	"fmt"
	"math/big"
	"strings"

	"golang.org/x/crypto/ripemd160"
)

// AddressVersion is the single leading byte distinguishing address kinds.
type AddressVersion byte

const (
	VersionMainnetSingleSig AddressVersion = 22 // 'P' prefix-equivalent
	VersionTestnetSingleSig AddressVersion = 26
)

const c32Alphabet = "0123456789ABCDEFGHJKMNPQRSTVWXYZ"

// Hash160 is sha256 then ripemd160, the same digest chain as a Bitcoin
// P2PKH pubkey hash.
func Hash160(data []byte) []byte {
	sum := sha256.Sum256(data)
	h := ripemd160.New()
	h.Write(sum[:])
	return h.Sum(nil)
}

// Encode derives the c32check address for a compressed public key under
// the given version byte.
func Encode(version AddressVersion, pubKey []byte) string {
	hash := Hash160(pubKey)
	return EncodeHash(version, hash)
}

// EncodeHash derives the c32check address directly from a 20-byte hash160.
func EncodeHash(version AddressVersion, hash []byte) string {
	checksum := c32Checksum(version, hash)
	payload := append(append([]byte{}, hash...), checksum...)
	body := c32Encode(payload)
	return fmt.Sprintf("S%d%s", version, body)
}

// c32Checksum is the first 4 bytes of double-sha256(version || hash).
func c32Checksum(version AddressVersion, hash []byte) []byte {
	buf := append([]byte{byte(version)}, hash...)
	first := sha256.Sum256(buf)
	second := sha256.Sum256(first[:])
	return second[:4]
}

// c32Encode base32-encodes data using the crockford-style c32 alphabet
// (no padding, leading zero bytes preserved as leading '0' characters).
func c32Encode(data []byte) string {
	if len(data) == 0 {
		return ""
	}
	leadingZeros := 0
	for _, b := range data {
		if b != 0 {
			break
		}
		leadingZeros++
	}

	// Treat the payload as a big-endian integer and repeatedly divide by 32.
	num := new(big.Int).SetBytes(data)
	base := big.NewInt(32)
	rem := new(big.Int)
	var out []byte
	for num.Sign() > 0 {
		num.DivMod(num, base, rem)
		out = append(out, c32Alphabet[rem.Int64()])
	}
	for i := 0; i < leadingZeros; i++ {
		out = append(out, c32Alphabet[0])
	}
	reverse(out)
	return string(out)
}

func reverse(b []byte) {
	for i, j := 0, len(b)-1; i < j; i, j = i+1, j-1 {
		b[i], b[j] = b[j], b[i]
	}
}

// ParseAddress validates shape and extracts the version byte; it does not
// verify the checksum against a provided hash (callers compare payer
// derivation results directly instead of round-tripping through parse).
func ParseAddress(addr string) (AddressVersion, error) {
	if len(addr) < 3 || addr[0] != 'S' {
		return 0, fmt.Errorf("invalid address prefix")
	}
	rest := addr[1:]
	digitsEnd := 0
	for digitsEnd < len(rest) && rest[digitsEnd] >= '0' && rest[digitsEnd] <= '9' {
		digitsEnd++
	}
	if digitsEnd == 0 {
		return 0, fmt.Errorf("missing version digits")
	}
	var version int
	if _, err := fmt.Sscanf(rest[:digitsEnd], "%d", &version); err != nil {
		return 0, fmt.Errorf("invalid version: %w", err)
	}
	return AddressVersion(version), nil
}

// EqualFold compares two addresses case-insensitively, per the spec's
// recipient-comparison invariant.
func EqualFold(a, b string) bool {
	return strings.EqualFold(a, b)
}
