package crypto

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcutil/bech32"
)

// AccountPrefix is the human-readable part used when rendering ledger account
// identifiers.
const AccountPrefix = "esc"

// AddressLength is the size in bytes of an account identifier.
const AddressLength = 20

// Address is the 20-byte caller identifier used throughout the ledger.
type Address [AddressLength]byte

// ZeroAddress is the empty identifier; it never belongs to a registered
// account.
var ZeroAddress Address

var errEmptyAddress = errors.New("crypto: empty address")

// IsZero reports whether the address is the empty identifier.
func (a Address) IsZero() bool { return a == ZeroAddress }

// Bytes returns a copy of the raw address bytes.
func (a Address) Bytes() []byte {
	out := make([]byte, AddressLength)
	copy(out, a[:])
	return out
}

// Hex returns the 0x-prefixed hexadecimal form.
func (a Address) Hex() string { return "0x" + hex.EncodeToString(a[:]) }

// String renders the bech32 form, e.g. esc1qy... The zero address renders as
// the empty string so optional fields serialise cleanly.
func (a Address) String() string {
	if a.IsZero() {
		return ""
	}
	conv, err := bech32.ConvertBits(a[:], 8, 5, true)
	if err != nil {
		panic(err)
	}
	encoded, err := bech32.Encode(AccountPrefix, conv)
	if err != nil {
		panic(err)
	}
	return encoded
}

// MarshalText implements encoding.TextMarshaler.
func (a Address) MarshalText() ([]byte, error) { return []byte(a.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *Address) UnmarshalText(text []byte) error {
	if len(strings.TrimSpace(string(text))) == 0 {
		*a = ZeroAddress
		return nil
	}
	parsed, err := ParseAddress(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// AddressFromBytes copies b into an Address.
func AddressFromBytes(b []byte) (Address, error) {
	var addr Address
	if len(b) != AddressLength {
		return addr, fmt.Errorf("crypto: address must be %d bytes, got %d", AddressLength, len(b))
	}
	copy(addr[:], b)
	return addr, nil
}

// ParseAddress accepts either the bech32 form carrying AccountPrefix or a
// 0x-prefixed hex string.
func ParseAddress(raw string) (Address, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ZeroAddress, errEmptyAddress
	}
	if strings.HasPrefix(trimmed, "0x") || strings.HasPrefix(trimmed, "0X") {
		decoded, err := hex.DecodeString(trimmed[2:])
		if err != nil {
			return ZeroAddress, fmt.Errorf("crypto: invalid hex address: %w", err)
		}
		return AddressFromBytes(decoded)
	}
	prefix, decoded, err := bech32.Decode(trimmed)
	if err != nil {
		return ZeroAddress, fmt.Errorf("crypto: invalid bech32 string: %w", err)
	}
	if prefix != AccountPrefix {
		return ZeroAddress, fmt.Errorf("crypto: unexpected address prefix %q", prefix)
	}
	conv, err := bech32.ConvertBits(decoded, 5, 8, false)
	if err != nil {
		return ZeroAddress, fmt.Errorf("crypto: error converting bits: %w", err)
	}
	return AddressFromBytes(conv)
}

// MustParseAddress is ParseAddress for constants and tests.
func MustParseAddress(raw string) Address {
	addr, err := ParseAddress(raw)
	if err != nil {
		panic(err)
	}
	return addr
}
