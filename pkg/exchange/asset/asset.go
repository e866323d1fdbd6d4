// Package asset identifies the two kinds of value the exchange custodies:
// the native currency and external fungible token contracts.
package asset

import (
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Kind discriminates the asset union
type Kind int8

const (
	KindNative Kind = iota
	KindToken
)

func (k Kind) String() string {
	switch k {
	case KindNative:
		return "native"
	case KindToken:
		return "token"
	default:
		return "unknown"
	}
}

// Asset identifies either the native currency or a specific token contract.
// It is a comparable value type: two assets are equal iff they have the same
// kind and, for tokens, the same contract address. Safe to use as a map key.
type Asset struct {
	kind Kind
	addr common.Address // zero for native
}

// Native is the native-currency sentinel.
// On the wire it is the zero address (0x000...0), matching the convention
// exchanges use for the chain's base currency.
var Native = Asset{kind: KindNative}

// Token returns the asset identifier for a token contract address.
// The zero address maps to the native sentinel.
func Token(addr common.Address) Asset {
	if addr == (common.Address{}) {
		return Native
	}
	return Asset{kind: KindToken, addr: addr}
}

// Parse decodes a 0x-hex address into an asset identifier.
// The zero address decodes to Native.
func Parse(s string) (Asset, error) {
	if !common.IsHexAddress(s) {
		return Asset{}, fmt.Errorf("malformed asset identifier: %q", s)
	}
	return Token(common.HexToAddress(s)), nil
}

// Kind reports whether the asset is native currency or a token.
func (a Asset) Kind() Kind { return a.kind }

// IsNative reports whether the asset is the native currency.
func (a Asset) IsNative() bool { return a.kind == KindNative }

// Address returns the token contract address (zero for native).
func (a Asset) Address() common.Address { return a.addr }

// String renders the wire form: the token address, or the zero address for native.
func (a Asset) String() string {
	return a.addr.Hex()
}

// MarshalJSON encodes the asset as its wire form.
func (a Asset) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

// UnmarshalJSON decodes the wire form.
func (a *Asset) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := Parse(s)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
