// Package payment routes a payment method name onto one of the supported
// payment rails and talks to the crypto invoice provider.
package payment

import (
	"sort"
	"strings"

	"github.com/01moynul/storefront-ledger/internal/apperr"
)

// Kind is the closed set of payment rails.
type Kind int

const (
	KindWallet Kind = iota + 1
	KindCryptoPlisio
	KindManual
)

func (k Kind) String() string {
	switch k {
	case KindWallet:
		return "wallet"
	case KindCryptoPlisio:
		return "crypto"
	case KindManual:
		return "manual"
	}
	return "unknown"
}

const (
	MethodWallet       = "wallet"
	MethodCryptoPlisio = "crypto_plisio"
)

// Method is a resolved payment method: the rail plus the name the customer
// picked.
type Method struct {
	Kind Kind
	Name string
}

// RequiresProof reports whether the customer must upload proof of payment.
func (m Method) RequiresProof() bool { return m.Kind == KindManual }

// Gateway is the public description of one payment method.
type Gateway struct {
	Name          string `json:"name"`
	Kind          string `json:"kind"`
	RequiresProof bool   `json:"requires_proof"`
}

// Gateways is the configured catalogue of payment methods.
type Gateways struct {
	manual        map[string]struct{}
	cryptoEnabled bool
}

// NewGateways builds the catalogue. Manual names are case-insensitive; the
// reserved wallet and crypto names are ignored if configured as manual.
func NewGateways(manual []string, cryptoEnabled bool) *Gateways {
	g := &Gateways{manual: make(map[string]struct{}), cryptoEnabled: cryptoEnabled}
	for _, name := range manual {
		name = normalize(name)
		if name == "" || name == MethodWallet || name == MethodCryptoPlisio {
			continue
		}
		g.manual[name] = struct{}{}
	}
	return g
}

func normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Resolve maps a method name onto its rail.
func (g *Gateways) Resolve(name string) (Method, error) {
	name = normalize(name)
	switch name {
	case "":
		return Method{}, apperr.Validation("Payment method is required")
	case MethodWallet:
		return Method{Kind: KindWallet, Name: name}, nil
	case MethodCryptoPlisio:
		if !g.cryptoEnabled {
			return Method{}, apperr.Validation("Crypto payments are not available")
		}
		return Method{Kind: KindCryptoPlisio, Name: name}, nil
	}
	if _, ok := g.manual[name]; ok {
		return Method{Kind: KindManual, Name: name}, nil
	}
	return Method{}, apperr.Validationf("Unsupported payment method %q", name)
}

// List returns every enabled method, wallet first, then crypto, then the
// manual rails in name order.
func (g *Gateways) List() []Gateway {
	list := []Gateway{{Name: MethodWallet, Kind: KindWallet.String()}}
	if g.cryptoEnabled {
		list = append(list, Gateway{Name: MethodCryptoPlisio, Kind: KindCryptoPlisio.String()})
	}
	names := make([]string, 0, len(g.manual))
	for name := range g.manual {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		list = append(list, Gateway{Name: name, Kind: KindManual.String(), RequiresProof: true})
	}
	return list
}
