package trading

import (
	"fmt"
	"sort"
	"strings"
)

// symbolProducts maps short asset symbols to their perpetual contract symbol.
var symbolProducts = map[string]string{
	"BTC": "BTCUSD",
	"ETH": "ETHUSD",
}

// instrument is the resolved target contract for an order.
type instrument struct {
	ProductID     int
	ProductSymbol string
}

// resolveInstrument picks the target contract. Precedence: explicit
// product id, then product symbol, then short symbol via the static map.
// Resolution failures are validation errors; no network is involved.
func resolveInstrument(p OrderParams) (instrument, error) {
	if p.ProductID > 0 {
		return instrument{ProductID: p.ProductID}, nil
	}

	if s := strings.ToUpper(strings.TrimSpace(p.ProductSymbol)); s != "" {
		return instrument{ProductSymbol: s}, nil
	}

	if s := strings.ToUpper(strings.TrimSpace(p.Symbol)); s != "" {
		contract, ok := symbolProducts[s]
		if !ok {
			return instrument{}, fmt.Errorf("unknown symbol %q; known symbols: %s", s, knownSymbols())
		}
		return instrument{ProductSymbol: contract}, nil
	}

	return instrument{}, fmt.Errorf("one of product_id, product_symbol or symbol is required")
}

func knownSymbols() string {
	keys := make([]string, 0, len(symbolProducts))
	for k := range symbolProducts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return strings.Join(keys, ", ")
}
