// Package pairs resolves per-instrument quoting conventions: pip size, pip
// multiplier and the USD value of one pip on a standard lot.
package pairs

import (
	"errors"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

const (
	// StandardLotSize is the number of base units in one standard lot.
	StandardLotSize = 100000.0

	// fallbackUSDJPY prices JPY-quoted pips when no live rate is at hand.
	fallbackUSDJPY = 157.0

	defaultSpreadPips = 2.0
)

var ErrNonPositivePrice = errors.New("price must be positive")

type Class string

const (
	ClassStandard Class = "standard"
	ClassJPY      Class = "jpy"
	ClassMetal    Class = "metal"
	ClassCrypto   Class = "crypto"
)

// Pair is the resolved convention for one instrument. Known is false when
// the symbol could not be parsed and the standard default was applied.
type Pair struct {
	Symbol     string
	Base       string
	Quote      string
	Class      Class
	Multiplier float64
	Known      bool
}

func (p Pair) PipSize() float64 {
	return 1 / p.Multiplier
}

var metals = map[string]float64{
	"XAU": 10,
	"XAG": 100,
}

var cryptos = map[string]struct{}{
	"BTC": {},
	"ETH": {},
}

// quoteSuffixes split concatenated symbols longer than six letters, longest
// first so BTCUSDT is BTC/USDT and not BTCU/SDT.
var quoteSuffixes = []string{"USDT", "USDC", "USD"}

// Normalize turns EURUSD, eur_usd or EUR-USD into EUR/USD, and BTCUSDT into
// BTC/USDT. It returns false when the symbol has no recognizable base/quote
// split; such symbols resolve as unknown standard pairs.
func Normalize(symbol string) (string, bool) {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	s = strings.NewReplacer("_", "/", "-", "/", " ", "").Replace(s)
	if base, quote, ok := strings.Cut(s, "/"); ok {
		if len(base) >= 3 && len(quote) >= 3 && isAlpha(base) && isAlpha(quote) {
			return base + "/" + quote, true
		}
		return s, false
	}
	if len(s) == 6 && isAlpha(s) {
		return s[:3] + "/" + s[3:], true
	}
	if len(s) > 6 && isAlpha(s) {
		for _, q := range quoteSuffixes {
			if base, ok := strings.CutSuffix(s, q); ok && len(base) >= 3 {
				return base + "/" + q, true
			}
		}
	}
	return s, false
}

func isAlpha(s string) bool {
	for _, r := range s {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return s != ""
}

// Resolve classifies symbol. Unknown symbols fall back to the standard
// four-decimal convention.
func Resolve(symbol string) Pair {
	norm, ok := Normalize(symbol)
	if !ok {
		return Pair{Symbol: norm, Class: ClassStandard, Multiplier: 10000}
	}
	base, quote, _ := strings.Cut(norm, "/")
	p := Pair{Symbol: norm, Base: base, Quote: quote, Known: true}
	switch {
	case metals[base] > 0:
		p.Class = ClassMetal
		p.Multiplier = metals[base]
	case isCrypto(base):
		p.Class = ClassCrypto
		p.Multiplier = 10
	case quote == "JPY":
		p.Class = ClassJPY
		p.Multiplier = 100
	default:
		p.Class = ClassStandard
		p.Multiplier = 10000
	}
	return p
}

func isCrypto(base string) bool {
	_, ok := cryptos[base]
	return ok
}

func PipMultiplier(symbol string) float64 {
	return Resolve(symbol).Multiplier
}

// Pips is the distance between two prices in pips, rounded to two decimals.
func Pips(a, b float64, symbol string) (float64, error) {
	if a <= 0 || b <= 0 {
		return 0, ErrNonPositivePrice
	}
	return round2(math.Abs(a-b) * PipMultiplier(symbol)), nil
}

// PipValueUSD is the USD value of one pip on a standard lot without a
// reference price.
func PipValueUSD(symbol string) float64 {
	return pipValue(Resolve(symbol), 0)
}

// PipValueUSDAt is PipValueUSD using referencePrice to convert USD-based
// pairs.
func PipValueUSDAt(symbol string, referencePrice float64) (float64, error) {
	if referencePrice <= 0 {
		return 0, ErrNonPositivePrice
	}
	return pipValue(Resolve(symbol), referencePrice), nil
}

func pipValue(p Pair, ref float64) float64 {
	perLot := StandardLotSize * p.PipSize()
	switch {
	case p.Quote == "USD":
		return perLot
	case p.Base == "USD" && ref > 0:
		return perLot / ref
	case p.Quote == "JPY":
		return perLot / fallbackUSDJPY
	}
	switch p.Class {
	case ClassMetal:
		if p.Base == "XAU" {
			return 10
		}
		return 0.5
	case ClassCrypto:
		return 1
	case ClassJPY:
		return 9.09
	default:
		return 10
	}
}

var typicalSpreads = map[string]float64{
	"EUR/USD": 1.0,
	"GBP/USD": 1.5,
	"USD/JPY": 1.0,
	"USD/CHF": 1.5,
	"AUD/USD": 1.5,
	"USD/CAD": 1.5,
	"NZD/USD": 2.0,
	"EUR/GBP": 2.0,
	"EUR/JPY": 2.0,
	"GBP/JPY": 3.0,
	"EUR/AUD": 3.0,
	"EUR/CHF": 2.0,
	"GBP/CHF": 3.0,
	"AUD/JPY": 2.5,
	"NZD/JPY": 3.0,
	"GBP/AUD": 3.5,
	"GBP/NZD": 4.0,
	"EUR/NZD": 4.0,
	"AUD/NZD": 3.0,
	"AUD/CAD": 2.5,
	"CAD/JPY": 2.5,
	"CHF/JPY": 3.0,
	"USD/ZAR": 15.0,
	"USD/MXN": 10.0,
	"USD/TRY": 20.0,
	"EUR/TRY": 25.0,
	"XAU/USD": 3.0,
	"XAG/USD": 3.5,
	"BTC/USD": 50.0,
	"ETH/USD": 5.0,
}

// TypicalSpread is a conservative retail spread in pips.
func TypicalSpread(symbol string) float64 {
	if v, ok := typicalSpreads[Resolve(symbol).Symbol]; ok {
		return v
	}
	return defaultSpreadPips
}

// AskPrice is mid plus half the typical spread.
func AskPrice(mid float64, symbol string) float64 {
	p := Resolve(symbol)
	return mid + TypicalSpread(symbol)/p.Multiplier/2
}

// BidPrice is mid minus half the typical spread.
func BidPrice(mid float64, symbol string) float64 {
	p := Resolve(symbol)
	return mid - TypicalSpread(symbol)/p.Multiplier/2
}

// PositionSize returns lots for a risk amount; zero when the stop distance or
// pip value is degenerate.
func PositionSize(riskAmount, stopPips, pipValueUSD float64) float64 {
	den := stopPips * pipValueUSD
	if den <= 0 || riskAmount <= 0 {
		return 0
	}
	return riskAmount / den
}

// PnL is lots × pips × pip value, negative when exit sits on the losing side
// of entry for the direction.
func PnL(entry, exit, lots float64, symbol string, long bool, pipValueUSD float64) (float64, error) {
	pips, err := Pips(entry, exit, symbol)
	if err != nil {
		return 0, err
	}
	pnl := lots * pips * pipValueUSD
	if (long && exit < entry) || (!long && exit > entry) {
		pnl = -pnl
	}
	return pnl, nil
}

// RiskReward is tpPips/slPips rounded to two decimals, zero for a zero stop.
func RiskReward(slPips, tpPips float64) float64 {
	if slPips == 0 {
		return 0
	}
	return round2(tpPips / slPips)
}

func round2(v float64) float64 {
	return decimal.NewFromFloat(v).Round(2).InexactFloat64()
}
