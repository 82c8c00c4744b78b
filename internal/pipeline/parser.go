package pipeline

import (
	"fmt"
	"regexp"
	"time"

	"github.com/shopspring/decimal"
)

// ContractKey is the parsed form of an option's natural-key ticker, e.g.
// "QQQ US 10/03/25 C490 Equity".
type ContractKey struct {
	Ticker     string
	Underlying string
	Market     string
	Expiry     time.Time
	OptionType string // C | P
	Strike     decimal.Decimal
}

// Grammar: symbol, market qualifier, MM/DD/YY date token, class letter plus
// strike digits, instrument-type suffix.
var contractKeyRe = regexp.MustCompile(`^([A-Z][A-Z0-9.]*) ([A-Z]{1,4}) (\d{2})/(\d{2})/(\d{2}) ([CP])(\d+(?:\.\d+)?) ([A-Za-z]+)$`)

// ParseContractKey parses a natural-key ticker into its typed parts.
func ParseContractKey(ticker string) (ContractKey, error) {
	m := contractKeyRe.FindStringSubmatch(ticker)
	if m == nil {
		return ContractKey{}, fmt.Errorf("ticker %q does not match contract grammar", ticker)
	}

	expiry, err := time.Parse("01/02/06", fmt.Sprintf("%s/%s/%s", m[3], m[4], m[5]))
	if err != nil {
		return ContractKey{}, fmt.Errorf("ticker %q: invalid expiry: %w", ticker, err)
	}

	strike, err := decimal.NewFromString(m[7])
	if err != nil {
		return ContractKey{}, fmt.Errorf("ticker %q: invalid strike: %w", ticker, err)
	}
	if strike.Sign() <= 0 {
		return ContractKey{}, fmt.Errorf("ticker %q: strike must be positive", ticker)
	}

	return ContractKey{
		Ticker:     ticker,
		Underlying: m[1],
		Market:     m[2],
		Expiry:     expiry.UTC(),
		OptionType: m[6],
		Strike:     strike,
	}, nil
}
