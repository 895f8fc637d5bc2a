// Package credit owns caller balances and fixed-point credit arithmetic.
// Balances and prices are integer micro-credits (1e-6); billing math never
// touches binary floats, so per-call rounding cannot drift over time.
package credit

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Amount is a credit value in micro-credits. 1 credit == 1_000_000 micros.
type Amount int64

const Micro = 1_000_000

var ErrMalformedAmount = errors.New("malformed credit amount")

// FromFloat converts a human-entered credit value (top-ups, config) into
// micro-credits, rounding half away from zero.
func FromFloat(v float64) Amount {
	if v < 0 {
		return -FromFloat(-v)
	}
	return Amount(v*Micro + 0.5)
}

// Parse reads a decimal string such as "10", "0.001667" or "-2.5".
// At most six fractional digits are kept; anything beyond is rejected
// rather than silently truncated.
func Parse(s string) (Amount, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, ErrMalformedAmount
	}

	neg := false
	switch s[0] {
	case '-':
		neg = true
		s = s[1:]
	case '+':
		s = s[1:]
	}

	whole, frac, _ := strings.Cut(s, ".")
	if whole == "" {
		whole = "0"
	}
	w, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrMalformedAmount, s)
	}
	if len(frac) > 6 {
		return 0, fmt.Errorf("%w: %q has more than 6 fractional digits", ErrMalformedAmount, s)
	}
	var f int64
	if frac != "" {
		f, err = strconv.ParseInt(frac+strings.Repeat("0", 6-len(frac)), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrMalformedAmount, s)
		}
	}

	a := Amount(w*Micro + f)
	if neg {
		a = -a
	}
	return a, nil
}

// String renders the amount as a decimal with trailing zeros trimmed.
func (a Amount) String() string {
	neg := a < 0
	if neg {
		a = -a
	}
	whole := int64(a) / Micro
	frac := int64(a) % Micro

	var s string
	if frac == 0 {
		s = strconv.FormatInt(whole, 10)
	} else {
		s = strconv.FormatInt(whole, 10) + "." + strings.TrimRight(fmt.Sprintf("%06d", frac), "0")
	}
	if neg {
		s = "-" + s
	}
	return s
}

func (a Amount) Micros() int64 { return int64(a) }

// Float returns an approximate float value, for metrics and logs only.
func (a Amount) Float() float64 { return float64(a) / Micro }

func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(a.String()), nil
}

func (a *Amount) UnmarshalJSON(data []byte) error {
	v, err := Parse(strings.Trim(string(data), `"`))
	if err != nil {
		return err
	}
	*a = v
	return nil
}

// Cost computes (in/1000)*inPer1K + (out/1000)*outPer1K with round-half-up
// at micro-credit precision.
func Cost(inputTokens, outputTokens int, inputPer1K, outputPer1K Amount) Amount {
	return perKilo(inputTokens, inputPer1K) + perKilo(outputTokens, outputPer1K)
}

func perKilo(tokens int, per1K Amount) Amount {
	if tokens <= 0 || per1K <= 0 {
		return 0
	}
	return Amount((int64(tokens)*int64(per1K) + 500) / 1000)
}
