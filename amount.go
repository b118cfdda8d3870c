package remittance

// Amount is a monetary value. Value is carried as a decimal string; the engine never parses it
// as a number and never converts between units (spec section 3).
type Amount struct {
	Value string `json:"value"`
	Unit  Unit   `json:"unit"`
}

// Unit names the denomination of an Amount. Decimals is optional because not every namespace
// needs to declare a fixed fractional precision (e.g. "bsv:sat" is always integral).
type Unit struct {
	Namespace string `json:"namespace"`
	Code      string `json:"code"`
	Decimals  *uint8 `json:"decimals,omitempty"`
}

func (a Amount) Copy() Amount {
	result := Amount{
		Value: CopyString(a.Value),
		Unit: Unit{
			Namespace: CopyString(a.Unit.Namespace),
			Code:      CopyString(a.Unit.Code),
		},
	}

	if a.Unit.Decimals != nil {
		d := *a.Unit.Decimals
		result.Unit.Decimals = &d
	}

	return result
}

// CopyString returns an independent copy of s so a deep-copied struct shares no backing array
// with the original (grounded on the teacher's negotiation.CopyString).
func CopyString(s string) string {
	if len(s) == 0 {
		return s
	}
	b := make([]byte, len(s))
	copy(b, s)
	return string(b)
}
