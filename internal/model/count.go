package model

import "strconv"

// Count is an observation that distinguishes "no data reached us" from an
// observed value. Zero is a real count; absence means the company never
// appeared in the source at all. The two must never collapse into one
// number, so Count carries an explicit presence tag instead of using a
// nullable or sentinel value.
type Count struct {
	n     int64
	known bool
}

// Absent returns the never-observed Count.
func Absent() Count {
	return Count{}
}

// CountOf returns an observed Count, including an observed zero.
func CountOf(n int64) Count {
	return Count{n: n, known: true}
}

// Known reports whether the value was observed.
func (c Count) Known() bool {
	return c.known
}

// Value returns the observed value and whether one exists.
func (c Count) Value() (int64, bool) {
	return c.n, c.known
}

// OrZero collapses absence to zero. Callers use this only where they have
// decided absence should count as zero; the default path keeps the tag.
func (c Count) OrZero() int64 {
	return c.n
}

// Add returns the Count increased by d. Absence is sticky: adding to an
// absent Count does not invent an observation.
func (c Count) Add(d int64) Count {
	if !c.known {
		return c
	}
	return CountOf(c.n + d)
}

// String renders the observed value, or "absent".
func (c Count) String() string {
	if !c.known {
		return "absent"
	}
	return strconv.FormatInt(c.n, 10)
}

// MarshalJSON renders absence as null and observations as numbers.
func (c Count) MarshalJSON() ([]byte, error) {
	if !c.known {
		return []byte("null"), nil
	}
	return []byte(strconv.FormatInt(c.n, 10)), nil
}

// UnmarshalJSON accepts null (absent) or an integer.
func (c *Count) UnmarshalJSON(b []byte) error {
	s := string(b)
	if s == "null" {
		*c = Absent()
		return nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return err
	}
	*c = CountOf(n)
	return nil
}
