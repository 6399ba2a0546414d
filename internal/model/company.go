package model

import (
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// CompanyID is the canonical account identifier shared by every source.
type CompanyID int64

// ParseCompanyID parses a company identifier from an extract cell. Upstream
// exports format some ids as floats ("870.0"), so integral floats are
// accepted; anything else is rejected.
func ParseCompanyID(s string) (CompanyID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, eris.New("model: empty company id")
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return CompanyID(n), nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, eris.Errorf("model: invalid company id %q", s)
	}
	n := int64(f)
	if float64(n) != f {
		return 0, eris.Errorf("model: non-integral company id %q", s)
	}
	return CompanyID(n), nil
}

func (id CompanyID) String() string {
	return strconv.FormatInt(int64(id), 10)
}

// SignupAttrs are the account attributes carried by the base signup source.
type SignupAttrs struct {
	Email       string    `json:"email"`
	CompanyName string    `json:"company_name"`
	Slug        string    `json:"slug"`
	Plan        string    `json:"plan,omitempty"`
	SignupAt    time.Time `json:"signup_at"`
}
