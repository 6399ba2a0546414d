package model

// Flag is a three-valued truth value for funnel-stage predicates. A stage
// evaluated against an absent source is Unknown, which is distinct from a
// confirmed False: downstream percentage math must be able to exclude
// companies with no evidence instead of counting them as drop-off.
type Flag string

const (
	FlagTrue    Flag = "true"
	FlagFalse   Flag = "false"
	FlagUnknown Flag = "unknown"
)

// FlagOf converts an observed boolean to a Flag.
func FlagOf(b bool) Flag {
	if b {
		return FlagTrue
	}
	return FlagFalse
}

// Known reports whether the flag carries evidence either way.
func (f Flag) Known() bool {
	return f == FlagTrue || f == FlagFalse
}

// Bool returns the boolean value and whether one is known.
func (f Flag) Bool() (bool, bool) {
	switch f {
	case FlagTrue:
		return true, true
	case FlagFalse:
		return false, true
	default:
		return false, false
	}
}

// And combines two flags under Kleene logic: a confirmed False dominates,
// then Unknown, then True.
func (f Flag) And(g Flag) Flag {
	if f == FlagFalse || g == FlagFalse {
		return FlagFalse
	}
	if f == FlagTrue && g == FlagTrue {
		return FlagTrue
	}
	return FlagUnknown
}

// Or combines two flags under Kleene logic: a confirmed True dominates.
func (f Flag) Or(g Flag) Flag {
	if f == FlagTrue || g == FlagTrue {
		return FlagTrue
	}
	if f == FlagFalse && g == FlagFalse {
		return FlagFalse
	}
	return FlagUnknown
}

// Not negates a known flag and leaves Unknown untouched.
func (f Flag) Not() Flag {
	switch f {
	case FlagTrue:
		return FlagFalse
	case FlagFalse:
		return FlagTrue
	default:
		return FlagUnknown
	}
}

// String normalizes the zero value to "unknown".
func (f Flag) String() string {
	if f == "" {
		return string(FlagUnknown)
	}
	return string(f)
}
