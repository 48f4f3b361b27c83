package models

import (
	"cmp"
	"fmt"
	"strings"
	"time"
)

// InstrumentType is the contract family of an instrument.
type InstrumentType string

const (
	InstrumentSpot      InstrumentType = "spot"
	InstrumentFuture    InstrumentType = "future"
	InstrumentPerpetual InstrumentType = "perpetual"
	InstrumentOption    InstrumentType = "option"
)

// OptionKind is call or put.
type OptionKind string

const (
	OptionCall OptionKind = "call"
	OptionPut  OptionKind = "put"
)

// OptionExercise is the exercise style of an option contract.
type OptionExercise string

const (
	ExerciseAmerican OptionExercise = "american"
	ExerciseEuropean OptionExercise = "european"
)

// OptionContract carries the terms of an option instrument.
type OptionContract struct {
	Kind     OptionKind     `json:"kind" yaml:"kind"`
	Exercise OptionExercise `json:"exercise" yaml:"exercise"`
	Expiry   time.Time      `json:"expiry" yaml:"expiry"`
	Strike   float64        `json:"strike" yaml:"strike"`
}

// InstrumentKind describes what is traded. Expiry is set for futures,
// Option for options.
type InstrumentKind struct {
	Type   InstrumentType  `json:"type" yaml:"type"`
	Expiry time.Time       `json:"expiry,omitempty" yaml:"expiry"`
	Option *OptionContract `json:"option,omitempty" yaml:"option"`
}

// Spot, Perpetual, Future and Option build the kinds used in subscriptions.
func Spot() InstrumentKind      { return InstrumentKind{Type: InstrumentSpot} }
func Perpetual() InstrumentKind { return InstrumentKind{Type: InstrumentPerpetual} }
func Future(expiry time.Time) InstrumentKind {
	return InstrumentKind{Type: InstrumentFuture, Expiry: expiry.UTC()}
}
func Option(contract OptionContract) InstrumentKind {
	contract.Expiry = contract.Expiry.UTC()
	return InstrumentKind{Type: InstrumentOption, Option: &contract}
}

// Equal compares kinds by value, including option terms.
func (k InstrumentKind) Equal(other InstrumentKind) bool {
	return k.Compare(other) == 0
}

// Compare orders kinds by type, expiry and option terms.
func (k InstrumentKind) Compare(other InstrumentKind) int {
	if c := cmp.Compare(k.Type, other.Type); c != 0 {
		return c
	}
	if c := k.Expiry.Compare(other.Expiry); c != 0 {
		return c
	}
	switch {
	case k.Option == nil && other.Option == nil:
		return 0
	case k.Option == nil:
		return -1
	case other.Option == nil:
		return 1
	}
	a, b := k.Option, other.Option
	if c := cmp.Compare(a.Kind, b.Kind); c != 0 {
		return c
	}
	if c := cmp.Compare(a.Exercise, b.Exercise); c != 0 {
		return c
	}
	if c := a.Expiry.Compare(b.Expiry); c != 0 {
		return c
	}
	return cmp.Compare(a.Strike, b.Strike)
}

func (k InstrumentKind) String() string {
	switch k.Type {
	case InstrumentFuture:
		return fmt.Sprintf("future_%s", k.Expiry.Format("2006-01-02"))
	case InstrumentOption:
		if k.Option == nil {
			return string(InstrumentOption)
		}
		return fmt.Sprintf("option_%s_%s_%s_%g",
			k.Option.Kind, k.Option.Exercise, k.Option.Expiry.Format("2006-01-02"), k.Option.Strike)
	default:
		return string(k.Type)
	}
}

// Instrument is an immutable base/quote/kind triple. Base and Quote are
// stored lowercase.
type Instrument struct {
	Base  string         `json:"base" yaml:"base"`
	Quote string         `json:"quote" yaml:"quote"`
	Kind  InstrumentKind `json:"kind" yaml:"kind"`
}

// NewInstrument normalises symbol casing.
func NewInstrument(base, quote string, kind InstrumentKind) Instrument {
	return Instrument{
		Base:  strings.ToLower(strings.TrimSpace(base)),
		Quote: strings.ToLower(strings.TrimSpace(quote)),
		Kind:  kind,
	}
}

// Equal compares all fields.
func (i Instrument) Equal(other Instrument) bool { return i.Compare(other) == 0 }

// Compare gives a total ordering over base, quote and kind.
func (i Instrument) Compare(other Instrument) int {
	if c := cmp.Compare(i.Base, other.Base); c != 0 {
		return c
	}
	if c := cmp.Compare(i.Quote, other.Quote); c != 0 {
		return c
	}
	return i.Kind.Compare(other.Kind)
}

// Validate rejects instruments with missing symbols or inconsistent kinds.
func (i Instrument) Validate() error {
	if i.Base == "" || i.Quote == "" {
		return fmt.Errorf("instrument %q: base and quote are required", i.String())
	}
	switch i.Kind.Type {
	case InstrumentSpot, InstrumentPerpetual:
	case InstrumentFuture:
		if i.Kind.Expiry.IsZero() {
			return fmt.Errorf("instrument %q: future requires an expiry", i.String())
		}
	case InstrumentOption:
		if i.Kind.Option == nil {
			return fmt.Errorf("instrument %q: option requires contract terms", i.String())
		}
	default:
		return fmt.Errorf("instrument %q: unknown kind %q", i.String(), i.Kind.Type)
	}
	return nil
}

func (i Instrument) String() string {
	return fmt.Sprintf("%s_%s_%s", i.Base, i.Quote, i.Kind)
}
