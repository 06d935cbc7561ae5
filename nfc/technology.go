package nfc

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Technology identifies one tag communication technology a transport can
// report for a tag encounter. The numeric order is the fixed read order used
// by the registry and by every TagReport.
type Technology uint8

const (
	TechNDEF Technology = iota
	TechNfcA
	TechNfcB
	TechNfcF
	TechNfcV
	TechMifareClassic
	TechMifareUltralight
	TechNdefFormatable

	numTechnologies
)

var technologyNames = [numTechnologies]string{
	TechNDEF:             "NDEF",
	TechNfcA:             "NfcA",
	TechNfcB:             "NfcB",
	TechNfcF:             "NfcF",
	TechNfcV:             "NfcV",
	TechMifareClassic:    "MifareClassic",
	TechMifareUltralight: "MifareUltralight",
	TechNdefFormatable:   "NdefFormatable",
}

// androidTechPrefix is how Android's Tag.getTechList() names technologies.
const androidTechPrefix = "android.nfc.tech."

// AllTechnologies returns every technology in registry order.
func AllTechnologies() []Technology {
	techs := make([]Technology, 0, numTechnologies)
	for t := Technology(0); t < numTechnologies; t++ {
		techs = append(techs, t)
	}
	return techs
}

// Valid reports whether t is one of the known technologies.
func (t Technology) Valid() bool {
	return t < numTechnologies
}

func (t Technology) String() string {
	if !t.Valid() {
		return fmt.Sprintf("Technology(%d)", uint8(t))
	}
	return technologyNames[t]
}

// AndroidName returns the Android class name for the technology,
// e.g. "android.nfc.tech.NfcA".
func (t Technology) AndroidName() string {
	if t == TechNDEF {
		return androidTechPrefix + "Ndef"
	}
	return androidTechPrefix + t.String()
}

func (t Technology) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("invalid technology %d", uint8(t))
	}
	return []byte(t.String()), nil
}

func (t *Technology) UnmarshalText(text []byte) error {
	parsed, err := ParseTechnology(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// ParseTechnology parses a technology name. It accepts the canonical names
// ("NfcA"), any casing of them ("nfca"), and Android class names
// ("android.nfc.tech.NfcA", "android.nfc.tech.Ndef").
func ParseTechnology(name string) (Technology, error) {
	s := strings.TrimSpace(name)
	s = strings.TrimPrefix(s, androidTechPrefix)
	if strings.EqualFold(s, "ndef") {
		return TechNDEF, nil
	}
	for t, n := range technologyNames {
		if strings.EqualFold(s, n) {
			return Technology(t), nil
		}
	}
	return 0, fmt.Errorf("unknown technology %q", name)
}

// TechnologySet is an immutable set of technologies.
type TechnologySet uint16

// NewTechnologySet builds a set from the given technologies. Invalid values
// are ignored.
func NewTechnologySet(techs ...Technology) TechnologySet {
	var s TechnologySet
	for _, t := range techs {
		s = s.With(t)
	}
	return s
}

// ParseTechnologySet parses a list of technology names (see ParseTechnology).
// Duplicates collapse into one member.
func ParseTechnologySet(names []string) (TechnologySet, error) {
	var s TechnologySet
	for _, name := range names {
		t, err := ParseTechnology(name)
		if err != nil {
			return 0, err
		}
		s = s.With(t)
	}
	return s, nil
}

// With returns a copy of the set that also contains t.
func (s TechnologySet) With(t Technology) TechnologySet {
	if !t.Valid() {
		return s
	}
	return s | 1<<t
}

// Has reports whether t is in the set.
func (s TechnologySet) Has(t Technology) bool {
	return t.Valid() && s&(1<<t) != 0
}

// Len returns the number of technologies in the set.
func (s TechnologySet) Len() int {
	n := 0
	for t := Technology(0); t < numTechnologies; t++ {
		if s.Has(t) {
			n++
		}
	}
	return n
}

// Technologies returns the members in registry order.
func (s TechnologySet) Technologies() []Technology {
	techs := make([]Technology, 0, s.Len())
	for t := Technology(0); t < numTechnologies; t++ {
		if s.Has(t) {
			techs = append(techs, t)
		}
	}
	return techs
}

func (s TechnologySet) String() string {
	names := make([]string, 0, numTechnologies)
	for _, t := range s.Technologies() {
		names = append(names, t.String())
	}
	return "{" + strings.Join(names, ", ") + "}"
}

func (s TechnologySet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Technologies())
}

func (s *TechnologySet) UnmarshalJSON(data []byte) error {
	var names []string
	if err := json.Unmarshal(data, &names); err != nil {
		return err
	}
	parsed, err := ParseTechnologySet(names)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
