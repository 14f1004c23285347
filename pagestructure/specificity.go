package pagestructure

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// SegmentKind classifies a dynamic path segment. Lower kinds are less
// specific.
type SegmentKind uint8

const (
	CatchAll       SegmentKind = iota // [...name] or [[...name]]
	DynamicSegment                    // [name]
)

func (k SegmentKind) String() string {
	switch k {
	case CatchAll:
		return "catchall"
	case DynamicSegment:
		return "dynamic"
	default:
		return fmt.Sprintf("SegmentKind(%d)", uint8(k))
	}
}

type SpecificityElement struct {
	Position uint32
	Kind     SegmentKind
}

const elementSize = 5

// Specificity ranks routes that could match the same URL. The zero value is
// Exact. Values are immutable and comparable, so they can be used as map keys
// and task inputs.
//
// Elements are kept in the order they were added, which during a walk is
// ascending depth. Ordering walks both element lists together: an element at
// an earlier position is less specific, elements at the same position are
// ranked by kind, and when one list runs out first the shorter one (fewer
// dynamic markers) is more specific.
type Specificity struct {
	enc string // elementSize bytes per element
}

func Exact() Specificity {
	return Specificity{}
}

func (s Specificity) WithDynamicSegment(position uint32) Specificity {
	return s.with(position, DynamicSegment)
}

func (s Specificity) WithCatchAll(position uint32) Specificity {
	return s.with(position, CatchAll)
}

func (s Specificity) with(position uint32, kind SegmentKind) Specificity {
	var b [elementSize]byte
	binary.BigEndian.PutUint32(b[:4], position)
	b[4] = byte(kind)
	return Specificity{enc: s.enc + string(b[:])}
}

func (s Specificity) IsExact() bool {
	return s.enc == ""
}

func (s Specificity) Len() int {
	return len(s.enc) / elementSize
}

func (s Specificity) element(i int) SpecificityElement {
	off := i * elementSize
	return SpecificityElement{
		Position: binary.BigEndian.Uint32([]byte(s.enc[off : off+4])),
		Kind:     SegmentKind(s.enc[off+4]),
	}
}

func (s Specificity) Elements() []SpecificityElement {
	out := make([]SpecificityElement, s.Len())
	for i := range out {
		out[i] = s.element(i)
	}
	return out
}

// Compare returns -1 if a is less specific than b, +1 if it is more specific
// and 0 if they rank the same.
func Compare(a, b Specificity) int {
	na, nb := a.Len(), b.Len()
	for i := 0; i < na && i < nb; i++ {
		ea, eb := a.element(i), b.element(i)
		if ea.Position != eb.Position {
			if ea.Position < eb.Position {
				return -1
			}
			return 1
		}
		if ea.Kind != eb.Kind {
			if ea.Kind < eb.Kind {
				return -1
			}
			return 1
		}
	}
	switch {
	case na > nb:
		return -1
	case na < nb:
		return 1
	default:
		return 0
	}
}

func (s Specificity) Compare(other Specificity) int {
	return Compare(s, other)
}

// Less reports whether s is less specific than other.
func (s Specificity) Less(other Specificity) bool {
	return Compare(s, other) < 0
}

func (s Specificity) Equal(other Specificity) bool {
	return s.enc == other.enc
}

// String renders s as "exact" or as space separated elements such as
// "dynamic@1 catchall@2".
func (s Specificity) String() string {
	if s.IsExact() {
		return "exact"
	}
	parts := make([]string, 0, s.Len())
	for _, e := range s.Elements() {
		parts = append(parts, fmt.Sprintf("%s@%d", e.Kind, e.Position))
	}
	return strings.Join(parts, " ")
}

func (s Specificity) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *Specificity) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	v, err := ParseSpecificity(str)
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// ParseSpecificity is the inverse of Specificity.String.
func ParseSpecificity(str string) (Specificity, error) {
	s := Exact()
	if str == "exact" {
		return s, nil
	}
	fields := strings.Fields(str)
	if len(fields) == 0 {
		return s, fmt.Errorf("pagestructure: empty specificity")
	}
	for _, f := range fields {
		kind, pos, ok := strings.Cut(f, "@")
		if !ok {
			return Exact(), fmt.Errorf("pagestructure: malformed specificity element %q", f)
		}
		n, err := strconv.ParseUint(pos, 10, 32)
		if err != nil {
			return Exact(), fmt.Errorf("pagestructure: specificity position %q: %w", pos, err)
		}
		switch kind {
		case "dynamic":
			s = s.WithDynamicSegment(uint32(n))
		case "catchall":
			s = s.WithCatchAll(uint32(n))
		default:
			return Exact(), fmt.Errorf("pagestructure: unknown segment kind %q", kind)
		}
	}
	return s, nil
}
