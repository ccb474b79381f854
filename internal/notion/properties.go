package notion

import (
	"encoding/json"
	"fmt"
	"strings"
)

// PropertyKind is the "type" tag of a page property.
type PropertyKind string

const (
	KindTitle    PropertyKind = "title"
	KindRichText PropertyKind = "rich_text"
	KindDate     PropertyKind = "date"
	KindFormula  PropertyKind = "formula"
	KindSelect   PropertyKind = "select"
)

// Property is a decoded page property. The concrete types below are the only
// implementations; kinds the blog does not read decode to UnsupportedProperty.
type Property interface {
	Kind() PropertyKind
	isProperty()
}

// RichText is one run of formatted text. Only the plain text is kept.
type RichText struct {
	PlainText string `json:"plain_text"`
	Href      string `json:"href,omitempty"`
}

// DateValue is a date or date range; Start is an ISO 8601 string.
type DateValue struct {
	Start    string `json:"start"`
	End      string `json:"end,omitempty"`
	TimeZone string `json:"time_zone,omitempty"`
}

// SelectOption is the chosen option of a select property.
type SelectOption struct {
	ID    string `json:"id,omitempty"`
	Name  string `json:"name"`
	Color string `json:"color,omitempty"`
}

// FormulaValue is the computed result of a formula; exactly one of the value
// fields is set, according to Type.
type FormulaValue struct {
	Type    string     `json:"type"`
	String  *string    `json:"string,omitempty"`
	Number  *float64   `json:"number,omitempty"`
	Boolean *bool      `json:"boolean,omitempty"`
	Date    *DateValue `json:"date,omitempty"`
}

type TitleProperty struct {
	Title []RichText
}

type RichTextProperty struct {
	RichText []RichText
}

type DateProperty struct {
	Date *DateValue
}

type FormulaProperty struct {
	Formula FormulaValue
}

type SelectProperty struct {
	Select *SelectOption
}

// UnsupportedProperty records the tag of a property kind the blog ignores.
type UnsupportedProperty struct {
	Type string
}

func (TitleProperty) Kind() PropertyKind { return KindTitle }
func (RichTextProperty) Kind() PropertyKind { return KindRichText }
func (DateProperty) Kind() PropertyKind { return KindDate }
func (FormulaProperty) Kind() PropertyKind { return KindFormula }
func (SelectProperty) Kind() PropertyKind { return KindSelect }
func (p UnsupportedProperty) Kind() PropertyKind { return PropertyKind(p.Type) }

func (TitleProperty) isProperty() {}
func (RichTextProperty) isProperty() {}
func (DateProperty) isProperty() {}
func (FormulaProperty) isProperty() {}
func (SelectProperty) isProperty() {}
func (UnsupportedProperty) isProperty() {}

// PlainText joins the plain text of every run.
func PlainText(runs []RichText) string {
	var b strings.Builder
	for _, run := range runs {
		b.WriteString(run.PlainText)
	}
	return b.String()
}

// FirstPlainText returns the first run's plain text, or "".
func FirstPlainText(runs []RichText) string {
	if len(runs) == 0 {
		return ""
	}
	return runs[0].PlainText
}

// DecodeProperty decodes one entry of a page's properties map.
func DecodeProperty(raw json.RawMessage) (Property, error) {
	var tagged struct {
		Type     string        `json:"type"`
		Title    []RichText    `json:"title"`
		RichText []RichText    `json:"rich_text"`
		Date     *DateValue    `json:"date"`
		Formula  *FormulaValue `json:"formula"`
		Select   *SelectOption `json:"select"`
	}
	if err := json.Unmarshal(raw, &tagged); err != nil {
		return nil, fmt.Errorf("decode property: %w", err)
	}

	switch PropertyKind(tagged.Type) {
	case KindTitle:
		return TitleProperty{Title: tagged.Title}, nil
	case KindRichText:
		return RichTextProperty{RichText: tagged.RichText}, nil
	case KindDate:
		return DateProperty{Date: tagged.Date}, nil
	case KindFormula:
		if tagged.Formula == nil {
			return FormulaProperty{}, nil
		}
		return FormulaProperty{Formula: *tagged.Formula}, nil
	case KindSelect:
		return SelectProperty{Select: tagged.Select}, nil
	case "":
		return nil, fmt.Errorf("decode property: missing type tag")
	default:
		return UnsupportedProperty{Type: tagged.Type}, nil
	}
}

// Property decodes the named property of the page. A missing property yields
// (nil, false, nil).
func (p Page) Property(name string) (Property, bool, error) {
	raw, ok := p.Properties[name]
	if !ok {
		return nil, false, nil
	}
	prop, err := DecodeProperty(raw)
	if err != nil {
		return nil, true, fmt.Errorf("property %q: %w", name, err)
	}
	return prop, true, nil
}
