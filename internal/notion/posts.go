package notion

import "strings"

// BlogPost is the listing view of a published page.
type BlogPost struct {
	ID          string   `json:"id"`
	Cover       string   `json:"cover,omitempty"`
	Title       string   `json:"title,omitempty"`
	Date        string   `json:"date,omitempty"`
	Description string   `json:"description,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	Slug        string   `json:"slug,omitempty"`
	Stage       string   `json:"stage,omitempty"`
}

// ToBlogPost maps the page's typed properties onto a BlogPost. A property of
// an unexpected kind, or one that fails to decode, leaves its field empty.
func ToBlogPost(page Page) BlogPost {
	post := BlogPost{ID: page.ID}
	if page.Cover != nil && page.Cover.Type == "external" && page.Cover.External != nil {
		post.Cover = page.Cover.External.URL
	}

	for name, raw := range page.Properties {
		prop, err := DecodeProperty(raw)
		if err != nil {
			continue
		}
		switch name {
		case "title":
			post.Title = textOf(prop)
		case "description":
			post.Description = textOf(prop)
		case "slug":
			post.Slug = textOf(prop)
		case "date":
			post.Date = dateOf(prop)
		case "tags":
			post.Tags = tagsOf(prop)
		case "stage":
			post.Stage = selectOf(prop)
		}
	}
	return post
}

func textOf(prop Property) string {
	switch p := prop.(type) {
	case TitleProperty:
		return FirstPlainText(p.Title)
	case RichTextProperty:
		return FirstPlainText(p.RichText)
	case FormulaProperty:
		if p.Formula.String != nil {
			return *p.Formula.String
		}
		return ""
	case DateProperty, SelectProperty, UnsupportedProperty:
		return ""
	default:
		return ""
	}
}

func dateOf(prop Property) string {
	switch p := prop.(type) {
	case DateProperty:
		if p.Date == nil {
			return ""
		}
		return p.Date.Start
	case FormulaProperty:
		if p.Formula.Date != nil {
			return p.Formula.Date.Start
		}
		return ""
	case TitleProperty, RichTextProperty, SelectProperty, UnsupportedProperty:
		return ""
	default:
		return ""
	}
}

func tagsOf(prop Property) []string {
	switch p := prop.(type) {
	case FormulaProperty:
		if p.Formula.Type != "string" || p.Formula.String == nil {
			return nil
		}
		return splitTags(*p.Formula.String)
	case RichTextProperty:
		return splitTags(PlainText(p.RichText))
	case TitleProperty, DateProperty, SelectProperty, UnsupportedProperty:
		return nil
	default:
		return nil
	}
}

func selectOf(prop Property) string {
	switch p := prop.(type) {
	case SelectProperty:
		if p.Select == nil {
			return ""
		}
		return p.Select.Name
	case TitleProperty, RichTextProperty, DateProperty, FormulaProperty, UnsupportedProperty:
		return ""
	default:
		return ""
	}
}

func splitTags(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	tags := make([]string, 0, len(parts))
	for _, part := range parts {
		if tag := strings.TrimSpace(part); tag != "" {
			tags = append(tags, tag)
		}
	}
	return tags
}
