package notiontest

import "fmt"

// Paragraph builds a paragraph block document.
func Paragraph(id, text string) map[string]any {
	return block(id, "paragraph", false, map[string]any{
		"rich_text": []any{richText(text)},
	})
}

// Toggle builds a toggle block that reports nested children.
func Toggle(id, text string) map[string]any {
	return block(id, "toggle", true, map[string]any{
		"rich_text": []any{richText(text)},
	})
}

// Paragraphs builds n paragraph blocks with IDs prefix-0 .. prefix-(n-1).
func Paragraphs(prefix string, n int) []map[string]any {
	out := make([]map[string]any, 0, n)
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("%s-%d", prefix, i)
		out = append(out, Paragraph(id, "text "+id))
	}
	return out
}

func block(id, kind string, hasChildren bool, content map[string]any) map[string]any {
	return map[string]any{
		"object":           "block",
		"id":               id,
		"type":             kind,
		"has_children":     hasChildren,
		"archived":         false,
		"created_time":     "2024-01-01T00:00:00.000Z",
		"last_edited_time": "2024-01-01T00:00:00.000Z",
		kind:               content,
	}
}

func richText(text string) map[string]any {
	return map[string]any{
		"type":       "text",
		"text":       map[string]any{"content": text},
		"plain_text": text,
	}
}

// TitleProp builds a title property value.
func TitleProp(text string) map[string]any {
	return map[string]any{"type": "title", "title": []any{richText(text)}}
}

// RichTextProp builds a rich_text property value.
func RichTextProp(text string) map[string]any {
	return map[string]any{"type": "rich_text", "rich_text": []any{richText(text)}}
}

// DateProp builds a date property value.
func DateProp(start string) map[string]any {
	return map[string]any{"type": "date", "date": map[string]any{"start": start}}
}

// SelectProp builds a select property value.
func SelectProp(name string) map[string]any {
	return map[string]any{"type": "select", "select": map[string]any{"name": name}}
}

// FormulaStringProp builds a formula property with a string result.
func FormulaStringProp(value string) map[string]any {
	return map[string]any{
		"type":    "formula",
		"formula": map[string]any{"type": "string", "string": value},
	}
}

// PostProps builds the property set of a published blog post.
func PostProps(title, slug, date, tags string) map[string]any {
	return map[string]any{
		"title":       TitleProp(title),
		"slug":        RichTextProp(slug),
		"date":        DateProp(date),
		"tags":        FormulaStringProp(tags),
		"description": RichTextProp("about " + title),
		"stage":       SelectProp("Published"),
	}
}
