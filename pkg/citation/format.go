package citation

import (
	"fmt"
	"strings"
)

// Format renders a citation in the given style.
func Format(c Citation, style Style) string {
	title := c.Metadata.Title
	if title == "" {
		title = c.SourceIdentifier
	}
	author := c.Metadata.Author
	date := c.Metadata.Date

	switch style {
	case StyleAPA:
		// Author (Date). Title. Source.
		parts := []string{}
		if author != "" {
			if date != "" {
				parts = append(parts, fmt.Sprintf("%s (%s).", author, date))
			} else {
				parts = append(parts, author+".")
			}
		} else if date != "" {
			parts = append(parts, fmt.Sprintf("(%s).", date))
		}
		parts = append(parts, title+".")
		if c.SourceIdentifier != "" && c.SourceIdentifier != title {
			parts = append(parts, c.SourceIdentifier+".")
		}
		return strings.Join(parts, " ")

	case StyleMLA:
		// Author. "Title." Source, Date.
		parts := []string{}
		if author != "" {
			parts = append(parts, author+".")
		}
		parts = append(parts, fmt.Sprintf("%q.", title))
		tail := c.SourceIdentifier
		if date != "" {
			tail += ", " + date
		}
		if tail != "" {
			parts = append(parts, tail+".")
		}
		return strings.Join(parts, " ")

	case StyleChicago:
		// Author. Title. Source, Date.
		parts := []string{}
		if author != "" {
			parts = append(parts, author+".")
		}
		parts = append(parts, title+".")
		tail := c.SourceIdentifier
		if date != "" {
			tail += ", " + date
		}
		if tail != "" {
			parts = append(parts, tail+".")
		}
		return strings.Join(parts, " ")

	case StyleIEEE:
		// [n] Author, "Title," Source, Date.
		parts := []string{fmt.Sprintf("[%d]", c.Index)}
		if author != "" {
			parts = append(parts, author+",")
		}
		parts = append(parts, fmt.Sprintf("%q,", title))
		if c.SourceIdentifier != "" {
			parts = append(parts, c.SourceIdentifier+",")
		}
		if date != "" {
			parts = append(parts, date+".")
		}
		return strings.TrimSuffix(strings.Join(parts, " "), ",")

	case StyleHarvard:
		// Author (Date) Title, Source.
		parts := []string{}
		if author != "" {
			parts = append(parts, author)
		}
		if date != "" {
			parts = append(parts, fmt.Sprintf("(%s)", date))
		}
		parts = append(parts, title+",")
		parts = append(parts, c.SourceIdentifier+".")
		return strings.Join(parts, " ")

	default:
		// Simple: Title (Source).
		if c.SourceIdentifier != "" && c.SourceIdentifier != title {
			return fmt.Sprintf("%s (%s)", title, c.SourceIdentifier)
		}
		return title
	}
}
