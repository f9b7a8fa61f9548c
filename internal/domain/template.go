package domain

import (
	"fmt"
	"strings"
	"time"
)

// ContentType tags how rendered content should be interpreted by an adapter.
type ContentType string

const (
	ContentTypeText       ContentType = "text"
	ContentTypeHTML       ContentType = "html"
	ContentTypeMarkdown   ContentType = "markdown"
	ContentTypeStructured ContentType = "structured"
)

func (c ContentType) String() string { return string(c) }

func (c ContentType) IsValid() bool {
	switch c {
	case ContentTypeText, ContentTypeHTML, ContentTypeMarkdown, ContentTypeStructured:
		return true
	}
	return false
}

func ParseContentTypeFromString(s string) (ContentType, error) {
	ct := ContentType(strings.ToLower(strings.TrimSpace(s)))
	if ct == "" {
		return ContentTypeText, nil
	}
	if !ct.IsValid() {
		return "", fmt.Errorf("%w: invalid content type %q", ErrValidation, s)
	}
	return ct, nil
}

// Template is a named message definition with one content variant per channel.
type Template struct {
	ID        string
	Key       string
	Name      string
	Active    bool
	Contents  []TemplateContent
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ContentFor returns the content variant for channel, if any.
func (t *Template) ContentFor(channel Channel) (TemplateContent, bool) {
	if t == nil {
		return TemplateContent{}, false
	}
	for _, content := range t.Contents {
		if content.Channel == channel {
			return content, true
		}
	}
	return TemplateContent{}, false
}

// TemplateContent is the per-channel pattern pair of a template.
type TemplateContent struct {
	ID             string
	TemplateID     string
	Channel        Channel
	SubjectPattern *string
	ContentPattern string
	ContentType    ContentType
}

// RenderedContent is the output of rendering one template content variant.
type RenderedContent struct {
	Subject     *string
	Content     string
	ContentType ContentType
}
