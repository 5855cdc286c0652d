package model

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// MaxBodyLength bounds post and comment text, in runes.
const MaxBodyLength = 5000

// NormalizeBody trims surrounding whitespace and applies NFC normalization so
// that visually identical text compares equal across clients.
func NormalizeBody(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}

// ValidatePost normalizes the item body in place and checks the fields a
// create mutation needs. It runs before the mutation is recorded.
func ValidatePost(item *FeedItem) error {
	item.Body = NormalizeBody(item.Body)

	if item.AuthorID == "" {
		return Validation("post author is required")
	}
	if !item.Role.Valid() {
		return Validation("invalid role %q", item.Role)
	}
	a := item.Attachments
	if item.Body == "" && len(a.Images) == 0 && len(a.Files) == 0 && len(a.Links) == 0 {
		return Validation("post must have text or an attachment")
	}
	if len([]rune(item.Body)) > MaxBodyLength {
		return Validation("post text exceeds %d characters", MaxBodyLength)
	}
	if len(a.Images) > 1 {
		return Validation("a post carries at most one image, got %d", len(a.Images))
	}
	for _, ref := range append(append(append([]string{}, a.Images...), a.Files...), a.Links...) {
		if strings.TrimSpace(ref) == "" {
			return Validation("attachment reference must not be empty")
		}
	}
	return nil
}

// ValidateComment normalizes the comment body in place and checks required fields.
func ValidateComment(c *Comment) error {
	c.Body = NormalizeBody(c.Body)

	if c.ParentID == "" {
		return Validation("comment target is required")
	}
	if c.AuthorID == "" {
		return Validation("comment author is required")
	}
	if !c.Role.Valid() {
		return Validation("invalid role %q", c.Role)
	}
	if c.Body == "" {
		return Validation("comment must not be empty")
	}
	if len([]rune(c.Body)) > MaxBodyLength {
		return Validation("comment exceeds %d characters", MaxBodyLength)
	}
	return nil
}
