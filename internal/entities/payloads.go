package entities

import (
	"errors"
	"fmt"
	"time"
)

// Payload is the typed body of a QueuedAction. UpdatedAt is the client-side
// modification time the remote service compares for last-write-wins.
type Payload interface {
	Validate() error
	Anchor() string
	Stamp(t time.Time)
	ModifiedAt() time.Time
}

// NewPayload returns an empty payload of the right shape for t.
func NewPayload(t ActionType) (Payload, error) {
	switch t {
	case ActionUpdateProgress:
		return &ProgressPayload{}, nil
	case ActionCreateNote, ActionUpdateNote, ActionDeleteNote:
		return &NotePayload{op: t}, nil
	case ActionCreateHighlight, ActionDeleteHighlight:
		return &HighlightPayload{op: t}, nil
	case ActionUpdateBookmark:
		return &BookmarkPayload{}, nil
	}
	return nil, fmt.Errorf("unknown action type %q", t)
}

type stamp struct {
	UpdatedAt time.Time `json:"updated_at"`
}

func (s *stamp) Stamp(t time.Time) {
	if s.UpdatedAt.IsZero() {
		s.UpdatedAt = t.UTC()
	}
}

func (s *stamp) ModifiedAt() time.Time {
	return s.UpdatedAt
}

type ProgressPayload struct {
	BookID     string  `json:"book_id"`
	Page       int     `json:"page,omitempty"`
	Position   string  `json:"position,omitempty"` // Reader-specific locator such as an EPUB CFI
	Percentage float64 `json:"percentage,omitempty"`
	stamp
}

func (p *ProgressPayload) Validate() error {
	if p.BookID == "" {
		return errors.New("book_id is required")
	}
	if p.Page < 0 {
		return errors.New("page must not be negative")
	}
	if p.Percentage < 0 || p.Percentage > 100 {
		return fmt.Errorf("percentage %.2f is outside 0-100", p.Percentage)
	}
	return nil
}

func (p *ProgressPayload) Anchor() string { return "progress:" + p.BookID }

type NotePayload struct {
	NoteID      string `json:"note_id"`
	BookID      string `json:"book_id,omitempty"`
	HighlightID string `json:"highlight_id,omitempty"`
	Content     string `json:"content,omitempty"`
	stamp

	op ActionType
}

func (p *NotePayload) Validate() error {
	if p.NoteID == "" {
		return errors.New("note_id is required")
	}
	switch p.op {
	case ActionCreateNote:
		if p.BookID == "" {
			return errors.New("book_id is required")
		}
		if p.Content == "" {
			return errors.New("content is required")
		}
	case ActionUpdateNote:
		if p.Content == "" {
			return errors.New("content is required")
		}
	}
	return nil
}

func (p *NotePayload) Anchor() string { return "note:" + p.NoteID }

type HighlightPayload struct {
	HighlightID string `json:"highlight_id"`
	BookID      string `json:"book_id,omitempty"`
	Text        string `json:"text,omitempty"`
	Location    string `json:"location,omitempty"`
	Color       string `json:"color,omitempty"`
	stamp

	op ActionType
}

func (p *HighlightPayload) Validate() error {
	if p.HighlightID == "" {
		return errors.New("highlight_id is required")
	}
	if p.op == ActionCreateHighlight {
		if p.BookID == "" {
			return errors.New("book_id is required")
		}
		if p.Text == "" {
			return errors.New("text is required")
		}
	}
	return nil
}

func (p *HighlightPayload) Anchor() string { return "highlight:" + p.HighlightID }

type BookmarkPayload struct {
	BookID   string `json:"book_id"`
	Position string `json:"position"`
	Label    string `json:"label,omitempty"`
	stamp
}

func (p *BookmarkPayload) Validate() error {
	if p.BookID == "" {
		return errors.New("book_id is required")
	}
	if p.Position == "" {
		return errors.New("position is required")
	}
	return nil
}

func (p *BookmarkPayload) Anchor() string { return "bookmark:" + p.BookID }
