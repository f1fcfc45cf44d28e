package chat

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"

	"github.com/smorand/easy-deck/internal/model"
)

// Turn is everything a Responder may look at to answer one message.
type Turn struct {
	Message string
	// Deck is nil for the deck-independent message log.
	Deck  *model.Deck
	Slide *model.Slide
	// SlideCount is the number of local slides in scope: the deck's for a
	// deck chat, all of the caller's otherwise.
	SlideCount      int
	GoogleConnected bool
}

// Responder produces the assistant's reply in Markdown.
type Responder interface {
	Respond(ctx context.Context, turn Turn) (string, error)
}

// TemplateResponder answers with a fixed template. It never plans or
// applies changes.
type TemplateResponder struct{}

func (TemplateResponder) Respond(_ context.Context, turn Turn) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "I understand you want to: %q.\n\n", turn.Message)

	if turn.Deck != nil {
		fmt.Fprintf(&b, "Working on deck **%s**", turn.Deck.Name)
		if turn.Slide != nil {
			fmt.Fprintf(&b, ", slide %d", turn.Slide.Index+1)
			if turn.Slide.Title != nil && *turn.Slide.Title != "" {
				fmt.Fprintf(&b, " (%s)", firstLine(*turn.Slide.Title))
			}
		}
		b.WriteString(".\n\n")
	}

	if turn.SlideCount == 0 {
		b.WriteString("Let's create your first slide!\n\n")
	} else {
		fmt.Fprintf(&b, "You currently have %d slide(s).\n\n", turn.SlideCount)
	}

	switch {
	case turn.Deck != nil && !turn.Deck.Connected():
		b.WriteString("This deck is not linked to a Google Slides presentation yet. Connect or link one to apply changes.")
	case !turn.GoogleConnected:
		b.WriteString("Connect your Google account to apply changes to the presentation.")
	default:
		b.WriteString("To apply changes, I would:\n" +
			"1. Work out which slides your request touches\n" +
			"2. Prepare the matching Google Slides update requests\n" +
			"3. Send them to the presentation once you confirm")
	}
	return b.String(), nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}

// Renderer converts replies from Markdown to HTML.
type Renderer struct {
	md goldmark.Markdown
}

// NewRenderer creates a Renderer with GitHub flavored Markdown. Raw HTML in
// the source is escaped, since replies quote user input.
func NewRenderer() *Renderer {
	return &Renderer{
		md: goldmark.New(
			goldmark.WithExtensions(extension.GFM),
			goldmark.WithRendererOptions(html.WithHardWraps()),
		),
	}
}

// Render converts Markdown to HTML.
func (r *Renderer) Render(source string) (string, error) {
	var buf bytes.Buffer
	if err := r.md.Convert([]byte(source), &buf); err != nil {
		return "", err
	}
	return buf.String(), nil
}
