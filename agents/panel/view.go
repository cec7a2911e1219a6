package panel

import (
	"fmt"
	"io"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Tone colours the cloud status line.
type Tone string

const (
	ToneNone    Tone = ""
	ToneMuted   Tone = "muted"
	ToneSuccess Tone = "success"
	ToneError   Tone = "error"
)

// Control is the local analysis start control.
type Control struct {
	Visible bool
	Enabled bool
	Label   string
}

// View is everything the panel shows. Result holds markup.
type View struct {
	Status           string
	Result           string
	CloudStatus      string
	CloudTone        Tone
	ClientControl    Control
	CredentialPrompt bool
	CloudBusy        bool
}

type Renderer interface {
	Render(View)
}

type RendererFunc func(View)

func (f RendererFunc) Render(v View) { f(v) }

// TerminalRenderer prints the fields that changed since the last render,
// with markup flattened to text.
type TerminalRenderer struct {
	w    io.Writer
	last View
}

func NewTerminalRenderer(w io.Writer) *TerminalRenderer {
	return &TerminalRenderer{w: w}
}

func (r *TerminalRenderer) Render(v View) {
	if v.Status != r.last.Status && v.Status != "" {
		fmt.Fprintf(r.w, "status: %s\n", v.Status)
	}
	if v.Result != r.last.Result && v.Result != "" {
		fmt.Fprintf(r.w, "\n%s\n\n", flatten(v.Result))
	}
	if v.CloudStatus != r.last.CloudStatus && v.CloudStatus != "" {
		fmt.Fprintf(r.w, "cloud: %s\n", v.CloudStatus)
	}
	if v.ClientControl != r.last.ClientControl && v.ClientControl.Visible && v.ClientControl.Enabled {
		fmt.Fprintf(r.w, "[local] %s\n", v.ClientControl.Label)
	}
	if v.CredentialPrompt && !r.last.CredentialPrompt {
		fmt.Fprintln(r.w, "[key] enter your Gemini API key with: key <value>")
	}
	r.last = v
}

func flatten(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return html
	}

	var lines []string
	doc.Find("p, h1, h2, h3, li").Each(func(_ int, s *goquery.Selection) {
		text := strings.TrimSpace(s.Text())
		if text == "" {
			return
		}
		if goquery.NodeName(s) == "li" {
			text = "  - " + text
		}
		lines = append(lines, text)
	})
	return strings.Join(lines, "\n")
}
