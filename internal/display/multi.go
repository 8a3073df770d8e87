package display

// Renderer is the display surface contract: it receives the full text to show.
type Renderer interface {
	Render(text string)
}

// Multi fans one render out to several surfaces in order.
type Multi []Renderer

func (m Multi) Render(text string) {
	for _, r := range m {
		r.Render(text)
	}
}
