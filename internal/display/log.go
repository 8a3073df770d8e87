package display

import (
	"strings"

	"github.com/rs/zerolog/log"
)

// Log writes each published ranking to the structured log, for headless runs.
type Log struct{}

func (Log) Render(text string) {
	lines := []string{}
	if text != "" {
		lines = strings.Split(text, "\n")
	}
	log.Info().Strs("ranking", lines).Msg("Display updated")
}
