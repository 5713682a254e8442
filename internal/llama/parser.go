package llama

import "strings"

// debugMarkers identify inference-engine log lines interleaved with the
// generated text on stdout.
var debugMarkers = []string{
	"llama_",
	"gguf_",
	"main:",
	"build:",
	"system_info:",
	"warning:",
	"sampler",
	"generate:",
	"eval time",
}

func isDebugLine(line string) bool {
	for _, marker := range debugMarkers {
		if strings.Contains(line, marker) {
			return true
		}
	}
	return false
}

// outputParser extracts generated text from raw stdout lines. The CLI
// echoes the prompt before generating, so nothing counts as output
// until a line carries either the prompt or the assistant cue; the
// remainder of that line and every following non-debug line is text.
type outputParser struct {
	prompt  string
	started bool
}

// feed returns the text fragment carried by line, if any.
func (p *outputParser) feed(line string) (string, bool) {
	if isDebugLine(line) {
		return "", false
	}
	if !p.started {
		if p.prompt != "" && strings.Contains(line, p.prompt) {
			p.started = true
			_, rest, _ := strings.Cut(line, p.prompt)
			if rest == "" {
				return "", false
			}
			return rest, true
		}
		if strings.Contains(line, "Assistant:") {
			p.started = true
			_, rest, _ := strings.Cut(line, "Assistant:")
			if rest == "" {
				return "", false
			}
			return rest, true
		}
		return "", false
	}
	return line, true
}
