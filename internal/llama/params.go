package llama

import "strconv"

// Sampling defaults, matching what the inference CLI documents.
const (
	DefaultTemperature = 0.7
	DefaultTopK        = 40
	DefaultTopP        = 0.95
	DefaultNPredict    = 128
	DefaultThreads     = 4
	DefaultCtxSize     = 2048
)

// Params carries one generation request. Values are passed to the
// executable unmodified; callers resolve optional fields first, or use
// WithDefaults when a zero value means "unset".
type Params struct {
	Prompt      string
	Temperature float64
	TopK        int
	TopP        float64
	NPredict    int
	Threads     int
	CtxSize     int
}

// WithDefaults fills zero-valued sampling fields with the documented
// defaults.
func (p Params) WithDefaults() Params {
	if p.Temperature == 0 {
		p.Temperature = DefaultTemperature
	}
	if p.TopK == 0 {
		p.TopK = DefaultTopK
	}
	if p.TopP == 0 {
		p.TopP = DefaultTopP
	}
	if p.NPredict == 0 {
		p.NPredict = DefaultNPredict
	}
	if p.Threads == 0 {
		p.Threads = DefaultThreads
	}
	if p.CtxSize == 0 {
		p.CtxSize = DefaultCtxSize
	}
	return p
}

// args builds the llama-cli argument list. Flag names follow the
// upstream CLI; -ngl 0 keeps inference on CPU and -b 1 pins the batch
// size, both fixed by the deployment.
func (p Params) args(modelPath string) []string {
	return []string{
		"-m", modelPath,
		"-n", strconv.Itoa(p.NPredict),
		"-t", strconv.Itoa(p.Threads),
		"-p", p.Prompt,
		"-ngl", "0",
		"-c", strconv.Itoa(p.CtxSize),
		"--temp", strconv.FormatFloat(p.Temperature, 'f', -1, 64),
		"-b", "1",
		"--top_k", strconv.Itoa(p.TopK),
		"--top_p", strconv.FormatFloat(p.TopP, 'f', -1, 64),
	}
}
