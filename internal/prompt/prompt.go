// Package prompt holds the interactive terminal flows: the first-run setup
// wizard and the hot-mode warning.
package prompt

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/fakeyudi/wolf/internal/config"
	"github.com/fakeyudi/wolf/internal/logs"
	"github.com/fakeyudi/wolf/internal/throttle"
)

// Prompter reads answers from In and writes questions to Out.
type Prompter struct {
	in  *bufio.Reader
	out io.Writer
}

// New returns a prompter over in and out.
func New(in io.Reader, out io.Writer) *Prompter {
	return &Prompter{in: bufio.NewReader(in), out: out}
}

func (p *Prompter) ask(prompt, defaultVal string) (string, error) {
	if defaultVal != "" {
		fmt.Fprintf(p.out, "%s [%s]: ", prompt, defaultVal)
	} else {
		fmt.Fprintf(p.out, "%s: ", prompt)
	}
	line, err := p.in.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return "", err
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return defaultVal, nil
	}
	return line, nil
}

func (p *Prompter) askBool(prompt string, defaultVal bool) (bool, error) {
	def := "n"
	if defaultVal {
		def = "y"
	}
	ans, err := p.ask(prompt+" (y/n)", def)
	if err != nil {
		return false, err
	}
	ans = strings.ToLower(ans)
	return ans == "y" || ans == "yes", nil
}

// Confirm asks a yes/no question.
func (p *Prompter) Confirm(question string, defaultVal bool) (bool, error) {
	return p.askBool(question, defaultVal)
}

// Setup runs the setup wizard. Values in existing are offered as defaults
// (edit mode). The result is not saved.
func (p *Prompter) Setup(existing *config.Config) (*config.Config, error) {
	cfg := config.Defaults()
	if existing != nil {
		cfg = config.Merge(existing, nil)
	}

	fmt.Fprintln(p.out)
	fmt.Fprintln(p.out, "  ┌─────────────────────────────────┐")
	fmt.Fprintln(p.out, "  │     wolf, first-time setup      │")
	fmt.Fprintln(p.out, "  └─────────────────────────────────┘")
	fmt.Fprintln(p.out)

	var err error

	cfg.Python, err = p.ask("  Python interpreter", cfg.Python)
	if err != nil {
		return nil, err
	}

	cfg.RootDir, err = p.ask("  Directory containing scripts/wolf.py", cfg.RootDir)
	if err != nil {
		return nil, err
	}

	hot, err := p.askBool("  Trace on every edit (hot mode)", cfg.IsHot())
	if err != nil {
		return nil, err
	}
	cfg.Hot = config.Bool(hot)

	if hot {
		freq, err := p.ask(fmt.Sprintf("  Hot mode delay in ms (%d-%d)", throttle.MinHotFrequency, throttle.MaxHotFrequency), strconv.Itoa(cfg.HotFrequency))
		if err != nil {
			return nil, err
		}
		n, convErr := strconv.Atoi(freq)
		if convErr != nil {
			fmt.Fprintf(p.out, "  %q is not a number, keeping %d\n", freq, cfg.HotFrequency)
		} else {
			cfg.HotFrequency = throttle.Clamp(throttle.MinHotFrequency, throttle.MaxHotFrequency, n)
		}
	}

	gutter, err := p.askBool("  Show paw prints in the gutter", cfg.GutterEnabled())
	if err != nil {
		return nil, err
	}
	cfg.PawPrintsInGutter = config.Bool(gutter)

	level, err := p.ask("  Log level (debug/info/warn/error)", cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	cfg.LogLevel = strings.ToLower(logs.ParseLevel(level).String())

	fmt.Fprintln(p.out)
	return &cfg, nil
}

// HotChoice is the answer to the hot-mode warning.
type HotChoice int

const (
	HotCancel  HotChoice = iota
	HotProceed           // start this time
	HotNever             // start and never ask again
)

// HotWarning explains hot mode and asks whether to go ahead.
func (p *Prompter) HotWarning() (HotChoice, error) {
	fmt.Fprintln(p.out)
	fmt.Fprintln(p.out, "  Hot mode is on: your file is saved and run again shortly after every edit.")
	fmt.Fprintln(p.out, "  Code with side effects (writing files, network calls) will repeat each time.")
	ans, err := p.ask("  Start anyway? (y/n/never)", "n")
	if err != nil {
		return HotCancel, err
	}
	switch strings.ToLower(ans) {
	case "y", "yes":
		return HotProceed, nil
	case "never":
		return HotNever, nil
	}
	return HotCancel, nil
}
