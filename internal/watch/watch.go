// Package watch turns filesystem activity into pipeline events for the
// terminal front-end, where there is no editor to report saves.
package watch

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/fakeyudi/wolf/internal/config"
	"github.com/fakeyudi/wolf/internal/pipeline"
)

// Poster accepts pipeline events.
type Poster interface {
	Post(ev pipeline.Event) bool
}

// Options configures New.
type Options struct {
	File        string   // traced document
	ConfigPaths []string // files whose change reloads configuration
	SessionFile string   // removal means the session was stopped elsewhere
	// LoadConfig returns the effective configuration after a config file
	// changed. Nil disables config reloading.
	LoadConfig func() (config.Config, error)
	Config     config.Config // configuration in effect at start
	Logger     *slog.Logger
}

// Watcher watches the traced file, the config files and the session file.
type Watcher struct {
	opts    Options
	fs      *fsnotify.Watcher
	file    string
	configs map[string]bool
	session string
	cfg     config.Config
	logger  *slog.Logger
}

// New registers watches on the directories containing every watched path.
// Directories that do not exist are skipped.
func New(opts Options) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		opts:    opts,
		fs:      fw,
		file:    clean(opts.File),
		configs: make(map[string]bool),
		session: clean(opts.SessionFile),
		cfg:     opts.Config,
		logger:  opts.Logger,
	}
	if w.logger == nil {
		w.logger = slog.Default()
	}
	for _, p := range opts.ConfigPaths {
		if p != "" {
			w.configs[clean(p)] = true
		}
	}

	dirs := map[string]bool{}
	for _, p := range append([]string{w.file, w.session}, opts.ConfigPaths...) {
		if p == "" {
			continue
		}
		dirs[filepath.Dir(clean(p))] = true
	}
	for dir := range dirs {
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			continue
		}
		if err := fw.Add(dir); err != nil {
			fw.Close()
			return nil, err
		}
	}
	return w, nil
}

// Run posts events to p until ctx is cancelled. The watcher is closed on return.
func (w *Watcher) Run(ctx context.Context, p Poster) error {
	defer w.fs.Close()
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.fs.Events:
			if !ok {
				return nil
			}
			w.handle(event, p)

		case err, ok := <-w.fs.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("file watcher error", "error", err)
		}
	}
}

func (w *Watcher) handle(event fsnotify.Event, p Poster) {
	name := clean(event.Name)
	switch {
	case name == w.file && event.Has(fsnotify.Write|fsnotify.Create):
		p.Post(pipeline.Saved{Doc: w.file, Lines: CountLines(w.file)})

	case w.configs[name]:
		w.reloadConfig(p)

	case name == w.session && event.Has(fsnotify.Remove|fsnotify.Rename):
		// the atomic save renames over the file, so only a missing file means stopped
		if _, err := os.Stat(w.session); os.IsNotExist(err) {
			w.logger.Info("session file removed, stopping")
			p.Post(pipeline.StopCommand{})
		}
	}
}

// reloadConfig posts the new configuration with the watched keys that
// changed. A watched change is followed by a refocus of the traced file:
// the terminal always has it in focus, so the session stops right away
// instead of on the next editor switch.
func (w *Watcher) reloadConfig(p Poster) {
	if w.opts.LoadConfig == nil {
		return
	}
	cfg, err := w.opts.LoadConfig()
	if err != nil {
		w.logger.Warn("reloading configuration", "error", err)
		return
	}
	keys := config.ChangedKeys(w.cfg, cfg)
	w.cfg = cfg
	p.Post(pipeline.ConfigChanged{Keys: keys, Config: &cfg})
	if config.AffectsWatched(keys) && w.file != "" {
		p.Post(pipeline.ActiveEditorChanged{Doc: w.file, Lines: CountLines(w.file)})
	}
}

// CountLines returns the number of lines in the file at path, or 0 when it
// cannot be read. A final line without a newline counts.
func CountLines(path string) int {
	data, err := os.ReadFile(path)
	if err != nil || len(data) == 0 {
		return 0
	}
	n := bytes.Count(data, []byte{'\n'})
	if data[len(data)-1] != '\n' {
		n++
	}
	return n
}

func clean(p string) string {
	if p == "" {
		return ""
	}
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return filepath.Clean(p)
}
