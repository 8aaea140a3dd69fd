package cmd

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/fakeyudi/wolf/internal/annotate"
	"github.com/fakeyudi/wolf/internal/pipeline"
	"github.com/fakeyudi/wolf/internal/session"
	"github.com/fakeyudi/wolf/internal/tui"
)

var plainOutput bool

var viewCmd = &cobra.Command{
	Use:   "view [file]",
	Short: "Show the last trace result next to the source",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		results, err := session.NewResultStore()
		if err != nil {
			return err
		}
		sr, err := results.Get()
		if err != nil {
			if errors.Is(err, session.ErrNoResult) {
				return fmt.Errorf("no trace result yet; run 'wolf trace <file>' or 'wolf start <file>'")
			}
			return err
		}

		if len(args) == 1 {
			file, err := filepath.Abs(args[0])
			if err != nil {
				return err
			}
			if file != sr.File {
				return fmt.Errorf("last trace result is for %s, not %s", sr.File, args[0])
			}
		}

		src, err := tui.ReadLines(sr.File)
		if err != nil {
			return fmt.Errorf("reading %s: %w", sr.File, err)
		}

		var set annotate.Set
		set.Replace(sr.Result, sr.LineCount)
		// the file may have changed since the capture
		anns := set.Annotations(len(src))
		gutter := GetConfig().GutterEnabled()

		if plainOutput {
			fmt.Fprintf(cmd.OutOrStdout(), "# %s (captured %s)\n", sr.File, sr.CapturedAt.Format("2006-01-02 15:04:05"))
			fmt.Fprint(cmd.OutOrStdout(), annotate.Render(src, anns, annotate.RenderOptions{Gutter: gutter}))
			return nil
		}
		return tui.Run(tui.New(sr.File, nil).WithView(pipeline.View{
			SessionID:   sr.SessionID,
			Doc:         sr.File,
			Generation:  set.Generation(),
			LineCount:   len(src),
			Annotations: anns,
			Gutter:      gutter,
		}))
	},
}

func init() {
	viewCmd.Flags().BoolVar(&plainOutput, "plain", false, "plain text output instead of TUI")
	rootCmd.AddCommand(viewCmd)
}
