package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/yudai/gojsondiff"
	"github.com/yudai/gojsondiff/formatter"
)

func newDiffCmd() *cobra.Command {
	var color bool
	cmd := &cobra.Command{
		Use:   "diff <a.json> <b.json>",
		Short: "Diff two invocation or receipt JSON files",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			b, err := os.ReadFile(args[1])
			if err != nil {
				return err
			}
			out, same, err := jsonDiff(a, b, color)
			if err != nil {
				return err
			}
			if same {
				fmt.Println("identical")
				return nil
			}
			fmt.Println(out)
			return fmt.Errorf("%s and %s differ", args[0], args[1])
		},
	}
	cmd.Flags().BoolVar(&color, "color", true, "ANSI colored output")
	return cmd
}

// jsonDiff returns an ASCII diff of a against b; same is true when they match.
func jsonDiff(a, b []byte, color bool) (out string, same bool, err error) {
	delta, err := gojsondiff.New().Compare(a, b)
	if err != nil {
		return "", false, fmt.Errorf("diff: %w", err)
	}
	if !delta.Modified() {
		return "", true, nil
	}
	var left any
	if err := json.Unmarshal(a, &left); err != nil {
		return "", false, err
	}
	f := formatter.NewAsciiFormatter(left, formatter.AsciiFormatterConfig{
		ShowArrayIndex: true,
		Coloring:       color,
	})
	out, err = f.Format(delta)
	return out, false, err
}
