package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/spf13/cobra"

	"github.com/colorfulnotion/avm/avm"
	"github.com/colorfulnotion/avm/vm/trace"
)

func newProfileCmd() *cobra.Command {
	var (
		inputHex string
		gas      uint64
		out      string
	)
	cmd := &cobra.Command{
		Use:   "profile <image>",
		Short: "Render instruction gas by mnemonic as an HTML bar chart",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			code, err := readImage(args[0])
			if err != nil {
				return err
			}
			input, err := parseHex(inputHex)
			if err != nil {
				return err
			}
			a, err := newAVM(avm.WithTrace(true))
			if err != nil {
				return err
			}
			inv, err := a.Invoke(context.Background(), code, input, gas)
			if err != nil {
				return err
			}
			f, err := os.Create(out)
			if err != nil {
				return err
			}
			defer f.Close()
			title := fmt.Sprintf("%s: %s, %d gas, %d steps", args[0], inv.Status, inv.GasUsed, len(inv.Trace))
			if err := renderProfile(f, title, gasProfile(inv.Trace)); err != nil {
				return err
			}
			fmt.Printf("wrote %s\n", out)
			return nil
		},
	}
	cmd.Flags().StringVar(&inputHex, "input", "", "call input as hex")
	cmd.Flags().Uint64Var(&gas, "gas", avm.DefaultTxGas, "gas limit")
	cmd.Flags().StringVar(&out, "out", "gas.html", "output HTML file")
	return cmd
}

type mnemonicCost struct {
	Mnemonic string
	Count    int
	Gas      uint64
}

// gasProfile sums instruction fees per mnemonic, most expensive first.
// Syscall fees are charged between steps and are not included.
func gasProfile(steps []trace.TraceStep) []mnemonicCost {
	byName := map[string]*mnemonicCost{}
	for _, st := range steps {
		name := "<fault>"
		if f := strings.Fields(st.Mnemonic); len(f) > 0 {
			name = f[0]
		}
		c, ok := byName[name]
		if !ok {
			c = &mnemonicCost{Mnemonic: name}
			byName[name] = c
		}
		c.Count++
		if st.GasBefore > st.GasAfter {
			c.Gas += st.GasBefore - st.GasAfter
		}
	}
	out := make([]mnemonicCost, 0, len(byName))
	for _, c := range byName {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Gas != out[j].Gas {
			return out[i].Gas > out[j].Gas
		}
		return out[i].Mnemonic < out[j].Mnemonic
	})
	return out
}

func renderProfile(w io.Writer, title string, costs []mnemonicCost) error {
	names := make([]string, 0, len(costs))
	gasData := make([]opts.BarData, 0, len(costs))
	countData := make([]opts.BarData, 0, len(costs))
	for _, c := range costs {
		names = append(names, c.Mnemonic)
		gasData = append(gasData, opts.BarData{Value: c.Gas})
		countData = append(countData, opts.BarData{Value: c.Count})
	}
	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{Title: "Gas by mnemonic", Subtitle: title}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
	)
	bar.SetXAxis(names).
		AddSeries("gas", gasData).
		AddSeries("count", countData)

	page := components.NewPage()
	page.AddCharts(bar)
	return page.Render(w)
}
