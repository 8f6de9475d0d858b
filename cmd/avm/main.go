// avm runs, inspects and debugs AVM contract images.
package main

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/colorfulnotion/avm/avm"
	"github.com/colorfulnotion/avm/config"
	"github.com/colorfulnotion/avm/log"
)

var (
	configPath string
	logLevel   string
	logFormat  string
	logModules string
)

func main() {
	var rootCmd = &cobra.Command{
		Use:   "avm",
		Short: "AVM contract runner",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := log.InitLogger(logLevel, logFormat); err != nil {
				return err
			}
			log.EnableModules(logModules)
			return nil
		},
		SilenceUsage: true,
	}
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config YAML (default: built-in)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "trace|debug|info|warn|error")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "terminal", "terminal|json")
	rootCmd.PersistentFlags().StringVar(&logModules, "log-modules", "", "extra log modules, comma separated, or \"all\"")

	rootCmd.AddCommand(
		newRunCmd(),
		newTxCmd(),
		newDisasmCmd(),
		newDebugCmd(),
		newProfileCmd(),
		newDiffCmd(),
		newVersionCmd(),
	)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	return config.Load(configPath)
}

// readImage loads a contract image from path.
func readImage(path string) ([]byte, error) {
	code, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read image: %w", err)
	}
	return code, nil
}

func parseHex(s string) ([]byte, error) {
	b, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return nil, fmt.Errorf("bad hex %q: %w", s, err)
	}
	return b, nil
}

func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func newAVM(opts ...avm.Option) (*avm.AVM, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return avm.New(cfg, nil, opts...)
}
