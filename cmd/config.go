package cmd

import (
	"fmt"
	"os"

	"github.com/andresmejia3/veil/internal/utils"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var configWritePath string

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration",
	Long:  `Prints the configuration after file, environment and flag overrides. Use --write to save it as a starting veil.yaml.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true

		if configWritePath != "" {
			if _, err := os.Stat(configWritePath); err == nil {
				err := fmt.Errorf("%s already exists", configWritePath)
				utils.ShowError("Refusing to overwrite config", err, nil)
				return err
			}
			if err := Cfg.Save(configWritePath); err != nil {
				utils.ShowError("Failed to write config", err, nil)
				return err
			}
			fmt.Fprintf(os.Stderr, "✅ Wrote %s\n", configWritePath)
			return nil
		}

		enc := yaml.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(Cfg)
	},
}

func init() {
	configCmd.Flags().StringVarP(&configWritePath, "write", "w", "", "Save the effective configuration to this path")
	rootCmd.AddCommand(configCmd)
}
