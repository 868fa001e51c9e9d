package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/andresmejia3/veil/internal/utils"
	"github.com/spf13/cobra"
)

var (
	resetLedger  bool
	resetScratch bool
)

var resetCmd = &cobra.Command{
	Use:         "reset",
	Short:       "Reset system state (job ledger, leftover scratch directories)",
	Long:        "Clears local state. By default, it resets everything. Use flags to clear specific components.",
	Annotations: map[string]string{dbAnnotation: dbOptional},
	RunE: func(cmd *cobra.Command, args []string) error {
		// If no flags are set, default to clearing EVERYTHING
		if !resetLedger && !resetScratch {
			resetLedger = true
			resetScratch = true
		}

		reader := bufio.NewReader(os.Stdin)

		if resetLedger {
			if DB == nil {
				fmt.Println("ℹ️  No database configured, skipping ledger.")
			} else if confirm(reader, "⚠️  Are you sure you want to DROP all ledger tables?") {
				fmt.Println("🗑️  Clearing Ledger...")
				if err := DB.Reset(cmd.Context()); err != nil {
					utils.ShowError("Failed to reset database", err, nil)
					return err
				}
			}
		}

		if resetScratch {
			dirs, err := scratchDirs(Cfg.Render.TempDir)
			if err != nil {
				utils.ShowError("Failed to list scratch directories", err, nil)
				return err
			}
			if len(dirs) > 0 && confirm(reader, fmt.Sprintf("⚠️  Delete %d leftover scratch directories?", len(dirs))) {
				fmt.Println("🗑️  Clearing Scratch Directories...")
				for _, d := range dirs {
					removeDir(d)
				}
			}
		}

		fmt.Println("✨ System Reset Complete.")
		return nil
	},
}

func init() {
	resetCmd.Flags().BoolVar(&resetLedger, "ledger", false, "Drop the PostgreSQL job ledger")
	resetCmd.Flags().BoolVar(&resetScratch, "scratch", false, "Remove scratch directories left by interrupted renders")
	rootCmd.AddCommand(resetCmd)
}

// scratchDirs finds per-job directories under root, or the OS temp dir when
// root is empty.
func scratchDirs(root string) ([]string, error) {
	if root == "" {
		root = os.TempDir()
	}
	matches, err := filepath.Glob(filepath.Join(root, "veil-*"))
	if err != nil {
		return nil, err
	}
	var dirs []string
	for _, m := range matches {
		info, err := os.Stat(m)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if info.IsDir() {
			dirs = append(dirs, m)
		}
	}
	return dirs, nil
}

func confirm(r *bufio.Reader, prompt string) bool {
	fmt.Printf("%s [y/N]: ", prompt)
	res, _ := r.ReadString('\n')
	res = strings.TrimSpace(strings.ToLower(res))
	return res == "y" || res == "yes"
}

func removeDir(path string) {
	if err := os.RemoveAll(path); err != nil {
		fmt.Fprintf(os.Stderr, "⚠️  Failed to remove %s: %v\n", path, err)
	}
}
