package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/Fr3nn3r/ada-harness/internal/harnessconfig"
)

var initProjectName string

var initCmd = &cobra.Command{
	Use:   "init [project-name]",
	Short: "Initialize a new harness workspace in the current directory",
	Long: `Creates the .ada/ workspace directory, an empty backlog file, and the
project context record that the initializer session stamps once.

If no project name is given, the current directory's base name is used.`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		root, err := os.Getwd()
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		name := initProjectName
		if len(args) > 0 {
			name = args[0]
		}
		if name == "" {
			name = filepath.Base(root)
		}

		if err := harnessconfig.WriteTemplate(filepath.Join(root, "ada.config.yaml")); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}

		ws, err := openWorkspace(root)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}

		if _, err := ws.backlog.Init(name, root); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}

		if err := saveProjectContext(root, &projectContext{
			Name: name, CreatedAt: time.Now(), InitModel: ws.cfg.Model,
		}); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}

		green := color.New(color.FgGreen).SprintFunc()
		fmt.Printf("%s initialized harness workspace for %q in %s\n", green("✓"), name, filepath.Join(root, adaDir))
	},
}

func init() {
	initCmd.Flags().StringVar(&initProjectName, "name", "", "project name (defaults to the current directory name)")
	rootCmd.AddCommand(initCmd)
}
