package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/chzyer/readline"
	"github.com/fatih/color"
)

// interactiveApprover prompts on the terminal for the manual-approval
// verification gate: a readline loop handling prompt, interrupt, and EOF,
// repurposed for a single yes/no question instead of a command loop.
func interactiveApprover(ctx context.Context, featureID, featureName string) (bool, error) {
	cyan := color.New(color.FgCyan).SprintFunc()
	rl, err := readline.NewEx(&readline.Config{
		Prompt:                 cyan(fmt.Sprintf("approve %s (%s)? [y/N] ", featureID, featureName)),
		InterruptPrompt:        "^C",
		EOFPrompt:              "n",
		HistorySearchFold:      true,
		DisableAutoSaveHistory: true,
	})
	if err != nil {
		return false, fmt.Errorf("approve: readline: %w", err)
	}
	defer rl.Close()

	for {
		line, err := rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				continue
			}
			if err == io.EOF {
				return false, nil
			}
			return false, err
		}
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "y", "yes":
			return true, nil
		case "n", "no", "":
			return false, nil
		default:
			fmt.Println("please answer y or n")
		}
	}
}
