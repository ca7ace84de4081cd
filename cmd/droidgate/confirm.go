package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"
)

// confirmRiskyAction prompts before a destructive device action. It never
// auto-approves: a non-interactive terminal refuses instead.
func confirmRiskyAction(action string, reason string) (bool, error) {
	if !isInteractiveTerminal() {
		return false, fmt.Errorf("this action requires interactive confirmation; rerun from a terminal")
	}

	trimmedReason := strings.TrimSpace(reason)
	if trimmedReason == "" {
		trimmedReason = "destructive device action"
	}
	fmt.Printf("WARNING: %s\n", trimmedReason)
	fmt.Printf("Proceed? [y/N] %s\n> ", action)

	reader := bufio.NewReader(os.Stdin)
	input, readError := reader.ReadString('\n')
	if readError != nil && !errors.Is(readError, os.ErrClosed) {
		return false, readError
	}

	normalized := strings.ToLower(strings.TrimSpace(input))
	return normalized == "y" || normalized == "yes", nil
}

func isInteractiveTerminal() bool {
	info, statError := os.Stdin.Stat()
	if statError != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}
