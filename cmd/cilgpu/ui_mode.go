package main

import (
	"fmt"
	"os"
	"strings"

	"golang.org/x/term"
)

// switchMode is the auto|on|off value shared by --ui and --color.
type switchMode string

const (
	modeAuto switchMode = "auto"
	modeOn   switchMode = "on"
	modeOff  switchMode = "off"
)

func readSwitch(flag, value string) (switchMode, error) {
	switch mode := switchMode(strings.ToLower(strings.TrimSpace(value))); mode {
	case "":
		return modeAuto, nil
	case modeAuto, modeOn, modeOff:
		return mode, nil
	}
	return "", fmt.Errorf("invalid --%s value %q (expected auto|on|off)", flag, value)
}

// enabled resolves auto against f; a dumb terminal counts as no terminal.
func (m switchMode) enabled(f *os.File) bool {
	switch m {
	case modeOn:
		return true
	case modeOff:
		return false
	}
	return isTerminal(f) && os.Getenv("TERM") != "dumb"
}

func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}
