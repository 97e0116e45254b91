// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package ui centralizes terminal color and formatting for the CLI.
// Colors degrade to plain text when disabled or when stdout is not a TTY.
package ui

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
)

// Shared color printers. InitColors must run before first use.
var (
	Green  = color.New(color.FgGreen)
	Yellow = color.New(color.FgYellow)
	Red    = color.New(color.FgRed, color.Bold)
	Cyan   = color.New(color.FgCyan)
	Dim    = color.New(color.Faint)
	Bold   = color.New(color.Bold)
)

// InitColors enables or disables color output. Color is off when noColor
// is set, when NO_COLOR is present in the environment, or when stdout is
// not a terminal.
func InitColors(noColor bool) {
	if noColor || os.Getenv("NO_COLOR") != "" {
		color.NoColor = true
		return
	}
	if !isatty.IsTerminal(os.Stdout.Fd()) && !isatty.IsCygwinTerminal(os.Stdout.Fd()) {
		color.NoColor = true
	}
}

// Header prints a bold section header.
func Header(text string) {
	fmt.Println()
	_, _ = Bold.Println(text)
}

// SubHeader prints a secondary header.
func SubHeader(text string) {
	_, _ = Cyan.Println(text)
}

// Label formats a field label.
func Label(text string) string {
	return Cyan.Sprint(text)
}

// CountText formats a count value.
func CountText(n int) string {
	return Bold.Sprintf("%d", n)
}

// DimText formats de-emphasized text.
func DimText(text string) string {
	return Dim.Sprint(text)
}

// Warn prints a warning line to stderr.
func Warn(format string, args ...any) {
	_, _ = Yellow.Fprintf(os.Stderr, "Warning: "+format+"\n", args...)
}

// Error prints an error line to stderr.
func Error(format string, args ...any) {
	_, _ = Red.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
}
