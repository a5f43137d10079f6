package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"unicode/utf8"
)

const (
	minBannerWidth     = 60
	maxBannerWidth     = 100
	defaultBannerWidth = 100
)

var bannerLines = []string{
	"",
	"Radar DPC Data Downloader",
	"Dipartimento della Protezione Civile Nazionale",
	"Sviluppato da Laboratorio GEOSDI",
	"",
}

// terminalWidth reads COLUMNS and clamps it to the banner limits.
func terminalWidth() int {
	width := defaultBannerWidth
	if cols, err := strconv.Atoi(os.Getenv("COLUMNS")); err == nil && cols > 0 {
		width = cols
	}
	return max(minBannerWidth, min(maxBannerWidth, width))
}

func printBanner(w io.Writer, width int) {
	line := strings.Repeat("═", width)

	fmt.Fprintln(w)
	fmt.Fprintln(w, "╔"+line+"╗")
	for _, s := range bannerLines {
		fmt.Fprintln(w, center(s, width))
	}
	fmt.Fprintln(w, "╚"+line+"╝")
	fmt.Fprintln(w)
}

func center(s string, width int) string {
	pad := width - utf8.RuneCountInString(s)
	if pad <= 0 {
		return s
	}
	left := pad / 2
	return strings.Repeat(" ", left) + s + strings.Repeat(" ", pad-left)
}
