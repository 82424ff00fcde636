package main

import (
	"fmt"
	"io"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"
	"github.com/pterm/pterm"
)

// isInteractive reports whether w is a terminal a human is watching,
// the switch diff/status use between pterm-rendered and plain output.
func isInteractive(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}

	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// formatSize renders bytes the way a person reads them.
func formatSize(n int64) string {
	return humanize.Bytes(uint64(n))
}

// printTable writes aligned columns to w, pterm-boxed when w is a
// terminal and tab-separated plain text otherwise so scripts piping
// treesync's output never have to parse box-drawing characters.
func printTable(w io.Writer, headers []string, rows [][]string) {
	if !isInteractive(w) {
		printPlainTable(w, headers, rows)
		return
	}

	table := pterm.TableData{headers}
	table = append(table, rows...)

	rendered, err := pterm.DefaultTable.WithHasHeader().WithData(table).Srender()
	if err != nil {
		printPlainTable(w, headers, rows)
		return
	}

	fmt.Fprintln(w, rendered)
}

func printPlainTable(w io.Writer, headers []string, rows [][]string) {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = len(h)
	}

	for _, row := range rows {
		for i, cell := range row {
			if i < len(widths) && len(cell) > widths[i] {
				widths[i] = len(cell)
			}
		}
	}

	printPlainRow(w, headers, widths)

	for _, row := range rows {
		printPlainRow(w, row, widths)
	}
}

func printPlainRow(w io.Writer, cells []string, widths []int) {
	for i, cell := range cells {
		if i > 0 {
			fmt.Fprint(w, "  ")
		}

		fmt.Fprintf(w, "%-*s", widths[i], cell)
	}

	fmt.Fprintln(w)
}
