package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"github.com/yuin/goldmark"

	"github.com/treesync/treesync/internal/diffengine"
	"github.com/treesync/treesync/internal/executor"
	"github.com/treesync/treesync/internal/memindex"
)

const cloudRootPrefix = "cloud:"

// newDiffCmd implements `treesync diff <left> <right>`: scans both
// sides fresh, runs the content-hash-union diff, and prints the
// categorized result. Either side
// may be "cloud:" (the profile's configured cloud root) or "cloud:<id>"
// (an explicit remote folder), anything else is treated as a local path.
//
// --select stages Added/Moved entries into an apply-able batch; see
// opsbuild.go for exactly which entries that covers and why.
func newDiffCmd() *cobra.Command {
	var (
		comparePaths bool
		useMTime     bool
		format       string
		selectCats   string
		label        string
	)

	cmd := &cobra.Command{
		Use:   "diff <left> <right>",
		Short: "Diff two trees and optionally stage a batch of converging operations",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc := mustCLIContext(cmd.Context())
			ctx := cmd.Context()

			left, err := resolveDiffSide(ctx, cc, args[0])
			if err != nil {
				return fmt.Errorf("left side %q: %w", args[0], err)
			}

			right, err := resolveDiffSide(ctx, cc, args[1])
			if err != nil {
				return fmt.Errorf("right side %q: %w", args[1], err)
			}

			// LeftRoot/RightRoot are left empty: the local scanner stores
			// root-relative paths and the cloud scanner stores none (see
			// memindex.Node's doc), so there is no embedded root prefix for
			// diffengine to strip —
			// passing the raw scan roots here would make classifyMovedPair
			// spuriously re-prefix already-relative paths.
			opts := diffengine.Options{
				ComparePaths:   comparePaths,
				UseModifyTimes: useMTime,
			}

			result := diffengine.Diff(left.Index, right.Index, opts)

			if err := renderDiff(cmd, left, right, result, format); err != nil {
				return err
			}

			if selectCats == "" {
				return nil
			}

			sel, err := parseSelection(selectCats)
			if err != nil {
				return err
			}

			store, err := openStore(ctx, cc.Profile, cc.Logger)
			if err != nil {
				return err
			}
			defer store.Close()

			registry := newRegistry(store, cc.Logger)

			ops, skipped, err := buildOps(ctx, registry, left.Side, right.Side, result, sel, !useMTime)
			if err != nil {
				return fmt.Errorf("staging operations: %w", err)
			}

			if label == "" {
				label = fmt.Sprintf("diff %s -> %s", args[0], args[1])
			}

			batchID, err := saveBatch(cc.Profile.Name, label, ops, skipped)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "staged batch %s: %d operations, %d entries skipped (run `treesync apply %s`)\n",
				batchID, len(ops), skipped, batchID)

			return nil
		},
	}

	cmd.Flags().BoolVar(&comparePaths, "compare-paths", false, "pair same-hash nodes by path, detecting moves instead of treating them as independent add/delete")
	cmd.Flags().BoolVar(&useMTime, "use-mtime", false, "with --compare-paths, attribute a detected move to the side with the newer modification time")
	cmd.Flags().StringVar(&format, "format", "table", "output format: table, markdown, html, json")
	cmd.Flags().StringVar(&selectCats, "select", "", "comma-separated categories to stage into a batch (added,moved)")
	cmd.Flags().StringVar(&label, "label", "", "human-readable label stored with a staged batch")

	return cmd
}

// diffSide is one resolved operand of `diff`: its scanned index plus
// enough of syncSide to feed buildOps if --select is used.
type diffSide struct {
	Side  syncSide
	Index *memindex.Index
}

func resolveDiffSide(ctx context.Context, cc *CLIContext, raw string) (diffSide, error) {
	store, err := openStore(ctx, cc.Profile, cc.Logger)
	if err != nil {
		return diffSide{}, err
	}
	defer store.Close()

	registry := newRegistry(store, cc.Logger)

	if strings.HasPrefix(raw, cloudRootPrefix) {
		rootID := strings.TrimPrefix(raw, cloudRootPrefix)
		if rootID == "" {
			rootID = cc.Profile.CloudRootID
		}

		client, err := newCloudClient(ctx, cc.Profile, cc.Logger)
		if err != nil {
			return diffSide{}, err
		}

		device := cloudDevice(cc.Profile)

		idx, err := scanCloudFresh(ctx, rootID, device, client, registry, store, cc.Logger)
		if err != nil {
			return diffSide{}, err
		}

		rootUID, err := registry.UIDForExternalID(ctx, device, rootID)
		if err != nil {
			return diffSide{}, fmt.Errorf("resolving cloud root uid: %w", err)
		}

		return diffSide{
			Side: syncSide{
				Kind: executor.Cloud, Device: device, Root: "",
				Index: idx, RootUID: rootUID, RootExternalID: rootID,
			},
			Index: idx,
		}, nil
	}

	device := localDevice(cc.Profile)

	idx, err := scanLocalFresh(ctx, raw, device, cc.Profile, registry, store, cc.Logger)
	if err != nil {
		return diffSide{}, err
	}

	rootUID, err := registry.UIDForExternalID(ctx, device, "/")
	if err != nil {
		return diffSide{}, fmt.Errorf("resolving local root uid: %w", err)
	}

	return diffSide{
		Side: syncSide{
			Kind: executor.Local, Device: device, Root: raw,
			Index: idx, RootUID: rootUID, RootExternalID: "/",
		},
		Index: idx,
	}, nil
}

func parseSelection(raw string) (entrySelection, error) {
	var sel entrySelection

	for _, c := range strings.Split(raw, ",") {
		switch strings.ToLower(strings.TrimSpace(c)) {
		case "added":
			sel.Added = true
		case "moved":
			sel.Moved = true
		case "":
		default:
			return sel, fmt.Errorf("unknown --select category %q (supported: added, moved)", c)
		}
	}

	return sel, nil
}

// renderDiff prints result in the requested format. "table", "markdown",
// and "html" all group entries by category then path; json emits a flat
// array.
func renderDiff(cmd *cobra.Command, left, right diffSide, result *diffengine.Result, format string) error {
	w := cmd.OutOrStdout()

	rows := diffRows(left, right, result)

	switch format {
	case "json":
		return renderDiffJSON(w, rows)
	case "markdown", "html":
		md := renderDiffMarkdown(rows)

		if format == "markdown" {
			fmt.Fprintln(w, md)
			return nil
		}

		var buf bytes.Buffer
		if err := goldmark.Convert([]byte(md), &buf); err != nil {
			return fmt.Errorf("rendering markdown diff report: %w", err)
		}

		fmt.Fprintln(w, buf.String())

		return nil
	default:
		printTable(w, []string{"SIDE", "CATEGORY", "PATH", "PREV_PATH", "GHOST"}, rows)
		return nil
	}
}

func diffRows(left, right diffSide, result *diffengine.Result) [][]string {
	var rows [][]string

	for _, e := range result.Left {
		rows = append(rows, diffRow(left.Side, diffengine.Left, e))
	}

	for _, e := range result.Right {
		rows = append(rows, diffRow(right.Side, diffengine.Right, e))
	}

	sort.Slice(rows, func(i, j int) bool {
		if rows[i][1] != rows[j][1] {
			return rows[i][1] < rows[j][1]
		}

		return rows[i][2] < rows[j][2]
	})

	return rows
}

// diffRow renders one entry. Ghost entries already carry a populated Path
// (diffengine computes it via remapPath when synthesizing them); real
// cloud-side entries don't (memindex.Node.Path is local-tree-only), so
// nodePath reconstructs it from the side's index for display.
func diffRow(side syncSide, diffSide diffengine.Side, e diffengine.Entry) []string {
	ghost := ""

	path := e.Node.Path

	if e.Ghost {
		ghost = "ghost"
	} else if p, ok := nodePath(side, e.Node); ok {
		path = p
	}

	return []string{string(diffSide), string(e.Category), path, e.PrevPath, ghost}
}

func renderDiffJSON(w io.Writer, rows [][]string) error {
	var b strings.Builder

	b.WriteString("[")

	for i, r := range rows {
		if i > 0 {
			b.WriteString(",")
		}

		fmt.Fprintf(&b, "{\"side\":%q,\"category\":%q,\"path\":%q,\"prev_path\":%q,\"ghost\":%t}",
			r[0], r[1], r[2], r[3], r[4] == "ghost")
	}

	b.WriteString("]\n")

	_, err := w.Write([]byte(b.String()))

	return err
}

func renderDiffMarkdown(rows [][]string) string {
	var b strings.Builder

	b.WriteString("| Side | Category | Path | Prev Path | Ghost |\n")
	b.WriteString("|---|---|---|---|---|\n")

	for _, r := range rows {
		fmt.Fprintf(&b, "| %s | %s | %s | %s | %s |\n", r[0], r[1], r[2], r[3], r[4])
	}

	return b.String()
}
