// Command treesync drives the bidirectional file-sync engine from the
// terminal: scan a tree, diff two trees, stage and apply a batch of
// mutations, or watch a profile's local root for live changes.
package main

func main() {
	if err := newRootCmd().Execute(); err != nil {
		exitOnError(err)
	}
}
