// Command dictionary-check validates a dictionary JSON file and prints the
// type inventory, so schema changes can be vetted before deployment.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"graphsub/internal/dictionary"
)

var exitFunc = os.Exit

func main() {
	code := cli(os.Args[1:], os.Stdout, os.Stderr)
	exitFunc(code)
}

func cli(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("dictionary-check", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var dictPath string
	var verbose bool
	fs.StringVar(&dictPath, "dictionary", "dictionary.json", "path to dictionary json")
	fs.BoolVar(&verbose, "verbose", false, "print per-type property and link counts")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if err := run(dictPath, verbose, stdout); err != nil {
		fmt.Fprintf(stderr, "Dictionary validation failed: %v\n", err)
		return 1
	}
	fmt.Fprintln(stdout, "Dictionary validation passed.")
	return 0
}

// validatePath rejects absolute and traversing paths so the tool only reads
// inside the working tree.
func validatePath(p string) (string, error) {
	if strings.TrimSpace(p) == "" {
		return "", fmt.Errorf("empty path")
	}
	if filepath.IsAbs(p) {
		return "", fmt.Errorf("absolute paths not allowed: %s", p)
	}
	clean := filepath.Clean(p)
	if strings.Contains(clean, "..") {
		return "", fmt.Errorf("path traversal not allowed: %s", p)
	}
	return clean, nil
}

func run(path string, verbose bool, stdout io.Writer) error {
	safePath, err := validatePath(path)
	if err != nil {
		return err
	}
	dict, err := dictionary.LoadFile(safePath)
	if err != nil {
		return err
	}
	if dict.Len() == 0 {
		return fmt.Errorf("dictionary defines no types")
	}
	fmt.Fprintf(stdout, "%d types defined\n", dict.Len())
	if !verbose {
		return nil
	}
	names := dict.Types()
	sort.Strings(names)
	for _, name := range names {
		def, _ := dict.Get(name)
		fmt.Fprintf(stdout, "  %-30s %-15s %d properties, %d links\n",
			def.Name, def.Category, len(def.Properties), len(def.Links))
	}
	return nil
}
