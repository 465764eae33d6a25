// Agentparse runs the agent list parser over a saved page and prints the
// result, or with -tree the raw blocks and fields it found.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"agentlist/agents"

	"golang.org/x/text/language"
)

var fieldOrder = []agents.FieldKey{
	agents.KeyName, agents.KeyContact, agents.KeyAddress, agents.KeyRegion,
	agents.KeyCountry, agents.KeyPhone, agents.KeyEmail, agents.KeyWebsite,
}

func main() {
	tree := flag.Bool("tree", false, "print located blocks and raw fields instead of records")
	locale := flag.String("locale", "en", "BCP 47 locale used to sort names")
	rejects := flag.Bool("rejects", false, "report rejected website candidates on stderr")
	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: agentparse [-tree] [-locale tag] [-rejects] [file.html]")
		fmt.Fprintln(os.Stderr, "Reads stdin when no file is given.")
		flag.PrintDefaults()
	}
	flag.Parse()

	markup, err := readInput(flag.Arg(0))
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}

	if *tree {
		printTree(os.Stdout, markup)
		return
	}

	tag, err := language.Parse(*locale)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error: locale:", err)
		os.Exit(2)
	}
	opts := agents.Options{Locale: tag}
	if *rejects {
		opts.OnReject = func(agent, candidate string) {
			fmt.Fprintf(os.Stderr, "rejected %q for %s\n", candidate, agent)
		}
	}

	res := agents.ParseWith(markup, opts)
	fmt.Fprintf(os.Stderr, "blocks=%d extracted=%d records=%d\n", res.Blocks, res.Extracted, len(res.Records))

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(res.Records); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func readInput(path string) (string, error) {
	var r io.Reader = os.Stdin
	if path != "" && path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return "", err
		}
		defer f.Close()
		r = f
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func printTree(w io.Writer, markup string) {
	blocks := agents.Blocks(markup)
	if len(blocks) == 0 {
		fmt.Fprintf(w, "No blocks matching %q found.\n", agents.BlockSelector)
		return
	}

	fmt.Fprintf(w, "%d blocks\n", len(blocks))
	for i, b := range blocks {
		fmt.Fprintf(w, "\n[%d]\n", i)
		for _, key := range fieldOrder {
			fragment := agents.FieldFragments[key]
			f := agents.FindFieldIn(b, fragment)
			if key == agents.KeyEmail || key == agents.KeyWebsite {
				f = agents.FindLinkIn(b, fragment)
			}
			if !f.Found {
				fmt.Fprintf(w, "  %-8s -\n", key)
				continue
			}
			line := fmt.Sprintf("  %-8s %q", key, truncate(f.Text, 60))
			if f.Href != "" {
				line += fmt.Sprintf(" href=%q", truncate(f.Href, 60))
			}
			fmt.Fprintln(w, line)
		}
	}
}

// truncate shortens s to n runes.
func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) > n {
		return string([]rune(s)[:n]) + "..."
	}
	return s
}
