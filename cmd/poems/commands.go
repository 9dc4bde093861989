package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/jerryz/poems/internal/config"
	"github.com/jerryz/poems/internal/poem"
)

// newCommandFlags returns a flag set that reports errors instead of exiting.
func newCommandFlags(name string) *flag.FlagSet {
	fs := flag.NewFlagSet("poems "+name, flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	return fs
}

func cmdList(ctx context.Context, cfg *config.Config, args []string, out io.Writer) error {
	fs := newCommandFlags("list")
	query := fs.String("q", "", "search titles, authors and lines")
	tag := fs.String("tag", "", "only poems with this tag")
	if err := fs.Parse(args); err != nil {
		return err
	}

	repo, err := loadPoems(ctx, cfg)
	if err != nil {
		return err
	}
	var ps []poem.Poem
	if q := strings.TrimSpace(*query); q != "" {
		ps = repo.Search(q)
	} else {
		ps = repo.All()
	}
	printPoemList(out, filterTag(ps, *tag))
	return nil
}

func filterTag(ps []poem.Poem, tag string) []poem.Poem {
	if tag == "" {
		return ps
	}
	var out []poem.Poem
	for _, p := range ps {
		for _, t := range p.Tags {
			if t == tag {
				out = append(out, p)
				break
			}
		}
	}
	return out
}

func printPoemList(w io.Writer, ps []poem.Poem) {
	if len(ps) == 0 {
		fmt.Fprintln(w, "没有找到诗词")
		return
	}
	for _, p := range ps {
		fmt.Fprintf(w, "%4d  %s  %s", p.ID, p.Title, p.Author)
		if len(p.Tags) > 0 {
			fmt.Fprintf(w, "  [%s]", strings.Join(p.Tags, " "))
		}
		fmt.Fprintln(w)
	}
}

func cmdShow(ctx context.Context, cfg *config.Config, args []string, out io.Writer) error {
	fs := newCommandFlags("show")
	id := fs.Int("poem", -1, "poem id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	repo, err := loadPoems(ctx, cfg)
	if err != nil {
		return err
	}
	p, err := repo.Get(*id)
	if err != nil {
		return err
	}
	printPoem(out, p)
	return nil
}

func printPoem(w io.Writer, p poem.Poem) {
	fmt.Fprintf(w, "《%s》 %s\n\n", p.Title, p.Author)
	fmt.Fprintln(w, p.Text())
	if len(p.Translation) > 0 {
		fmt.Fprintln(w, "\n【译文】")
		fmt.Fprintln(w, p.TranslationText())
	}
	if len(p.Tags) > 0 {
		fmt.Fprintf(w, "\n标签：%s\n", strings.Join(p.Tags, "、"))
	}
}

// readLines feeds the lines of r to the returned channel until r is
// exhausted or ctx ends. Reading happens on its own goroutine so a REPL can
// watch stdin and a session feed at the same time.
func readLines(ctx context.Context, r io.Reader) <-chan string {
	ch := make(chan string)
	go func() {
		defer close(ch)
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			select {
			case ch <- strings.TrimSpace(sc.Text()):
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch
}

// errQuit ends a REPL without an error.
var errQuit = errors.New("quit")

// nextLine blocks for one input line. It returns errQuit at end of input or
// when ctx ends.
func nextLine(ctx context.Context, lines <-chan string, out io.Writer) (string, error) {
	fmt.Fprint(out, "> ")
	select {
	case <-ctx.Done():
		fmt.Fprintln(out)
		return "", errQuit
	case line, ok := <-lines:
		if !ok {
			fmt.Fprintln(out)
			return "", errQuit
		}
		return line, nil
	}
}
