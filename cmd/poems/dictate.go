package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"unicode"

	"github.com/jerryz/poems/internal/config"
	"github.com/jerryz/poems/internal/dictation"
	"github.com/jerryz/poems/internal/grading"
	"github.com/jerryz/poems/pkg/provider/llm"
)

func cmdDictate(ctx context.Context, cfg *config.Config, args []string, in io.Reader, out io.Writer) error {
	fs := newCommandFlags("dictate")
	id := fs.Int("poem", -1, "poem id")
	count := fs.Int("count", cfg.Dictation.DefaultCount, "questions per set")
	if err := fs.Parse(args); err != nil {
		return err
	}

	application, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer shutdownApp(application)

	sess, err := application.Sessions().Dictation(*id)
	if err != nil {
		return err
	}
	p := sess.Poem()
	fmt.Fprintf(out, "《%s》 %s\n", p.Title, p.Author)
	return dictateLoop(ctx, sess, readLines(ctx, in), out, *count)
}

const dictateHelp = `输入 "<题号> <答案>" 作答，r [题数] 换一组，l 列出题目，q 退出`

// dictateLoop runs the recitation REPL until the input ends, ctx ends or the
// user quits. An empty session is filled with a fresh set first.
func dictateLoop(ctx context.Context, sess *dictation.Session, lines <-chan string, out io.Writer, count int) error {
	if len(sess.Snapshot().Questions) == 0 {
		if err := regenerate(ctx, sess, out, count); err != nil {
			return err
		}
	} else {
		printQuestions(out, sess.Snapshot())
	}
	fmt.Fprintln(out, dictateHelp)

	for {
		line, err := nextLine(ctx, lines, out)
		if errors.Is(err, errQuit) {
			return nil
		}
		cmd, arg := splitCommand(line)

		switch cmd {
		case "":
		case "q", "quit":
			return nil
		case "h", "help", "?":
			fmt.Fprintln(out, dictateHelp)
		case "l", "list":
			printQuestions(out, sess.Snapshot())
		case "r", "regen":
			n := count
			if arg != "" {
				if v, err := strconv.Atoi(arg); err == nil && v > 0 {
					n = v
				}
			}
			if err := regenerate(ctx, sess, out, n); err != nil {
				return err
			}
		default:
			n, err := strconv.Atoi(cmd)
			if err != nil {
				fmt.Fprintln(out, dictateHelp)
				continue
			}
			answerQuestion(out, sess, n-1, arg)
		}
	}
}

// splitCommand splits line at its first space of any kind, so answers typed
// after a full-width space are read too.
func splitCommand(line string) (cmd, arg string) {
	line = strings.TrimSpace(line)
	i := strings.IndexFunc(line, unicode.IsSpace)
	if i < 0 {
		return line, ""
	}
	return line[:i], strings.TrimSpace(line[i:])
}

// regenerate replaces the question set and prints the outcome. Only a
// cancellation is returned; generation failures are shown and the REPL goes on.
func regenerate(ctx context.Context, sess *dictation.Session, out io.Writer, count int) error {
	fmt.Fprintln(out, "正在出题…")
	err := sess.Regenerate(ctx, count)
	switch {
	case err == nil:
		printQuestions(out, sess.Snapshot())
	case llm.IsCancellation(err):
		return nil
	case errors.Is(err, dictation.ErrGenerationInFlight):
		fmt.Fprintln(out, "正在出题，请稍候")
	default:
		fmt.Fprintln(out, sess.Snapshot().Err)
	}
	return nil
}

func answerQuestion(out io.Writer, sess *dictation.Session, index int, text string) {
	if index < 0 || index >= len(sess.Snapshot().Questions) {
		fmt.Fprintln(out, "没有这道题")
		return
	}
	sess.UpdateInput(index, text)
	res, ok := sess.Check(index)
	if !ok {
		fmt.Fprintln(out, "没有这道题")
		return
	}
	qs := sess.Snapshot().Questions
	if index >= len(qs) {
		return
	}
	printResult(out, qs[index], res)
}

func printQuestions(w io.Writer, st dictation.State) {
	if len(st.Questions) == 0 {
		fmt.Fprintln(w, "暂无题目，输入 r 出题")
		return
	}
	for i, q := range st.Questions {
		mark := " "
		switch q.Result.(type) {
		case grading.Correct:
			mark = "✓"
		case grading.Typos:
			mark = "△"
		case grading.WholeWrong:
			mark = "✗"
		}
		fmt.Fprintf(w, "%s %d. %s\n     %s\n", mark, i+1, q.Prompt, q.Mask())
	}
}

func printResult(w io.Writer, q dictation.Question, res grading.Result) {
	switch r := res.(type) {
	case grading.Correct:
		fmt.Fprintln(w, "✓ 正确")
	case grading.Typos:
		fmt.Fprintf(w, "△ 有错字：错 %d 字，共 %d 字\n", r.WrongCount, r.Total)
	default:
		fmt.Fprintln(w, "✗ 错误")
	}
	if _, ok := res.(grading.Correct); !ok {
		fmt.Fprintf(w, "  对照：%s\n", renderHighlight(grading.Highlight(q.Answer, q.UserInput)))
	}
	fmt.Fprintf(w, "  答案：%s\n", q.Answer)
	if q.Explanation != "" {
		fmt.Fprintf(w, "  解析：%s\n", q.Explanation)
	}
}

// renderHighlight brackets each run of mismatched characters.
func renderHighlight(marks []grading.Mark) string {
	var b strings.Builder
	open := false
	for _, m := range marks {
		miss := m.Kind == grading.Mismatch
		if miss != open {
			if miss {
				b.WriteByte('[')
			} else {
				b.WriteByte(']')
			}
			open = miss
		}
		b.WriteString(m.Rune)
	}
	if open {
		b.WriteByte(']')
	}
	return b.String()
}
