package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/jerryz/poems/internal/chat"
	"github.com/jerryz/poems/internal/config"
)

func cmdChat(ctx context.Context, cfg *config.Config, args []string, in io.Reader, out io.Writer) error {
	fs := newCommandFlags("chat")
	id := fs.Int("poem", -1, "poem id")
	if err := fs.Parse(args); err != nil {
		return err
	}

	application, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer shutdownApp(application)

	sess, err := application.Sessions().Chat(*id)
	if err != nil {
		return err
	}
	p := sess.Poem()
	fmt.Fprintf(out, "《%s》 %s\n", p.Title, p.Author)
	return chatLoop(ctx, sess, readLines(ctx, in), out)
}

const chatHelp = `直接输入问题；回车或 /stop 停止回答，/history 查看记录，/delete <序号> 删除一轮，/quit 退出`

// chatLoop runs the conversation REPL until the input ends, ctx ends or the
// user quits.
func chatLoop(ctx context.Context, sess *chat.Session, lines <-chan string, out io.Writer) error {
	printHistory(out, sess.Snapshot())
	fmt.Fprintln(out, chatHelp)

	for {
		line, err := nextLine(ctx, lines, out)
		if errors.Is(err, errQuit) {
			return nil
		}
		switch {
		case line == "":
		case line == "/quit" || line == "/q":
			return nil
		case line == "/help":
			fmt.Fprintln(out, chatHelp)
		case line == "/history":
			printHistory(out, sess.Snapshot())
		case line == "/stop":
			sess.StopStreaming()
		case strings.HasPrefix(line, "/delete"):
			deleteTurn(out, sess, strings.TrimSpace(strings.TrimPrefix(line, "/delete")))
		default:
			if err := sess.SendMessage(line); err != nil {
				if errors.Is(err, chat.ErrBlankMessage) {
					continue
				}
				return err
			}
			followReply(ctx, sess, lines, out)
		}
	}
}

// followReply prints the reply to the message just sent as it streams. Any
// line typed meanwhile stops the stream; the partial reply is kept. The end
// of input does not stop it.
func followReply(ctx context.Context, sess *chat.Session, lines <-chan string, out io.Writer) {
	snaps, cancel := sess.Subscribe()
	defer cancel()

	var (
		replyID string
		printed string
	)
	for {
		select {
		case <-ctx.Done():
			sess.StopStreaming()
			fmt.Fprintln(out)
			return
		case _, ok := <-lines:
			if !ok {
				// End of input, as with piped stdin: let the reply finish.
				lines = nil
				continue
			}
			sess.StopStreaming()
		case snap, ok := <-snaps:
			if !ok {
				fmt.Fprintln(out)
				return
			}
			if replyID == "" && len(snap.Messages) > 0 {
				replyID = snap.Messages[len(snap.Messages)-1].ID
			}
			content, found := messageContent(snap, replyID)
			if !found {
				// Deleted while streaming.
				fmt.Fprintln(out)
				return
			}
			if strings.HasPrefix(content, printed) {
				fmt.Fprint(out, content[len(printed):])
			} else {
				// A failed stream replaces the partial text with the error.
				fmt.Fprint(out, "\n"+content)
			}
			printed = content
			if !snap.Streaming {
				fmt.Fprintln(out)
				return
			}
		}
	}
}

func messageContent(snap chat.Snapshot, id string) (string, bool) {
	for _, m := range snap.Messages {
		if m.ID == id {
			return m.Content, true
		}
	}
	return "", false
}

func deleteTurn(out io.Writer, sess *chat.Session, arg string) {
	turns := sess.Snapshot().Turns
	n, err := strconv.Atoi(arg)
	if err != nil || n < 1 || n > len(turns) {
		fmt.Fprintf(out, "序号应在 1 到 %d 之间\n", len(turns))
		return
	}
	if sess.DeleteTurn(turns[n-1]) {
		fmt.Fprintf(out, "已删除第 %d 轮\n", n)
	}
}

func printHistory(w io.Writer, snap chat.Snapshot) {
	for i, t := range snap.Turns {
		fmt.Fprintf(w, "── %d ──\n", i+1)
		if t.User != nil {
			fmt.Fprintf(w, "问：%s\n", t.User.Content)
		}
		if t.Assistant != nil {
			fmt.Fprintf(w, "答：%s\n", t.Assistant.Content)
		}
	}
}
