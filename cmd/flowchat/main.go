// Command flowchat is an interactive terminal client for a chatflow
// backend: it streams replies, recalls input history, and stages file and
// link attachments from the local machine.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"mime"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	flowchat "github.com/set-night/flowchat"
	"github.com/set-night/flowchat/internal/attachment"
	"github.com/set-night/flowchat/internal/chat"
	"github.com/set-night/flowchat/internal/config"
	"github.com/set-night/flowchat/internal/domain"
	"github.com/set-night/flowchat/internal/flowise"
	"github.com/set-night/flowchat/internal/state"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	migrationsFS, err := fs.Sub(flowchat.MigrationsFS, "migrations")
	if err != nil {
		slog.Error("failed to load embedded migrations", "error", err)
		os.Exit(1)
	}
	states, err := state.Open(ctx, cfg.StateDBPath, migrationsFS)
	if err != nil {
		slog.Error("failed to open state database", "error", err)
		os.Exit(1)
	}
	defer states.Close()

	client := flowise.New(cfg.BaseURL, cfg.APIKey)
	session := chat.New(client, states, cfg.FlowID, "cli:"+cfg.FlowID, chat.Hooks{
		Notify: func(level chat.Level, message string) {
			fmt.Fprintf(os.Stderr, "[%s] %s\n", level, message)
		},
	})
	if err := session.Open(ctx); err != nil {
		slog.Error("failed to open session", "error", err)
		os.Exit(1)
	}

	repl := &repl{session: session, in: bufio.NewScanner(os.Stdin)}
	repl.banner()
	repl.run(ctx)
}

type repl struct {
	session *chat.Session
	in      *bufio.Scanner
	draft   string
}

func (r *repl) banner() {
	messages := r.session.Transcript()
	fmt.Println(messages[len(messages)-1].Text)
	if prompts := r.session.StarterPrompts(); len(prompts) > 0 {
		fmt.Println("\nSuggestions:")
		for _, p := range prompts {
			fmt.Printf("  - %s\n", p)
		}
	}
	if r.session.LeadRequired() {
		fmt.Println("\nThis flow asks who you are first: /lead Name; Email; Phone")
	}
	fmt.Println("\nCommands: /prev /next /file <path> /url <link> /form k=v;... /lead /reset /exit")
}

func (r *repl) run(ctx context.Context) {
	for {
		fmt.Print("> ")
		if !r.in.Scan() {
			return
		}
		line := strings.TrimSpace(r.in.Text())

		switch {
		case line == "/exit":
			return
		case line == "/prev":
			r.draft = r.session.RecallBack(r.draft)
			fmt.Printf("(recalled) %s\n", r.draft)
			continue
		case line == "/next":
			r.draft = r.session.RecallForward()
			fmt.Printf("(recalled) %s\n", r.draft)
			continue
		case strings.HasPrefix(line, "/file "):
			r.stageFile(ctx, strings.TrimSpace(strings.TrimPrefix(line, "/file ")))
			continue
		case strings.HasPrefix(line, "/url "):
			r.session.StageTextFragment("text/uri-list", strings.TrimPrefix(line, "/url "))
			fmt.Println("(link staged)")
			continue
		case strings.HasPrefix(line, "/form"):
			r.submitForm(ctx, strings.TrimSpace(strings.TrimPrefix(line, "/form")))
			continue
		case strings.HasPrefix(line, "/lead"):
			r.saveLead(ctx, strings.TrimSpace(strings.TrimPrefix(line, "/lead")))
			continue
		case line == "/reset":
			fmt.Println("Restart the client to begin a fresh conversation.")
			continue
		}

		if line == "" && r.draft != "" {
			line = r.draft
		}
		r.draft = ""

		if err := r.session.CanSubmit(line); err != nil {
			r.printValidation(err)
			continue
		}
		r.turn(ctx, func(ctx context.Context) error {
			return r.session.Submit(ctx, line)
		})
	}
}

// turn runs one submission, streaming the reply to stdout as it grows. A
// SIGINT during the turn requests cancellation instead of quitting.
func (r *repl) turn(ctx context.Context, run func(context.Context) error) {
	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)
	defer signal.Stop(interrupt)

	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-done:
				return
			case <-interrupt:
				if err := r.session.Stop(context.Background()); err != nil {
					slog.Warn("stop request failed", "error", err)
				}
			}
		}
	}()
	go r.streamPrint(done)

	err := run(ctx)
	close(done)
	time.Sleep(50 * time.Millisecond) // let the printer flush
	fmt.Println()

	if err != nil {
		r.printValidation(err)
	}
	r.renderExtras(ctx)
}

// streamPrint appends the growing tail text to stdout until the turn ends.
func (r *repl) streamPrint(done <-chan struct{}) {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	printed := 0
	for {
		select {
		case <-done:
			r.flushTail(&printed)
			return
		case <-ticker.C:
			r.flushTail(&printed)
		}
	}
}

func (r *repl) flushTail(printed *int) {
	messages := r.session.Transcript()
	tail := messages[len(messages)-1]
	if tail.Role != domain.RoleAssistant {
		return
	}
	text := []rune(tail.Text)
	if len(text) > *printed {
		fmt.Print(string(text[*printed:]))
		*printed = len(text)
	}
}

// renderExtras prints whatever the finished reply left interactive:
// sources, follow-up suggestions, or an action prompt that must be
// answered.
func (r *repl) renderExtras(ctx context.Context) {
	messages := r.session.Transcript()
	tail := messages[len(messages)-1]

	if n := len(tail.SourceDocuments); n > 0 {
		fmt.Printf("(%d source documents)\n", n)
	}
	if len(tail.FollowUpPrompts) > 0 {
		fmt.Println("Suggestions:")
		for _, p := range tail.FollowUpPrompts {
			fmt.Printf("  - %s\n", p)
		}
	}

	if tail.Action != nil && len(tail.Action.Elements) > 0 {
		r.answerAction(ctx, *tail.Action)
	}
}

func (r *repl) answerAction(ctx context.Context, action domain.Action) {
	fmt.Println("Choose an option:")
	for i, el := range action.Elements {
		fmt.Printf("  %d) %s\n", i+1, el.Label)
	}
	fmt.Print("? ")
	if !r.in.Scan() {
		return
	}
	idx, err := strconv.Atoi(strings.TrimSpace(r.in.Text()))
	if err != nil || idx < 1 || idx > len(action.Elements) {
		fmt.Println("(no valid choice, prompt left unanswered)")
		return
	}
	elem := action.Elements[idx-1]

	r.turn(ctx, func(ctx context.Context) error {
		err := r.session.SubmitAction(ctx, elem, action)
		if errors.Is(err, domain.ErrFeedbackRequired) {
			fmt.Print("Add a note (empty to skip): ")
			if !r.in.Scan() {
				return nil
			}
			return r.session.SubmitActionFeedback(ctx, strings.TrimSpace(r.in.Text()))
		}
		return err
	})
}

func (r *repl) stageFile(ctx context.Context, path string) {
	info, err := os.Stat(path)
	if err != nil {
		fmt.Printf("cannot stage %s: %v\n", path, err)
		return
	}
	mimeType := mime.TypeByExtension(filepath.Ext(path))
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		mimeType = mimeType[:i]
	}

	err = r.session.StageFiles(ctx, []attachment.Source{{
		Name: filepath.Base(path),
		MIME: mimeType,
		Size: info.Size(),
		Open: func() (io.ReadCloser, error) { return os.Open(path) },
	}})
	if err != nil {
		fmt.Printf("cannot stage %s: %v\n", path, err)
		return
	}
	fmt.Printf("(staged %s, %d bytes)\n", filepath.Base(path), info.Size())
}

func (r *repl) submitForm(ctx context.Context, args string) {
	values := map[string]string{}
	for _, pair := range strings.Split(args, ";") {
		key, value, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		values[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	if len(values) == 0 {
		fmt.Println("Usage: /form field=value;other=value")
		return
	}
	r.turn(ctx, func(ctx context.Context) error {
		return r.session.SubmitForm(ctx, values)
	})
}

func (r *repl) saveLead(ctx context.Context, args string) {
	parts := strings.Split(args, ";")
	lead := domain.Lead{}
	if len(parts) > 0 {
		lead.Name = strings.TrimSpace(parts[0])
	}
	if len(parts) > 1 {
		lead.Email = strings.TrimSpace(parts[1])
	}
	if len(parts) > 2 {
		lead.Phone = strings.TrimSpace(parts[2])
	}
	if lead.Name == "" && lead.Email == "" && lead.Phone == "" {
		fmt.Println("Usage: /lead Name; Email; Phone")
		return
	}
	if err := r.session.SaveLead(ctx, lead); err != nil {
		fmt.Printf("could not save lead: %v\n", err)
		return
	}
	messages := r.session.Transcript()
	fmt.Println(messages[len(messages)-1].Text)
}

func (r *repl) printValidation(err error) {
	switch {
	case errors.Is(err, domain.ErrEmptySubmission):
		fmt.Println("Nothing to send. Type a message or stage an image first.")
	case errors.Is(err, domain.ErrActionPending):
		fmt.Println("Answer the pending prompt first.")
	case errors.Is(err, domain.ErrTurnActive):
		fmt.Println("A reply is still in flight.")
	case errors.Is(err, domain.ErrLeadRequired):
		fmt.Println("Introduce yourself first: /lead Name; Email; Phone")
	default:
		fmt.Printf("turn failed: %v\n", err)
	}
}
