// Command play reads a story in the terminal against a running talehopper
// server.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	_ "github.com/joho/godotenv/autoload"

	"talehopper/pkg/client"
	"talehopper/pkg/diff"
	"talehopper/pkg/schema"
	"talehopper/pkg/session"
	"talehopper/pkg/utils"
)

const wrapWidth = 80

func main() {
	serverURL := flag.String("server", envOr("TALEHOPPER_URL", client.DefaultBaseURL), "story server base URL")
	promptPath := flag.String("prompt", "", "JSON file with the story prompt; asks interactively when empty")
	outDir := flag.String("out", "transcripts", "directory for saved transcripts")
	timeout := flag.Duration("timeout", 90*time.Second, "request timeout")
	verbose := flag.Bool("v", false, "debug logging")
	flag.Parse()

	logger := log.NewWithOptions(os.Stderr, log.Options{Prefix: "play"})
	if *verbose {
		logger.SetLevel(log.DebugLevel)
	} else {
		logger.SetLevel(log.WarnLevel)
	}

	ctx, done := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer done()

	p := &player{
		in:     bufio.NewScanner(os.Stdin),
		out:    os.Stdout,
		client: client.New(*serverURL, *timeout),
		outDir: *outDir,
	}
	p.ctrl = session.New(p.client, logger)

	var prompt schema.Prompt
	if *promptPath != "" {
		var err error
		prompt, err = utils.Load[schema.Prompt](*promptPath)
		if err != nil {
			logger.Fatal("could not read prompt", "path", *promptPath, "error", err)
		}
	} else {
		var err error
		if prompt, err = p.askPrompt(schema.Prompt{Age: 7, Language: schema.English, Length: 5}); err != nil {
			return
		}
	}

	if err := p.run(ctx, prompt); err != nil && !errors.Is(err, io.EOF) {
		logger.Fatal(err)
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

type player struct {
	in     *bufio.Scanner
	out    io.Writer
	client *client.Client
	ctrl   *session.Controller
	outDir string
	shown  int
}

func (p *player) run(ctx context.Context, prompt schema.Prompt) error {
	if err := p.begin(ctx, prompt); err != nil {
		return err
	}

	for {
		if ctx.Err() != nil {
			return nil
		}
		snap := p.ctrl.Snapshot()
		p.show(snap)

		line, err := p.ask(p.menu(snap))
		if err != nil {
			return err
		}

		switch cmd := strings.ToLower(line); cmd {
		case "q", "quit":
			return nil
		case "s", "save":
			p.save(snap)
		case "g", "regenerate":
			p.regenerate(ctx, snap)
		case "r", "retry":
			p.report(p.ctrl.Retry(ctx))
		case "n", "new":
			p.ctrl.Restart()
			p.shown = 0
			prompt, _ := p.ctrl.Template()
			prompt, err := p.askPrompt(prompt)
			if err != nil {
				return err
			}
			if err := p.begin(ctx, prompt); err != nil {
				return err
			}
		case "f", "feedback":
			p.feedback(ctx)
		default:
			if snap.Ended || len(snap.Choices) == 0 {
				fmt.Fprintln(p.out, "The story is over. Pick n, g, s or q.")
				continue
			}
			choice, ok := pick(line, snap.Choices)
			if !ok {
				fmt.Fprintln(p.out, "I didn't understand that choice.")
				continue
			}
			fmt.Fprintf(p.out, "\n> %s\n", choice)
			p.report(p.ctrl.Advance(ctx, choice))
		}
	}
}

// begin starts a story, asking for a new setup until one succeeds.
func (p *player) begin(ctx context.Context, prompt schema.Prompt) error {
	for !p.start(ctx, prompt) {
		if err := ctx.Err(); err != nil {
			return err
		}
		var err error
		if prompt, err = p.askPrompt(prompt); err != nil {
			return err
		}
	}
	return nil
}

// start begins a story and reports whether it has a first paragraph.
func (p *player) start(ctx context.Context, prompt schema.Prompt) bool {
	fmt.Fprintln(p.out, "Writing your story...")
	err := p.ctrl.Start(ctx, prompt)
	var verr *schema.ValidationError
	if errors.As(err, &verr) {
		fmt.Fprintf(p.out, "That story setup doesn't work: %v\n", verr)
		return false
	}
	if msg := p.ctrl.Snapshot().Error; msg != "" {
		fmt.Fprintln(p.out, msg)
		return false
	}
	return true
}

func (p *player) regenerate(ctx context.Context, before session.Snapshot) {
	if err := p.ctrl.RegenerateLast(ctx); err != nil {
		p.report(err)
		return
	}
	after := p.ctrl.Snapshot()
	if after.Error != "" {
		return
	}
	d := diff.Stories(before.History, before.Choices, after.History, after.Choices)
	if d.Empty() {
		fmt.Fprintln(p.out, "The storyteller wrote the same thing again.")
		return
	}
	d.Print(p.out)
	p.shown = len(after.History)
}

func (p *player) report(err error) {
	switch {
	case err == nil:
	case errors.Is(err, session.ErrNotStarted):
		fmt.Fprintln(p.out, "Start a story first.")
	case errors.Is(err, session.ErrNothingToRegenerate):
		fmt.Fprintln(p.out, "There is nothing to regenerate yet.")
	case errors.Is(err, session.ErrNothingToRetry):
		fmt.Fprintln(p.out, "There is nothing to retry.")
	default:
		fmt.Fprintln(p.out, err)
	}
}

// show prints the paragraphs not printed yet, then the choices.
func (p *player) show(s session.Snapshot) {
	if p.shown > len(s.History) {
		p.shown = 0
	}
	for i := p.shown; i < len(s.History); i++ {
		fmt.Fprintln(p.out)
		for _, line := range utils.ChunkText(s.History[i], wrapWidth) {
			fmt.Fprintln(p.out, line)
		}
	}
	p.shown = len(s.History)

	if s.Error != "" {
		fmt.Fprintf(p.out, "\n%s\n", s.Error)
	}
	if s.Ended {
		fmt.Fprintln(p.out, "\nThe End.")
		return
	}
	if len(s.Choices) > 0 {
		fmt.Fprintln(p.out)
		for i, c := range s.Choices {
			fmt.Fprintf(p.out, "  %d) %s\n", i+1, c)
		}
	}
}

func (p *player) menu(s session.Snapshot) string {
	opts := []string{"g regenerate", "n new story", "s save", "f feedback", "q quit"}
	if s.PendingChoice != "" && s.Error != "" {
		opts = append([]string{"r retry"}, opts...)
	}
	if !s.Ended && len(s.Choices) > 0 {
		opts = append([]string{"choice number or text"}, opts...)
	}
	return strings.Join(opts, ", ")
}

// pick resolves a number or text to one of the offered choices.
func pick(line string, choices []string) (string, bool) {
	if n, err := strconv.Atoi(line); err == nil {
		if n >= 1 && n <= len(choices) {
			return choices[n-1], true
		}
		return "", false
	}
	if i := utils.BestMatch(line, choices, 0.6); i >= 0 {
		return choices[i], true
	}
	return "", false
}

func (p *player) save(s session.Snapshot) {
	path := filepath.Join(p.outDir, utils.SanitizeFilename(s.ID)+".json")
	if err := utils.Save(path, s); err != nil {
		fmt.Fprintf(p.out, "Could not save: %v\n", err)
		return
	}
	fmt.Fprintf(p.out, "Saved to %s\n", path)
}

func (p *player) feedback(ctx context.Context) {
	msg, err := p.ask("Your feedback")
	if err != nil || msg == "" {
		return
	}
	email, _ := p.ask("Email (optional)")
	fb, err := schema.Feedback{Message: msg, Email: email}.Validate()
	if err != nil {
		fmt.Fprintln(p.out, err)
		return
	}
	resp, err := p.client.SendFeedback(ctx, fb)
	if err != nil {
		fmt.Fprintln(p.out, err)
		return
	}
	fmt.Fprintln(p.out, resp.Message)
}

func (p *player) ask(label string) (string, error) {
	fmt.Fprintf(p.out, "%s: ", label)
	if !p.in.Scan() {
		if err := p.in.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}
	return strings.TrimSpace(p.in.Text()), nil
}

// askPrompt fills a prompt interactively; an empty answer keeps the value
// shown in brackets. It fails only when input ends.
func (p *player) askPrompt(def schema.Prompt) (schema.Prompt, error) {
	out := def.Clone()
	var inputErr error
	read := func(label string) string {
		if inputErr != nil {
			return ""
		}
		s, err := p.ask(label)
		inputErr = err
		return s
	}
	askInt := func(label string, cur *int) {
		if s := read(fmt.Sprintf("%s [%d]", label, *cur)); s != "" {
			if n, err := strconv.Atoi(s); err == nil {
				*cur = n
			}
		}
	}
	askStr := func(label string, cur *string) {
		if s := read(fmt.Sprintf("%s [%s]", label, *cur)); s != "" {
			*cur = s
		}
	}

	askInt(fmt.Sprintf("Age (%d-%d)", schema.MinAge, schema.MaxAge), &out.Age)
	lang := string(out.Language)
	askStr("Language (english/french)", &lang)
	out.Language = schema.Language(lang)
	askInt(fmt.Sprintf("Paragraphs (%d-%d)", schema.MinLength, schema.MaxLength), &out.Length)
	askStr("Environment", &out.Environment)
	askStr("Theme", &out.Theme)
	askOption(p.out, read, &out, &out.Tone, "Tone", "tone", schema.Tones)
	askOption(p.out, read, &out, &out.ConflictType, "Conflict", "conflict_type", schema.ConflictTypes)
	askOption(p.out, read, &out, &out.EndingStyle, "Ending", "ending_style", schema.EndingStyles)
	askStr("Anything else", &out.Prompt)

	for i := len(out.Characters) - 1; i >= 0; i-- {
		c := out.Characters[i]
		if s := read(fmt.Sprintf("Keep %s the %s? [Y/n]", c.Name, c.Type)); strings.EqualFold(s, "n") {
			out = out.RemoveCharacter(i)
		}
	}
	label := fmt.Sprintf("Add a character as name:type[:gender[:personality]], gender e.g. %s (empty to finish)",
		strings.Join(schema.GenderOptions, "/"))
	for inputErr == nil {
		s := read(label)
		if s == "" {
			break
		}
		fields := strings.SplitN(s, ":", 4)
		fields = append(fields, "", "", "")
		next, ok := out.AddCharacter(schema.Character{Name: fields[0], Type: fields[1], Gender: fields[2], Personality: fields[3]})
		if !ok {
			fmt.Fprintln(p.out, "A character needs a name and a type.")
			continue
		}
		out = next
	}
	if inputErr == nil {
		fmt.Fprintf(p.out, "Story settings:\n%s\n", utils.PrettyJSON(out))
	}
	return out, inputErr
}

// askOption asks for one of options and stores it in cur, which points into
// out. Answers that fail validation for field are asked again; "-" clears the
// value and an empty answer keeps it.
func askOption[T ~string](w io.Writer, read func(string) string, out *schema.Prompt, cur *T, label, field string, options []T) {
	names := make([]string, len(options))
	for i, o := range options {
		names[i] = string(o)
	}
	for {
		s := read(fmt.Sprintf("%s (%s, - for none) [%s]", label, strings.Join(names, "/"), *cur))
		if s == "" {
			return
		}
		if s == "-" {
			s = ""
		}
		prev := *cur
		*cur = T(s)
		var verr *schema.ValidationError
		if _, err := schema.ValidatePrompt(*out); errors.As(err, &verr) && verr.Field == field {
			fmt.Fprintf(w, "Pick one of %s.\n", strings.Join(names, ", "))
			*cur = prev
			continue
		}
		return
	}
}
