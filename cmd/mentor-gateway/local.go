// ABOUTME: Subcommands that run against the local database without a server
// ABOUTME: seed fills the knowledge base, solve runs the pipeline, memory moves confirmed solutions

package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"

	"github.com/2389/mentor-gateway/internal/config"
	"github.com/2389/mentor-gateway/internal/gateway"
	"github.com/2389/mentor-gateway/internal/session"
	"github.com/2389/mentor-gateway/internal/tutor"
)

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}

// runSeed fills the knowledge base. Without --file it seeds only an empty
// store from the configured seed file; with --file it always ingests.
func runSeed(ctx context.Context, args []string) error {
	var file string
	for i := 0; i < len(args); i++ {
		switch arg := args[i]; {
		case arg == "--file" || arg == "-f":
			if i+1 >= len(args) {
				return fmt.Errorf("--file requires a value")
			}
			file = args[i+1]
			i++
		case strings.HasPrefix(arg, "--file="):
			file = strings.TrimPrefix(arg, "--file=")
		default:
			return fmt.Errorf("unexpected argument: %s", arg)
		}
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := localLogger(cfg.Logging)

	s, err := gateway.OpenStore(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = s.Close() }()

	kb, err := gateway.OpenKnowledge(ctx, cfg, s, logger)
	if err != nil {
		return err
	}

	var added int
	if file != "" {
		added, err = kb.Ingest(ctx, file)
	} else {
		added, err = kb.Seed(ctx, cfg.Knowledge.SeedFile)
	}
	if err != nil {
		return err
	}

	total, err := kb.Count(ctx)
	if err != nil {
		return fmt.Errorf("counting documents: %w", err)
	}

	green := color.New(color.FgGreen)
	if added == 0 {
		fmt.Printf("Knowledge base already has %d documents; nothing added.\n", total)
		return nil
	}
	green.Printf("  ✓ Added %d documents (%d total)\n", added, total)
	return nil
}

type solveArgs struct {
	image   string
	audio   string
	student string
	yes     bool
	text    string
}

func parseSolveArgs(args []string) (solveArgs, error) {
	var a solveArgs
	var words []string
	value := func(i int, flag string) (string, error) {
		if i+1 >= len(args) {
			return "", fmt.Errorf("%s requires a value", flag)
		}
		return args[i+1], nil
	}

	for i := 0; i < len(args); i++ {
		arg := args[i]
		var err error
		switch {
		case arg == "--image":
			a.image, err = value(i, arg)
			i++
		case arg == "--audio":
			a.audio, err = value(i, arg)
			i++
		case arg == "--student":
			a.student, err = value(i, arg)
			i++
		case strings.HasPrefix(arg, "--image="):
			a.image = strings.TrimPrefix(arg, "--image=")
		case strings.HasPrefix(arg, "--audio="):
			a.audio = strings.TrimPrefix(arg, "--audio=")
		case strings.HasPrefix(arg, "--student="):
			a.student = strings.TrimPrefix(arg, "--student=")
		case arg == "--yes" || arg == "-y":
			a.yes = true
		case arg == "--":
			words = append(words, args[i+1:]...)
			i = len(args)
		case strings.HasPrefix(arg, "-") && len(arg) > 1:
			return a, fmt.Errorf("unknown flag: %s", arg)
		default:
			words = append(words, arg)
		}
		if err != nil {
			return a, err
		}
	}

	a.text = strings.TrimSpace(strings.Join(words, " "))
	inputs := 0
	for _, set := range []bool{a.image != "", a.audio != "", a.text != ""} {
		if set {
			inputs++
		}
	}
	if inputs == 0 {
		return a, fmt.Errorf("give problem text, --image FILE, or --audio FILE")
	}
	if inputs > 1 {
		return a, fmt.Errorf("give only one of problem text, --image, or --audio")
	}
	if a.student == "" {
		a.student = os.Getenv("USER")
	}
	return a, nil
}

// runSolve runs the full pipeline in-process and prints the explanation.
func runSolve(ctx context.Context, args []string) error {
	a, err := parseSolveArgs(args)
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := localLogger(cfg.Logging)

	c, err := gateway.Assemble(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = c.Close() }()
	c.SeedKnowledge(ctx, cfg.Knowledge.SeedFile, logger)

	reader := bufio.NewReader(os.Stdin)
	gray := color.New(color.FgHiBlack)

	text, inputType := a.text, tutor.InputText
	if a.image != "" || a.audio != "" {
		text, inputType, err = extractFile(ctx, c, a)
		if err != nil {
			return err
		}
		gray.Println("Extracted problem:")
		fmt.Println(text)
		fmt.Println()
		if !a.yes {
			text = prompt(reader, "Press enter to solve, or type a corrected problem", text)
		}
	}

	resp, err := c.Runs.Solve(ctx, session.SolveRequest{
		Student:   a.student,
		Text:      text,
		InputType: inputType,
	}, printProgress(os.Stdout))
	if err != nil {
		return err
	}

	fmt.Println()
	printResult(os.Stdout, resp.Result)

	if a.yes || resp.Duplicate || resp.Result.Answer == "" {
		return nil
	}
	return askFeedback(ctx, reader, c.Runs, resp.RunID, a.student)
}

func extractFile(ctx context.Context, c *gateway.Components, a solveArgs) (string, tutor.InputType, error) {
	path, inputType, extract := a.image, tutor.InputImage, c.Extractor.ExtractImage
	if a.audio != "" {
		path, inputType, extract = a.audio, tutor.InputAudio, c.Extractor.TranscribeAudio
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", "", fmt.Errorf("reading %s: %w", path, err)
	}
	text, err := extract(ctx, path, data)
	if err != nil {
		return "", "", fmt.Errorf("extracting problem from %s: %w", path, err)
	}
	return text, inputType, nil
}

// printProgress reports pipeline steps as they happen.
func printProgress(w io.Writer) func(*session.Event) {
	cyan := color.New(color.FgCyan)
	gray := color.New(color.FgHiBlack)
	return func(ev *session.Event) {
		switch ev.Type {
		case session.EventStarted:
			gray.Fprintf(w, "run %s\n", ev.RunID)
		case session.EventDuplicate:
			gray.Fprintf(w, "same as recent run %s\n", ev.RunID)
		case session.EventStep:
			cyan.Fprintf(w, "  ▶ %-10s", ev.Node)
			if ev.Message != "" {
				fmt.Fprintf(w, " %s", ev.Message)
			}
			fmt.Fprintln(w)
		}
	}
}

// printResult writes the notice in the outcome's color followed by the body.
func printResult(w io.Writer, res tutor.Result) {
	notice := color.New(color.FgCyan)
	switch res.Outcome {
	case tutor.OutcomeUnverified, tutor.OutcomeNeedsClarification:
		notice = color.New(color.FgYellow)
	case tutor.OutcomeFailed:
		notice = color.New(color.FgRed, color.Bold)
	case tutor.OutcomeVerified:
		color.New(color.FgGreen).Fprintln(w, "✓ verified")
	}

	if res.Notice != "" {
		notice.Fprintln(w, res.Notice)
		fmt.Fprintln(w)
	}
	if res.Outcome == tutor.OutcomeFailed && res.Notice == "" && res.Error != "" {
		notice.Fprintln(w, res.Error)
		return
	}
	if res.Outcome != tutor.OutcomeNeedsClarification && res.Display != "" {
		fmt.Fprintln(w, res.Display)
	}
	if res.Outcome == tutor.OutcomeUnverified && res.Critique != "" {
		fmt.Fprintln(w)
		color.New(color.FgHiBlack).Fprintf(w, "Verifier: %s\n", res.Critique)
	}
}

func askFeedback(ctx context.Context, reader *bufio.Reader, runs *session.Service, runID, student string) error {
	fmt.Println()
	answer := strings.ToLower(prompt(reader, "Was this solution accurate? (yes/no/skip)", "skip"))
	var accurate bool
	switch answer {
	case "y", "yes":
		accurate = true
	case "n", "no":
	default:
		return nil
	}

	var comment string
	if !accurate {
		comment = prompt(reader, "What was wrong? (optional)", "")
	}

	if err := runs.Feedback(ctx, session.FeedbackRequest{
		RunID:    runID,
		Student:  student,
		Accurate: accurate,
		Comment:  comment,
	}); err != nil {
		return fmt.Errorf("saving feedback: %w", err)
	}

	if accurate {
		color.New(color.FgGreen).Println("  ✓ Saved to memory")
	} else {
		fmt.Println("  Thanks, feedback recorded.")
	}
	return nil
}

// runMemory exports or imports confirmed solutions as a JSON list.
func runMemory(ctx context.Context, args []string) error {
	if len(args) != 2 || (args[0] != "export" && args[0] != "import") {
		return fmt.Errorf("usage: mentor-gateway memory export|import FILE")
	}
	action, path := args[0], args[1]

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := localLogger(cfg.Logging)

	s, err := gateway.OpenStore(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = s.Close() }()

	if action == "export" {
		runs := session.New(s, nil, nil, session.Options{Logger: logger})
		defer runs.Close()
		return exportMemory(ctx, runs, path)
	}

	kb, err := gateway.OpenKnowledge(ctx, cfg, s, logger)
	if err != nil {
		return err
	}
	runs := session.New(s, nil, kb, session.Options{Logger: logger})
	defer runs.Close()

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	n, err := runs.ImportMemory(ctx, f)
	if err != nil {
		return fmt.Errorf("importing memory: %w", err)
	}
	color.New(color.FgGreen).Printf("  ✓ Imported %d entries from %s\n", n, path)
	return nil
}

func exportMemory(ctx context.Context, runs *session.Service, path string) error {
	if path == "-" {
		return runs.ExportMemory(ctx, os.Stdout)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	if err := runs.ExportMemory(ctx, f); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	color.New(color.FgGreen).Printf("  ✓ Exported memory to %s\n", path)
	return nil
}
