package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/lotas/faktwerk/internal/applog"
	"github.com/lotas/faktwerk/internal/chat"
	"github.com/lotas/faktwerk/internal/config"
	"github.com/lotas/faktwerk/internal/export"
	"github.com/lotas/faktwerk/internal/extract"
	"github.com/lotas/faktwerk/internal/firefox"
	"github.com/lotas/faktwerk/internal/report"
	"github.com/lotas/faktwerk/internal/server"
	"github.com/lotas/faktwerk/internal/storage"
	"github.com/lotas/faktwerk/internal/tabstate"
	"github.com/lotas/faktwerk/internal/tui"
	"github.com/lotas/faktwerk/internal/websearch"
)

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "serve":
			runServe(os.Args[2:])
			return
		case "check":
			runCheck(os.Args[2:])
			return
		case "history":
			runHistory(os.Args[2:])
			return
		case "help", "--help", "-h":
			printHelp()
			return
		}
	}

	runServe(os.Args[1:])
}

func printHelp() {
	fmt.Print(`faktwerk — fact-check pages from your browser or the command line

Usage:
  faktwerk [serve]                               Start the extension bridge (default)
    --port <n>             WebSocket port (default: 19333)
    --config <file>        Config file (default: ~/.config/faktwerk/config.toml)

  faktwerk check [url]                           Fact-check a page or text
    --tab                  Check the active Firefox tab instead of a URL
    --text                 Read the text to check from stdin
    --model <name>         Model name (env: FAKTWERK_MODEL)
    --json                 Print the raw report JSON instead of a summary
    --config <file>        Config file (default: ~/.config/faktwerk/config.toml)

  faktwerk history                               Browse past checks in a TUI
    --json                 Print history as JSON instead
    --md                   Print history as markdown instead
    --out <file>           Output file path (default: stdout)

Environment:
  FAKTWERK_API_KEY           API key for the model provider
  FAKTWERK_PROVIDER_URL      OpenAI-compatible endpoint (default: https://api.openai.com/v1)
  FAKTWERK_MODEL             Model name (default: gpt-4o-mini)
  FAKTWERK_REPORT_LANGUAGE   Language for generated reports (default: English)
  FAKTWERK_DB                Database path (default: ~/.local/share/faktwerk/faktwerk.db)
  FAKTWERK_DEBUG             Enable debug logging when set
`)
}

// loadConfig resolves the config file path (flag > default location) and
// loads it with environment overrides applied.
func loadConfig(configPath string) config.Config {
	path := configPath
	if path == "" {
		var err error
		path, err = config.DefaultPath()
		if err != nil {
			path = ""
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

func runServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "Config file path")
	port := fs.Int("port", 0, "WebSocket port (overrides config)")
	fs.Parse(args)

	cfg := loadConfig(*configPath)
	if *port != 0 {
		cfg.Port = *port
	}

	logDir := cfg.LogDir
	if logDir == "" {
		home, err := os.UserHomeDir()
		if err == nil {
			logDir = filepath.Join(home, ".local", "share", "faktwerk")
		}
	}
	if logDir != "" {
		if err := applog.Init(logDir); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: logging disabled: %v\n", err)
		}
		defer applog.Close()
	}

	db, err := storage.OpenDB(resolveDBPath(cfg))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	// Tab IDs from a previous browser session are meaningless now.
	if err := storage.ClearTabStates(db); err != nil {
		applog.Error("serve.clear_states", err)
	}
	if _, err := storage.PruneCache(db); err != nil {
		applog.Error("serve.prune_cache", err)
	}

	tabs := tabstate.NewRegistry(db)
	srv := server.New(cfg, db, tabs)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Fprintf(os.Stderr, "faktwerk listening on 127.0.0.1:%d\n", cfg.Port)
	if err := srv.Run(ctx); err != nil && ctx.Err() == nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runCheck(args []string) {
	fs := flag.NewFlagSet("check", flag.ExitOnError)
	configPath := fs.String("config", "", "Config file path")
	useTab := fs.Bool("tab", false, "Check the active Firefox tab")
	useText := fs.Bool("text", false, "Read text to check from stdin")
	model := fs.String("model", "", "Model name")
	jsonOut := fs.Bool("json", false, "Print the raw report JSON")
	fs.Parse(reorderArgs(args))

	cfg := loadConfig(*configPath)
	if *model != "" {
		cfg.Model = *model
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	var title, url, text string
	var isVideo bool
	var err error

	switch {
	case *useText:
		data, rerr := io.ReadAll(os.Stdin)
		if rerr != nil {
			fmt.Fprintf(os.Stderr, "Error reading stdin: %v\n", rerr)
			os.Exit(1)
		}
		text = strings.TrimSpace(string(data))
		title = "stdin"
	case *useTab:
		url, err = activeTabURL()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Fprintf(os.Stderr, "Checking active tab: %s\n", url)
		title, text, isVideo, err = fetchPage(ctx, url)
	case fs.NArg() > 0:
		url = fs.Arg(0)
		title, text, isVideo, err = fetchPage(ctx, url)
	default:
		fmt.Fprintln(os.Stderr, "Usage: faktwerk check <url> | --tab | --text")
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if text == "" {
		fmt.Fprintln(os.Stderr, "Nothing to check: no text extracted.")
		os.Exit(1)
	}

	db, err := storage.OpenDB(resolveDBPath(cfg))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	// Cached result short-circuits the model exchange.
	key := storage.CacheKey(text)
	if entry, cerr := storage.GetCache(db, key); cerr == nil && entry != nil {
		fmt.Fprintln(os.Stderr, "(cached)")
		printReport(entry.Report, *jsonOut)
		return
	}

	session, err := chat.NewSession(chat.Config{
		ProviderURL:    cfg.ProviderURL,
		Model:          cfg.Model,
		APIKey:         cfg.APIKey,
		SystemPrompt:   cfg.SystemPrompt,
		ReportLanguage: cfg.ReportLanguage,
		Temperature:    cfg.Temperature,
		MaxToolRounds:  cfg.MaxToolRounds,
	}, websearch.New())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	result, err := session.Check(ctx, text, func(ev chat.Event) {
		switch e := ev.(type) {
		case chat.SearchStart:
			fmt.Fprintf(os.Stderr, "  searching: %s\n", e.Query)
		case chat.SearchComplete:
			if e.Err != "" {
				fmt.Fprintf(os.Stderr, "  search failed: %s\n", e.Err)
			} else {
				fmt.Fprintf(os.Stderr, "  %d results\n", len(e.Results))
			}
		case chat.ResponseStart:
			fmt.Fprintln(os.Stderr, "  writing report...")
		}
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if err := storage.SetCache(db, key, result.Report, url); err != nil {
		applog.Error("check.cache", err)
	}
	item := &storage.HistoryItem{
		Source:  "cli",
		Title:   title,
		URL:     url,
		Score:   result.Report.Score,
		Content: text,
		Report:  result.Report,
		Prompt:  session.BuildPrompt(text),
		IsVideo: isVideo,
	}
	if err := storage.AppendHistory(db, item); err != nil {
		applog.Error("check.history", err)
	}

	printReport(result.Report, *jsonOut)
}

func fetchPage(ctx context.Context, url string) (title, text string, isVideo bool, err error) {
	page, err := extract.FetchReadable(ctx, url)
	if err != nil {
		return "", "", false, err
	}
	return page.Title, page.Text, page.IsVideo, nil
}

func activeTabURL() (string, error) {
	profileDir, err := firefox.DefaultProfileDir()
	if err != nil {
		return "", fmt.Errorf("find Firefox profile: %w", err)
	}
	tabs, err := firefox.ReadSessionTabs(profileDir)
	if err != nil {
		return "", fmt.Errorf("read Firefox session: %w", err)
	}
	tab, err := firefox.ActiveTab(tabs)
	if err != nil {
		return "", err
	}
	return tab.URL, nil
}

func printReport(rep report.Report, asJSON bool) {
	if asJSON {
		fmt.Println(rep.Raw)
		return
	}

	fmt.Printf("\nScore: %d/100  %s\n", rep.Score, rep.Verdict)
	if rep.Summary != "" {
		fmt.Printf("\n%s\n", rep.Summary)
	}
	if len(rep.Claims) > 0 {
		fmt.Println("\nClaims:")
		for _, c := range rep.Claims {
			fmt.Printf("  [%s] %s\n", c.Verdict, c.Claim)
			if c.Explanation != "" {
				fmt.Printf("        %s\n", c.Explanation)
			}
		}
	}
	if rep.Context != "" {
		fmt.Printf("\nContext: %s\n", rep.Context)
	}
	if rep.Sources != "" {
		fmt.Printf("\nSources: %s\n", rep.Sources)
	}
}

func runHistory(args []string) {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	configPath := fs.String("config", "", "Config file path")
	jsonFlag := fs.Bool("json", false, "Print history as JSON")
	mdFlag := fs.Bool("md", false, "Print history as markdown")
	outFile := fs.String("out", "", "Output file path (default: stdout)")
	fs.Parse(args)

	cfg := loadConfig(*configPath)
	db, err := storage.OpenDB(resolveDBPath(cfg))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	if !*jsonFlag && !*mdFlag {
		if err := tui.Run(db); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	items, err := storage.ListHistory(db)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	var output string
	if *jsonFlag {
		output, err = export.JSON(items)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error generating JSON: %v\n", err)
			os.Exit(1)
		}
	} else {
		output = export.Markdown(items)
	}

	if *outFile != "" {
		if err := os.WriteFile(*outFile, []byte(output), 0644); err != nil {
			fmt.Fprintf(os.Stderr, "Error writing file: %v\n", err)
			os.Exit(1)
		}
	} else {
		fmt.Print(output)
	}
}

func resolveDBPath(cfg config.Config) string {
	if cfg.DBPath != "" {
		return cfg.DBPath
	}
	path, err := storage.DefaultDBPath()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	return path
}

// reorderArgs moves flag arguments before positional arguments so that
// flag.Parse handles them correctly (it stops at the first non-flag arg).
func reorderArgs(args []string) []string {
	var flags, positional []string
	for i := 0; i < len(args); i++ {
		if strings.HasPrefix(args[i], "-") {
			flags = append(flags, args[i])
			if i+1 < len(args) && !strings.HasPrefix(args[i+1], "-") {
				flags = append(flags, args[i+1])
				i++
			}
		} else {
			positional = append(positional, args[i])
		}
	}
	return append(flags, positional...)
}
