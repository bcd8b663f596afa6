// ABOUTME: Operator CLI for ember storage: inspect, back up, import, switch backends
// ABOUTME: Every mutating command runs through the same locked service as the app

package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"

	"github.com/emberchat/ember/internal/coordinator"
	"github.com/emberchat/ember/internal/diag"
	"github.com/emberchat/ember/internal/migration"
	"github.com/emberchat/ember/internal/service"
	"github.com/emberchat/ember/internal/storage"
	_ "github.com/emberchat/ember/internal/storage/flatstore"
	_ "github.com/emberchat/ember/internal/storage/treestore"
)

const banner = `
                 _
   ___ _ __ ___ | |__   ___ _ __
  / _ \ '_ ' _ \| '_ \ / _ \ '__|
 |  __/ | | | | | |_) |  __/ |
  \___|_| |_| |_|_.__/ \___|_|   store
`

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]
	ctx := context.Background()

	var err error
	switch cmd {
	case "status":
		err = cmdStatus(ctx)
	case "export":
		err = cmdExport(ctx, args)
	case "analyze":
		err = cmdAnalyze(ctx, args)
	case "import":
		err = cmdImport(ctx, args)
	case "switch":
		err = cmdSwitch(ctx, args)
	case "clear":
		err = cmdClear(ctx)
	case "diag":
		err = cmdDiag(ctx)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		color.Red("Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	cyan := color.New(color.FgCyan)
	yellow := color.New(color.FgYellow)

	cyan.Print(banner)
	fmt.Println()
	fmt.Println("Usage: ember-store <command> [args]")
	fmt.Println()
	yellow.Println("Commands:")
	fmt.Println("  status                       Show backend, data dir and record counts")
	fmt.Println("  export <file>                Write a backup archive")
	fmt.Println("  analyze <file>               Preview an archive without importing it")
	fmt.Println("  import <file> [flags]        Import an archive")
	fmt.Println("      -replace                 Wipe existing data first")
	fmt.Println("      -prefix <str>            Prefix imported chat and group titles")
	fmt.Println("      -settings f=keep|replace Per-field settings merge policy")
	fmt.Println("  switch <flat|tree>           Migrate all data to the other backend")
	fmt.Println("  clear                        Delete everything in the active backend")
	fmt.Println("  diag                         Scan the store and report problems")
	fmt.Println()
	yellow.Println("Environment:")
	fmt.Println("  EMBER_DATA_DIR               Data directory override")
	fmt.Println("  EMBER_BACKEND                Backend override (flat | tree)")
	fmt.Println("  EMBER_STORE_CONFIG           TOML config path (default ~/.config/ember/store.toml)")
	fmt.Println()
}

// env ties together everything a command needs: the opened provider, the
// coordinator giving real cross-process locks, and the migration engine.
type env struct {
	cfg      *Config
	provider storage.Provider
	coord    *coordinator.Coordinator
	reporter *diag.Reporter
	svc      *service.Service
	engine   *migration.Engine
}

func openEnv(ctx context.Context) (*env, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	storageCfg := storage.Config{DataDir: cfg.Storage.DataDir, Logger: logger}
	kind, _ := storage.ParseKind(cfg.Storage.Backend)
	provider, err := storage.Open(kind, storageCfg)
	if err != nil {
		return nil, fmt.Errorf("opening %s backend: %w", kind, err)
	}
	if err := provider.Init(ctx); err != nil {
		provider.Close()
		return nil, fmt.Errorf("initializing %s backend: %w", kind, err)
	}

	// Stored settings win over config once they exist.
	if settings, err := provider.LoadSettings(ctx); err == nil && settings != nil {
		if stored := storage.Kind(settings.ActiveBackend); stored != kind {
			other, err := storage.Open(stored, storageCfg)
			if err != nil {
				provider.Close()
				return nil, fmt.Errorf("opening %s backend: %w", stored, err)
			}
			if err := other.Init(ctx); err != nil {
				other.Close()
				provider.Close()
				return nil, fmt.Errorf("initializing %s backend: %w", stored, err)
			}
			provider.Close()
			provider = other
		}
	}

	coord, err := coordinator.New(coordinator.Options{
		DataDir: cfg.Storage.DataDir,
		Logger:  logger,
	})
	if err != nil {
		provider.Close()
		return nil, fmt.Errorf("starting coordinator: %w", err)
	}

	reporter := diag.NewReporter(0, logger)
	svc := service.New(provider, coord, reporter, logger)
	engine := migration.NewEngine(svc, coord, storageCfg, logger)

	return &env{
		cfg:      cfg,
		provider: provider,
		coord:    coord,
		reporter: reporter,
		svc:      svc,
		engine:   engine,
	}, nil
}

func (e *env) close() {
	e.coord.Close()
	e.svc.Provider().Close()
}

func cmdStatus(ctx context.Context) error {
	e, err := openEnv(ctx)
	if err != nil {
		return err
	}
	defer e.close()

	p := e.svc.Provider()
	metas, err := e.svc.ListChatMetas(ctx)
	if err != nil {
		return err
	}
	groups, err := e.svc.ListChatGroups(ctx)
	if err != nil {
		return err
	}
	var objects int
	if p.CanPersistBinary() {
		list, err := p.ListBinaryObjects(ctx)
		if err != nil {
			return err
		}
		objects = len(list)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "Data dir:\t%s\n", e.cfg.Storage.DataDir)
	fmt.Fprintf(w, "Backend:\t%s\n", p.Kind())
	fmt.Fprintf(w, "Binary support:\t%v\n", p.CanPersistBinary())
	fmt.Fprintf(w, "Chats:\t%d\n", len(metas))
	fmt.Fprintf(w, "Groups:\t%d\n", len(groups))
	if p.CanPersistBinary() {
		fmt.Fprintf(w, "Binary objects:\t%d\n", objects)
	}
	return w.Flush()
}

func cmdExport(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: ember-store export <file>")
	}
	e, err := openEnv(ctx)
	if err != nil {
		return err
	}
	defer e.close()

	f, err := os.Create(args[0])
	if err != nil {
		return fmt.Errorf("creating archive: %w", err)
	}
	defer f.Close()

	if err := e.engine.ExportArchive(ctx, f); err != nil {
		return err
	}
	if err := f.Sync(); err != nil {
		return err
	}
	color.Green("Exported to %s\n", args[0])
	return nil
}

func openArchive(path string) (*os.File, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("opening archive: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, err
	}
	return f, info.Size(), nil
}

func cmdAnalyze(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: ember-store analyze <file>")
	}
	e, err := openEnv(ctx)
	if err != nil {
		return err
	}
	defer e.close()

	f, size, err := openArchive(args[0])
	if err != nil {
		return err
	}
	defer f.Close()

	preview, err := e.engine.Analyze(ctx, f, size)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "Chats:\t%d\n", preview.ChatCount)
	fmt.Fprintf(w, "Groups:\t%d\n", preview.GroupCount)
	fmt.Fprintf(w, "Binary objects:\t%d\n", preview.BinaryObjects)
	fmt.Fprintf(w, "Grouped sidebar:\t%v\n", preview.NestedGroups)
	fmt.Fprintf(w, "Skipped records:\t%d\n", preview.SkippedRecords)
	w.Flush()

	if len(preview.Titles) > 0 {
		fmt.Println()
		color.New(color.FgYellow).Println("Titles:")
		for _, title := range preview.Titles {
			fmt.Printf("  %s\n", title)
		}
	}
	return nil
}

func cmdImport(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("import", flag.ContinueOnError)
	replace := fs.Bool("replace", false, "wipe existing data first")
	prefix := fs.String("prefix", "", "prefix imported chat and group titles")
	settingsSpec := fs.String("settings", "", "comma-separated field=keep|replace pairs")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: ember-store import <file> [-replace] [-prefix str] [-settings f=policy,...]")
	}

	merge, err := parseMergeSpec(*settingsSpec)
	if err != nil {
		return err
	}

	e, err := openEnv(ctx)
	if err != nil {
		return err
	}
	defer e.close()

	f, size, err := openArchive(fs.Arg(0))
	if err != nil {
		return err
	}
	defer f.Close()

	cfg := migration.ImportConfig{
		Mode:          migration.ModeAppend,
		TitlePrefix:   *prefix,
		SettingsMerge: merge,
	}
	if *replace {
		cfg.Mode = migration.ModeReplace
		if !confirm("Replace mode deletes everything in the store first. Type 'yes' to continue: ") {
			return fmt.Errorf("aborted")
		}
	}

	if err := e.engine.Import(ctx, f, size, cfg); err != nil {
		return err
	}
	color.Green("Import complete\n")
	reportDiags(e.reporter)
	return nil
}

// parseMergeSpec turns "default_model=replace,provider_profiles=keep" into
// a policy map.
func parseMergeSpec(spec string) (map[string]migration.MergePolicy, error) {
	if spec == "" {
		return nil, nil
	}
	merge := make(map[string]migration.MergePolicy)
	for _, pair := range strings.Split(spec, ",") {
		field, policy, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok {
			return nil, fmt.Errorf("bad -settings entry %q, want field=keep|replace", pair)
		}
		switch migration.MergePolicy(policy) {
		case migration.MergeKeep, migration.MergeReplace:
			merge[field] = migration.MergePolicy(policy)
		default:
			return nil, fmt.Errorf("bad merge policy %q for %s, want keep or replace", policy, field)
		}
	}
	return merge, nil
}

func cmdSwitch(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: ember-store switch <flat|tree>")
	}
	kind, err := storage.ParseKind(args[0])
	if err != nil {
		return err
	}

	e, err := openEnv(ctx)
	if err != nil {
		return err
	}
	defer e.close()

	from := e.svc.Provider().Kind()
	if from == kind {
		color.Yellow("Backend %s is already active\n", kind)
		return nil
	}

	if err := e.engine.SwitchProvider(ctx, kind); err != nil {
		return err
	}
	color.Green("Switched %s -> %s\n", from, kind)
	return nil
}

func cmdClear(ctx context.Context) error {
	e, err := openEnv(ctx)
	if err != nil {
		return err
	}
	defer e.close()

	if !confirm("This deletes every chat, group, setting and attachment. Type 'yes' to continue: ") {
		return fmt.Errorf("aborted")
	}
	if err := e.svc.ClearAll(ctx); err != nil {
		return err
	}
	color.Green("Store cleared\n")
	return nil
}

// cmdDiag walks every record in the store so partial corruption surfaces
// as diagnostic events, then prints what was found.
func cmdDiag(ctx context.Context) error {
	e, err := openEnv(ctx)
	if err != nil {
		return err
	}
	defer e.close()

	metas, err := e.svc.ListChatMetas(ctx)
	if err != nil {
		return err
	}
	unreadable := 0
	for _, m := range metas {
		content, err := e.svc.LoadChatContent(ctx, m.ID)
		if err != nil {
			return err
		}
		if content == nil {
			unreadable++
			e.reporter.Report("diag-scan", "chat content missing or corrupt", map[string]any{
				"id": m.ID,
			})
		}
	}
	if _, err := e.svc.ListChatGroups(ctx); err != nil {
		return err
	}
	if _, err := e.svc.LoadSettings(ctx); err != nil {
		return err
	}
	if e.svc.Provider().CanPersistBinary() {
		if _, err := e.svc.Provider().ListBinaryObjects(ctx); err != nil {
			return err
		}
	}

	fmt.Printf("Scanned %d chats, %d without readable content\n", len(metas), unreadable)
	reportDiags(e.reporter)
	if unreadable == 0 {
		color.Green("No problems found\n")
	}
	return nil
}

func reportDiags(reporter *diag.Reporter) {
	events := reporter.Recent(0)
	if len(events) == 0 {
		return
	}
	color.New(color.FgYellow).Println("Diagnostics:")
	for i := len(events) - 1; i >= 0; i-- {
		ev := events[i]
		fmt.Printf("  [%s] %s %v\n", ev.Source, ev.Message, ev.Details)
	}
}

func confirm(prompt string) bool {
	fmt.Print(prompt)
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	return strings.TrimSpace(line) == "yes"
}
