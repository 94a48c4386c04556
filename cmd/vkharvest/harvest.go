package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"vkharvest/pkg/auth"
	"vkharvest/pkg/config"
	"vkharvest/pkg/harvest"
	"vkharvest/pkg/logger"
	"vkharvest/pkg/ratelimit"
	"vkharvest/pkg/ui"
	"vkharvest/pkg/vk"
)

// harvestOptions holds the collection selection flags
type harvestOptions struct {
	path       string
	walls      []string
	chats      []string
	fave       bool
	count      int
	wallOffset []int
	faveOffset int
	chatCursor []string
	concurrent int
	rateLimit  int
	account    string
	token      string
}

var harvestOpts harvestOptions

var errInterrupted = errors.New("interrupted")

// harvestCmd is the explicit form of the root command
var harvestCmd = &cobra.Command{
	Use:   "harvest",
	Short: "Download photos from walls, bookmarks and chats",
	Long: `Download the photos of every selected collection.

Collections are harvested one after another: bookmarks first, then walls in
the order given, then chats. Photos are stored under the output directory:

  faves/                 bookmarked posts
  walls/<identifier>/    wall posts
  chats/<peer>/          conversation attachments

A wall identifier is a short name (durov), id<N> for a user id, or c<N> for
a group chat. A chat peer is a numeric peer id or c<N>.`,
	Example: `  vkharvest harvest --wall durov --wall id1
  vkharvest harvest --chat c12 --chat-cursor 457239017/1234
  vkharvest harvest --wall durov --wall apiclub --wall-offset 0,500
  vkharvest harvest --fave --fave-offset 200`,
	Args: cobra.NoArgs,
	RunE: runHarvest,
}

func init() {
	rootCmd.AddCommand(harvestCmd)
	addHarvestFlags(harvestCmd)
	addHarvestFlags(rootCmd)
}

func addHarvestFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.StringVarP(&harvestOpts.path, "path", "p", "", "output directory (default ./data)")
	flags.StringSliceVar(&harvestOpts.walls, "wall", nil, "wall to harvest (repeatable)")
	flags.StringSliceVar(&harvestOpts.chats, "chat", nil, "chat to harvest (repeatable)")
	flags.BoolVar(&harvestOpts.fave, "fave", false, "harvest bookmarked posts")
	flags.IntVarP(&harvestOpts.count, "count", "c", 0, fmt.Sprintf("items per page, at most %d (default %d)", config.MaxPageSize, config.DefaultPageSize))
	flags.IntSliceVar(&harvestOpts.wallOffset, "wall-offset", nil, "starting offset of each --wall, in the same order")
	flags.IntVar(&harvestOpts.faveOffset, "fave-offset", 0, "start bookmarks at this offset")
	flags.StringSliceVar(&harvestOpts.chatCursor, "chat-cursor", nil, "starting cursor of each --chat, in the same order (<messageId>/<conversationMessageId>)")
	flags.IntVar(&harvestOpts.concurrent, "concurrent", 0, "downloads in flight per page, 0 for unbounded (default 8)")
	flags.IntVar(&harvestOpts.rateLimit, "rate-limit", 0, "API requests per second, 0 for unlimited (default 3)")
	flags.StringVarP(&harvestOpts.account, "account", "a", "", "use a stored account")
	flags.StringVar(&harvestOpts.token, "token", "", "access token (prefer 'auth login' or the environment)")
}

// harvestRequested reports whether any collection was selected
func harvestRequested(cmd *cobra.Command) bool {
	flags := cmd.Flags()
	return flags.Changed("wall") || flags.Changed("chat") || flags.Changed("fave")
}

// flagOverrides collects the flags the user set, keyed as config expects
func flagOverrides(cmd *cobra.Command) map[string]interface{} {
	flags := cmd.Flags()
	overrides := make(map[string]interface{})

	if flags.Changed("path") {
		overrides["path"] = harvestOpts.path
	}
	if flags.Changed("count") {
		overrides["count"] = harvestOpts.count
	}
	if flags.Changed("concurrent") {
		overrides["concurrent"] = harvestOpts.concurrent
	}
	if flags.Changed("rate-limit") {
		overrides["rate-limit"] = harvestOpts.rateLimit
	}
	if flags.Changed("token") {
		overrides["token"] = harvestOpts.token
	}
	if logLevel != "" {
		overrides["log-level"] = logLevel
	} else if quiet {
		overrides["log-level"] = "error"
	}
	if logFile != "" {
		overrides["log-file"] = logFile
	}
	return overrides
}

// buildVariants creates the selected collections in harvest order
func buildVariants(opts harvestOptions, pageSize int) ([]harvest.Variant, error) {
	var variants []harvest.Variant

	if len(opts.wallOffset) > len(opts.walls) {
		return nil, fmt.Errorf("%d wall offsets given for %d walls", len(opts.wallOffset), len(opts.walls))
	}
	if len(opts.chatCursor) > len(opts.chats) {
		return nil, fmt.Errorf("%d chat cursors given for %d chats", len(opts.chatCursor), len(opts.chats))
	}

	if opts.fave {
		fave, err := harvest.NewFavorites(pageSize, opts.faveOffset)
		if err != nil {
			return nil, fmt.Errorf("bookmarks: %w", err)
		}
		variants = append(variants, fave)
	}

	for i, id := range opts.walls {
		offset := 0
		if i < len(opts.wallOffset) {
			offset = opts.wallOffset[i]
		}
		wall, err := harvest.NewWallFeed(id, pageSize, offset)
		if err != nil {
			return nil, fmt.Errorf("wall %q: %w", id, err)
		}
		variants = append(variants, wall)
	}

	for i, peer := range opts.chats {
		cursor := ""
		if i < len(opts.chatCursor) {
			cursor = opts.chatCursor[i]
		}
		chat, err := harvest.NewChatAttachments(peer, pageSize, cursor)
		if err != nil {
			return nil, fmt.Errorf("chat %q: %w", peer, err)
		}
		variants = append(variants, chat)
	}

	if len(variants) == 0 {
		return nil, errors.New("nothing to harvest: pass --wall, --chat or --fave")
	}
	return variants, nil
}

// resolveToken picks the token of the named account, then the configured
// token, then the default stored account.
func resolveToken(cfg *config.Config, manager *auth.Manager, accountName string) (string, error) {
	if accountName != "" {
		account, err := manager.Retrieve(accountName)
		if err != nil {
			return "", fmt.Errorf("account %q: %w", accountName, err)
		}
		return account.AccessToken, nil
	}

	if cfg.VK.AccessToken != "" {
		return cfg.VK.AccessToken, nil
	}

	account, err := manager.RetrieveDefault()
	if err != nil {
		return "", errors.New("no access token: run 'vkharvest auth login' or set TOKEN")
	}
	return account.AccessToken, nil
}

func newReporter() ui.Reporter {
	if quiet || !ui.IsTerminal(os.Stderr) {
		return ui.NewTracker(nil)
	}
	return ui.NewTracker(ui.NewBarRenderer(os.Stderr))
}

func runHarvest(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile, flagOverrides(cmd))
	if err != nil {
		return err
	}

	variants, err := buildVariants(harvestOpts, cfg.Download.PageSize)
	if err != nil {
		return err
	}

	if err := logger.Initialize(&cfg.Logging); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	log := logger.GetLogger()

	manager, err := auth.NewManager()
	if err != nil {
		return fmt.Errorf("failed to initialize credential manager: %w", err)
	}
	token, err := resolveToken(cfg, manager, harvestOpts.account)
	if err != nil {
		return err
	}

	client := vk.NewClient(vk.Options{
		Endpoint:    cfg.VK.Endpoint,
		AccessToken: token,
		APIVersion:  cfg.VK.APIVersion,
		UserAgent:   cfg.VK.UserAgent,
		Timeout:     cfg.Download.DownloadTimeout,
		Limiter:     ratelimit.New(cfg.RateLimit.RequestsPerSecond),
	}, log)
	harvester := harvest.NewHarvester(client, client, cfg.Download.ConcurrentDownloads, log)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go stopOnCancel(ctx, stop)

	log.WithField("version", version).InfoWithFields("vkharvest starting", map[string]interface{}{
		"collections": len(variants),
		"output":      cfg.Output.BaseDirectory,
	})

	return harvestAll(ctx, harvester, cfg.Output.BaseDirectory, variants, log)
}

// stopOnCancel restores default signal handling once ctx is cancelled, so a
// second interrupt kills the process instead of waiting for detached
// downloads.
func stopOnCancel(ctx context.Context, stop context.CancelFunc) {
	<-ctx.Done()
	stop()
}

// harvestAll runs one session per variant. No session is started after
// ctx is cancelled.
func harvestAll(ctx context.Context, harvester *harvest.Harvester, root string, variants []harvest.Variant, log logger.Logger) error {
	failed := 0
	for _, v := range variants {
		if ctx.Err() != nil {
			log.Warn("Shutting down")
			return errInterrupted
		}

		session, err := harvest.NewSession(root, v, newReporter())
		if err != nil {
			log.WithError(err).WithField("collection", v.Label()).Error("Failed to prepare session")
			failed++
			continue
		}

		summary := harvester.Run(ctx, session)
		printSummary(summary)

		switch summary.Outcome {
		case harvest.Cancelled:
			log.Warn("Shutting down")
			return errInterrupted
		case harvest.Failed:
			failed++
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d collections failed, see the log for details", failed, len(variants))
	}
	return nil
}

func printSummary(s harvest.Summary) {
	if quiet {
		return
	}

	line := fmt.Sprintf("%d downloaded, %d skipped, %d failed, %d pages in %s",
		s.Downloaded, s.Skipped, s.Failed, s.Pages, s.Duration.Round(10*time.Millisecond))
	label := fmt.Sprintf("%s %s", s.Kind, s.Label)

	switch s.Outcome {
	case harvest.Completed:
		ui.PrintInfo(label, line)
	case harvest.Cancelled:
		ui.PrintWarning(label+" interrupted", line)
	default:
		ui.PrintError(label+" failed", line)
	}
}
