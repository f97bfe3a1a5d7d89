package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/goodtune/mivoportal/internal/config"
	"github.com/goodtune/mivoportal/internal/i18n"
	"github.com/goodtune/mivoportal/internal/status"
	"github.com/spf13/cobra"
)

var (
	statusAttrs status.Attributes
	statusLang  string
	statusWatch bool
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Reconcile and print a session status view",
	Long: `Reconcile session attributes, as the router would inject them into the
login page, with the remote status API and print the resulting view.`,
	Example: `  mivoportal status --username alice --uptime 25m --limit-uptime 1h
  mivoportal status --username alice --uptime 5m --watch`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

func init() {
	f := statusCmd.Flags()
	f.StringVar(&statusAttrs.Username, "username", "", "Session username")
	f.StringVar(&statusAttrs.Uptime, "uptime", "", "Session uptime (e.g. 1h30m)")
	f.StringVar(&statusAttrs.LimitTime, "limit-uptime", "", "Time limit (e.g. 2h)")
	f.StringVar(&statusAttrs.LimitBytes, "limit-bytes", "", "Byte limit")
	f.StringVar(&statusAttrs.RemainBytes, "remain-bytes", "", "Remaining bytes")
	f.StringVar(&statusAttrs.RemainTime, "remain-time", "", "Remaining time")
	f.StringVar(&statusLang, "lang", "", "Language for unit labels")
	f.BoolVar(&statusWatch, "watch", false, "Keep ticking until interrupted")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	logger := quietLogger()

	pageCfg := status.PageConfig{
		APIBaseURL: cfg.Portal.APIBaseURL,
		APISession: cfg.Portal.APISession,
		DebugMode:  cfg.Portal.DebugMode,
	}
	fetchTimeout, _ := config.Duration(cfg.Status.FetchTimeout, 10*time.Second)

	opts := status.Options{
		PageConfig: pageCfg,
		Logger:     logger,
	}
	if pageCfg.APIBaseURL != "" {
		opts.Fetcher = status.NewClient(pageCfg, fetchTimeout, logger)
	}

	lang := statusLang
	if lang == "" {
		lang = cfg.I18n.DefaultLanguage
	}
	if loader, err := i18n.NewLoader(cfg.I18n.LocalesDir, 1, logger); err == nil {
		if msgs, err := loader.Load(cmd.Context(), lang); err == nil {
			opts.Labels = msgs
		}
	}

	if !statusWatch {
		rec := status.NewReconciler(statusAttrs, opts)
		rec.Init()
		if rec.ShouldFetchAPI() && opts.Fetcher != nil {
			ctx, cancel := context.WithTimeout(context.Background(), fetchTimeout)
			_ = rec.Fetch(ctx)
			cancel()
		}
		printView(rec.View())
		rec.Stop()
		return nil
	}

	tick, _ := config.Duration(cfg.Status.TickInterval, time.Second)
	opts.TickInterval = tick
	opts.Renderer = status.RendererFunc(func(v status.View) {
		fmt.Print("\033[H\033[2J")
		printView(v)
	})

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	rec := status.NewReconciler(statusAttrs, opts)
	rec.Start(ctx)
	<-ctx.Done()
	rec.Stop()
	rec.Wait()
	return nil
}

func printView(v status.View) {
	cyan := color.New(color.FgCyan, color.Bold)
	yellow := color.New(color.FgYellow)
	red := color.New(color.FgRed, color.Bold)

	_, _ = cyan.Printf("Session status (%s)\n", v.State)
	fmt.Printf("  Username:  %s\n", orDash(v.Username))
	fmt.Printf("  Uptime:    %s\n", orDash(v.UptimeDisplay))

	limit := orDash(v.LimitTimeDisplay)
	if v.Estimated {
		limit += " (estimated)"
	}
	fmt.Printf("  Time:      %s\n", limit)
	if v.LimitTimeSeconds > 0 {
		fmt.Printf("             %s\n", bar(v.TimePercent))
	}

	fmt.Printf("  Data:      %s / %s\n", orDash(v.RemainBytesDisplay), orDash(v.LimitBytesDisplay))
	if v.LimitBytes > 0 {
		fmt.Printf("             %s\n", bar(v.DataPercent))
	}

	if v.ShouldFetch && v.FetchedAt.IsZero() && v.FetchError == "" {
		_, _ = yellow.Println("  Remote status pending")
	}
	if v.FetchError != "" {
		_, _ = red.Printf("  Remote status unavailable: %s\n", v.FetchError)
	}
}

// bar renders a 20 cell percentage bar coloured by how much is left.
func bar(percent float64) string {
	const width = 20
	filled := int(percent/100*width + 0.5)
	if filled > width {
		filled = width
	}

	c := color.New(color.FgGreen)
	switch {
	case percent < 10:
		c = color.New(color.FgRed)
	case percent < 30:
		c = color.New(color.FgYellow)
	}
	return c.Sprint(strings.Repeat("█", filled)) + strings.Repeat("░", width-filled) + fmt.Sprintf(" %3.0f%%", percent)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
