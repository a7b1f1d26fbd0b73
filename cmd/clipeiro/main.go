package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/otaviosnow/clipeiroai-sub000/internal/auth"
	"github.com/otaviosnow/clipeiroai-sub000/internal/config"
	"github.com/otaviosnow/clipeiroai-sub000/internal/db"
	"github.com/otaviosnow/clipeiroai-sub000/internal/driver"
	"github.com/otaviosnow/clipeiroai-sub000/internal/driver/instagram"
	"github.com/otaviosnow/clipeiroai-sub000/internal/driver/tiktok"
	"github.com/otaviosnow/clipeiroai-sub000/internal/driver/youtube"
	"github.com/otaviosnow/clipeiroai-sub000/internal/orchestrator"
	"github.com/otaviosnow/clipeiroai-sub000/internal/platform"
	"github.com/otaviosnow/clipeiroai-sub000/internal/session"
	"github.com/otaviosnow/clipeiroai-sub000/internal/totp"
	"github.com/otaviosnow/clipeiroai-sub000/internal/util"
	"github.com/otaviosnow/clipeiroai-sub000/internal/version"
	"gorm.io/gorm"
)

const usage = `usage: clipeiro <command> [flags]

commands:
  publish   run a batch file of connect/publish tasks
  connect   authorize an account through the platform consent page
  totp      print the current two-factor code for a secret
  version   print build information
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	switch os.Args[1] {
	case "publish":
		err = runPublish(ctx, os.Args[2:])
	case "connect":
		err = runConnect(ctx, os.Args[2:])
	case "totp":
		err = runTOTP(ctx, os.Args[2:])
	case "version":
		fmt.Printf("clipeiro %s (commit %s, built %s)\n", version.Version, version.Commit, version.BuildTime)
	case "-h", "--help", "help":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", os.Args[1], usage)
		os.Exit(2)
	}
	if err != nil {
		log.Fatalf("❌ %v", err)
	}
}

func runPublish(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("publish", flag.ExitOnError)
	configPath := fs.String("config", config.DefaultPath, "config file")
	batchPath := fs.String("batch", "", "batch file (YAML)")
	reportPath := fs.String("report", "", "write a YAML report here")
	fs.Parse(args)
	if *batchPath == "" {
		return fmt.Errorf("publish: -batch is required")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	f, err := os.Open(*batchPath)
	if err != nil {
		return fmt.Errorf("open batch: %w", err)
	}
	tasks, err := orchestrator.DecodeBatch(f)
	f.Close()
	if err != nil {
		return err
	}

	database, err := db.InitDB(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	orch, _ := newOrchestrator(cfg, database)

	log.Printf("🚀 Running %d tasks (concurrency %d)", len(tasks), cfg.Orchestrator.Concurrency)
	batch := orch.RunBatch(ctx, tasks)

	failed := 0
	for kind, c := range batch.Summary.ByKind {
		log.Printf("📊 %s: %d succeeded, %d failed, %d cancelled", kind, c.Succeeded, c.Failed, c.Cancelled)
		failed += c.Failed
	}
	for _, r := range batch.Results {
		if r.PublishedURL != "" {
			log.Printf("🔗 %s %s", r.AccountKey, r.PublishedURL)
		}
	}

	if *reportPath != "" {
		out, err := os.Create(*reportPath)
		if err != nil {
			return fmt.Errorf("create report: %w", err)
		}
		defer out.Close()
		if err := orchestrator.WriteReport(out, batch); err != nil {
			return err
		}
		log.Printf("📝 Report written to %s", *reportPath)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d tasks failed", failed, batch.Summary.Total)
	}
	return nil
}

// consenter is implemented by every driver that can send an operator to a
// platform consent page.
type consenter interface {
	AuthCodeURL(redirectURL, state string) string
}

func runConnect(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("connect", flag.ExitOnError)
	configPath := fs.String("config", config.DefaultPath, "config file")
	platformName := fs.String("platform", "", "instagram, tiktok or youtube")
	username := fs.String("username", "", "account username")
	secret := fs.String("totp-secret", os.Getenv("CLIPEIRO_TOTP_SECRET"), "base32 two-factor secret, if the account uses one")
	requires2FA := fs.Bool("2fa", false, "the account has two-factor authentication enabled")
	fs.Parse(args)

	p, err := platform.Parse(*platformName)
	if err != nil {
		return err
	}
	if *username == "" {
		return fmt.Errorf("connect: -username is required")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	database, err := db.InitDB(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	orch, drivers := newOrchestrator(cfg, database)

	srv, err := auth.StartCallbackServer(cfg.CallbackPort)
	if err != nil {
		return err
	}
	defer srv.Close()

	c, ok := drivers[p].(consenter)
	if !ok {
		return fmt.Errorf("%s has no consent flow", p)
	}
	fmt.Printf("\nOpen this URL and approve access for %s:\n\n  %s\n\n", *username, c.AuthCodeURL(srv.RedirectURL(), srv.State))

	if *secret != "" {
		code, err := codeResolver(cfg).GetCode(ctx, *secret)
		if err != nil {
			return err
		}
		fmt.Printf("If asked for a two-factor code, use %s (valid for %ds)\n\n", code, secondsLeft(time.Now()))
	}

	code, err := srv.Wait(ctx)
	if err != nil {
		return err
	}

	res := orch.Run(ctx, orchestrator.Task{
		Kind: orchestrator.KindConnect,
		Account: platform.Account{
			Platform:          p,
			Username:          *username,
			RequiresTwoFactor: *requires2FA,
			TOTPSecret:        *secret,
			AuthCode:          code,
			RedirectURL:       srv.RedirectURL(),
		},
	})
	if !res.Success {
		return fmt.Errorf("connect %s failed (%s): %s", res.AccountKey, res.ErrorKind, strings.Join(res.Errors, "; "))
	}
	log.Printf("✅ Connected %s", res.AccountKey)
	return nil
}

func runTOTP(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("totp", flag.ExitOnError)
	configPath := fs.String("config", config.DefaultPath, "config file")
	secret := fs.String("secret", os.Getenv("CLIPEIRO_TOTP_SECRET"), "base32 two-factor secret")
	fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	code, err := codeResolver(cfg).GetCode(ctx, *secret)
	if err != nil {
		return fmt.Errorf("secret %s: %w", util.MaskSecret(*secret), err)
	}
	fmt.Printf("%s (valid for %ds)\n", code, secondsLeft(time.Now()))
	return nil
}

func newOrchestrator(cfg config.Config, database *gorm.DB) (*orchestrator.Orchestrator, map[platform.Platform]driver.Driver) {
	hc := &http.Client{}
	drivers := map[platform.Platform]driver.Driver{
		platform.YouTube:   youtube.New(cfg.YouTube, cfg.Driver, hc),
		platform.Instagram: instagram.New(cfg.Instagram, cfg.Driver, hc),
		platform.TikTok:    tiktok.New(cfg.TikTok, cfg.Driver, hc),
	}
	yt, ig, tt := cfg.Enabled()
	for p, on := range map[platform.Platform]bool{platform.YouTube: yt, platform.Instagram: ig, platform.TikTok: tt} {
		if !on {
			log.Printf("⚠️ No app credentials configured for %s; its tasks will fail to authenticate", p)
		}
	}

	list := make([]driver.Driver, 0, len(drivers))
	for _, p := range platform.All {
		list = append(list, drivers[p])
	}
	orch := orchestrator.New(cfg.Orchestrator, session.NewGormStore(database), list,
		orchestrator.WithRecorder(orchestrator.NewGormRecorder(database)),
		orchestrator.WithTOTP(codeResolver(cfg)),
	)
	return orch, drivers
}

func codeResolver(cfg config.Config) *totp.Resolver {
	r := totp.NewResolver()
	if cfg.TOTPRemoteURL != "" {
		r.Remote = totp.NewHTTPRemote(cfg.TOTPRemoteURL, 10*time.Second)
	}
	return r
}

func secondsLeft(now time.Time) int64 {
	return totp.Period - now.Unix()%totp.Period
}
