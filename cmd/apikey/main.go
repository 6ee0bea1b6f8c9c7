// Command apikey manages admin API keys for the blog CMS.
//
//	apikey create -name "marketing site" -scopes blog:read,blog:write
//	apikey list
//	apikey revoke -prefix 1a2b3c4d
//
// The full key is printed once on create; only its hash is stored.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/rahu7v3rma/soreal-sub001/internal/app"
	"github.com/rahu7v3rma/soreal-sub001/internal/config"
	"github.com/rahu7v3rma/soreal-sub001/internal/domain"
	"github.com/rahu7v3rma/soreal-sub001/internal/services"
	"github.com/rahu7v3rma/soreal-sub001/internal/sysutil"
)

const usage = `usage:
  apikey create -name NAME [-scopes blog:read,blog:write,blog:delete]
  apikey list
  apikey revoke -prefix PREFIX`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}

	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		sysutil.SetupLogger(os.Stderr, "info", false, "apikey")
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	sysutil.SetupLogger(os.Stderr, cfg.LogLevel, true, "apikey")

	db, err := app.OpenDB(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("open database")
	}
	svc := &services.APIKeyService{DB: db}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := run(ctx, svc, os.Args[1], os.Args[2:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, svc *services.APIKeyService, cmd string, args []string, out io.Writer) error {
	switch cmd {
	case "create":
		fs := flag.NewFlagSet("create", flag.ContinueOnError)
		name := fs.String("name", "", "human readable key name")
		scopes := fs.String("scopes", strings.Join(domain.AllScopes, ","), "comma separated scopes")
		if err := fs.Parse(args); err != nil {
			return err
		}
		issued, err := svc.Create(ctx, *name, splitScopes(*scopes))
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "key:    %s\nprefix: %s\nscopes: %s\n",
			issued.Key, issued.APIKey.Prefix, strings.Join(issued.APIKey.Scopes, ","))
		return nil

	case "list":
		keys, err := svc.List(ctx)
		if err != nil {
			return err
		}
		printKeys(out, keys)
		return nil

	case "revoke":
		fs := flag.NewFlagSet("revoke", flag.ContinueOnError)
		prefix := fs.String("prefix", "", "key prefix to revoke")
		if err := fs.Parse(args); err != nil {
			return err
		}
		if *prefix == "" {
			return fmt.Errorf("-prefix is required")
		}
		if err := svc.Revoke(ctx, *prefix); err != nil {
			return err
		}
		fmt.Fprintf(out, "revoked %s\n", *prefix)
		return nil
	}
	return fmt.Errorf("unknown command %q\n%s", cmd, usage)
}

func splitScopes(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func printKeys(out io.Writer, keys []domain.AdminAPIKey) {
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "PREFIX\tNAME\tSCOPES\tLAST USED\tSTATUS")
	for _, k := range keys {
		last := "-"
		if k.LastUsedAt != nil {
			last = k.LastUsedAt.UTC().Format(time.RFC3339)
		}
		status := "active"
		if !k.Active() {
			status = "revoked"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", k.Prefix, k.Name, strings.Join(k.Scopes, ","), last, status)
	}
	_ = tw.Flush()
}
