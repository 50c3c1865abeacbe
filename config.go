/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	bind          string
	cookieSecure  bool
	counterOffset int64
	databaseURL   string
	feedBuffer    int
	listLimit     int
	port          int
	prefix        string
	profile       bool
	publicURL     string
	redisURL      string
	tlsCert       string
	tlsKey        string
	verbose       bool
	version       bool

	log zerolog.Logger
}

func (c *Config) validate() error {
	if (c.tlsCert == "") != (c.tlsKey == "") {
		return errors.New("both --tls-cert and --tls-key must be provided together")
	}
	if c.port < 1 || c.port > 65535 {
		return fmt.Errorf("invalid port (must be between 1-65535 inclusive): %d", c.port)
	}
	if c.counterOffset < 0 {
		return fmt.Errorf("invalid counter offset (must be non-negative): %d", c.counterOffset)
	}
	if c.feedBuffer < 1 {
		return fmt.Errorf("invalid feed buffer (must be at least 1): %d", c.feedBuffer)
	}
	if c.publicURL != "" {
		u, err := url.Parse(c.publicURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("invalid public url (must be an absolute http(s) url): %q", c.publicURL)
		}
	}
	return nil
}

func (c *Config) requireDatabase() error {
	if c.databaseURL == "" {
		return errors.New("--database-url is required for this command")
	}
	return nil
}

func (c *Config) scheme() string {
	if c.tlsCert != "" && c.tlsKey != "" {
		return "https"
	}
	return "http"
}

// bindEnv lets every flag in fs be set from VALENTINES_<FLAG>, with the
// command line taking precedence.
func bindEnv(v *viper.Viper, fs *pflag.FlagSet) {
	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if !f.Changed && v.IsSet(f.Name) {
			_ = fs.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name)))
		}
	})
}

func newCmd(cfg *Config) *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("VALENTINES")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:           "valentines",
		Short:         "Send a pixel valentine, share the link, and watch the answer arrive live.",
		Args:          cobra.ExactArgs(0),
		SilenceErrors: true,
		Version:       releaseVersion,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			cfg.log = newLogger(cfg, os.Stderr)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.validate(); err != nil {
				return err
			}
			return ServePage(cmd.Context(), cfg, args)
		},
	}

	pfs := cmd.PersistentFlags()
	pfs.StringVar(&cfg.databaseURL, "database-url", "", "postgres connection string; in-memory store when empty (env: VALENTINES_DATABASE_URL)")
	pfs.BoolVarP(&cfg.verbose, "verbose", "v", false, "display additional output (env: VALENTINES_VERBOSE)")

	fs := cmd.Flags()
	fs.StringVarP(&cfg.bind, "bind", "b", "0.0.0.0", "address to bind to (env: VALENTINES_BIND)")
	fs.BoolVar(&cfg.cookieSecure, "cookie-secure", false, "only send the visitor cookie over https (env: VALENTINES_COOKIE_SECURE)")
	fs.Int64Var(&cfg.counterOffset, "counter-offset", 1008, "number added to the valentine counter on display (env: VALENTINES_COUNTER_OFFSET)")
	fs.IntVar(&cfg.feedBuffer, "feed-buffer", 8, "updates queued per live viewer before it is dropped (env: VALENTINES_FEED_BUFFER)")
	fs.IntVarP(&cfg.port, "port", "p", 8080, "port to listen on (env: VALENTINES_PORT)")
	fs.StringVar(&cfg.prefix, "prefix", "", "path to prepend to all URLs, for use behind reverse proxy (env: VALENTINES_PREFIX)")
	fs.BoolVar(&cfg.profile, "profile", false, "register net/http/pprof handlers (env: VALENTINES_PROFILE)")
	fs.StringVar(&cfg.publicURL, "public-url", "", "origin used in share links, derived from each request when empty (env: VALENTINES_PUBLIC_URL)")
	fs.StringVar(&cfg.redisURL, "redis-url", "", "redis url for relaying live updates between instances (env: VALENTINES_REDIS_URL)")
	fs.StringVar(&cfg.tlsCert, "tls-cert", "", "path to tls certificate (env: VALENTINES_TLS_CERT)")
	fs.StringVar(&cfg.tlsKey, "tls-key", "", "path to tls keyfile (env: VALENTINES_TLS_KEY)")
	fs.BoolVarP(&cfg.version, "version", "V", false, "display version and exit (env: VALENTINES_VERSION)")

	bindEnv(v, pfs)
	bindEnv(v, fs)

	cmd.AddCommand(newListCmd(cfg, v), newMigrateCmd(cfg))

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})
	cmd.SetVersionTemplate("valentines v{{.Version}}\n")

	cmd.SilenceErrors = true
	cmd.SilenceUsage = true

	return cmd
}
