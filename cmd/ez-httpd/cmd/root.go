package cmd

import (
	"context"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/raphaelreyna/ez-httpd/pkg/cgi"
)

var version = "0.1.0"

var (
	quiet    bool
	logLevel string

	addr    string
	workers int
	backlog int

	staticRoot string
	cgiRoot    string
	cgiPath    string
	cgiTimeout time.Duration
	software   string

	stderr string
)

var RootCmd = &cobra.Command{
	Use:     "ez-httpd [flags]",
	Version: version,
	Short:   "A small static file and CGI/1.1 HTTP server.",
	Long: `Serve files from a static root and run scripts from a CGI root.

Requests under /<cgi-path>/ run the matching script from --cgi-root with a
CGI/1.1 environment; everything else is served from --static-root.
Each connection carries exactly one request and is closed after the response.
`,
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          run,
}

func SetFlags() {
	RootCmd.Flags().StringVarP(&addr, "addr", "a", "127.0.0.1:8080", "Address to bind to.")
	RootCmd.Flags().IntVarP(&workers, "workers", "w", runtime.NumCPU(), "Number of connections served at once.")
	RootCmd.Flags().IntVar(&backlog, "backlog", 0, `Number of accepted connections that may wait for a worker.
Defaults to the number of workers.`,
	)

	RootCmd.Flags().StringVar(&staticRoot, "static-root", "public_html", "Directory static files are served from.")
	RootCmd.Flags().StringVar(&cgiRoot, "cgi-root", "cgi-bin", "Directory CGI scripts are run from.")
	RootCmd.Flags().StringVar(&cgiPath, "cgi-path", "cgi-bin", "URL path prefix that selects a CGI script.")
	RootCmd.Flags().DurationVar(&cgiTimeout, "cgi-timeout", 0, `Kill scripts that run longer than this.
Zero lets a script run for as long as it likes, holding its worker.`,
	)
	RootCmd.Flags().StringVar(&software, "server-software", cgi.DefaultServerSoftware, "Value of SERVER_SOFTWARE passed to scripts.")
	RootCmd.Flags().StringVarP(&stderr, "stderr", "E", "", `File to append scripts' stderr to.
Defaults to ez-httpd's own stderr.`,
	)

	RootCmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Don't log anything.")
	RootCmd.Flags().StringVarP(&logLevel, "log-level", "l", "info", "One of trace, debug, info, warn, error.")
}

func newLogger() (zerolog.Logger, error) {
	level, err := zerolog.ParseLevel(logLevel)
	if err != nil {
		return zerolog.Logger{}, err
	}
	if quiet {
		level = zerolog.Disabled
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(level).
		With().Timestamp().
		Logger(), nil
}

func run(cmd *cobra.Command, args []string) error {
	logger, err := newLogger()
	if err != nil {
		return err
	}

	c := config{
		addr:       addr,
		workers:    workers,
		backlog:    backlog,
		staticRoot: staticRoot,
		cgiRoot:    cgiRoot,
		cgiPath:    cgiPath,
		cgiTimeout: cgiTimeout,
		software:   software,
		stderr:     os.Stderr,
	}

	if stderr != "" {
		f, err := os.OpenFile(stderr, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			logger.Error().Err(err).Str("path", stderr).Msg("error opening stderr")
			return err
		}
		defer f.Close()
		c.stderr = f
	}

	s, err := newServer(c, &logger)
	if err != nil {
		logger.Error().Err(err).Msg("invalid configuration")
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	logger.Info().Str("version", version).Msg("booting up")
	return s.ListenAndServe(ctx)
}

func Execute() {
	SetFlags()
	if err := RootCmd.ExecuteContext(context.Background()); err != nil {
		os.Stderr.WriteString("ez-httpd: " + err.Error() + "\n")
		os.Exit(1)
	}
}
