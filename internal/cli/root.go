// Package cli implements the fetchx command line.
package cli

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/apex/log"
	logcli "github.com/apex/log/handlers/cli"
	"github.com/spf13/cobra"

	"github.com/wesleyorama2/fetchx/http"
	"github.com/wesleyorama2/fetchx/internal/output"
	"github.com/wesleyorama2/fetchx/metrics"
	"github.com/wesleyorama2/fetchx/throttle"
)

var version = "0.1.0"

// globalFlags are the persistent flags shared by every subcommand.
type globalFlags struct {
	verbose bool
	noColor bool
	output  string
	timeout time.Duration
	headers []string
	query   []string
	rps     float64
	burst   int
	stats   bool
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	flags := &globalFlags{}
	root := &cobra.Command{
		Use:     "fetchx",
		Short:   "A terminal HTTP client built on a hookable request pipeline",
		Version: version,
		Long: `fetchx sends HTTP requests from the command line or from a YAML/JSON
file of named requests. Query and header defaults merge with per-request
values, responses are decoded by content type, and runs can be throttled
and summarized with latency percentiles.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	pf := root.PersistentFlags()
	pf.BoolVarP(&flags.verbose, "verbose", "v", false, "Show request details, timing, headers and debug logs")
	pf.BoolVar(&flags.noColor, "no-color", false, "Disable colored output")
	pf.StringVarP(&flags.output, "output", "o", "text", "Output format: text, json or yaml")
	pf.DurationVarP(&flags.timeout, "timeout", "t", 30*time.Second, "Request timeout")
	pf.StringArrayVarP(&flags.headers, "header", "H", nil, "Header to send as 'Key: Value' (repeatable)")
	pf.StringArrayVarP(&flags.query, "query", "q", nil, "Query parameter as key=value (repeatable)")
	pf.Float64Var(&flags.rps, "rps", 0, "Maximum requests per second (0 means unlimited)")
	pf.IntVar(&flags.burst, "burst", 1, "Requests allowed in a burst when --rps is set")
	pf.BoolVar(&flags.stats, "stats", false, "Print a latency and status summary")

	for _, v := range verbs {
		root.AddCommand(newVerbCmd(flags, v))
	}
	root.AddCommand(newRunCmd(flags))
	return root
}

// Execute runs the root command with the process arguments.
func Execute() error {
	err := NewRootCmd().Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	return err
}

// session carries what one command invocation needs to send requests and
// report them.
type session struct {
	flags     *globalFlags
	out       io.Writer
	logger    log.Interface
	formatter output.FormatProvider
	recorder  *metrics.Recorder
	client    *http.Client

	total  int
	failed int
}

func newSession(cmd *cobra.Command, flags *globalFlags) (*session, error) {
	format, err := output.ParseFormat(flags.output)
	if err != nil {
		return nil, err
	}
	level := log.InfoLevel
	if flags.verbose {
		level = log.DebugLevel
	}
	noColor := flags.noColor
	if f, ok := cmd.OutOrStdout().(*os.File); !ok || !output.Terminal(f) {
		noColor = true
	}
	return &session{
		flags:     flags,
		out:       cmd.OutOrStdout(),
		logger:    &log.Logger{Handler: logcli.New(cmd.ErrOrStderr()), Level: level},
		formatter: output.GetFormatter(format, flags.verbose, noColor),
	}, nil
}

// connect builds the session client. base comes from a config environment;
// explicitly set flags override it.
func (s *session) connect(cmd *cobra.Command, base ...http.ClientOption) error {
	opts := []http.ClientOption{http.WithLogger(s.logger), http.WithTimeout(s.flags.timeout)}
	opts = append(opts, base...)
	if cmd.Flags().Changed("timeout") {
		opts = append(opts, http.WithTimeout(s.flags.timeout))
	}
	headers, err := parseHeaders(s.flags.headers)
	if err != nil {
		return err
	}
	for _, h := range headers {
		opts = append(opts, http.WithHeader(h[0], h[1]))
	}
	if len(s.flags.query) > 0 {
		q, err := parsePairs(s.flags.query)
		if err != nil {
			return err
		}
		opts = append(opts, http.WithQuery(q))
	}

	s.client = http.NewClient(opts...)
	if s.flags.rps > 0 {
		if _, err := throttle.New(s.flags.rps, s.flags.burst).Attach(s.client); err != nil {
			return err
		}
	}
	if s.flags.stats {
		s.recorder = metrics.New()
		if _, err := s.recorder.Attach(s.client); err != nil {
			return err
		}
	}
	if s.flags.verbose {
		_, err := s.client.On(http.BeforeActualFetch, func(ctx *http.Context) (http.Result, error) {
			if text := s.formatter.FormatRequest(ctx.Request()); text != "" {
				fmt.Fprint(s.out, text)
			}
			return http.Continue(ctx), nil
		}, false)
		if err != nil {
			return err
		}
	}
	return nil
}

// report prints one result and counts it.
func (s *session) report(r output.Result, err error) {
	s.total++
	if err != nil {
		s.failed++
		r.Err = err
		// only engine errors count; a response rejected by a later
		// afterResponse hook was already recorded
		var herr *http.Error
		if errors.As(err, &herr) {
			r.Response = herr.Response
			if s.recorder != nil {
				s.recorder.RecordError(r.Method, err)
			}
		}
	}
	fmt.Fprint(s.out, s.formatter.FormatResult(r))
}

// finish prints the stats summary and turns failures into the command error.
func (s *session) finish() error {
	if s.recorder != nil {
		fmt.Fprint(s.out, s.formatter.FormatStats(s.recorder.Snapshot()))
	}
	if s.failed > 0 {
		return fmt.Errorf("%d of %d requests failed", s.failed, s.total)
	}
	return nil
}

// parseHeaders splits "Key: Value" flags.
func parseHeaders(raw []string) ([][2]string, error) {
	out := make([][2]string, 0, len(raw))
	for _, h := range raw {
		key, value, ok := strings.Cut(h, ":")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid header %q (want 'Key: Value')", h)
		}
		out = append(out, [2]string{key, strings.TrimSpace(value)})
	}
	return out, nil
}

// parsePairs splits key=value flags, keeping repeated keys.
func parsePairs(raw []string) (url.Values, error) {
	values := url.Values{}
	for _, p := range raw {
		key, value, ok := strings.Cut(p, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid parameter %q (want key=value)", p)
		}
		values.Add(key, value)
	}
	return values, nil
}
