package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/wesleyorama2/fetchx/config"
	"github.com/wesleyorama2/fetchx/http"
	"github.com/wesleyorama2/fetchx/internal/output"
	"github.com/wesleyorama2/fetchx/pkg/jsonpath"
	"github.com/wesleyorama2/fetchx/pkg/jsonschema"
)

type runFlags struct {
	env    string
	suite  string
	vars   []string
	repeat int
}

func newRunCmd(flags *globalFlags) *cobra.Command {
	rf := &runFlags{}
	cmd := &cobra.Command{
		Use:   "run FILE [REQUEST...]",
		Short: "Run named requests from a configuration file",
		Long: `Run sends the named requests of a YAML or JSON configuration file in
order. Without names it runs --suite, or every request sorted by name.
Values extracted from a response become variables for the requests after it.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFile(cmd, flags, rf, args[0], args[1:])
		},
	}
	cmd.Flags().StringVarP(&rf.env, "env", "E", "", "Environment to use (optional when the file defines one)")
	cmd.Flags().StringVarP(&rf.suite, "suite", "s", "", "Suite to run")
	cmd.Flags().StringArrayVar(&rf.vars, "var", nil, "Variable as key=value, overriding the environment (repeatable)")
	cmd.Flags().IntVarP(&rf.repeat, "repeat", "n", 1, "Run the selection this many times")
	return cmd
}

func runFile(cmd *cobra.Command, flags *globalFlags, rf *runFlags, file string, names []string) error {
	cfg, err := config.LoadConfig(file)
	if err != nil {
		return err
	}
	env, err := cfg.Environment(rf.env)
	if err != nil {
		return err
	}

	vars := env.Vars
	names, vars, err = selectRequests(cfg, rf.suite, names, vars)
	if err != nil {
		return err
	}
	overrides, err := parsePairs(rf.vars)
	if err != nil {
		return err
	}
	for key, values := range overrides {
		vars = config.MergeEnvironments(vars, map[string]string{key: values[len(values)-1]})
	}

	clientOpts, err := env.ClientOptions(vars)
	if err != nil {
		return err
	}
	s, err := newSession(cmd, flags)
	if err != nil {
		return err
	}
	if err := s.connect(cmd, clientOpts...); err != nil {
		return err
	}

	r := &runner{session: s, cfg: cfg, schemas: map[string]*jsonschema.Validator{}}
	for i := 0; i < max(rf.repeat, 1); i++ {
		for _, name := range names {
			if vars, err = r.send(cmd, name, vars); err != nil {
				return err
			}
		}
	}
	return s.finish()
}

// selectRequests resolves which requests run and layers suite variables
// over the environment's.
func selectRequests(cfg *config.Config, suite string, names []string, vars map[string]string) ([]string, map[string]string, error) {
	if suite != "" {
		if err := config.ValidateSuite(cfg, suite); err != nil {
			return nil, nil, err
		}
		s := cfg.Suites[suite]
		vars = config.MergeEnvironments(vars, s.Vars)
		if len(names) == 0 {
			names = s.Requests
		}
	}
	if len(names) == 0 {
		names = config.GetRequestNames(cfg)
	}
	for _, name := range names {
		if err := config.ValidateRequest(cfg, name); err != nil {
			return nil, nil, err
		}
	}
	return names, vars, nil
}

type runner struct {
	*session
	cfg     *config.Config
	schemas map[string]*jsonschema.Validator
}

// send runs one named request and returns vars extended with its
// extractions. Request failures are reported, not returned.
func (r *runner) send(cmd *cobra.Command, name string, vars map[string]string) (map[string]string, error) {
	req := r.cfg.Requests[name]
	opts, err := req.Options(vars)
	if err != nil {
		return vars, fmt.Errorf("request %s: %w", name, err)
	}

	client := r.client
	var extracted map[string]string
	if req.Schema != "" || len(req.Extract) > 0 {
		client = r.client.Extend()
		if req.Schema != "" {
			v, err := r.schema(req.Schema)
			if err != nil {
				return vars, fmt.Errorf("request %s: %w", name, err)
			}
			if _, err := client.On(http.AfterResponse, v.Hook(), false); err != nil {
				return vars, err
			}
		}
		if len(req.Extract) > 0 {
			if _, err := client.On(http.AfterResponse, jsonpath.Hook(req.Extract, true), false); err != nil {
				return vars, err
			}
			_, err := client.On(http.AfterResponse, func(ctx *http.Context) (http.Result, error) {
				extracted = jsonpath.Extracted(ctx)
				return http.Continue(ctx), nil
			}, false)
			if err != nil {
				return vars, err
			}
		}
	}

	target := req.Target(vars)
	resp, err := client.Request(cmd.Context(), target, opts...)
	r.report(output.Result{Name: name, Method: methodOf(req), URL: target, Response: resp, Extracted: extracted}, err)
	if len(extracted) > 0 {
		vars = config.MergeEnvironments(vars, extracted)
	}
	return vars, nil
}

func (r *runner) schema(name string) (*jsonschema.Validator, error) {
	if v, ok := r.schemas[name]; ok {
		return v, nil
	}
	v, err := jsonschema.CompileValue(r.cfg.Schemas[name])
	if err != nil {
		return nil, fmt.Errorf("schema %s: %w", name, err)
	}
	r.schemas[name] = v
	return v, nil
}

func methodOf(req config.Request) string {
	if req.Method == "" {
		return "GET"
	}
	return strings.ToUpper(req.Method)
}
