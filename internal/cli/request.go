package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/wesleyorama2/fetchx/http"
	"github.com/wesleyorama2/fetchx/internal/output"
)

type verb struct {
	method   string
	withBody bool
}

var verbs = []verb{
	{method: "GET"},
	{method: "HEAD"},
	{method: "OPTIONS"},
	{method: "TRACE"},
	{method: "POST", withBody: true},
	{method: "PUT", withBody: true},
	{method: "PATCH", withBody: true},
	{method: "DELETE", withBody: true},
}

type bodyFlags struct {
	data   string
	asJSON bool
	form   []string
}

func newVerbCmd(flags *globalFlags, v verb) *cobra.Command {
	var (
		body   bodyFlags
		expect string
		repeat int
	)
	name := strings.ToLower(v.method)
	cmd := &cobra.Command{
		Use:   name + " URL",
		Short: fmt.Sprintf("Send a %s request to URL", v.method),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newSession(cmd, flags)
			if err != nil {
				return err
			}
			if err := s.connect(cmd); err != nil {
				return err
			}

			opts := []http.Option{http.WithMethod(v.method)}
			if expect != "" {
				opts = append(opts, http.WithExpect(http.ResponseType(expect)))
			}
			if v.withBody {
				b, err := body.value()
				if err != nil {
					return err
				}
				if b != nil {
					opts = append(opts, http.WithBody(b))
				}
			}

			target := withScheme(args[0])
			for i := 0; i < max(repeat, 1); i++ {
				resp, err := s.client.Request(cmd.Context(), target, opts...)
				s.report(output.Result{Method: v.method, URL: target, Response: resp}, err)
			}
			return s.finish()
		},
	}
	cmd.Flags().StringVarP(&expect, "expect", "e", "", "Response type: json, text, form, blob, arraybuffer")
	cmd.Flags().IntVarP(&repeat, "repeat", "n", 1, "Send the request this many times")
	if v.withBody {
		cmd.Flags().StringVarP(&body.data, "data", "d", "", "Request body, or @file to read it from a file")
		cmd.Flags().BoolVar(&body.asJSON, "json", false, "Send --data as JSON")
		cmd.Flags().StringArrayVarP(&body.form, "form", "F", nil, "URL-encoded form field as key=value (repeatable)")
		cmd.MarkFlagsMutuallyExclusive("data", "form")
	}
	return cmd
}

// value returns the body the flags describe, or nil.
func (b bodyFlags) value() (any, error) {
	if len(b.form) > 0 {
		values, err := parsePairs(b.form)
		if err != nil {
			return nil, err
		}
		return values, nil
	}
	if b.data == "" {
		return nil, nil
	}
	data := []byte(b.data)
	if strings.HasPrefix(b.data, "@") {
		var err error
		if data, err = os.ReadFile(b.data[1:]); err != nil {
			return nil, fmt.Errorf("read body: %w", err)
		}
	}
	if b.asJSON {
		var v any
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, fmt.Errorf("invalid JSON body: %w", err)
		}
		return http.JSONBody{Value: v}, nil
	}
	return string(data), nil
}

// withScheme defaults scheme-less targets to http.
func withScheme(target string) string {
	if strings.Contains(target, "://") {
		return target
	}
	return "http://" + target
}
