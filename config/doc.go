// Package config loads fetchx request files written in YAML or JSON.
//
// A file defines:
//   - Environments: base URL, timeout, default headers and query, policies
//     and variables for a target
//   - Requests: request templates with URL, method, headers, query and body,
//     plus the response type to expect, a schema and values to extract
//   - Suites: ordered collections of requests with shared variables
//   - Schemas: JSON schemas referenced by requests
//
// Basic Usage:
//
//	cfg, err := config.LoadConfig("requests.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	env, err := cfg.Environment("production")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	opts, err := env.ClientOptions(env.Vars)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	client := http.NewClient(opts...)
//
//	req := cfg.Requests["getUsers"]
//	ropts, err := req.Options(env.Vars)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	resp, err := client.Request(ctx, req.Target(env.Vars), ropts...)
//
// Variable Substitution:
//
// Variables defined at the environment or suite level may be used in URLs,
// header and query values and string fields of bodies with the
// {{variableName}} syntax.
//
// A null header or query value removes the key inherited from the
// environment:
//
//	requests:
//	  anonymous:
//	    url: /public
//	    headers:
//	      Authorization: null
package config
