// Package http is a hookable request engine built on net/http.
//
// Every invocation runs through five checkpoints. Hooks registered with
// Client.On may rewrite the invocation's Context, abort it, or short-circuit
// it with a prepared response:
//
//	beforeInit            options collected, defaults not yet merged
//	beforeRequest         query and headers merged, body not serialized
//	afterBodyTransformed  Payload holds the serialized body
//	beforeActualFetch     Request() holds the transport request
//	afterResponse         Response() holds the resolved response
//
// Basic Usage:
//
//	client := http.NewClient(
//	    http.WithBaseURL("https://api.example.com"),
//	    http.WithTimeout(30*time.Second),
//	    http.WithHeader("Authorization", "Bearer token"),
//	)
//
//	resp, err := client.Get(ctx, "/users", http.WithRequestQuery("limit=10"))
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	fmt.Printf("Status: %d\n", resp.StatusCode)
//	fmt.Printf("TTFB: %v\n", resp.Timing.TimeToFirstByte)
//
// Hook Example:
//
//	client.On(http.BeforeActualFetch, func(c *http.Context) (http.Result, error) {
//	    c.Request().Header.Set("X-Request-ID", c.ID)
//	    return http.Continue(c), nil
//	}, false)
//
// Query and header defaults merge with request values. Nested records use
// merge.Null to delete an inherited key and merge.Undefined to keep it:
//
//	client.Get(ctx, "/search", http.WithRequestQuery(merge.Record{
//	    "page":  merge.Null,
//	    "sort":  "name",
//	}))
//
// Errors raised by the engine are *Error values; match them with errors.Is
// against ErrTimeout, ErrNetwork, ErrResponse and the other sentinels.
package http
