// healthprobe checks a running daemon's /healthz endpoint. Exit code 0
// on a 200 response, 1 otherwise; intended for container health checks.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/valyala/fasthttp"
)

func main() {
	target := flag.String("url", "http://127.0.0.1:8080/healthz", "health endpoint to probe")
	timeout := flag.Duration("timeout", 2*time.Second, "probe timeout")
	flag.Parse()

	c := &fasthttp.Client{
		ReadTimeout:  *timeout,
		WriteTimeout: *timeout,
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(*target)
	req.Header.SetMethod(fasthttp.MethodGet)

	if err := c.DoTimeout(req, resp, *timeout); err != nil {
		fmt.Fprintf(os.Stderr, "probe failed: %v\n", err)
		os.Exit(1)
	}
	if resp.StatusCode() != fasthttp.StatusOK {
		fmt.Fprintf(os.Stderr, "probe failed: status %d\n", resp.StatusCode())
		os.Exit(1)
	}
	fmt.Printf("ok: %s\n", resp.Body())
}
