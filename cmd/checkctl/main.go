// checkctl is a small operator tool that talks to a running agent: list the
// configured checks, show the current rollup, or fire one check by hand.
package main

import (
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

func main() {
	api := flag.String("api", envOr("API_BASE", "http://localhost:8080"), "agent base URL")
	flag.Parse()

	client := &http.Client{Timeout: 60 * time.Second}

	switch flag.Arg(0) {
	case "status":
		get(client, *api+"/api/status")
	case "checks":
		get(client, *api+"/api/checks")
	case "run":
		key := flag.Arg(1)
		parts := strings.SplitN(key, "/", 2)
		if len(parts) != 2 {
			fmt.Fprintln(os.Stderr, "usage: checkctl run <instance>/<check>")
			os.Exit(2)
		}
		post(client, fmt.Sprintf("%s/api/instances/%s/checks/%s/run", *api, parts[0], parts[1]))
	default:
		fmt.Fprintln(os.Stderr, "usage: checkctl [-api URL] status|checks|run <instance>/<check>")
		os.Exit(2)
	}
}

func get(c *http.Client, url string) {
	resp, err := c.Get(url)
	dump(resp, err)
}

func post(c *http.Client, url string) {
	resp, err := c.Post(url, "application/json", nil)
	dump(resp, err)
}

func dump(resp *http.Response, err error) {
	if err != nil {
		fmt.Fprintln(os.Stderr, "error contacting agent:", err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	os.Stdout.Write(body)
	if resp.StatusCode >= 300 {
		fmt.Fprintln(os.Stderr, "\nagent returned", resp.Status)
		os.Exit(1)
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
