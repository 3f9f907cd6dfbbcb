package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/alecthomas/kingpin/v2"
)

type statusContext struct {
	addr string
}

// registerStatus registers the `status` thin client: a GET against the
// running wraith's own /status endpoint, per SPEC_FULL.md section C.
func registerStatus(app *kingpin.Application) (*kingpin.CmdClause, *statusContext) {
	ctx := &statusContext{}
	cmd := app.Command("status", "Query a running wraith's /status endpoint.")
	cmd.Flag("addr", "host:port of the running wraith's data-plane listener.").Default("127.0.0.1:8080").StringVar(&ctx.addr)
	return cmd, ctx
}

func doStatus(ctx *statusContext) error {
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get("http://" + ctx.addr + "/status")
	if err != nil {
		return fmt.Errorf("querying %s: %w", ctx.addr, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	var pretty map[string]any
	if err := json.Unmarshal(body, &pretty); err != nil {
		fmt.Println(string(body))
		return nil
	}
	out, err := json.MarshalIndent(pretty, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
