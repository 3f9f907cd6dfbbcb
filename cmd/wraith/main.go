// Command wraith is the QUIC/HTTP-3 reverse proxy and edge gateway data
// plane: a single static binary implementing admission control, routing,
// upstream health-driven load balancing, connection pooling, request
// forwarding, and static file serving over HTTP/1.1, HTTP/2, and HTTP/3.
package main

import (
	"fmt"
	"os"

	"github.com/alecthomas/kingpin/v2"
	"github.com/sirupsen/logrus"
	_ "go.uber.org/automaxprocs"

	"github.com/GhostKellz/wraith/internal/build"
)

func main() {
	log := logrus.StandardLogger()

	app := kingpin.New("wraith", "Wraith QUIC/HTTP-3 reverse proxy and edge gateway.")
	app.HelpFlag.Short('h')

	serve, serveCtx := registerServe(app)
	reload, reloadPIDFile := registerReload(app)
	stop, stopPIDFile := registerStop(app)
	status, statusCtx := registerStatus(app)
	version := app.Command("version", "Print build information and exit.")

	switch kingpin.MustParse(app.Parse(os.Args[1:])) {
	case serve.FullCommand():
		if err := doServe(serveCtx, log); err != nil {
			log.WithError(err).Error("wraith serve terminated with error")
			os.Exit(exitCodeFor(err))
		}
	case reload.FullCommand():
		if err := doReload(*reloadPIDFile); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	case stop.FullCommand():
		if err := doStop(*stopPIDFile); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	case status.FullCommand():
		if err := doStatus(statusCtx); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	case version.FullCommand():
		fmt.Println(build.PrintBuildInfo())
	}
}
