package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"

	"github.com/logrusorgru/aurora"

	"bittrex-client/bittrex"
	"bittrex-client/sandbox"
)

var (
	cfgEnvFile = flag.String("env", ".env", "A dotenv file to load BITTREX_* variables from.")
	cfgSandbox = flag.String("sandbox", "", "Serve the sandbox exchange on this address instead of running a command.")
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags] COMMAND [ARGS...]\n\nCommands:\n", os.Args[0])
		for _, usage := range usages() {
			fmt.Fprintf(flag.CommandLine.Output(), "  %s\n", usage)
		}
		fmt.Fprintln(flag.CommandLine.Output(), "\nFlags:")
		flag.PrintDefaults()
	}
	flag.Parse()

	config, err := loadConfig(*cfgEnvFile)
	if err != nil {
		log.Fatalf("Failed to load configuration. (Error: %s)", err)
	}

	if *cfgSandbox != "" {
		serveSandbox(*cfgSandbox, config)
		return
	}

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	client := bittrex.NewClient(config, nil)

	resp, err := runCommand(client, flag.Arg(0), flag.Args()[1:])
	if err != nil {
		log.Fatalf("Command %s failed. (Error: %s)", flag.Arg(0), err)
	}

	body, err := json.MarshalIndent(resp, "", "  ")
	if err != nil {
		log.Fatalf("Failed to encode the response. (Error: %s)", err)
	}

	if resp.Success() {
		log.Printf("%s", aurora.Bold(aurora.Green("SUCCESS")))
	} else {
		log.Printf("%s %s", aurora.Bold(aurora.Red("FAILURE")), resp.Message())
	}

	fmt.Println(string(body))
}

// serveSandbox runs the sandbox exchange with the configured credentials
// until the process is interrupted.
func serveSandbox(addr string, config bittrex.Config) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		log.Fatalf("Failed to listen on %s. (Error: %s)", addr, err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	server := sandbox.NewSandbox(listener, sandbox.DefaultConfig(config.APIKey, config.APISecret))
	if err := server.Serve(ctx); err != nil {
		log.Fatalf("The %s server failed. (Error: %s)", server.Name(), err)
	}

	log.Print("Goodbye.")
}
