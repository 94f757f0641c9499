package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	flags "github.com/jessevdk/go-flags"
)

type flagOptions struct {
	Addr    string        `long:"addr" description:"control-plane operator address" default:"http://127.0.0.1:8600"`
	Timeout time.Duration `long:"timeout" description:"request timeout" default:"120s"`

	Args struct {
		Command string `positional-arg-name:"command" choice:"start" choice:"stop" choice:"status" required:"true"`
	} `positional-args:"true"`
}

func main() {
	var opts flagOptions
	parser := flags.NewParser(&opts, flags.HelpFlag)
	if _, err := parser.ParseArgs(os.Args[1:]); err != nil {
		fmt.Printf("Command line flags parsing failed: %v\n", err)
		os.Exit(1)
	}

	client := &http.Client{Timeout: opts.Timeout}

	var response *http.Response
	var err error
	switch opts.Args.Command {
	case "start":
		response, err = client.Post(opts.Addr+"/v1/stack/start", "application/json", nil)
	case "stop":
		response, err = client.Post(opts.Addr+"/v1/stack/stop", "application/json", nil)
	case "status":
		response, err = client.Get(opts.Addr + "/v1/stack/status")
	}
	if err != nil {
		fmt.Printf("Request failed: %v\n", err)
		os.Exit(1)
	}
	defer response.Body.Close()

	body, err := io.ReadAll(response.Body)
	if err != nil {
		fmt.Printf("Failed to read response: %v\n", err)
		os.Exit(1)
	}

	var pretty json.RawMessage = body
	indented, err := json.MarshalIndent(pretty, "", "  ")
	if err != nil {
		fmt.Println(string(body))
	} else {
		fmt.Println(string(indented))
	}

	if response.StatusCode >= 300 {
		fmt.Printf("Command failed, status: %s\n", response.Status)
		os.Exit(1)
	}
}
