// Command shake-replay runs a recorded pointer fixture through the batcher
// and shake detector and reports every shake it finds. It is the quickest
// way to check a sensitivity change against real captures.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/banshee-data/shelfd/internal/config"
)

var (
	configPath = flag.String("config", "", "Settings JSON file (defaults when empty)")
	always     = flag.Bool("always", false, "Detect outside drags too")
	pngPath    = flag.String("png", "", "Write a trace plot to this PNG file")
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] fixture.txt\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}

	settings := config.DefaultSettings()
	if *configPath != "" {
		loaded, err := config.LoadSettings(*configPath)
		if err != nil {
			log.Fatalf("failed to load settings: %v", err)
		}
		settings = settings.Merge(loaded)
	}

	f, err := os.Open(flag.Arg(0))
	if err != nil {
		log.Fatalf("failed to open fixture: %v", err)
	}
	defer f.Close()

	rep, err := replay(f, settings, *always)
	if err != nil {
		log.Fatalf("replay failed: %v", err)
	}
	rep.Print(os.Stdout)

	if *pngPath != "" {
		if err := rep.Plot(*pngPath); err != nil {
			log.Fatalf("failed to plot: %v", err)
		}
		log.Printf("wrote %s", *pngPath)
	}
}
