// Command verify-stream lints and functionally simulates every cascade of a
// command stream file. Files ending in .xml are read as XML, everything else
// as the binary encoding.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/sarchlab/cascadegen/stream"
	"github.com/sarchlab/cascadegen/verify"
)

func main() {
	maxSteps := flag.Int("max-steps", 1000000, "step budget of the functional simulator")
	reportDir := flag.String("report-dir", "", "directory to save one report per cascade")
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintf(os.Stderr, "usage: %s [flags] <stream.bin|stream.xml>\n", os.Args[0])
		flag.PrintDefaults()
		os.Exit(2)
	}

	path := flag.Arg(0)

	s, err := load(path)
	if err != nil {
		log.Fatalf("Failed to load %s: %v", path, err)
	}

	cascades := s.Cascades()
	if len(cascades) == 0 {
		log.Fatalf("No cascade in %s", path)
	}

	failed := 0

	for i, c := range cascades {
		report := verify.GenerateReport(c, *maxSteps)

		fmt.Printf("Cascade %d of %d\n", i+1, len(cascades))
		report.WriteReport(os.Stdout)

		if *reportDir != "" {
			name := filepath.Join(*reportDir, fmt.Sprintf("cascade_%d_report.txt", i))
			if err := report.SaveReportToFile(name); err != nil {
				log.Fatalf("Failed to save report: %v", err)
			}
		}

		if !report.OK() {
			failed++
		}
	}

	if failed > 0 {
		fmt.Printf("%d of %d cascades failed verification\n", failed, len(cascades))
		os.Exit(1)
	}
}

func load(path string) (*stream.CommandStream, error) {
	if strings.EqualFold(filepath.Ext(path), ".xml") {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()

		return stream.ParseXML(f)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	return stream.Parse(data)
}
