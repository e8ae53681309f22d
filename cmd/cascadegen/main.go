// Command cascadegen compiles a graph description into an NPU command stream
// and optionally runs it on the queue model.
//
//	cascadegen -graph samples/depthwise/depthwise.yaml -xml -dot -lint -run
//
// Every run writes into its own directory below -out, named after a fresh
// xid.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/rs/xid"
	"github.com/sarchlab/akita/v4/monitoring"
	"github.com/sarchlab/akita/v4/sim"
	"github.com/tebeka/atexit"

	"github.com/sarchlab/cascadegen/agent"
	"github.com/sarchlab/cascadegen/api"
	"github.com/sarchlab/cascadegen/buffer"
	"github.com/sarchlab/cascadegen/config"
	"github.com/sarchlab/cascadegen/core"
	"github.com/sarchlab/cascadegen/generator"
	"github.com/sarchlab/cascadegen/graph"
	"github.com/sarchlab/cascadegen/stream"
	"github.com/sarchlab/cascadegen/verify"
)

var (
	graphFlag   = flag.String("graph", "", "YAML graph description (required)")
	capsFlag    = flag.String("caps", "", "YAML hardware capabilities, defaults when empty")
	outFlag     = flag.String("out", "out", "directory that holds the run directories")
	xmlFlag     = flag.Bool("xml", false, "also write the stream as XML")
	dotFlag     = flag.Bool("dot", false, "write the graph as Graphviz DOT")
	lintFlag    = flag.Bool("lint", false, "lint and functionally simulate every cascade")
	runFlag     = flag.Bool("run", false, "run the stream on the queue model")
	monitorFlag = flag.Bool("monitor", false, "start the akita monitor while running")
	dumpDram    = flag.Bool("dump-dram", false, "dump intermediate DRAM buffers after the cascade")
	dumpSram    = flag.Bool("dump-sram", false, "dump SRAM after the cascade")
	traceFlag   = flag.Bool("trace", false, "log every queue command")
)

func main() {
	flag.Parse()

	level := slog.LevelInfo
	if *traceFlag {
		level = core.LevelTrace
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr,
		&slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if *graphFlag == "" {
		fmt.Fprintln(os.Stderr, "cascadegen: -graph is required")
		flag.Usage()
		atexit.Exit(2)
	}

	if err := run(logger); err != nil {
		logger.Error("cascadegen failed", "Error", err)
		atexit.Exit(1)
	}

	atexit.Exit(0)
}

func run(logger *slog.Logger) error {
	g, err := loadGraph(*graphFlag)
	if err != nil {
		return err
	}

	caps := config.DefaultCapabilities()
	if *capsFlag != "" {
		caps, err = config.LoadCapabilitiesFile(*capsFlag)
		if err != nil {
			return err
		}
	}

	runDir := filepath.Join(*outFlag, "cascadegen_"+xid.New().String())
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return err
	}

	opts := config.Options{
		DumpDram:      *dumpDram,
		DumpSram:      *dumpSram,
		DebugDir:      runDir,
		DebugInfoPath: filepath.Join(runDir, "debug.txt"),
	}

	bm := buffer.NewManager(logger)

	cs, err := generator.Generate(g, operationIDs(g), caps, opts, bm, logger)
	if err != nil {
		return err
	}

	bm.Allocate()

	if err := writeOutputs(g, cs, bm, opts); err != nil {
		return err
	}

	logger.Info("Stream written",
		"Dir", runDir,
		"Agents", len(cs.Agents),
		"Commands", cs.Commands.Len(),
	)

	if *lintFlag {
		if err := lint(cs.Stream, runDir); err != nil {
			return err
		}
	}

	if *runFlag {
		return simulate(cs.Stream, logger)
	}

	return nil
}

func loadGraph(path string) (*graph.Graph, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return graph.LoadYAML(f)
}

func operationIDs(g *graph.Graph) []uint32 {
	var ids []uint32

	seen := make(map[uint32]bool)

	for i := 0; i < g.NumOps(); i++ {
		for _, id := range g.Op(i).OperationIDs {
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
	}

	return ids
}

func writeOutputs(
	g *graph.Graph,
	cs *generator.CompiledStream,
	bm *buffer.Manager,
	opts config.Options,
) error {
	err := os.WriteFile(filepath.Join(opts.DebugDir, "stream.bin"), cs.Binary, 0o644)
	if err != nil {
		return err
	}

	if *xmlFlag {
		if err := writeFile(filepath.Join(opts.DebugDir, "stream.xml"), func(f *os.File) error {
			return stream.WriteXML(f, cs.Stream)
		}); err != nil {
			return err
		}
	}

	if *dotFlag {
		if err := writeFile(filepath.Join(opts.DebugDir, "graph.dot"), func(f *os.File) error {
			return graph.WriteDot(f, g, cs.OpToAgentID)
		}); err != nil {
			return err
		}
	}

	return writeFile(opts.DebugInfoPath, func(f *os.File) error {
		fmt.Fprintln(f, agent.Table(cs.Agents))
		bm.Dump(f)

		return nil
	})
}

func writeFile(path string, fn func(f *os.File) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	return fn(f)
}

func lint(s *stream.CommandStream, runDir string) error {
	failed := 0

	for i, c := range s.Cascades() {
		report := verify.GenerateReport(c, 1000000)
		report.WriteReport(os.Stdout)

		name := filepath.Join(runDir, fmt.Sprintf("cascade_%d_report.txt", i))
		if err := report.SaveReportToFile(name); err != nil {
			return err
		}

		if !report.OK() {
			failed++
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d cascades failed verification", failed)
	}

	return nil
}

func simulate(s *stream.CommandStream, logger *slog.Logger) error {
	engine := sim.NewSerialEngine()

	var monitor *monitoring.Monitor
	if *monitorFlag {
		monitor = monitoring.NewMonitor()
		monitor.RegisterEngine(engine)
	}

	driver := api.DriverBuilder{}.
		WithEngine(engine).
		WithFreq(1 * sim.GHz).
		WithLogger(logger).
		Build("Driver")

	device := config.DeviceBuilder{}.
		WithEngine(engine).
		WithFreq(1 * sim.GHz).
		WithMonitor(monitor).
		Build("Device")

	driver.RegisterDevice(device)

	if monitor != nil {
		monitor.RegisterComponent(driver)
		monitor.StartServer()
	}

	for _, c := range s.Cascades() {
		if err := driver.MapCascade(c); err != nil {
			return err
		}
	}

	if err := driver.Run(); err != nil {
		return err
	}

	core.PrintState(os.Stdout, device.Counters)

	return nil
}
