package main

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"github.com/sarchlab/akita/v4/sim"
	"github.com/tebeka/atexit"

	"github.com/sarchlab/cascadegen/agent"
	"github.com/sarchlab/cascadegen/api"
	"github.com/sarchlab/cascadegen/buffer"
	"github.com/sarchlab/cascadegen/config"
	"github.com/sarchlab/cascadegen/core"
	"github.com/sarchlab/cascadegen/generator"
	"github.com/sarchlab/cascadegen/graph"
)

//go:embed depthwise.yaml
var description string

func depthwise(driver api.Driver) {
	g, err := graph.LoadYAML(strings.NewReader(description))
	if err != nil {
		panic(err)
	}

	cs, err := generator.Generate(g, []uint32{1, 2},
		config.DefaultCapabilities(), config.Options{},
		buffer.NewManager(nil), nil)
	if err != nil {
		panic(err)
	}

	fmt.Println(agent.Table(cs.Agents))

	for _, c := range cs.Stream.Cascades() {
		if err := driver.MapCascade(c); err != nil {
			panic(err)
		}
	}

	if err := driver.Run(); err != nil {
		panic(err)
	}
}

func main() {
	engine := sim.NewSerialEngine()

	driver := api.DriverBuilder{}.
		WithEngine(engine).
		WithFreq(1 * sim.GHz).
		Build("Driver")

	device := config.DeviceBuilder{}.
		WithEngine(engine).
		WithFreq(1 * sim.GHz).
		WithLatency(agent.LoadIfmStripe, 16).
		WithLatency(agent.StartMceStripe, 32).
		WithLatency(agent.StartPleStripe, 8).
		WithLatency(agent.StoreOfmStripe, 16).
		Build("Device")

	driver.RegisterDevice(device)
	depthwise(driver)

	core.PrintState(os.Stdout, device.Counters)
	atexit.Exit(0)
}
