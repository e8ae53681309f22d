package stream

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/sarchlab/cascadegen/agent"
)

type xmlIfmS struct {
	NumStripesTotal uint16 `xml:"NUM_STRIPES_TOTAL"`
	agent.IfmS
	agent.DependencyInfo
}

type xmlWgtS struct {
	NumStripesTotal uint16 `xml:"NUM_STRIPES_TOTAL"`
	agent.WgtS
	agent.DependencyInfo
}

type xmlMceS struct {
	NumStripesTotal uint16 `xml:"NUM_STRIPES_TOTAL"`
	agent.MceS
	agent.DependencyInfo
}

type xmlPleL struct {
	NumStripesTotal uint16 `xml:"NUM_STRIPES_TOTAL"`
	agent.PleL
	agent.DependencyInfo
}

type xmlPleS struct {
	NumStripesTotal uint16 `xml:"NUM_STRIPES_TOTAL"`
	agent.PleS
	agent.DependencyInfo
}

type xmlOfmS struct {
	NumStripesTotal uint16 `xml:"NUM_STRIPES_TOTAL"`
	agent.OfmS
	agent.DependencyInfo
}

type xmlWait struct {
	CounterName  agent.CounterName `xml:"COUNTER_NAME"`
	CounterValue uint32            `xml:"COUNTER_VALUE"`
}

type xmlDma struct {
	Type      agent.CommandType   `xml:"TYPE"`
	AgentID   uint16              `xml:"AGENT_ID"`
	StripeID  uint32              `xml:"STRIPE_ID"`
	Registers *agent.DmaExtraData `xml:"REGISTERS,omitempty"`
}

type xmlStripe struct {
	AgentID  uint16 `xml:"AGENT_ID"`
	StripeID uint32 `xml:"STRIPE_ID"`
}

type xmlProgramMce struct {
	AgentID   uint16                     `xml:"AGENT_ID"`
	StripeID  uint32                     `xml:"STRIPE_ID"`
	Registers *agent.ProgramMceExtraData `xml:"REGISTERS,omitempty"`
}

type xmlStartMce struct {
	AgentID   uint16                   `xml:"AGENT_ID"`
	StripeID  uint32                   `xml:"STRIPE_ID"`
	Registers *agent.StartMceExtraData `xml:"REGISTERS,omitempty"`
}

type xmlStartPle struct {
	AgentID   uint16                   `xml:"AGENT_ID"`
	StripeID  uint32                   `xml:"STRIPE_ID"`
	Registers *agent.StartPleExtraData `xml:"REGISTERS,omitempty"`
}

var queueElements = [agent.NumQueues]string{
	"DMA_RD_COMMANDS", "DMA_WR_COMMANDS", "MCE_COMMANDS", "PLE_COMMANDS",
}

func elem(name string) xml.StartElement {
	return xml.StartElement{Name: xml.Name{Local: name}}
}

func uintAttr(name string, v uint32) xml.Attr {
	return xml.Attr{Name: xml.Name{Local: name}, Value: strconv.FormatUint(uint64(v), 10)}
}

// WriteXML writes the stream as an XML document.
func WriteXML(w io.Writer, s *CommandStream) error {
	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}

	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")

	start := elem("STREAM")
	start.Attr = []xml.Attr{
		uintAttr("VERSION_MAJOR", s.Version.Major),
		uintAttr("VERSION_MINOR", s.Version.Minor),
		uintAttr("VERSION_PATCH", s.Version.Patch),
	}

	if err := enc.EncodeToken(start); err != nil {
		return err
	}

	for i, e := range s.Entries {
		var err error

		switch e := e.(type) {
		case *DumpDram:
			err = enc.EncodeElement(e, elem("DUMP_DRAM"))
		case *DumpSram:
			err = enc.EncodeElement(e, elem("DUMP_SRAM"))
		case *Cascade:
			err = encodeCascadeXML(enc, e)
		default:
			err = fmt.Errorf("%w: unknown entry %T", ErrInvalidBinary, e)
		}

		if err != nil {
			return fmt.Errorf("entry %d: %w", i, err)
		}
	}

	if err := enc.EncodeToken(start.End()); err != nil {
		return err
	}

	if err := enc.Flush(); err != nil {
		return err
	}

	_, err := io.WriteString(w, "\n")

	return err
}

func encodeCascadeXML(enc *xml.Encoder, c *Cascade) error {
	cascade := elem("CASCADE")
	agents := elem("AGENTS")

	if err := enc.EncodeToken(cascade); err != nil {
		return err
	}

	if err := enc.EncodeToken(agents); err != nil {
		return err
	}

	for i := range c.Agents {
		a := &c.Agents[i]
		if err := a.Validate(); err != nil {
			return fmt.Errorf("agent %d: %w", i, err)
		}

		if err := enc.EncodeToken(xml.Comment(fmt.Sprintf(" Agent %d ", i))); err != nil {
			return err
		}

		if err := enc.EncodeElement(xmlAgentOf(a), elem(a.Type.String())); err != nil {
			return fmt.Errorf("agent %d: %w", i, err)
		}
	}

	if err := enc.EncodeToken(agents.End()); err != nil {
		return err
	}

	extra := make(map[extraKey]*agent.ExtraData, len(c.ExtraData))
	for i := range c.ExtraData {
		e := &c.ExtraData[i]
		extra[extraKey{queue: e.Queue, index: e.CommandIndex}] = e
	}

	for q := agent.Queue(0); q < agent.NumQueues; q++ {
		list := elem(queueElements[q])
		if err := enc.EncodeToken(list); err != nil {
			return err
		}

		for i, cmd := range c.Commands.Queue(q) {
			if err := enc.EncodeToken(xml.Comment(fmt.Sprintf(" Command %d ", i))); err != nil {
				return err
			}

			name, v := xmlCommandOf(cmd, extra[extraKey{queue: q, index: uint32(i)}])
			if err := enc.EncodeElement(v, elem(name)); err != nil {
				return fmt.Errorf("%s command %d: %w", q, i, err)
			}
		}

		if err := enc.EncodeToken(list.End()); err != nil {
			return err
		}
	}

	return enc.EncodeToken(cascade.End())
}

type extraKey struct {
	queue agent.Queue
	index uint32
}

func xmlAgentOf(a *agent.Agent) any {
	n, info := a.NumStripesTotal, a.Info

	switch a.Type {
	case agent.IfmStreamer:
		return &xmlIfmS{NumStripesTotal: n, IfmS: *a.Ifm, DependencyInfo: info}
	case agent.WgtStreamer:
		return &xmlWgtS{NumStripesTotal: n, WgtS: *a.Wgt, DependencyInfo: info}
	case agent.MceScheduler:
		return &xmlMceS{NumStripesTotal: n, MceS: *a.Mce, DependencyInfo: info}
	case agent.PleLoader:
		return &xmlPleL{NumStripesTotal: n, PleL: *a.PleL, DependencyInfo: info}
	case agent.PleScheduler:
		return &xmlPleS{NumStripesTotal: n, PleS: *a.PleS, DependencyInfo: info}
	default:
		return &xmlOfmS{NumStripesTotal: n, OfmS: *a.Ofm, DependencyInfo: info}
	}
}

func xmlCommandOf(cmd agent.Command, e *agent.ExtraData) (string, any) {
	id, stripe := cmd.AgentID, cmd.StripeID

	switch cmd.Type {
	case agent.WaitForCounter:
		return "WAIT_FOR_COUNTER_COMMAND",
			&xmlWait{CounterName: cmd.Counter, CounterValue: cmd.CounterValue}
	case agent.ProgramMceStripe:
		v := &xmlProgramMce{AgentID: id, StripeID: stripe}
		if e != nil {
			v.Registers = e.ProgramMce
		}

		return "PROGRAM_MCE_STRIPE_COMMAND", v
	case agent.ConfigMceif:
		return "CONFIG_MCEIF_COMMAND", &xmlStripe{AgentID: id, StripeID: stripe}
	case agent.StartMceStripe:
		v := &xmlStartMce{AgentID: id, StripeID: stripe}
		if e != nil {
			v.Registers = e.StartMce
		}

		return "START_MCE_STRIPE_COMMAND", v
	case agent.LoadPleCodeIntoPleSram:
		return "LOAD_PLE_CODE_INTO_PLE_SRAM_COMMAND", &xmlStripe{AgentID: id, StripeID: stripe}
	case agent.StartPleStripe:
		v := &xmlStartPle{AgentID: id, StripeID: stripe}
		if e != nil {
			v.Registers = e.StartPle
		}

		return "START_PLE_STRIPE_COMMAND", v
	default:
		v := &xmlDma{Type: cmd.Type, AgentID: id, StripeID: stripe}
		if e != nil {
			v.Registers = e.Dma
		}

		return "DMA_COMMAND", v
	}
}

// eachChild calls fn for every child element until the end of the current
// element. fn must consume the element it is given.
func eachChild(d *xml.Decoder, fn func(start xml.StartElement) error) error {
	for {
		tok, err := d.Token()
		if err != nil {
			return err
		}

		switch t := tok.(type) {
		case xml.StartElement:
			if err := fn(t); err != nil {
				return err
			}
		case xml.EndElement:
			return nil
		}
	}
}

func invalid(err error) error {
	if err == nil || errors.Is(err, ErrInvalidBinary) {
		return err
	}

	return fmt.Errorf("%w: %v", ErrInvalidBinary, err)
}

// ParseXML reads a stream written by WriteXML.
func ParseXML(r io.Reader) (*CommandStream, error) {
	d := xml.NewDecoder(r)

	var start xml.StartElement

	for {
		tok, err := d.Token()
		if err != nil {
			return nil, invalid(fmt.Errorf("no STREAM element: %w", err))
		}

		if t, ok := tok.(xml.StartElement); ok {
			start = t
			break
		}
	}

	if start.Name.Local != "STREAM" {
		return nil, invalid(fmt.Errorf("unexpected root element %s", start.Name.Local))
	}

	s := &CommandStream{}

	for _, a := range start.Attr {
		v, err := strconv.ParseUint(a.Value, 10, 32)
		if err != nil {
			return nil, invalid(fmt.Errorf("attribute %s: %w", a.Name.Local, err))
		}

		switch a.Name.Local {
		case "VERSION_MAJOR":
			s.Version.Major = uint32(v)
		case "VERSION_MINOR":
			s.Version.Minor = uint32(v)
		case "VERSION_PATCH":
			s.Version.Patch = uint32(v)
		}
	}

	err := eachChild(d, func(st xml.StartElement) error {
		switch st.Name.Local {
		case "DUMP_DRAM":
			var e DumpDram
			if err := d.DecodeElement(&e, &st); err != nil {
				return err
			}

			s.Add(&e)
		case "DUMP_SRAM":
			var e DumpSram
			if err := d.DecodeElement(&e, &st); err != nil {
				return err
			}

			s.Add(&e)
		case "CASCADE":
			c, err := parseCascadeXML(d)
			if err != nil {
				return err
			}

			s.Add(c)
		default:
			return fmt.Errorf("unknown element %s", st.Name.Local)
		}

		return nil
	})
	if err != nil {
		return nil, invalid(err)
	}

	return s, nil
}

func parseCascadeXML(d *xml.Decoder) (*Cascade, error) {
	c := &Cascade{}

	err := eachChild(d, func(st xml.StartElement) error {
		if st.Name.Local == "AGENTS" {
			return eachChild(d, func(st xml.StartElement) error {
				a, err := parseAgentXML(d, st)
				if err != nil {
					return fmt.Errorf("agent %d: %w", len(c.Agents), err)
				}

				c.Agents = append(c.Agents, a)

				return nil
			})
		}

		for q := agent.Queue(0); q < agent.NumQueues; q++ {
			if st.Name.Local == queueElements[q] {
				return parseCommandsXML(d, q, c)
			}
		}

		return fmt.Errorf("unknown element %s in CASCADE", st.Name.Local)
	})

	return c, err
}

func parseAgentXML(d *xml.Decoder, st xml.StartElement) (agent.Agent, error) {
	t, err := agent.ParseAgentType(st.Name.Local)
	if err != nil {
		return agent.Agent{}, err
	}

	var a agent.Agent

	switch t {
	case agent.IfmStreamer:
		var x xmlIfmS
		err = d.DecodeElement(&x, &st)
		a = agent.NewIfmStreamer(x.NumStripesTotal, x.IfmS)
		a.Info = x.DependencyInfo
	case agent.WgtStreamer:
		var x xmlWgtS
		err = d.DecodeElement(&x, &st)
		a = agent.NewWgtStreamer(x.NumStripesTotal, x.WgtS)
		a.Info = x.DependencyInfo
	case agent.MceScheduler:
		var x xmlMceS
		err = d.DecodeElement(&x, &st)
		a = agent.NewMceScheduler(x.NumStripesTotal, x.MceS)
		a.Info = x.DependencyInfo
	case agent.PleLoader:
		var x xmlPleL
		err = d.DecodeElement(&x, &st)
		a = agent.NewPleLoader(x.PleL)
		a.NumStripesTotal = x.NumStripesTotal
		a.Info = x.DependencyInfo
	case agent.PleScheduler:
		var x xmlPleS
		err = d.DecodeElement(&x, &st)
		a = agent.NewPleScheduler(x.NumStripesTotal, x.PleS)
		a.Info = x.DependencyInfo
	case agent.OfmStreamer:
		var x xmlOfmS
		err = d.DecodeElement(&x, &st)
		a = agent.NewOfmStreamer(x.NumStripesTotal, x.OfmS)
		a.Info = x.DependencyInfo
	}

	return a, err
}

func parseCommandsXML(d *xml.Decoder, q agent.Queue, c *Cascade) error {
	var cmds []agent.Command

	err := eachChild(d, func(st xml.StartElement) error {
		index := uint32(len(cmds))

		cmd, payload, err := parseCommandXML(d, st)
		if err != nil {
			return fmt.Errorf("%s command %d: %w", q, index, err)
		}

		cmds = append(cmds, cmd)

		if payload != nil {
			c.ExtraData = append(c.ExtraData, *payload)
			e := &c.ExtraData[len(c.ExtraData)-1]
			e.Queue, e.CommandIndex = q, index
		}

		return nil
	})

	c.Commands.SetQueue(q, cmds)

	return err
}

func parseCommandXML(d *xml.Decoder, st xml.StartElement) (agent.Command, *agent.ExtraData, error) {
	switch st.Name.Local {
	case "WAIT_FOR_COUNTER_COMMAND":
		var x xmlWait
		if err := d.DecodeElement(&x, &st); err != nil {
			return agent.Command{}, nil, err
		}

		return agent.NewWaitForCounter(x.CounterName, x.CounterValue), nil, nil
	case "DMA_COMMAND":
		var x xmlDma
		if err := d.DecodeElement(&x, &st); err != nil {
			return agent.Command{}, nil, err
		}

		if !x.Type.IsDma() {
			return agent.Command{}, nil, fmt.Errorf("%s is not a DMA command", x.Type)
		}

		cmd := agent.NewStripeCommand(x.Type, x.AgentID, x.StripeID)
		if x.Registers == nil {
			return cmd, nil, nil
		}

		return cmd, &agent.ExtraData{Kind: agent.ExtraDma, Dma: x.Registers}, nil
	case "PROGRAM_MCE_STRIPE_COMMAND":
		var x xmlProgramMce
		if err := d.DecodeElement(&x, &st); err != nil {
			return agent.Command{}, nil, err
		}

		cmd := agent.NewStripeCommand(agent.ProgramMceStripe, x.AgentID, x.StripeID)
		if x.Registers == nil {
			return cmd, nil, nil
		}

		return cmd, &agent.ExtraData{Kind: agent.ExtraProgramMce, ProgramMce: x.Registers}, nil
	case "START_MCE_STRIPE_COMMAND":
		var x xmlStartMce
		if err := d.DecodeElement(&x, &st); err != nil {
			return agent.Command{}, nil, err
		}

		cmd := agent.NewStripeCommand(agent.StartMceStripe, x.AgentID, x.StripeID)
		if x.Registers == nil {
			return cmd, nil, nil
		}

		return cmd, &agent.ExtraData{Kind: agent.ExtraStartMce, StartMce: x.Registers}, nil
	case "START_PLE_STRIPE_COMMAND":
		var x xmlStartPle
		if err := d.DecodeElement(&x, &st); err != nil {
			return agent.Command{}, nil, err
		}

		cmd := agent.NewStripeCommand(agent.StartPleStripe, x.AgentID, x.StripeID)
		if x.Registers == nil {
			return cmd, nil, nil
		}

		return cmd, &agent.ExtraData{Kind: agent.ExtraStartPle, StartPle: x.Registers}, nil
	case "CONFIG_MCEIF_COMMAND", "LOAD_PLE_CODE_INTO_PLE_SRAM_COMMAND":
		var x xmlStripe
		if err := d.DecodeElement(&x, &st); err != nil {
			return agent.Command{}, nil, err
		}

		t := agent.ConfigMceif
		if st.Name.Local == "LOAD_PLE_CODE_INTO_PLE_SRAM_COMMAND" {
			t = agent.LoadPleCodeIntoPleSram
		}

		return agent.NewStripeCommand(t, x.AgentID, x.StripeID), nil, nil
	default:
		return agent.Command{}, nil, fmt.Errorf("unknown command element %s", st.Name.Local)
	}
}
