package agent

import (
	"fmt"
	"strconv"
	"strings"
)

// Register array sizes of the command payloads.
const (
	NumCes     = 4
	NumOgs     = 4
	NumIgs     = 4
	NumIfmPads = 4
	NumScratch = 8
)

// RegisterVector is a row of register words.
type RegisterVector [NumOgs]uint32

// RegisterMatrix is a table of register words indexed by engine and group.
type RegisterMatrix [NumCes][NumOgs]uint32

// ScratchRegisters are the PLE scratch registers.
type ScratchRegisters [NumScratch]uint32

func formatWords(words []uint32) string {
	parts := make([]string, len(words))
	for i, w := range words {
		parts[i] = "0x" + strings.ToUpper(strconv.FormatUint(uint64(w), 16))
	}

	return strings.Join(parts, ",")
}

func parseWords(s string, out []uint32) error {
	parts := strings.Split(strings.TrimSpace(s), ",")
	if len(parts) != len(out) {
		return fmt.Errorf("expected %d register words, got %d", len(out), len(parts))
	}

	for i, p := range parts {
		var h Hex32
		if err := h.UnmarshalText([]byte(p)); err != nil {
			return err
		}

		out[i] = uint32(h)
	}

	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (v RegisterVector) MarshalText() ([]byte, error) {
	return []byte(formatWords(v[:])), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (v *RegisterVector) UnmarshalText(text []byte) error {
	return parseWords(string(text), v[:])
}

// MarshalText implements encoding.TextMarshaler.
func (m RegisterMatrix) MarshalText() ([]byte, error) {
	rows := make([]string, len(m))
	for i := range m {
		rows[i] = formatWords(m[i][:])
	}

	return []byte(strings.Join(rows, ";")), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *RegisterMatrix) UnmarshalText(text []byte) error {
	rows := strings.Split(strings.TrimSpace(string(text)), ";")
	if len(rows) != len(m) {
		return fmt.Errorf("expected %d register rows, got %d", len(m), len(rows))
	}

	for i, r := range rows {
		if err := parseWords(r, m[i][:]); err != nil {
			return err
		}
	}

	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (s ScratchRegisters) MarshalText() ([]byte, error) {
	return []byte(formatWords(s[:])), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *ScratchRegisters) UnmarshalText(text []byte) error {
	return parseWords(string(text), s[:])
}

// ExtraDataKind is the kind of register payload attached to a command.
type ExtraDataKind uint8

// Extra data kinds.
const (
	ExtraDma ExtraDataKind = iota
	ExtraProgramMce
	ExtraStartMce
	ExtraStartPle
)

// DmaExtraData holds the DMA register values of one transfer.
type DmaExtraData struct {
	DramOffset    Hex32 `xml:"DRAM_OFFSET"`
	SramAddr      Hex32 `xml:"SRAM_ADDR"`
	DmaSramStride Hex32 `xml:"DMA_SRAM_STRIDE"`
	DmaStride0    Hex32 `xml:"DMA_STRIDE0"`
	DmaStride3    Hex32 `xml:"DMA_STRIDE3"`
	DmaChannels   Hex32 `xml:"DMA_CHANNELS"`
	DmaEmcs       Hex32 `xml:"DMA_EMCS"`
	DmaTotalBytes Hex32 `xml:"DMA_TOTAL_BYTES"`
	DmaCmd        Hex32 `xml:"DMA_CMD"`
}

// ProgramMceExtraData holds the MCE register values of one stripe.
type ProgramMceExtraData struct {
	MulEnable                 RegisterMatrix `xml:"MUL_ENABLE"`
	IfmRowStride              Hex32          `xml:"IFM_ROW_STRIDE"`
	IfmConfig1                Hex32          `xml:"IFM_CONFIG1"`
	IfmPad                    RegisterMatrix `xml:"IFM_PAD"`
	WideKernelOffset          Hex32          `xml:"WIDE_KERNEL_OFFSET"`
	IfmTopSlots               Hex32          `xml:"IFM_TOP_SLOTS"`
	IfmMidSlots               Hex32          `xml:"IFM_MID_SLOTS"`
	IfmBottomSlots            Hex32          `xml:"IFM_BOTTOM_SLOTS"`
	IfmSlotPadConfig          Hex32          `xml:"IFM_SLOT_PAD_CONFIG"`
	OfmStripeSize             Hex32          `xml:"OFM_STRIPE_SIZE"`
	OfmConfig                 Hex32          `xml:"OFM_CONFIG"`
	WeightBaseAddr            RegisterVector `xml:"WEIGHT_BASE_ADDR"`
	IfmConfig2                RegisterMatrix `xml:"IFM_CONFIG2"`
	NumBlocksProgrammedForMce Hex32          `xml:"NUM_BLOCKS_PROGRAMMED_FOR_MCE"`
}

// StartMceExtraData holds the engine enable mask of one MCE stripe.
type StartMceExtraData struct {
	CeEnables uint32 `xml:"CE_ENABLES"`
}

// StartPleExtraData holds the PLE scratch registers of one stripe.
type StartPleExtraData struct {
	Scratch ScratchRegisters `xml:"SCRATCH"`
}

// ExtraData is the out-of-band register payload of the command at
// CommandIndex on Queue. Exactly one payload matching Kind is set.
type ExtraData struct {
	Kind         ExtraDataKind
	Queue        Queue
	CommandIndex uint32

	Dma        *DmaExtraData
	ProgramMce *ProgramMceExtraData
	StartMce   *StartMceExtraData
	StartPle   *StartPleExtraData
}

// ExtraDataKindOf returns the payload kind a command type carries, if any.
func ExtraDataKindOf(t CommandType) (ExtraDataKind, bool) {
	switch t {
	case LoadIfmStripe, LoadWgtStripe, LoadPleCodeIntoSram, StoreOfmStripe:
		return ExtraDma, true
	case ProgramMceStripe:
		return ExtraProgramMce, true
	case StartMceStripe:
		return ExtraStartMce, true
	case StartPleStripe:
		return ExtraStartPle, true
	default:
		return 0, false
	}
}
