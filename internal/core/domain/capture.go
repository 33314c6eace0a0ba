package domain

// CaptureKind selects between mirroring a whole display and a single
// application window.
type CaptureKind int

const (
	CaptureFullDisplay CaptureKind = iota
	CaptureSingleWindow
)

func (k CaptureKind) String() string {
	if k == CaptureSingleWindow {
		return "Single Window"
	}
	return "Full Display"
}

// CaptureTarget is the tagged capture variant. Only the id matching the
// kind is meaningful; the other id is preserved so switching the source
// keeps the previously selected display or window.
type CaptureTarget struct {
	Kind      CaptureKind
	DisplayID uint32
	WindowID  uint32
}

// RawImage is an uncompressed frame handed from the capture primitive
// to the encoder. Pixels are RGBA, Stride bytes per row.
type RawImage struct {
	Width  int
	Height int
	Stride int
	Pixels []byte
}

// Window describes a capturable application window.
type Window struct {
	ID        uint32
	Title     string
	OwnerName string
}

// Display describes a capturable display.
type Display struct {
	ID     uint32
	Name   string
	Width  int
	Height int
}

// AudioFormat is the source format reported by the audio tap.
type AudioFormat struct {
	SampleRate float64
	Channels   int
}

// ThermalState mirrors the host's thermal pressure readout.
type ThermalState int

const (
	ThermalNominal ThermalState = iota
	ThermalFair
	ThermalSerious
	ThermalCritical
)

func (s ThermalState) String() string {
	switch s {
	case ThermalFair:
		return "fair"
	case ThermalSerious:
		return "serious"
	case ThermalCritical:
		return "critical"
	default:
		return "nominal"
	}
}
