package board

import (
	"fmt"

	"github.com/kellydunn/go-opc"

	"github.com/mechanaut/sweeprig/pkg/rig"
)

// OPCStrip drives the rig's indicators through an Open Pixel Control
// server (a fadecandy or compatible bridge). Colors are staged with
// SetPixel and sent as one frame on Flush.
type OPCStrip struct {
	client *opc.Client
	pixels []rig.RGB
}

// NewOPCStrip connects to the OPC server.
func NewOPCStrip(addr string, numPixels int) (*OPCStrip, error) {
	client := opc.NewClient()
	if err := client.Connect("tcp", addr); err != nil {
		return nil, fmt.Errorf("connect opc server %s: %w", addr, err)
	}
	return &OPCStrip{
		client: client,
		pixels: make([]rig.RGB, numPixels),
	}, nil
}

// SetPixel stages one indicator's color.
func (s *OPCStrip) SetPixel(index int, c rig.RGB) error {
	if index < 0 || index >= len(s.pixels) {
		return fmt.Errorf("pixel %d out of range (strip has %d)", index, len(s.pixels))
	}
	s.pixels[index] = c
	return nil
}

// Flush sends the staged frame on OPC channel 0.
func (s *OPCStrip) Flush() error {
	m := opc.NewMessage(0)
	m.SetLength(uint16(len(s.pixels) * 3))
	for i, c := range s.pixels {
		m.SetPixelColor(i, c.R, c.G, c.B)
	}
	if err := s.client.Send(m); err != nil {
		return fmt.Errorf("send opc frame: %w", err)
	}
	return nil
}

// Close is a no-op; the opc client owns no resources beyond its socket,
// which it does not expose.
func (s *OPCStrip) Close() error {
	return nil
}
