package cmd

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/justapithecus/openhrv/cli/render"
	"github.com/justapithecus/openhrv/gatt"
)

// DecodeResponse is one decoded Heart Rate Measurement.
type DecodeResponse struct {
	HeartRate      uint16   `json:"heart_rate" yaml:"heart_rate"`
	Contact        string   `json:"contact" yaml:"contact"`
	EnergyExpended *uint16  `json:"energy_expended,omitempty" yaml:"energy_expended,omitempty"`
	RR             []uint16 `json:"rr" yaml:"rr"`
	IBIs           []int    `json:"ibis_ms" yaml:"ibis_ms"`
}

// DecodeCommand returns the decode command.
func DecodeCommand() *cli.Command {
	return &cli.Command{
		Name:      "decode",
		Usage:     "Decode one Heart Rate Measurement packet given as hex",
		ArgsUsage: "<hex>",
		Flags:     ReadOnlyFlags(),
		Action:    decodeAction,
	}
}

func decodeAction(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("decode requires exactly one <hex> argument", exitSetupError)
	}

	packet, err := parseHex(c.Args().First())
	if err != nil {
		return cli.Exit(err.Error(), exitSetupError)
	}
	m, err := gatt.DecodeMeasurement(packet)
	if err != nil {
		return cli.Exit(fmt.Sprintf("decode failed: %v", err), exitFailure)
	}

	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}
	rr := m.RR
	if rr == nil {
		rr = []uint16{}
	}
	return r.Render(DecodeResponse{
		HeartRate:      m.HeartRate,
		Contact:        m.Contact.String(),
		EnergyExpended: m.EnergyExpended,
		RR:             rr,
		IBIs:           m.IBIs(),
	})
}

// parseHex accepts "104be803", "10 4b e8 03", "10:4b:e8:03" and an
// optional 0x prefix.
func parseHex(s string) ([]byte, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "0x")
	s = strings.NewReplacer(" ", "", ":", "", "-", "").Replace(s)
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid hex packet: %w", err)
	}
	return b, nil
}
