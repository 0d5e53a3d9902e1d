package check

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/TBoris/gorynych/pkg/track/corrector"
	"github.com/TBoris/gorynych/pkg/track/igc"
)

func NewCheckTrackCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "track <file>",
		Short: "parses and corrects an IGC file, prints a summary",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return checkTrack(args[0])
		},
	}
	return cmd
}

func checkTrack(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return err
	}
	raw, err := igc.Parse(data)
	if err != nil {
		return fmt.Errorf("parsing %s: %w", filename, err)
	}
	if len(raw) == 0 {
		return fmt.Errorf("%s contains no fixes", filename)
	}
	corrected, err := corrector.CorrectTrack(raw,
		raw[0].Timestamp, raw[len(raw)-1].Timestamp)
	if err != nil {
		return fmt.Errorf("correcting %s: %w", filename, err)
	}

	maxAlt, maxSpeed := corrected[0].Alt, corrected[0].HSpeed
	for _, p := range corrected {
		if p.Alt > maxAlt {
			maxAlt = p.Alt
		}
		if p.HSpeed > maxSpeed {
			maxSpeed = p.HSpeed
		}
	}
	first := corrected[0]
	last := corrected[len(corrected)-1]
	duration := time.Duration(last.Timestamp-first.Timestamp) * time.Second

	fmt.Printf("File:       %s\n", filename)
	fmt.Printf("Fixes:      %d raw, %d corrected\n", len(raw), len(corrected))
	fmt.Printf("Start:      %s (%.6f, %.6f)\n",
		time.Unix(first.Timestamp, 0).UTC().Format(time.RFC3339),
		first.Lat, first.Lon)
	fmt.Printf("End:        %s (%.6f, %.6f)\n",
		time.Unix(last.Timestamp, 0).UTC().Format(time.RFC3339),
		last.Lat, last.Lon)
	fmt.Printf("Duration:   %s\n", duration)
	fmt.Printf("Max alt:    %d m\n", maxAlt)
	fmt.Printf("Max speed:  %.1f km/h\n", maxSpeed)
	return nil
}
