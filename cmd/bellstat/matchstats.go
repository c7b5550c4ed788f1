package main

import (
	"bytes"
	"errors"
	"slices"

	"bellstat/adapters/ingest"
	"bellstat/domain/core"
	"bellstat/domain/event"
	"bellstat/internal/config"
	"bellstat/internal/matcher"
	"bellstat/internal/report"
	"bellstat/internal/statistic"

	"github.com/spf13/cobra"
)

func newMatchStatsCmd() *cobra.Command {
	var (
		scanRadius  string
		outcomeMask uint16
		aliceBits   uint16
		bobBits     uint16
		threshold   float64
		peakBlock   int
		peakBins    int
	)

	cmd := &cobra.Command{
		Use:   "matchstats alice.jsonl bob.jsonl sync.json",
		Short: "Report how many trials each radius matches",
		Long: `Match the streams at every radius without evaluating a statistic and print
the slot, trial and unmatched counts, to choose a scan range. The report also
tabulates the click patterns of each station against its expected detector
bits and tracks the peak of the B-minus-A match offsets block by block at the
widest radius, which exposes a drifting sync model.

Example: bellstat matchstats a.jsonl b.jsonl sync.json --scan-radius 5,10,20,40 --alice-bits 0xc0 --bob-bits 0x300`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, logger, err := loadConfig()
			if err != nil {
				return err
			}
			radii, err := config.ParseRadii(scanRadius)
			if err != nil {
				return err
			}

			sync, err := ingest.LoadSync(args[2])
			if err != nil {
				return err
			}
			a, _, err := ingest.LoadEvents(args[0], ingest.Options{})
			if err != nil {
				return err
			}
			b, _, err := ingest.LoadEvents(args[1], ingest.Options{})
			if err != nil {
				return err
			}
			logger.Debug("matching %d Alice and %d Bob events under %s", len(a), len(b), sync)

			run := sync.Run
			if run == "" {
				run = args[0]
			}
			var covs []event.Coverage
			for _, side := range []struct {
				station event.Station
				stream  event.Stream
				bits    uint16
			}{{event.StationA, a, aliceBits}, {event.StationB, b, bobBits}} {
				bits := side.bits
				if bits == 0 {
					bits = outcomeMask
				}
				cov := side.stream.Coverage(bits)
				if f := cov.Fraction(cov.Foreign); f > threshold {
					logger.Warn("station %s: %.2e of events carry bits outside %#x", side.station, f, bits)
				}
				for _, bit := range cov.Rare(threshold) {
					logger.Warn("station %s: expected detector bit %#x is rare", side.station, bit)
				}
				covs = append(covs, cov)
			}

			if outcomeMask != 0 {
				a, b = a.Masked(outcomeMask), b.Masked(outcomeMask)
			}
			counts, err := matcher.CountByRadius(a, b, sync, radii)
			if err != nil {
				return err
			}

			var buf bytes.Buffer
			if err := report.WriteMatchStats(&buf, run, counts); err != nil {
				return err
			}
			for i, station := range []event.Station{event.StationA, event.StationB} {
				buf.WriteString("\n")
				if err := report.WriteCoverage(&buf, station, covs[i]); err != nil {
					return err
				}
			}

			if peakBlock > 0 {
				widest := slices.Max(radii)
				set, err := matcher.Match(a, b, sync, widest)
				if err != nil {
					return err
				}
				points, err := statistic.PeakDrift(set, peakBlock, peakBins)
				switch {
				case errors.Is(err, core.ErrInsufficientData):
					logger.Warn("peak drift skipped: %v", err)
				case err != nil:
					return err
				default:
					buf.WriteString("\n")
					if err := report.WritePeakDrift(&buf, widest, points); err != nil {
						return err
					}
				}
			}
			_, err = cmd.OutOrStdout().Write(buf.Bytes())
			return err
		},
	}

	fl := cmd.Flags()
	fl.StringVar(&scanRadius, "scan-radius", "", "Comma-separated radius list in ticks")
	fl.Uint16Var(&outcomeMask, "outcome-mask", 0, "Keep only these detector bits of each outcome (0 keeps all)")
	fl.Uint16Var(&aliceBits, "alice-bits", 0, "Detector bits expected on Alice (default: --outcome-mask)")
	fl.Uint16Var(&bobBits, "bob-bits", 0, "Detector bits expected on Bob (default: --outcome-mask)")
	fl.Float64Var(&threshold, "threshold", 1e-6, "Fraction below which an expected bit is rare and above which foreign bits are reported")
	fl.IntVar(&peakBlock, "peak-block", 1000, "Trials per block of the offset peak drift (0 skips it)")
	fl.IntVar(&peakBins, "peak-bins", statistic.DefaultPeakBins, "Histogram bins of the offset peak drift")
	cmd.MarkFlagRequired("scan-radius")

	return cmd
}
