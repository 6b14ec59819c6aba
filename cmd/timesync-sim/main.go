// ABOUTME: Simulated end-to-end sync runs
// ABOUTME: Plays a client against a server over a deterministic link and prints the estimate error
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/Resonate-Protocol/timesync-go/internal/simnet"
	"github.com/Resonate-Protocol/timesync-go/pkg/timesync"
	"github.com/sirupsen/logrus"
)

var (
	clientOffset   = flag.Duration("client-offset", 0, "client clock error")
	serverOffset   = flag.Duration("server-offset", 250*time.Millisecond, "server clock error")
	forward        = flag.Duration("forward", 20*time.Millisecond, "client to server delay")
	back           = flag.Duration("back", 20*time.Millisecond, "server to client delay")
	linkJitter     = flag.Duration("link-jitter", 5*time.Millisecond, "extra random delay per direction")
	malformedEvery = flag.Int("malformed-every", 0, "corrupt every n-th reply")
	rounds         = flag.Int("rounds", timesync.DefaultRounds, "probes per session")
	minSamples     = flag.Int("min-samples", timesync.DefaultMinSamples, "valid probes required")
	probeJitter    = flag.Duration("probe-jitter", timesync.DefaultJitter, "max wait between probes")
	runs           = flag.Int("runs", 1, "sessions to simulate, one seed each")
	seed           = flag.Uint64("seed", 1, "first seed")
	debug          = flag.Bool("debug", false, "log every probe")
)

func main() {
	flag.Parse()

	log := logrus.New()
	log.SetLevel(logrus.WarnLevel)
	if *debug {
		log.SetLevel(logrus.DebugLevel)
	}

	fmt.Println("=== Timesync Simulation ===")
	fmt.Printf("true offset %v, link %v/%v ±%v, %d rounds\n",
		*serverOffset-*clientOffset, *forward, *back, *linkJitter, *rounds)
	fmt.Println()

	var sumAbs, worst int64
	var ok int
	for i := 0; i < *runs; i++ {
		sc := simnet.Scenario{
			ClientOffset:   clientOffset.Microseconds(),
			ServerOffset:   serverOffset.Microseconds(),
			Forward:        *forward,
			Back:           *back,
			Jitter:         *linkJitter,
			MalformedEvery: *malformedEvery,
			Config: timesync.Config{
				Jitter:     *probeJitter,
				Rounds:     *rounds,
				MinSamples: *minSamples,
			},
			Seed: *seed + uint64(i),
		}

		report, err := simnet.Run(context.Background(), sc, log)
		if err != nil {
			var short *timesync.InsufficientSamplesError
			if errors.As(err, &short) {
				fmt.Printf("run %3d: %v\n", i, err)
				continue
			}
			fmt.Fprintf(os.Stderr, "run %d: %v\n", i, err)
			os.Exit(1)
		}

		ok++
		abs := report.Error
		if abs < 0 {
			abs = -abs
		}
		sumAbs += abs
		worst = max(worst, abs)

		fmt.Printf("run %3d: offset %+8dµs  error %+6dµs  rtt %6dµs  samples %d/%d  elapsed %v\n",
			i, report.Result.Offset, report.Error, report.Result.RoundTrip,
			len(report.Result.Samples), report.Result.Rounds, report.Elapsed)
	}

	fmt.Println()
	if ok == 0 {
		fmt.Println("no successful runs")
		os.Exit(1)
	}
	fmt.Printf("%d/%d runs succeeded, mean |error| %dµs, worst %dµs\n", ok, *runs, sumAbs/int64(ok), worst)
}
