package cmd

import (
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kilianp07/wastefleet/infra/logger"
	"github.com/kilianp07/wastefleet/infra/mqtt"
	"github.com/kilianp07/wastefleet/simulator"
)

type simulateOptions struct {
	broker         string
	apiURL         string
	owner          string
	register       bool
	bins           int
	firstCode      int
	drivers        int
	fillRate       float64
	drainRate      float64
	disconnectRate float64
	interval       time.Duration
	encoding       string
	collectDelay   time.Duration
	dropRate       float64
	profileFile    string
	seed           int64
}

var simOpts simulateOptions

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Publish simulated bin readings and play the drivers collecting them",
	RunE:  simulate,
}

func init() {
	f := simulateCmd.Flags()
	f.StringVar(&simOpts.broker, "broker", "", "MQTT broker URL (defaults to mqtt.broker from the config)")
	f.StringVar(&simOpts.apiURL, "api", "", "service base URL drivers report collections to (defaults to simulator.api_url)")
	f.StringVar(&simOpts.owner, "owner", "simulator", "user owning registered bins")
	f.BoolVar(&simOpts.register, "register", true, "create the simulated bins through the API first")
	f.IntVar(&simOpts.bins, "bins", 20, "number of bins")
	f.IntVar(&simOpts.firstCode, "first-code", 100001, "code of the first bin")
	f.IntVar(&simOpts.drivers, "drivers", 2, "number of drivers")
	f.Float64Var(&simOpts.fillRate, "fill-rate", 2, "mean fill increase per tick, in percent")
	f.Float64Var(&simOpts.drainRate, "drain-rate", 0.05, "battery drain per tick, in percent")
	f.Float64Var(&simOpts.disconnectRate, "disconnect-rate", 0, "probability per tick of a bin link flipping")
	f.DurationVar(&simOpts.interval, "interval", 30*time.Second, "reading interval")
	f.StringVar(&simOpts.encoding, "encoding", simulator.EncodingJSON, "sensor payload encoding (json, cbor)")
	f.DurationVar(&simOpts.collectDelay, "collect-delay", 5*time.Second, "time a driver takes to collect")
	f.Float64Var(&simOpts.dropRate, "drop-rate", 0, "probability a driver ignores an assignment")
	f.StringVar(&simOpts.profileFile, "profile-file", "", "hourly fill profile JSON")
	f.Int64Var(&simOpts.seed, "seed", 0, "random seed (0 picks one)")
	rootCmd.AddCommand(simulateCmd)
}

func simulate(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	o := simOpts
	if o.apiURL == "" {
		o.apiURL = cfg.Simulator.APIURL
	}
	httpClient := cfg.Simulator.Auth.HTTPClient(ctx, nil)
	if o.seed == 0 {
		o.seed = time.Now().UnixNano()
	}
	var profile simulator.FillProfile
	if o.profileFile != "" {
		data, err := os.ReadFile(o.profileFile)
		if err != nil {
			return fmt.Errorf("profile file: %w", err)
		}
		if profile, err = simulator.LoadFillProfile(data); err != nil {
			return fmt.Errorf("profile file: %w", err)
		}
	}

	bins, err := simulator.GenerateBins(simulator.FleetConfig{
		Bins:           o.bins,
		FirstCode:      o.firstCode,
		MeanFillRate:   o.fillRate,
		DrainRate:      o.drainRate,
		DisconnectRate: o.disconnectRate,
	}, rand.New(rand.NewSource(o.seed)))
	if err != nil {
		return err
	}
	log := logger.New("simulator")
	if o.register {
		n, err := simulator.RegisterBins(ctx, o.apiURL, httpClient, o.owner, bins)
		if err != nil {
			return err
		}
		log.Infof("registered %d new bins", n)
	}

	mcfg := cfg.MQTT
	mcfg.Enabled = true
	mcfg.ClientID = "wastefleet-sim"
	if o.broker != "" {
		mcfg.Broker = o.broker
	}
	if err := mcfg.Validate(); err != nil {
		return err
	}
	cli, err := mqtt.NewPahoClient(mcfg, logger.New("mqtt"))
	if err != nil {
		return fmt.Errorf("mqtt client: %w", err)
	}
	defer cli.Disconnect()

	sim, err := simulator.New(cli, bins, simulator.DriverIDs(o.drivers),
		simulator.NewRandomCollect(o.collectDelay, o.dropRate, o.seed),
		simulator.HTTPCompleter(o.apiURL, httpClient),
		simulator.Config{Interval: o.interval, Encoding: o.encoding, Profile: profile, Seed: o.seed},
		log)
	if err != nil {
		return err
	}
	if err := sim.Run(ctx); err != nil {
		return err
	}
	collected, dropped := sim.Stats()
	_, err = fmt.Fprintf(cmd.OutOrStdout(), "%d collections, %d ignored\n", collected, dropped)
	return err
}
