package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli"

	"github.com/shreekarashastry/fruitsim/log"
)

var (
	configPath string
	outPrefix  string
	dbPath     string
	logFile    string
	verbosity  string
	workers    int
)

var (
	roundsFlag = cli.Uint64Flag{
		Name:  "rounds, r",
		Usage: "number of rounds per trial (0 runs until every miner recovered its cost)",
	}
	trialsFlag = cli.IntFlag{
		Name:  "trials, n",
		Usage: "number of independent trials to average over",
	}
	seedFlag = cli.Int64Flag{
		Name:  "seed",
		Usage: "random seed of the first trial",
	}
	minersFlag = cli.IntFlag{
		Name:  "miners",
		Usage: "number of miners with equal hash power",
	}
	pFlag = cli.Float64Flag{
		Name:  "p",
		Usage: "probability that a block is mined in a round",
	}
	pfFlag = cli.Float64Flag{
		Name:  "pf",
		Usage: "probability that a fruit is mined in a round",
	}
	kFlag = cli.IntFlag{
		Name:  "k",
		Usage: "freshness window in blocks",
	}
	attackFlag = cli.StringFlag{
		Name:  "attack",
		Usage: "attack mode: none or selfish",
	}
	selfishFlag = cli.IntFlag{
		Name:  "selfish-miner",
		Usage: "index of the selfish miner",
	}
	seriesFlag = cli.BoolFlag{
		Name:  "series",
		Usage: "record per round reward series (needed for the stability metric)",
	}
	progressFlag = cli.Uint64Flag{
		Name:  "progress",
		Value: 50000,
		Usage: "log progress every this many rounds (0 disables)",
	}
	labelFlag = cli.StringFlag{
		Name:  "label",
		Value: "default",
		Usage: "label the results are stored under",
	}
	sweepFlag = cli.StringFlag{
		Name:  "sweep",
		Value: "runs",
		Usage: "sweep the results are stored under",
	}
)

func main() {
	app := cli.NewApp()
	app.Name = "fruitsim"
	app.Usage = "compare direct and windowed fruitchain miner rewards"

	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:        "config, c",
			Usage:       "path to a JSON simulation config",
			Destination: &configPath,
		},
		cli.StringFlag{
			Name:        "out, o",
			Value:       "sim_results/",
			Usage:       "prefix of the result files",
			Destination: &outPrefix,
		},
		cli.StringFlag{
			Name:        "db",
			Usage:       "badger directory to store trial results in",
			Destination: &dbPath,
		},
		cli.StringFlag{
			Name:        "log",
			Usage:       "log file (stderr if empty)",
			Destination: &logFile,
		},
		cli.StringFlag{
			Name:        "verbosity",
			Value:       "info",
			Usage:       "log level",
			Destination: &verbosity,
		},
		cli.IntFlag{
			Name:        "workers, w",
			Value:       1,
			Usage:       "trials run at the same time",
			Destination: &workers,
		},
	}
	app.Before = func(c *cli.Context) error {
		log.SetGlobal(logFile, verbosity)
		return nil
	}

	app.Commands = []cli.Command{
		{
			Name:   "run",
			Usage:  "Run one configuration: fruitsim [-c CONFIG] run [--rounds R] [--trials N] ...",
			Flags:  []cli.Flag{roundsFlag, trialsFlag, seedFlag, minersFlag, pFlag, pfFlag, kFlag, attackFlag, selfishFlag, seriesFlag, progressFlag, labelFlag, sweepFlag},
			Action: runCmd,
		},
		{
			Name:   "sweep",
			Usage:  "Run a parameter sweep: fruitsim sweep length|c0|hash",
			Flags:  []cli.Flag{trialsFlag, seedFlag, seriesFlag, progressFlag},
			Action: sweepCmd,
		},
		{
			Name:   "show",
			Usage:  "Print the metrics of a stored sweep: fruitsim --db DIR show SWEEP",
			Action: showCmd,
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "command failed with error: %v\n", err)
		os.Exit(1)
	}
}
