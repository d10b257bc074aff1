package main

import (
	"fmt"
	"os"

	"marketrouter/cmd/books"
	"marketrouter/cmd/candles"
	"marketrouter/cmd/keys"
	"marketrouter/cmd/markets"
	"marketrouter/cmd/tickers"
	"marketrouter/cmd/trader"
	"marketrouter/src/logging"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"
)

var Version string

func main() {
	// a missing .env is fine, the environment may be set by the runtime
	_ = godotenv.Load()
	closer := logging.Setup(logging.GetConfig())
	defer closer.Close()

	app := cli.NewApp()
	app.Name = "marketrouter"
	app.Usage = "The marketrouter command line interface"
	app.Version = Version

	app.Commands = []cli.Command{
		marketsCMD,
		candlesCMD,
		tickersCMD,
		booksCMD,
		traderCMD,
		keysCMD,
	}

	if err := app.Run(os.Args); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var (
	marketsCMD = cli.Command{
		Name:        "markets",
		Usage:       "seed exchanges and refresh markets",
		Action:      marketsAction,
		ArgsUsage:   "",
		Flags:       []cli.Flag{},
		Description: `Seed exchanges from EXCHANGES_FILE and refresh currencies and markets (hourly with MARKETS_HOURLY)`,
	}
	candlesCMD = cli.Command{
		Name:        "candles",
		Usage:       "backfill hourly candles",
		Action:      candlesAction,
		ArgsUsage:   "",
		Flags:       []cli.Flag{},
		Description: `Backfill the hourly candles of every tradable market (hourly with CANDLES_HOURLY)`,
	}
	tickersCMD = cli.Command{
		Name:        "tickers",
		Usage:       "refresh tickers and live candles",
		Action:      tickersAction,
		ArgsUsage:   "",
		Flags:       []cli.Flag{},
		Description: `Refresh tickers and live candles now and at every top of the hour`,
	}
	booksCMD = cli.Command{
		Name:        "books",
		Usage:       "stream order books",
		Action:      booksAction,
		ArgsUsage:   "",
		Flags:       []cli.Flag{},
		Description: `Stream the order books listed in BOOK_MARKETS`,
	}
	traderCMD = cli.Command{
		Name:        "trader",
		Usage:       "run the account control loops",
		Action:      traderAction,
		ArgsUsage:   "",
		Flags:       []cli.Flag{},
		Description: `Run the account control loops and the status API`,
	}
	keysCMD = cli.Command{
		Name:        "keys",
		Usage:       "manage account credentials",
		Action:      keysAction,
		ArgsUsage:   "",
		Flags:       []cli.Flag{},
		Description: `Interactive console to store, validate and toggle account credentials`,
	}
)

func marketsAction(_ *cli.Context) error {
	logrus.Info("Starting markets CMD")
	m := &markets.Markets{Log: logrus.WithField("cmd", "markets")}
	if err := m.Start(); err != nil {
		logrus.WithError(err).Error("Starting cmd")
		return err
	}
	return nil
}

func candlesAction(_ *cli.Context) error {
	logrus.Info("Starting candles CMD")
	c := &candles.Candles{Log: logrus.WithField("cmd", "candles")}
	if err := c.Start(); err != nil {
		logrus.WithError(err).Error("Starting cmd")
		return err
	}
	return nil
}

func tickersAction(_ *cli.Context) error {
	logrus.Info("Starting tickers CMD")
	t := &tickers.Tickers{Log: logrus.WithField("cmd", "tickers")}
	if err := t.Start(); err != nil {
		logrus.WithError(err).Error("Starting cmd")
		return err
	}
	return nil
}

func booksAction(_ *cli.Context) error {
	logrus.Info("Starting books CMD")
	b := &books.Books{Log: logrus.WithField("cmd", "books")}
	if err := b.Start(); err != nil {
		logrus.WithError(err).Error("Starting cmd")
		return err
	}
	return nil
}

func traderAction(_ *cli.Context) error {
	logrus.Info("Starting trader CMD")
	t := &trader.Trader{Log: logrus.WithField("cmd", "trader")}
	if err := t.Start(); err != nil {
		logrus.WithError(err).Error("Starting cmd")
		return err
	}
	return nil
}

func keysAction(_ *cli.Context) error {
	logrus.Info("Starting keys CMD")
	k := &keys.Keys{Log: logrus.WithField("cmd", "keys")}
	if err := k.Start(); err != nil {
		logrus.WithError(err).Error("Starting cmd")
		return err
	}
	return nil
}
