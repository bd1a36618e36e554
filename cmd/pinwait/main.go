//go:build linux

// cmd/pinwait waits for a condition on a Linux GPIO line.
//
//	pinwait -chip gpiochip0 -line 17 -cond rising -timeout 5s
//
// Exit status: 0 condition met, 1 timed out or interrupted, 2 error.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/sirupsen/logrus"
	"go.etcd.io/bbolt"

	"digitalwait-go/backends/cdev"
	"digitalwait-go/digital"
	"digitalwait-go/errcode"
	"digitalwait-go/journal"
)

const (
	exitOK      = 0
	exitTimeout = 1
	exitError   = 2
)

var (
	chip      = flag.String("chip", "gpiochip0", "GPIO chip name")
	offset    = flag.Int("line", -1, "line offset on the chip")
	cond      = flag.String("cond", "any", "high, low, rising, falling or any")
	timeout   = flag.Duration("timeout", 0, "give up after this long (0 waits forever)")
	activeLow = flag.Bool("active-low", false, "treat the line as active low")
	journalDB = flag.String("journal", "", "append the outcome to this bbolt journal")
	list      = flag.Bool("list", false, "list GPIO chips and exit")
	verbose   = flag.Bool("v", false, "debug logging")
)

func main() {
	flag.Parse()
	os.Exit(run())
}

func run() int {
	log := logrus.New()
	log.SetOutput(os.Stderr)
	if *verbose {
		log.SetLevel(logrus.DebugLevel)
	}

	if *list {
		for _, c := range cdev.Chips() {
			fmt.Println(c)
		}
		return exitOK
	}

	c, err := digital.ParseCondition(*cond)
	if err != nil || *offset < 0 {
		fmt.Fprintln(os.Stderr, "usage: pinwait -chip NAME -line OFFSET -cond high|low|rising|falling|any [-timeout D]")
		return exitError
	}

	lopts := []digital.Option{digital.WithLogger(log)}
	if *journalDB != "" {
		j, err := journal.Open(*journalDB, 0o600, &bbolt.Options{Timeout: time.Second})
		if err != nil {
			log.WithError(err).Error("journal unavailable")
			return exitError
		}
		defer j.Close()
		j.Logger = log
		lopts = append(lopts, digital.WithObserver(j.Observer()))
	}

	copts := []cdev.Option{cdev.WithConsumer("pinwait"), cdev.WithLogger(log)}
	if *activeLow {
		copts = append(copts, cdev.AsActiveLow())
	}
	name := fmt.Sprintf("%s:%d", *chip, *offset)
	line, err := cdev.OpenLine(name, *chip, *offset, lopts, copts...)
	if err != nil {
		log.WithError(err).WithField("code", errcode.Of(err)).Error("cannot open line")
		return exitError
	}
	defer line.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if *timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *timeout)
		defer cancel()
	}

	w, err := line.Begin(c)
	if err != nil {
		log.WithError(err).Error("cannot start wait")
		return exitError
	}
	start := time.Now()
	err = w.Await(ctx)
	switch {
	case err == nil:
		log.WithFields(logrus.Fields{
			"line":      name,
			"cond":      c.String(),
			"elapsed":   time.Since(start),
			"coalesced": w.Coalesced(),
		}).Info("condition met")
		return exitOK
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		log.WithField("line", name).Info("gave up waiting")
		return exitTimeout
	default:
		log.WithError(err).WithField("code", errcode.Of(err)).Error("wait failed")
		return exitError
	}
}
