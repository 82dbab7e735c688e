// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command tes-pulse extracts the features of the TES pulses of a data folder.
//
// Usage: tes-pulse [OPTIONS] DIR
//
// DIR holds a PulseConfig.json configuration file and one CH<n>_pulse
// folder per channel, with the raw captures under CH<n>_pulse/rawdata.
// Features are written to CH<n>_pulse/Info.csv and reused by later runs
// as long as the configuration does not change.
//
// Example:
//
//	$> tes-pulse -hist ./data/run-042
//	tes-pulse: 2 channels, cache lacking (fresh=[], stale=[1 2])
//	recompute 2 channel(s)? [y/N] y
//	tes-pulse: channel 1: 100%
//	tes-pulse: channels: 1/2
//	[...]
package main // import "github.com/go-lpc/tes/cmd/tes-pulse"

import (
	"context"
	"crypto/tls"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-lpc/tes/pulse"
	"github.com/go-lpc/tes/tesdb"
	"github.com/peterh/liner"
	"github.com/sbinet/pmon"
	mail "gopkg.in/gomail.v2"
)

func main() {
	log.SetPrefix("tes-pulse: ")
	log.SetFlags(0)

	var (
		opts = newOptions()

		doYes   = flag.Bool("y", false, "recompute stale channels without asking")
		doReset = flag.Bool("reset", false, "recompute all channels, ignoring cached features")
		doHist  = flag.Bool("hist", false, "write feature histograms (YODA) in each channel folder")
		nbins   = flag.Int("bins", 100, "number of bins of feature histograms")
		dbName  = flag.String("db", "", "name of the TES database where to record run summaries")
		nwrk    = flag.Int("j", 0, "number of workers per channel (0: all CPUs)")
		doMon   = flag.Bool("pmon", false, "enable pmon monitoring")
		doFreq  = flag.Duration("freq", 1*time.Second, "pmon frequency")
		doMail  = flag.Bool("mail", false, "mail a run summary (MAIL_xxx environment variables)")
	)

	flag.Usage = func() {
		fmt.Printf(`tes-pulse extracts the features of the TES pulses of a data folder.

Usage: tes-pulse [OPTIONS] DIR

`)
		flag.PrintDefaults()
	}

	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		log.Fatalf("missing path to data folder")
	}

	opts.yes = *doYes
	opts.reset = *doReset
	opts.hist = *doHist
	opts.nbins = *nbins
	opts.db = *dbName
	opts.workers = *nwrk
	opts.mon = *doMon
	opts.freq = *doFreq
	opts.mail = *doMail

	err := run(flag.Arg(0), opts)
	if err != nil {
		log.Fatalf("%+v", err)
	}
}

type options struct {
	yes     bool
	reset   bool
	hist    bool
	nbins   int
	db      string
	workers int
	mon     bool
	freq    time.Duration
	mail    bool

	msg     *log.Logger
	confirm func(question string) (bool, error)
	record  func(ctx context.Context, dbname string, runs []tesdb.RunSummary) error
	notify  func(subject, body string) error
}

func newOptions() options {
	return options{
		nbins:   100,
		freq:    1 * time.Second,
		msg:     log.Default(),
		confirm: confirm,
		record:  record,
		notify:  sendMail,
	}
}

func run(dir string, opts options) error {
	msg := opts.msg

	if opts.mon {
		stop, err := monitor(dir, opts.freq, msg)
		if err != nil {
			return fmt.Errorf("could not start monitoring: %w", err)
		}
		defer stop()
	}

	sess := pulse.NewSession(
		dir,
		pulse.WithLogger(msg),
		pulse.WithReset(opts.reset),
		pulse.WithWorkers(opts.workers),
	)

	sum, err := sess.Prepare()
	if err != nil {
		return fmt.Errorf("could not prepare analysis of %q: %w", dir, err)
	}
	msg.Printf(
		"%d channels, cache %v (fresh=%v, stale=%v)",
		len(sum.Channels), sum, sum.Fresh, sum.Stale,
	)

	if !sum.Cached() && !opts.yes {
		ok, err := opts.confirm(fmt.Sprintf("recompute %d channel(s)? [y/N] ", len(sum.Stale)))
		if err != nil {
			return fmt.Errorf("could not read answer: %w", err)
		}
		if !ok {
			msg.Printf("analysis aborted")
			return nil
		}
	}

	start := time.Now()
	err = sess.Run(
		func(done, total int, ch uint32) {
			msg.Printf("channels: %d/%d", done, total)
		},
		func(percent int, ch uint32) {
			msg.Printf("channel %d: %3d%%", ch, percent)
		},
	)
	if err != nil {
		return fmt.Errorf("could not analyze %q: %w", dir, err)
	}

	var (
		reps = sess.Reports()
		runs = make([]tesdb.RunSummary, 0, len(sum.Channels))
	)
	for _, ch := range sum.Channels {
		tbl, err := sess.Features(ch)
		if err != nil {
			return fmt.Errorf("could not retrieve features of channel %d: %w", ch, err)
		}

		rep := reps[ch]
		for _, drop := range rep.Dropped {
			msg.Printf("channel %d: dropped pulse %d: %v", ch, drop.ID, drop.Err)
		}

		if opts.hist {
			fname := filepath.Join(pulse.ChannelDir(dir, ch), pulse.HistName)
			err = pulse.SaveHists(fname, ch, tbl, opts.nbins)
			if err != nil {
				return fmt.Errorf("could not save histograms of channel %d: %w", ch, err)
			}
		}

		rsum, err := tesdb.NewRunSummary(dir, sess.Config(), ch, tbl, rep)
		if err != nil {
			return fmt.Errorf("could not summarize channel %d: %w", ch, err)
		}
		msg.Printf("%v", rsum)
		runs = append(runs, rsum)
	}
	msg.Printf("analysis done in %v", time.Since(start).Round(time.Millisecond))

	if opts.db != "" {
		err = opts.record(context.Background(), opts.db, runs)
		if err != nil {
			return fmt.Errorf("could not record run summaries: %w", err)
		}
	}

	if opts.mail {
		err = opts.notify(
			fmt.Sprintf("[tes-pulse] %s: %d channels", filepath.Base(dir), len(runs)),
			mailBody(dir, sum, runs),
		)
		if err != nil {
			msg.Printf("could not send mail summary: %+v", err)
		}
	}

	return nil
}

func confirm(question string) (bool, error) {
	term := liner.NewLiner()
	defer term.Close()
	term.SetCtrlCAborts(true)

	ans, err := term.Prompt(question)
	if err != nil {
		if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
			return false, nil
		}
		return false, err
	}

	switch strings.ToLower(strings.TrimSpace(ans)) {
	case "y", "yes":
		return true, nil
	}
	return false, nil
}

func record(ctx context.Context, dbname string, runs []tesdb.RunSummary) error {
	db, err := tesdb.Open(dbname)
	if err != nil {
		return err
	}
	defer db.Close()

	err = db.Init(ctx)
	if err != nil {
		return err
	}

	for _, rs := range runs {
		err = db.Record(ctx, rs)
		if err != nil {
			return err
		}
	}

	return db.Close()
}

// monitor starts monitoring the resources of the current process.
func monitor(dir string, freq time.Duration, msg *log.Logger) (func(), error) {
	p, err := pmon.Monitor(os.Getpid())
	if err != nil {
		return nil, fmt.Errorf("could not monitor pid=%d: %w", os.Getpid(), err)
	}

	f, err := os.Create(filepath.Join(dir, "tes-pulse-pmon.log"))
	if err != nil {
		return nil, fmt.Errorf("could not create pmon log file: %w", err)
	}
	p.W = f
	p.Freq = freq

	go func() {
		err := p.Run()
		if err != nil {
			msg.Printf("could not run pmon: %+v", err)
		}
	}()

	return func() {
		err := p.Kill()
		if err != nil {
			msg.Printf("could not stop monitoring: %+v", err)
		}
		_ = f.Close()
	}, nil
}

var (
	mailUsr  = os.Getenv("MAIL_USERNAME")
	mailPwd  = os.Getenv("MAIL_PASSWORD")
	mailSrv  = os.Getenv("MAIL_SERVER")
	mailPort = atoi(os.Getenv("MAIL_PORT"))
	mailTgts = strings.Split(os.Getenv("MAIL_TGTS"), ",")
)

func sendMail(subject, body string) error {
	if mailUsr == "" || mailPwd == "" ||
		mailSrv == "" || mailPort == 0 ||
		len(mailTgts) == 0 || mailTgts[0] == "" {
		return fmt.Errorf("missing credentials")
	}

	msg := mail.NewMessage()
	msg.SetHeader("From", mailUsr)
	msg.SetHeader("Bcc", mailTgts...)
	msg.SetHeader("Subject", subject)
	msg.SetBody("text/plain", body)

	dial := mail.NewDialer(mailSrv, mailPort, mailUsr, mailPwd)
	dial.TLSConfig = &tls.Config{
		InsecureSkipVerify: true,
	}
	return dial.DialAndSend(msg)
}

func mailBody(dir string, sum pulse.Summary, runs []tesdb.RunSummary) string {
	o := new(strings.Builder)
	fmt.Fprintf(o, "folder: %q\n", dir)
	fmt.Fprintf(o, "cache:  %v (recomputed=%v)\n", sum, sum.Stale)
	for _, rs := range runs {
		fmt.Fprintf(o, "%v\n", rs)
	}
	return o.String()
}

func atoi(s string) int {
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return v
}
