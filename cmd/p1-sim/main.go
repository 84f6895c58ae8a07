// Command p1-sim streams simulated P1 logger frames to a serial device or to
// every client of a TCP listener, so the collector can run without a meter.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/resident-x/go-p1/internal/domain"
	"github.com/resident-x/go-p1/internal/protocol"
	"github.com/resident-x/go-p1/internal/serialport"
	"github.com/resident-x/go-p1/internal/simulator"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// FeedOptions controls what a feeder mixes into the stream.
type FeedOptions struct {
	Interval     time.Duration
	NoiseBytes   int // junk bytes written before every frame
	CorruptEvery int // every Nth frame gets a bad checksum, 0 disables
	ErrorEvery   int // every Nth frame is a device error telegram, 0 disables
	ErrorKind    domain.ErrorKind
	Count        int // stop after this many frames, 0 runs until cancelled
}

// Feeder writes frames of one simulated meter.
type Feeder struct {
	meter *simulator.Meter
	opts  FeedOptions
	now   func() time.Time
	sent  int
}

// NewFeeder creates a feeder over meter.
func NewFeeder(meter *simulator.Meter, opts FeedOptions) *Feeder {
	return &Feeder{meter: meter, opts: opts, now: time.Now}
}

// Next returns the bytes of the next frame, noise included.
func (f *Feeder) Next() []byte {
	f.sent++

	var out []byte
	if f.opts.NoiseBytes > 0 {
		out = append(out, f.meter.Noise(f.opts.NoiseBytes)...)
	}

	var frame protocol.RawFrame
	switch {
	case f.opts.ErrorEvery > 0 && f.sent%f.opts.ErrorEvery == 0:
		ts, ok := simulator.ErrorKindTimestamp(f.opts.ErrorKind)
		if !ok {
			ts = simulator.TimestampTimeout
		}
		frame = f.meter.ErrorFrame(ts)
	case f.opts.CorruptEvery > 0 && f.sent%f.opts.CorruptEvery == 0:
		frame = f.meter.Corrupt(f.meter.Frame(f.now()))
	default:
		frame = f.meter.Frame(f.now())
	}
	return append(out, frame[:]...)
}

// Stream writes frames to w every interval until ctx is done, the frame
// count is reached or a write fails.
func (f *Feeder) Stream(ctx context.Context, w io.Writer) error {
	ticker := time.NewTicker(f.opts.Interval)
	defer ticker.Stop()

	for {
		if _, err := w.Write(f.Next()); err != nil {
			return fmt.Errorf("write frame %d: %w", f.sent, err)
		}
		if f.opts.Count > 0 && f.sent >= f.opts.Count {
			return nil
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("p1-sim", flag.ContinueOnError)
	device := fs.String("device", "", "Serial device to write to, e.g. /dev/ttyUSB1")
	baud := fs.Int("baud", 1200, "Serial baud rate")
	listen := fs.String("listen", "", "TCP address to serve frames on, e.g. :2000")
	interval := fs.Duration("interval", 2*time.Second, "Time between frames")
	count := fs.Int("count", 0, "Stop after this many frames (0 runs forever)")
	noise := fs.Int("noise", 0, "Junk bytes before every frame")
	corrupt := fs.Int("corrupt-every", 0, "Corrupt every Nth frame")
	errorsEvery := fs.Int("error-every", 0, "Send a device error telegram every Nth frame")
	errorKind := fs.String("error-kind", "telegram_timeout", "Device error to send: blank_telegram, telegram_timeout or device_crc_mismatch")
	seed := fs.Uint64("seed", 1, "Random seed")
	phases := fs.Int("phases", 3, "Number of phases (1 or 3)")
	gas := fs.Bool("gas", true, "Report a gas meter")
	solar := fs.Float64("solar", 3000, "Peak PV power in W, 0 for none")
	verbose := fs.Bool("verbose", false, "Log every frame")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if *verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	if (*device == "") == (*listen == "") {
		fmt.Fprintln(os.Stderr, "exactly one of -device or -listen is required")
		fs.Usage()
		return 2
	}
	if *interval <= 0 {
		fmt.Fprintln(os.Stderr, "-interval must be positive")
		return 2
	}

	kind, ok := domain.ParseErrorKind(*errorKind)
	if _, valid := simulator.ErrorKindTimestamp(kind); !ok || !valid {
		fmt.Fprintf(os.Stderr, "unknown -error-kind %q\n", *errorKind)
		return 2
	}

	meterOpts := simulator.DefaultOptions()
	meterOpts.Seed = *seed
	meterOpts.Phases = *phases
	meterOpts.Gas = *gas
	meterOpts.SolarPeak = *solar

	feedOpts := FeedOptions{
		Interval:     *interval,
		NoiseBytes:   *noise,
		CorruptEvery: *corrupt,
		ErrorEvery:   *errorsEvery,
		ErrorKind:    kind,
		Count:        *count,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var err error
	if *device != "" {
		err = serveSerial(ctx, serialport.PortOptions{Device: *device, BaudRate: *baud}, meterOpts, feedOpts)
	} else {
		err = serveTCP(ctx, *listen, meterOpts, feedOpts)
	}
	if err != nil {
		log.Error().Err(err).Msg("Simulator stopped")
		return 1
	}
	return 0
}

func serveSerial(ctx context.Context, opts serialport.PortOptions, meterOpts simulator.Options, feedOpts FeedOptions) error {
	port, err := serialport.Open(ctx, opts)
	if err != nil {
		return err
	}
	defer port.Close()

	log.Info().Str("port", opts.Device).Dur("interval", feedOpts.Interval).Msg("Writing frames")
	return NewFeeder(simulator.NewMeter(meterOpts), feedOpts).Stream(ctx, logWriter{port})
}

// serveTCP gives every client its own meter so reconnects start a fresh
// register history.
func serveTCP(ctx context.Context, addr string, meterOpts simulator.Options, feedOpts FeedOptions) error {
	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	log.Info().Str("address", listener.Addr().String()).Msg("Serving frames")

	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer conn.Close()

			client := conn.RemoteAddr().String()
			log.Info().Str("client", client).Msg("Client connected")

			clientCtx, cancel := context.WithCancel(ctx)
			defer cancel()
			go func() {
				<-clientCtx.Done()
				conn.Close()
			}()

			if err := NewFeeder(simulator.NewMeter(meterOpts), feedOpts).Stream(clientCtx, logWriter{conn}); err != nil {
				log.Info().Err(err).Str("client", client).Msg("Client disconnected")
			}
		}()
	}
}

// logWriter logs each frame at debug level.
type logWriter struct {
	w io.Writer
}

func (l logWriter) Write(p []byte) (int, error) {
	log.Debug().Hex("frame", p).Msg("Frame sent")
	return l.w.Write(p)
}
