// mountctl is the telescope mount motor controller. It drives the
// azimuth and altitude steppers, follows trajectories streamed by the
// observation host, and speaks the checksummed line protocol over a
// serial link.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/spf13/cobra"

	"mountctl/pkg/clock"
	"mountctl/pkg/config"
	"mountctl/pkg/dispatch"
	"mountctl/pkg/gpio"
	"mountctl/pkg/log"
	"mountctl/pkg/monitor"
	"mountctl/pkg/motor"
	"mountctl/pkg/protocol"
	"mountctl/pkg/reactor"
	"mountctl/pkg/serial"
	"mountctl/pkg/session"
	"mountctl/pkg/transport"
)

// Session status cadence: every 30 seconds, first report 7 seconds in
// so it does not collide with the startup banner.
const (
	sessionStatusPeriod = 30
	sessionStatusOffset = 7

	// shutdownDrainPolls bounds the final transmit flush.
	shutdownDrainPolls = 1000
)

var (
	flagConfig  string
	flagDevice  string
	flagBaud    int
	flagDriver  string
	flagMonitor string
	flagSim     bool
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "mountctl",
		Short:        "Telescope mount motor controller",
		SilenceUsage: true,
	}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the controller",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run()
		},
	}
	runCmd.Flags().StringVar(&flagConfig, "config", "", "station configuration file (YAML)")
	runCmd.Flags().StringVar(&flagDevice, "device", "", "serial device, overrides the station file")
	runCmd.Flags().IntVar(&flagBaud, "baud", 0, "baud rate, overrides the station file")
	runCmd.Flags().StringVar(&flagDriver, "driver", "", "serial driver: termios or tarm")
	runCmd.Flags().StringVar(&flagMonitor, "monitor", "", "websocket monitor address, overrides the station file")
	runCmd.Flags().BoolVar(&flagSim, "sim", false, "speak the protocol on stdin/stdout instead of a serial port")
	root.AddCommand(runCmd)

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the controller version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(protocol.Version)
		},
	})
	return root
}

func run() error {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return err
	}
	if flagDevice != "" {
		cfg.Serial.Device = flagDevice
	}
	if flagBaud != 0 {
		cfg.Serial.Baud = flagBaud
	}
	if flagDriver != "" {
		cfg.Serial.Driver = flagDriver
	}
	if flagMonitor != "" {
		cfg.Monitor.Enabled = true
		cfg.Monitor.Addr = flagMonitor
	}

	logger := log.New("mountctl")
	log.ConfigureFromEnv(logger)
	if cfg.LogLevel != "" {
		logger.SetLevel(log.ParseLevel(cfg.LogLevel))
	}
	if flagSim {
		// Stdout carries the protocol in sim mode; keep logs off it.
		logger.SetWriter(os.Stderr)
	}

	var channel serial.Channel
	if flagSim {
		channel = newStdioChannel()
	} else {
		channel, err = serial.Open(serial.Config{
			Device: cfg.Serial.Device,
			Baud:   cfg.Serial.Baud,
			Driver: cfg.Serial.Driver,
		})
		if err != nil {
			return err
		}
	}
	defer channel.Close()

	clk := clock.New(logger.WithPrefix("clock"))
	relay := log.NewRelay(clk.NowString, logger.WithPrefix("relay"))
	tr, err := transport.New(channel, clk, logger.WithPrefix("comms"), transport.Config{})
	if err != nil {
		// The one fatal condition: without a channel nothing can even
		// be reported.
		return err
	}
	led := gpio.NewStatusLED(clk.RealNow)
	led.Task("init")
	tr.SetStatusSink(led)

	pins := &gpio.Registry{}
	motors := make([]*motor.Motor, 0, len(cfg.Axes))
	for _, axis := range cfg.Axes {
		m := motor.New(axis.Name, clk, relay, tr, led, motorPins(pins, axis.Pins))
		m.ApplyBase(motor.BaseConfig{
			GearRatio:        axis.GearRatio,
			MotorStepsPerRev: axis.MotorStepsPerRev,
			MinAngle:         axis.MinAngle,
			MaxAngle:         axis.MaxAngle,
			RestAngle:        axis.RestAngle,
			CurrentAngle:     axis.CurrentAngle,
			Orientation:      axis.Orientation,
			BacklashAngle:    axis.BacklashAngle,
		})
		motors = append(motors, m)
	}

	errCounter := session.NewErrorCounter(led)
	sess := session.New(clk, tr, relay, errCounter, motors)
	logger.Info("session %s starting on %s", sess.ID, cfg.Serial.Device)

	if cfg.Monitor.Enabled {
		mon := monitor.New(cfg.Monitor.Addr, logger.WithPrefix("monitor"))
		mon.Start()
		tr.Mirror = mon.Mirror
		defer mon.Stop()
	}

	banner := []string{"# session " + sess.ID.String()}
	disp := dispatch.New(sess, tr, clk, relay, led, pins, banner)

	tr.Reset(banner)
	defined := "defined motors"
	for _, m := range motors {
		defined += " " + m.Name()
	}
	tr.Write(defined)

	var interrupted atomic.Bool
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("interrupt, shutting down")
		interrupted.Store(true)
	}()

	r := reactor.New(logger.WithPrefix("loop"), errCounter, func() bool {
		return sess.Quit || interrupted.Load()
	})
	sessionTimer := clock.NewTimer(clk, "session", sessionStatusPeriod, sessionStatusOffset)
	r.Register("log-relay", func() error {
		relay.SendCheck(tr, false)
		return nil
	})
	r.Register("command", func() error {
		if line, ok := tr.Read(); ok {
			disp.Dispatch(line)
		}
		return nil
	})
	r.Register("trajectory-safety", func() error {
		sess.TrajectorySafety()
		return nil
	})
	r.Register("session-status", func() error {
		if sessionTimer.Due() {
			sess.SendSessionStatus("tmr")
		}
		return nil
	})
	for _, m := range motors {
		m := m
		r.Register(m.Name()+"-status", func() error {
			m.SendStatus(false, "tmr")
			return nil
		})
	}
	r.Register("write-poll", func() error {
		tr.WritePoll()
		return nil
	})
	r.Register("auto-move", func() error {
		sess.AutoMoveMotors()
		return nil
	})

	led.Task("idle")
	r.Run()

	// Shutdown: say goodbye, flush the log relay, then push whatever
	// remains out of the transmit queue. Input is ignored from here.
	tr.Write("controller stopping")
	relay.SendCheck(tr, true)
	tr.Write("controller stopped")
	tr.Drain(shutdownDrainPolls)
	logger.Info("session %s stopped after %d cycles", sess.ID, r.Cycles())
	return nil
}

// motorPins resolves an axis's pin names against the registry,
// reusing pins that are shared between axes.
func motorPins(reg *gpio.Registry, p config.AxisPins) motor.Pins {
	output := func(name string) *gpio.Pin {
		if pin, err := reg.Find(name); err == nil {
			return pin
		}
		return reg.Output(name)
	}
	input := func(name string) *gpio.Pin {
		if pin, err := reg.Find(name); err == nil {
			return pin
		}
		return reg.Input(name)
	}
	return motor.Pins{
		Step:      output(p.Step),
		Direction: output(p.Direction),
		Mode0:     output(p.Mode0),
		Mode1:     output(p.Mode1),
		Mode2:     output(p.Mode2),
		Enable:    output(p.Enable),
		Fault:     input(p.Fault),
	}
}
