/*
 * MIT License
 *
 * Copyright (c) 2025 Nicolas JUHEL
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all
 * copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 *
 */

// Command conserverd is the daemon entrypoint: it loads configuration,
// wires up logging/metrics, builds the master object list, and runs the
// event loop until a shutdown signal arrives.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sys/unix"

	"github.com/sabouaram/conserverd/internal/client"
	"github.com/sabouaram/conserverd/internal/config"
	"github.com/sabouaram/conserverd/internal/listener"
	"github.com/sabouaram/conserverd/internal/logfile"
	"github.com/sabouaram/conserverd/internal/logging"
	"github.com/sabouaram/conserverd/internal/loop"
	"github.com/sabouaram/conserverd/internal/metrics"
	"github.com/sabouaram/conserverd/internal/object"
	"github.com/sabouaram/conserverd/internal/poller"
	"github.com/sabouaram/conserverd/internal/reset"
	"github.com/sabouaram/conserverd/internal/serial"
	"github.com/sabouaram/conserverd/internal/telnet"
	"github.com/sabouaram/conserverd/internal/timer"
)

func main() {
	v := viper.New()
	var configPath string
	cmd := &cobra.Command{
		Use:   "conserverd",
		Short: "Console management daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(v, configPath)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "path to a YAML config file; watched for live reconfig")
	config.BindFlags(cmd, v)

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(v *viper.Viper, configPath string) error {
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("conserverd: read config file: %w", err)
		}
	}

	cfg, err := config.Load(v)
	if err != nil {
		return err
	}

	log := logging.New(cfg.DaemonLogPath, cfg.DaemonLogLevel)
	if cfg.SyslogFacility != "" {
		logging.AddSyslogHook(log, cfg.SyslogFacility)
	}

	displayConfiguration(cfg)

	reg := prometheus.NewRegistry()
	mtr := metrics.New(reg)
	object.OverflowHook = mtr.RecordOverflow

	q := client.NewQueue()
	wheel := timer.New()
	resetRunner := reset.NewRunner(wheel, cfg.ResetCmdTimeout)

	ln, err := listener.Open(cfg.Port, cfg.LoopbackOnly, cfg.EnableKeepAlive, defaultGreetingFunc(), q, 32)
	if err != nil {
		return fmt.Errorf("conserverd: open listener: %w", err)
	}
	defer ln.Close()

	l := loop.New(poller.New(), wheel, ln, q, resetRunner, loop.Config{
		ResetCmdTemplate:   cfg.ResetCmd,
		ReconfigResurrects: cfg.ReconfigResurrects,
	})
	l.RecordReconnect = mtr.RecordReconnect

	for _, cc := range cfg.Consoles {
		obj, err := openConsole(cc)
		if err != nil {
			log.WithError(err).WithField("console", cc.Name).Error("failed to open console, skipping")
			continue
		}
		l.AddObject(obj)

		if cc.LogfilePath != "" {
			logObj := object.New(cc.Name+".log", object.VariantLogfile, object.DefaultRingSize)
			logObj.Logfile = &object.LogfileAux{Console: obj, Path: cc.LogfilePath}
			if err := logfile.Open(logObj, cfg.EnableZeroLogs); err != nil {
				log.WithError(err).WithField("console", cc.Name).Warn("failed to open logfile")
			} else {
				obj.AddReader(logObj)
				l.AddObject(logObj)
			}
		}
	}

	if cfg.TStampMinutes > 0 {
		logfile.ScheduleTimestamps(wheel, cfg.TStampMinutes, func() []*object.Object { return l.Master })
	}
	scheduleMetricsSampling(wheel, mtr, l)

	l.ReopenLogfiles = func() {
		logging.Reopen(log, cfg.DaemonLogPath)
		for _, obj := range l.Master {
			if obj.IsLogfile() {
				if err := logfile.Reopen(obj); err != nil {
					log.WithError(err).WithField("logfile", obj.Name).Warn("failed to reopen logfile")
				}
			}
		}
	}

	if configPath != "" {
		config.WatchForReconfig(v, func() {
			log.Info("config file changed, reconfig requested")
			l.RequestReconfig()
		})
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 4)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP, syscall.SIGCHLD, syscall.SIGPIPE)
	go func() {
		for sig := range sigCh {
			switch sig {
			case syscall.SIGINT, syscall.SIGTERM:
				log.Info("shutdown requested")
				l.RequestShutdown()
				cancel()
			case syscall.SIGHUP:
				log.Info("reconfig requested")
				l.RequestReconfig()
			case syscall.SIGCHLD:
				resetRunner.Reap()
			case syscall.SIGPIPE:
				// ignored, matching spec §6.2
			}
		}
	}()

	log.WithField("port", cfg.Port).Info("conserverd ready")
	return l.Run(ctx)
}

// defaultGreetingFunc performs no banner exchange; it only hands back a
// client object whose FD is the raw, non-blocking
// socket fd the event loop will poll directly — not the net.Conn wrapper,
// which the loop never touches again once this function returns.
func defaultGreetingFunc() listener.GreetingFunc {
	return func(conn net.Conn) (*object.Object, error) {
		tc, ok := conn.(*net.TCPConn)
		if !ok {
			return nil, fmt.Errorf("conserverd: unexpected connection type %T", conn)
		}
		f, err := tc.File() // dup: returns a new, blocking fd
		_ = conn.Close()
		if err != nil {
			return nil, fmt.Errorf("conserverd: extract fd: %w", err)
		}
		fd := int(f.Fd())
		// The fd now belongs to obj, not to f; drop f's finalizer so it
		// can't close the fd out from under the event loop when GC'd.
		runtime.SetFinalizer(f, nil)
		if err := unix.SetNonblock(fd, true); err != nil {
			return nil, fmt.Errorf("conserverd: set fd non-blocking: %w", err)
		}

		obj := object.New(tc.RemoteAddr().String(), object.VariantClient, object.DefaultRingSize)
		obj.Client = &object.ClientAux{}
		obj.FD = fd
		return obj, nil
	}
}

func openConsole(cc config.ConsoleConfig) (*object.Object, error) {
	switch cc.Variant {
	case config.ConsoleSerial:
		obj := object.New(cc.Name, object.VariantSerial, object.DefaultRingSize)
		obj.Serial = &object.SerialAux{Device: cc.Device, Baud: cc.Baud, Parity: cc.Parity, Bits: cc.Bits, Reopenable: cc.Reopenable}
		if err := serial.Open(obj); err != nil {
			return nil, err
		}
		return obj, nil
	case config.ConsoleTelnet:
		obj := object.New(cc.Name, object.VariantTelnet, object.DefaultRingSize)
		obj.Telnet = &object.TelnetAux{Host: cc.Host, Port: cc.Port}
		if err := telnet.Dial(obj); err != nil {
			return nil, err
		}
		return obj, nil
	default:
		return nil, fmt.Errorf("console %q: unknown variant %q", cc.Name, cc.Variant)
	}
}

const metricsSampleInterval = 5 * time.Second

// scheduleMetricsSampling arms a self-rescheduling timer that refreshes
// the Prometheus gauges from the loop's current master list and timer
// wheel, since both only change once per event loop iteration.
func scheduleMetricsSampling(w *timer.Wheel, mtr *metrics.Collectors, l *loop.Loop) {
	var sample timer.CallbackFunc
	sample = func(any) {
		mtr.Sample(l.Master, w)
		if !l.Done() {
			w.ScheduleRelative(sample, nil, metricsSampleInterval)
		}
	}
	w.ScheduleRelative(sample, nil, metricsSampleInterval)
}

// displayConfiguration prints the original daemon's startup summary,
// recovered from original_source/server.c's display_configuration,
// highlighted with color instead of the original's bare fprintf.
func displayConfiguration(cfg config.Config) {
	bold := color.New(color.Bold)
	bold.Println("conserverd starting")
	fmt.Printf("  %s %d\n", color.CyanString("port:"), cfg.Port)
	fmt.Printf("  %s %v\n", color.CyanString("loopback-only:"), cfg.LoopbackOnly)
	fmt.Printf("  %s %d\n", color.CyanString("consoles:"), len(cfg.Consoles))
	if cfg.TStampMinutes > 0 {
		fmt.Printf("  %s every %d minutes\n", color.CyanString("timestamps:"), cfg.TStampMinutes)
	}
	if cfg.ResetCmd != "" {
		fmt.Printf("  %s %s\n", color.CyanString("reset command:"), cfg.ResetCmd)
	}
}
