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

package config

import (
	"fmt"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// BindFlags registers every Config field as a cobra flag on cmd, bound
// through viper so flags, environment variables (CONSERVERD_*), and the
// config file all resolve through one precedence chain.
func BindFlags(cmd *cobra.Command, v *viper.Viper) {
	d := Default()
	flags := cmd.Flags()

	flags.Int("port", d.Port, "TCP port to listen on")
	flags.Bool("loopback-only", d.LoopbackOnly, "bind the listener to loopback only")
	flags.Bool("keepalive", d.EnableKeepAlive, "enable SO_KEEPALIVE on accepted connections")
	flags.Bool("tcp-wrap", d.EnableTCPWrap, "enable tcp-wrappers-style access control")
	flags.Bool("zero-logs", d.EnableZeroLogs, "truncate logfiles on open instead of appending")
	flags.Int("tstamp-minutes", d.TStampMinutes, "minutes between logfile timestamp markers")
	flags.String("daemon-log-path", d.DaemonLogPath, "path to the daemon's own logfile (empty = stderr)")
	flags.String("daemon-log-level", d.DaemonLogLevel, "daemon log level")
	flags.String("reset-cmd", d.ResetCmd, "reset command template (%N expands to console name)")
	flags.Duration("reset-cmd-timeout", d.ResetCmdTimeout, "watchdog timeout for the reset command")
	flags.String("syslog-facility", d.SyslogFacility, "syslog facility for daemon logging")
	flags.Bool("reconfig-resurrects", d.ReconfigResurrects, "resurrect downed consoles on reconfig")

	_ = v.BindPFlags(flags)
}

// Load resolves the bound flags/environment/config-file values into a
// Config. Per-console entries live under the "consoles" viper key, an
// array of maps matching ConsoleConfig's fields.
func Load(v *viper.Viper) (Config, error) {
	cfg := Default()

	cfg.Port = v.GetInt("port")
	cfg.LoopbackOnly = v.GetBool("loopback-only")
	cfg.EnableKeepAlive = v.GetBool("keepalive")
	cfg.EnableTCPWrap = v.GetBool("tcp-wrap")
	cfg.EnableZeroLogs = v.GetBool("zero-logs")
	cfg.TStampMinutes = v.GetInt("tstamp-minutes")
	cfg.DaemonLogPath = v.GetString("daemon-log-path")
	cfg.DaemonLogLevel = v.GetString("daemon-log-level")
	cfg.ResetCmd = v.GetString("reset-cmd")
	cfg.ResetCmdTimeout = v.GetDuration("reset-cmd-timeout")
	cfg.SyslogFacility = v.GetString("syslog-facility")
	cfg.ReconfigResurrects = v.GetBool("reconfig-resurrects")

	var consoles []ConsoleConfig
	if err := v.UnmarshalKey("consoles", &consoles); err != nil {
		return cfg, fmt.Errorf("config: decode consoles: %w", err)
	}
	cfg.Consoles = consoles

	return cfg, nil
}

// WatchForReconfig watches v's config file for writes and invokes onChange
// whenever it changes, translating editor-driven reconfig into the same
// hook SIGHUP drives (SPEC_FULL.md §6.1). No debouncing is applied: each
// write or create event reported for the file calls onChange.
func WatchForReconfig(v *viper.Viper, onChange func()) {
	v.OnConfigChange(func(e fsnotify.Event) {
		onChange()
	})
	v.WatchConfig()
}
