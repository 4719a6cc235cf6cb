package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/srg/blefit/internal/device/goble"
	"github.com/srg/blefit/internal/filter"
	"github.com/srg/blefit/internal/sensor"
	"github.com/srg/blefit/pkg/config"
)

const clearScreenSequence = "\033[H\033[2J"

// sensorMonitor connects to sensors and feeds their readings into a hub.
type sensorMonitor interface {
	Watch(ctx context.Context, address, name string) error
	Close()
}

// newSensorMonitor and monitorClock are replaced in tests.
var (
	newSensorMonitor = func(cfg *config.Config, hub *sensor.Hub, logger *logrus.Logger) sensorMonitor {
		return goble.NewMonitor(hub, logger,
			goble.WithWheelCircumference(cfg.WheelCircumference),
			goble.WithMonitorConnectTimeout(cfg.ConnectTimeout),
		)
	}
	monitorClock clock.Clock = clock.New()
)

var (
	monitorFilters  []string
	monitorDuration time.Duration
	monitorFormat   string
)

// monitorCmd represents the monitor command
var monitorCmd = &cobra.Command{
	Use:   "monitor <address>[=<name>]...",
	Short: "Connect to sensors and display filtered values",
	Long: `Connects to one or more sensors, subscribes to their measurement characteristics and
prints the configured filtered values every refresh interval.

Filters come from the config file (reloaded when it changes) and from --filter keys of the
form <device>-<sensor>-<kind>-<parameter>. The device part may be empty to use whichever
sensor of that type reported last, e.g. "-heart_rate-moving_average-5".
Without any filter the instantaneous value of every sensor type is shown.

Kinds: instant, average, smoothing, moving_average, time_average, maximum
Sensors: heart_rate, cadence, speed, power, temperature`,
	Example: `  blefit monitor AA:BB:CC:DD:EE:FF
  blefit monitor AA:BB:CC:DD:EE:FF=Tickr --filter=-heart_rate-moving_average-5
  blefit monitor C1:00:00:00:00:01=Crank -c blefit.yaml --duration 10m`,
	Args: cobra.MinimumNArgs(1),
	RunE: runMonitor,
}

func init() {
	monitorCmd.Flags().StringArrayVarP(&monitorFilters, "filter", "f", nil, "Filter key to display (repeatable)")
	monitorCmd.Flags().DurationVarP(&monitorDuration, "duration", "d", 0, "Stop after this long (default: until interrupted)")
	monitorCmd.Flags().StringVar(&monitorFormat, "format", "table", "Output format: table or json")
}

// parseFilterFlag accepts a filter key, with or without the leading separator of an empty device.
func parseFilterFlag(value string) (filter.Spec, error) {
	spec, err := filter.ParseKey(value)
	if err != nil && strings.Count(value, "-") == 2 {
		return filter.ParseKey("-" + value)
	}
	return spec, err
}

// parseTarget splits "address=name".
func parseTarget(arg string) (address, name string) {
	address, name, _ = strings.Cut(arg, "=")
	return strings.TrimSpace(address), strings.TrimSpace(name)
}

func runMonitor(cmd *cobra.Command, args []string) error {
	cfg, cfgPath, logger, err := loadSettings(cmd)
	if err != nil {
		return err
	}
	if monitorFormat != "table" && monitorFormat != "json" {
		return fmt.Errorf("invalid format %q (must be table or json)", monitorFormat)
	}

	requested := make([]filter.Spec, 0, len(monitorFilters))
	for _, value := range monitorFilters {
		spec, err := parseFilterFlag(value)
		if err != nil {
			return err
		}
		requested = append(requested, spec)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if monitorDuration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, monitorDuration)
		defer cancel()
	}

	hub := sensor.NewHub(logger)
	regOpts := []filter.RegistryOption{filter.WithFilterOptions(filter.WithClock(monitorClock))}
	if cfgPath != "" {
		watcher, err := config.NewWatcher(cfgPath, logger)
		if err != nil {
			return err
		}
		defer func() { _ = watcher.Close() }()
		regOpts = append(regOpts, filter.WithSpecSource(watcher))
	}

	registry := filter.NewRegistry(hub, logger, regOpts...)
	defer registry.Shutdown()

	for _, spec := range requested {
		if err := registry.RequestFilter(spec); err != nil {
			return err
		}
	}
	if registry.Len() == 0 && len(registry.Pending()) == 0 {
		for _, typ := range sensor.Types() {
			if err := registry.RequestFilter(filter.Spec{Sensor: typ, Kind: filter.KindInstantaneous}); err != nil {
				return err
			}
		}
	}

	mon := newSensorMonitor(cfg, hub, logger)
	defer mon.Close()

	connected := 0
	var lastErr error
	for _, arg := range args {
		address, name := parseTarget(arg)
		if err := mon.Watch(ctx, address, name); err != nil {
			logger.WithField("address", address).WithError(err).Warn("Failed to connect to sensor")
			_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "WARNING: %s: %s\n", address, FormatUserError(err))
			lastErr = err
			continue
		}
		connected++
	}
	if connected == 0 {
		return fmt.Errorf("%w: %w", ErrNoSensors, lastErr)
	}

	out := cmd.OutOrStdout()
	interactive := isTerminal(out) && monitorFormat == "table"

	ticker := monitorClock.Ticker(cfg.RefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			values := registry.FilteredValues()
			if monitorFormat == "json" {
				if err := writeValuesJSON(out, values); err != nil {
					return err
				}
				continue
			}
			if interactive {
				_, _ = fmt.Fprint(out, clearScreenSequence)
			}
			renderValues(out, values, registry.Pending())
			if !interactive {
				_, _ = fmt.Fprintln(out)
			}
		}
	}
}

// renderValues writes one row per filtered value followed by the specs still waiting for a sensor.
func renderValues(w io.Writer, values []filter.FilteredValue, pending []filter.Spec) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "DEVICE\tSENSOR\tFILTER\tVALUE")
	for _, v := range values {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
			deviceLabel(v.Device),
			v.Sensor,
			filterLabel(v.Kind, v.Parameter),
			valueLabel(v),
		)
	}
	_ = tw.Flush()

	for _, spec := range pending {
		_, _ = fmt.Fprintf(w, "waiting for %s %s\n", deviceLabel(spec.Device), spec.Sensor)
	}
}

func writeValuesJSON(w io.Writer, values []filter.FilteredValue) error {
	if values == nil {
		values = []filter.FilteredValue{}
	}
	return json.NewEncoder(w).Encode(values)
}

func deviceLabel(device string) string {
	if device == "" {
		return "any"
	}
	return device
}

func filterLabel(kind filter.Kind, parameter float64) string {
	if parameter == 0 {
		return kind.String()
	}
	return fmt.Sprintf("%s(%g)", kind, parameter)
}

func valueLabel(v filter.FilteredValue) string {
	if !v.Present {
		return v.Formatted
	}
	if unit := v.Sensor.Unit(); unit != "" {
		return v.Formatted + " " + unit
	}
	return v.Formatted
}
