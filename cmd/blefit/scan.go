package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/srg/blefit/internal/device/goble"
	"github.com/srg/blefit/internal/discovery"
	"github.com/srg/blefit/pkg/config"
)

// scanTransport is the link layer the scan command drives.
type scanTransport interface {
	discovery.Transport
	Close()
}

// newScanTransport is replaced in tests.
var newScanTransport = func(cfg *config.Config, logger *logrus.Logger) scanTransport {
	return goble.NewTransport(logger, goble.WithConnectTimeout(cfg.ConnectTimeout))
}

// stopGrace bounds the wait for the engine to acknowledge StopScan.
const stopGrace = 5 * time.Second

var (
	scanCategory string
	scanDuration time.Duration
	scanFormat   string
)

// scanCmd represents the scan command
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Discover fitness sensors of one category",
	Long: `Scans for sensors advertising the service of the selected category, connects to each
one to read its manufacturer and battery level, and lists the sensors that match.

Speed, cadence and power sensors are classified from their feature characteristic, so a
speed-only sensor is not reported when cadence sensors are requested.

Categories: ` + categoryList(),
	Example: `  blefit scan --category heart-rate
  blefit scan --category bike-cadence --duration 20s
  blefit scan --category bike-power --format json`,
	Args: cobra.NoArgs,
	RunE: runScan,
}

func init() {
	scanCmd.Flags().StringVar(&scanCategory, "category", discovery.CategoryHeartRate.String(), "Sensor category to search for")
	scanCmd.Flags().DurationVarP(&scanDuration, "duration", "d", 0, "Scan duration (default from config scan_timeout)")
	scanCmd.Flags().StringVar(&scanFormat, "format", "table", "Output format: table or json")
}

func categoryList() string {
	names := make([]string, 0, len(discovery.Categories()))
	for _, c := range discovery.Categories() {
		names = append(names, c.String())
	}
	return strings.Join(names, ", ")
}

// scanListener collects engine callbacks for the command.
type scanListener struct {
	progress *ProgressPrinter
	stopped  chan struct{}
	once     sync.Once

	mu    sync.Mutex
	found int
}

func newScanListener(progress *ProgressPrinter) *scanListener {
	return &scanListener{progress: progress, stopped: make(chan struct{})}
}

func (l *scanListener) OnNewDeviceFound(dev discovery.FoundDevice) {
	l.mu.Lock()
	l.found++
	n := l.found
	l.mu.Unlock()

	if l.progress != nil {
		l.progress.SetStatus(fmt.Sprintf("%d found, last %s", n, displayName(dev)))
	}
}

func (l *scanListener) OnSearchStopped() {
	l.once.Do(func() { close(l.stopped) })
}

func runScan(cmd *cobra.Command, _ []string) error {
	cfg, _, logger, err := loadSettings(cmd)
	if err != nil {
		return err
	}

	category, err := discovery.ParseCategory(scanCategory)
	if err != nil {
		return err
	}
	if scanFormat != "table" && scanFormat != "json" {
		return fmt.Errorf("invalid format %q (must be table or json)", scanFormat)
	}
	duration := scanDuration
	if duration <= 0 {
		duration = cfg.ScanTimeout
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := cmd.OutOrStdout()
	colors := isTerminal(out)

	var progress *ProgressPrinter
	if colors && scanFormat == "table" {
		progress = NewProgressPrinter(out, fmt.Sprintf("Scanning for %s sensors...", category), duration, nil)
	}
	listener := newScanListener(progress)

	transport := newScanTransport(cfg, logger)
	defer transport.Close()

	engine := discovery.NewEngine(transport, listener, logger,
		discovery.WithFeatureStore(discovery.NewMemoryFeatureStore()))
	defer engine.Close()

	logger.WithFields(logrus.Fields{
		"category": category.String(),
		"duration": duration,
	}).Info("Starting scan...")
	if err := engine.StartScan(category); err != nil {
		return err
	}
	if progress != nil {
		progress.Start()
	}

	timer := time.NewTimer(duration)
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
	timer.Stop()

	engine.StopScan()
	select {
	case <-listener.stopped:
	case <-time.After(stopGrace):
		logger.Warn("Scan did not stop in time")
	}
	if progress != nil {
		progress.Stop()
	}

	devices := engine.Devices()
	if scanFormat == "json" {
		return writeFoundDevicesJSON(out, devices)
	}
	writeFoundDevices(out, category, devices, colors)
	return nil
}

// writeFoundDevices renders devs as an aligned table.
func writeFoundDevices(w io.Writer, category discovery.Category, devs []discovery.FoundDevice, colors bool) {
	if len(devs) == 0 {
		_, _ = fmt.Fprintf(w, "No %s sensors found\n", category)
		return
	}

	addrColor := newColor(colors, color.FgCyan)
	nameColor := newColor(colors, color.Bold)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "ADDRESS\tNAME\tCATEGORY\tMANUFACTURER\tBATTERY")
	for _, dev := range devs {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			addrColor.Sprint(dev.Address),
			nameColor.Sprint(orDash(dev.Name)),
			dev.Category,
			orDash(dev.Manufacturer),
			batteryText(dev.Battery),
		)
	}
	_ = tw.Flush()
	_, _ = fmt.Fprintf(w, "\n%d %s sensor(s) found\n", len(devs), category)
}

func writeFoundDevicesJSON(w io.Writer, devs []discovery.FoundDevice) error {
	if devs == nil {
		devs = []discovery.FoundDevice{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(devs)
}

func displayName(dev discovery.FoundDevice) string {
	if dev.Name != "" {
		return dev.Name
	}
	return dev.Address
}

func batteryText(level *int) string {
	if level == nil {
		return "-"
	}
	return strconv.Itoa(*level) + "%"
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func newColor(enabled bool, attrs ...color.Attribute) *color.Color {
	c := color.New(attrs...)
	if enabled {
		c.EnableColor()
	} else {
		c.DisableColor()
	}
	return c
}

// isTerminal reports whether w is an interactive terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
