package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/qopyapp/p2pcore/internal/config"
	"github.com/qopyapp/p2pcore/internal/discovery"
	"github.com/qopyapp/p2pcore/internal/feed"
	"github.com/qopyapp/p2pcore/internal/logging"
	"github.com/qopyapp/p2pcore/internal/mdns"
	"github.com/qopyapp/p2pcore/internal/metrics"
	"github.com/qopyapp/p2pcore/internal/netif"
	"github.com/qopyapp/p2pcore/internal/ui"
)

// Global flags, persistent on root
var (
	configPath  string
	backendName string
	ifaceName   string
	serviceName string
	servicePort int
	serviceType string
	logLevel    string
	jsonOutput  bool
)

// Command flags
var (
	scanTimeout    time.Duration
	statusInterval time.Duration
	listenAddr     string
)

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configPath, "config", "", "Config file path (default: OS config directory)")
	pf.StringVar(&backendName, "backend", "", "mDNS engine: zeroconf or hashicorp")
	pf.StringVar(&ifaceName, "interface", "", "Restrict mDNS to one network interface")
	pf.StringVar(&serviceName, "name", "", "Service instance name to advertise")
	pf.IntVar(&servicePort, "port", 0, "Service port to advertise")
	pf.StringVar(&serviceType, "service-type", "", "DNS-SD service type, e.g. _qopyapp._tcp.local.")
	pf.StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error); overrides "+logging.LogLevelEnvVar)
	pf.BoolVar(&jsonOutput, "json", false, "Write JSON instead of styled output")

	scanCmd.Flags().DurationVar(&scanTimeout, "timeout", 0, "Sampling window (default: discovery_timeout from config)")
	watchCmd.Flags().DurationVar(&statusInterval, "status-interval", 10*time.Second, "How often to print a status line")
	serveCmd.Flags().StringVar(&listenAddr, "listen", "", "Feed listen address (default: feed.listen from config)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(interfacesCmd)
}

var (
	settings     *config.File
	settingsErr  error
	settingsOnce sync.Once
)

// loadSettings loads the config file once and applies flag overrides.
func loadSettings(cmd *cobra.Command) (*config.File, error) {
	settingsOnce.Do(func() {
		settings, settingsErr = config.Load(configPath)
		if settingsErr == nil {
			applyOverrides(cmd, settings)
		}
	})
	return settings, settingsErr
}

func applyOverrides(cmd *cobra.Command, f *config.File) {
	flags := cmd.Flags()
	if flags.Changed("backend") {
		f.Discovery.Backend = backendName
	}
	if flags.Changed("interface") {
		f.Discovery.Interface = ifaceName
	}
	if flags.Changed("name") {
		f.Discovery.ServiceName = serviceName
	}
	if flags.Changed("port") {
		f.Discovery.Port = servicePort
	}
	if flags.Changed("service-type") {
		f.Discovery.ServiceType = serviceType
	}
	if flags.Changed("log-level") {
		f.Log.Level = logLevel
	}
}

// setupLogging picks the level from --log-level, then QOPY_LOG_LEVEL, then
// the config file. A config file that fails to load is reported later by
// the command itself.
func setupLogging(cmd *cobra.Command) error {
	level := logLevel
	if level == "" && os.Getenv(logging.LogLevelEnvVar) == "" {
		if f, err := loadSettings(cmd); err == nil {
			level = f.Log.Level
		}
	}
	return logging.Initialize(level)
}

// newService builds a discovery service from validated settings.
func newService(f *config.File) (*discovery.Service, error) {
	if err := f.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	backend, err := mdns.ParseBackend(f.Discovery.Backend)
	if err != nil {
		return nil, err
	}

	var opts []discovery.Option
	if name := f.Discovery.Interface; name != "" {
		opts = append(opts, discovery.WithLocalIP(func() (net.IP, error) {
			return netif.InterfaceIPv4(name)
		}))
	}

	return discovery.New(f.DiscoveryConfig(), mdns.Opener(backend, f.EngineOptions()), opts...)
}

// prepare loads settings and opens the service. The returned context is
// cancelled on SIGINT or SIGTERM.
func prepare(cmd *cobra.Command) (context.Context, context.CancelFunc, *config.File, *discovery.Service, error) {
	f, err := loadSettings(cmd)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	svc, err := newService(f)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	return ctx, cancel, f, svc, nil
}

func closeService(svc *discovery.Service) {
	if err := svc.Close(); err != nil {
		logging.Warn("Failed to close discovery service", zap.Error(err))
	}
}

func printJSON(cmd *cobra.Command, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return err
}

func serviceParams(f *config.File) []ui.Param {
	d := f.Discovery
	params := []ui.Param{
		{Key: "Service", Value: d.ServiceType},
		{Key: "Name", Value: d.ServiceName},
		{Key: "Port", Value: fmt.Sprint(d.Port)},
		{Key: "Backend", Value: d.Backend},
	}
	if d.Interface != "" {
		params = append(params, ui.Param{Key: "Interface", Value: d.Interface})
	}
	return params
}

// streamEvents prints every event until ctx is done or the subscription
// closes. A status line is printed every interval when interval > 0.
func streamEvents(ctx context.Context, cmd *cobra.Command, sub *discovery.Subscription, svc *discovery.Service, interval time.Duration) {
	printer := ui.NewPrinter(cmd.OutOrStdout())
	enc := json.NewEncoder(cmd.OutOrStdout())

	var tick <-chan time.Time
	if interval > 0 {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	started := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick:
			if jsonOutput {
				continue
			}
			printer.Println(ui.StatusStyle.Render(fmt.Sprintf("%d peers  uptime %s",
				len(svc.Peers()), time.Since(started).Round(time.Second))))
		case ev, ok := <-sub.C():
			if !ok {
				return
			}
			logging.LogPeerEvent(ev.Kind.String(), peerID(ev.Peer), peerAddr(ev.Peer), ev.Err)
			if jsonOutput {
				_ = enc.Encode(feed.EventMessage(ev, sub.Missed()))
				continue
			}
			printer.PrintEvent(ev)
		}
	}
}

func peerID(p *discovery.Peer) string {
	if p == nil {
		return ""
	}
	return p.ID
}

func peerAddr(p *discovery.Peer) string {
	if p == nil {
		return ""
	}
	return p.Addr()
}

// runCmd advertises this device and prints events until interrupted
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Advertise this device and print discovery events",
	Long: `Start the discovery service, advertise this device and print every
discovery event until interrupted. The final peer list is printed on exit.`,
	Example: `  # Run with settings from the config file
  qopy-discover run

  # Advertise under a different name on one interface
  qopy-discover run --name laptop --interface en0

  # Newline-delimited JSON events for scripting
  qopy-discover run --json`,
	RunE: runRun,
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx, cancel, f, svc, err := prepare(cmd)
	if err != nil {
		return err
	}
	defer cancel()
	defer closeService(svc)

	printer := ui.NewPrinter(cmd.OutOrStdout())
	if !jsonOutput {
		printer.PrintHeader("Discovery", "qopy-discover run", serviceParams(f)...)
	}

	sub := svc.Subscribe()
	defer sub.Close()

	if err := svc.Start(); err != nil {
		if !jsonOutput {
			printer.PrintError("Could not start discovery", err)
		}
		return err
	}

	streamEvents(ctx, cmd, sub, svc, 0)

	peers := svc.Peers()
	if jsonOutput {
		return nil
	}
	printer.Newline()
	printer.PrintPeers(peers)
	return nil
}

// scanCmd samples the network for a fixed window
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan for peers for a fixed time and list them",
	Long: `Advertise this device, listen for the full sampling window, then list
every peer known at the end of it. The scan never ends early because peers
were found.`,
	Example: `  # Scan for the configured discovery timeout (10s by default)
  qopy-discover scan

  # Quick 3-second scan
  qopy-discover scan --timeout 3s

  # JSON output for scripting
  qopy-discover scan --json`,
	RunE: runScan,
}

func runScan(cmd *cobra.Command, args []string) error {
	ctx, cancel, f, svc, err := prepare(cmd)
	if err != nil {
		return err
	}
	defer cancel()
	defer closeService(svc)

	timeout := scanTimeout
	if timeout <= 0 {
		timeout = f.Discovery.DiscoveryTimeout
	}

	if jsonOutput {
		peers, err := svc.DiscoverPeersWithContext(ctx, timeout)
		if err != nil {
			return err
		}
		infos := make([]feed.PeerInfo, 0, len(peers))
		ui.SortPeers(peers)
		for _, p := range peers {
			infos = append(infos, feed.NewPeerInfo(p))
		}
		return printJSON(cmd, infos)
	}

	printer := ui.NewPrinter(cmd.OutOrStdout())
	printer.PrintHeader("Peer Scan", "qopy-discover scan",
		append(serviceParams(f), ui.Param{Key: "Window", Value: timeout.String()})...)

	var peers []*discovery.Peer
	if ui.IsTerminal() {
		sub := svc.Subscribe()
		defer sub.Close()
		peers, err = ui.RunScan(ctx, "Scanning for peers...", timeout, sub,
			func(ctx context.Context) ([]*discovery.Peer, error) {
				return svc.DiscoverPeersWithContext(ctx, timeout)
			})
	} else {
		printer.Println(ui.ProgressLabelStyle.Render(fmt.Sprintf("Scanning for peers (%s)...", timeout)))
		peers, err = svc.DiscoverPeersWithContext(ctx, timeout)
	}
	if err != nil {
		if errors.Is(err, ui.ErrInterrupted) || errors.Is(err, context.Canceled) {
			printer.Println(ui.StatusStyle.Render("Scan cancelled."))
			return nil
		}
		printer.PrintError("Scan failed", err)
		return err
	}

	printer.PrintPeers(peers)
	printer.Newline()
	if len(peers) == 0 {
		printer.PrintResult(ui.NewWarningResult("No peers found",
			ui.Param{Key: "Window", Value: timeout.String()},
			ui.Param{Key: "Hint", Value: "increase --timeout or check that multicast is allowed"},
		))
		return nil
	}
	printer.PrintResult(ui.NewSuccessResult(fmt.Sprintf("%d peer(s) found", len(peers)),
		ui.Param{Key: "Window", Value: timeout.String()},
	))
	return nil
}

// watchCmd shows a live peer table
var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Monitor peers live",
	Long: `Advertise this device and show a live peer table with recent events.
When stdout is not a terminal, events and periodic status lines are printed
instead.`,
	Example: `  # Live view
  qopy-discover watch

  # Plain output with a status line every 30 seconds
  qopy-discover watch --status-interval 30s > watch.log`,
	RunE: runWatch,
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, cancel, f, svc, err := prepare(cmd)
	if err != nil {
		return err
	}
	defer cancel()
	defer closeService(svc)

	sub := svc.Subscribe()
	defer sub.Close()

	if err := svc.Start(); err != nil {
		if !jsonOutput {
			ui.NewPrinter(cmd.OutOrStdout()).PrintError("Could not start discovery", err)
		}
		return err
	}

	if jsonOutput || !ui.IsTerminal() {
		streamEvents(ctx, cmd, sub, svc, statusInterval)
		return nil
	}

	title := fmt.Sprintf("Watching %s as %s", f.Discovery.ServiceType, f.Discovery.ServiceName)
	return ui.RunWatch(ctx, title, svc, sub, statusInterval)
}

// serveCmd runs discovery with the HTTP/WebSocket feed
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run discovery and serve peers over HTTP and WebSocket",
	Long: `Advertise this device and expose the discovery state over HTTP:

  GET /health       liveness
  GET /stats        peer and subscriber counts
  GET /peers        peer list
  GET /peers/{id}   single peer
  GET /metrics      Prometheus metrics
  GET /ws           live JSON event stream`,
	Example: `  # Serve on the configured address (:8787 by default)
  qopy-discover serve

  # Serve on localhost only
  qopy-discover serve --listen 127.0.0.1:9000 --log-level info`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel, f, svc, err := prepare(cmd)
	if err != nil {
		return err
	}
	defer cancel()
	defer closeService(svc)

	addr := f.Feed.Listen
	if listenAddr != "" {
		addr = listenAddr
	}

	collector := metrics.New()
	go collector.Run(ctx, svc)

	if err := svc.Start(); err != nil {
		return err
	}

	srv := feed.New(&feed.Config{Addr: addr, MetricsHandler: collector.Handler()}, svc)

	if !jsonOutput {
		ui.NewPrinter(cmd.OutOrStdout()).PrintHeader("Discovery Feed", "qopy-discover serve",
			append(serviceParams(f), ui.Param{Key: "Listen", Value: addr})...)
	}

	return srv.ListenAndServe(ctx)
}

// interfacesCmd lists network interfaces
var interfacesCmd = &cobra.Command{
	Use:   "interfaces",
	Short: "List network interfaces and the address that would be advertised",
	RunE:  runInterfaces,
}

func runInterfaces(cmd *cobra.Command, args []string) error {
	ifaces, err := netif.List()
	if err != nil {
		return err
	}
	primary, primaryErr := netif.PrimaryIPv4()

	if jsonOutput {
		return printJSON(cmd, ifaces)
	}

	printer := ui.NewPrinter(cmd.OutOrStdout())
	for _, iface := range ifaces {
		flags := ""
		switch {
		case iface.Loopback:
			flags = "loopback"
		case iface.Virtual:
			flags = "virtual"
		case !iface.Up:
			flags = "down"
		case !iface.Multicast:
			flags = "no multicast"
		}

		addrs := ""
		for i, ip := range iface.IPv4() {
			if i > 0 {
				addrs += ", "
			}
			addrs += ip.String()
			if primaryErr == nil && ip.Equal(primary) {
				addrs += " " + ui.SuccessMarker
			}
		}
		if addrs == "" {
			addrs = "-"
		}
		printer.Println(fmt.Sprintf("  %s %-36s %s",
			ui.TableCellStyle.Render(fmt.Sprintf("%-16s", iface.Name)), addrs, ui.StatusStyle.Render(flags)))
	}

	printer.Newline()
	if primaryErr != nil {
		printer.PrintError("No advertisable address", &discovery.Error{Kind: discovery.KindIO, Op: "interfaces", Err: primaryErr})
		return nil
	}
	printer.Println(ui.StatusStyle.Render(fmt.Sprintf("%s marks the address advertised by default (%s)", ui.SuccessMarker, primary)))
	return nil
}
