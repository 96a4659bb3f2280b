package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/spacedesk/spacedesk/internal/api"
	"github.com/spacedesk/spacedesk/internal/billing"
	"github.com/spacedesk/spacedesk/internal/config"
	"github.com/spacedesk/spacedesk/internal/display"
	"github.com/spacedesk/spacedesk/internal/ledger"
	"github.com/spacedesk/spacedesk/internal/session"
)

var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "spacedesk",
		Short: "Check-in and overtime billing tracker for a coworking space",
		Long:  "SpaceDesk — front-desk check-in/checkout tracking with per-hour overtime billing.\nRuns entirely on one device; state lives in a local SQLite file.",
	}

	var configFile string
	var port int
	var devMode bool

	// ─── start ───
	startCmd := &cobra.Command{
		Use:   "start",
		Short: "Start the SpaceDesk server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStart(configFile, port, devMode)
		},
	}
	startCmd.Flags().StringVarP(&configFile, "config", "c", "", "Path to spacedesk.yaml")
	startCmd.Flags().IntVarP(&port, "port", "p", 0, "HTTP port (overrides config)")
	startCmd.Flags().BoolVar(&devMode, "dev", false, "Development mode (CORS on, debug logging)")

	// ─── init ───
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Generate a default spacedesk.yaml",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit()
		},
	}

	// ─── checkin ───
	var packageType string
	checkinCmd := &cobra.Command{
		Use:   "checkin [card-number]",
		Short: "Check a customer in",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheckIn(port, args[0], packageType)
		},
	}
	checkinCmd.Flags().StringVar(&packageType, "package", "deep-work", "Package type (see 'spacedesk packages')")

	// ─── checkout ───
	var checkoutAt string
	checkoutCmd := &cobra.Command{
		Use:   "checkout [session-id]",
		Short: "Check a customer out and print the final bill",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheckOut(port, args[0], checkoutAt)
		},
	}
	checkoutCmd.Flags().StringVar(&checkoutAt, "at", "", "Explicit checkout time (RFC3339, default now)")

	// ─── bill ───
	billCmd := &cobra.Command{
		Use:   "bill [session-id]",
		Short: "Show the current bill for a session (live estimate if active)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBill(port, args[0])
		},
	}

	// ─── list ───
	var checkedOut bool
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runList(port, checkedOut)
		},
	}
	listCmd.Flags().BoolVar(&checkedOut, "checked-out", false, "List checked-out sessions instead of active ones")

	// ─── delete ───
	deleteCmd := &cobra.Command{
		Use:   "delete [session-id]",
		Short: "Delete a session record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDelete(port, args[0])
		},
	}

	// ─── packages ───
	packagesCmd := &cobra.Command{
		Use:   "packages",
		Short: "List available time packages",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPackages(port)
		},
	}

	// ─── stats ───
	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Show headcounts and accrued overtime fees",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStats(port)
		},
	}

	// ─── watch ───
	var watchInterval time.Duration
	watchCmd := &cobra.Command{
		Use:   "watch",
		Short: "Continuously show live fees for active sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(port, watchInterval)
		},
	}
	watchCmd.Flags().DurationVar(&watchInterval, "interval", time.Second, "Refresh interval")

	// ─── status ───
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Check whether the server is running",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(port)
		},
	}

	// ─── version ───
	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("spacedesk %s (commit %s, built %s)\n", version, commit, buildDate)
		},
	}

	for _, c := range []*cobra.Command{checkinCmd, checkoutCmd, billCmd, listCmd, deleteCmd, packagesCmd, statsCmd, watchCmd, statusCmd} {
		c.Flags().IntVarP(&port, "port", "p", 0, "Server port (defaults to config)")
	}

	rootCmd.AddCommand(startCmd, initCmd, checkinCmd, checkoutCmd, billCmd, listCmd, deleteCmd, packagesCmd, statsCmd, watchCmd, statusCmd, versionCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runStart(configFile string, portOverride int, devMode bool) error {
	cfgLoader := config.NewLoader()
	if configFile == "" {
		configFile = findConfigFile()
	}
	if configFile != "" {
		if err := cfgLoader.Load(configFile); err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
	}

	cfg := cfgLoader.Get()
	if portOverride > 0 {
		cfg.Server.Port = portOverride
	}
	if devMode {
		cfg.Server.CORS = true
		cfg.Server.LogLevel = "debug"
	}

	logLevel := slog.LevelInfo
	switch strings.ToLower(cfg.Server.LogLevel) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))

	store, err := ledger.NewSQLiteStore(cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	if err := store.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer func() { _ = store.Close() }()

	catalog := billing.NewCatalog(packagesFromConfig(cfg), cfg.Billing.OvertimeRate)

	sessionMgr, err := session.NewManager(store, catalog, logger)
	if err != nil {
		return err
	}

	apiServer := api.NewServer(cfg.Server, sessionMgr, catalog, logger)

	// Hot-reload package table and overtime rate on config file change.
	if configFile != "" {
		if err := cfgLoader.Watch(logger, func(c *config.Config) {
			catalog.Replace(packagesFromConfig(c), c.Billing.OvertimeRate)
		}); err != nil {
			logger.Warn("failed to watch config for hot-reload", "error", err)
		} else {
			defer cfgLoader.StopWatch()
		}
	}

	fmt.Println()
	fmt.Println("  SpaceDesk " + version)
	fmt.Printf("  → API:       http://localhost:%d/api\n", cfg.Server.Port)
	fmt.Printf("  → Live feed: ws://localhost:%d/api/ws/estimates\n", cfg.Server.Port)
	fmt.Printf("  → Storage:   %s (%s)\n", cfg.Storage.Driver, cfg.Storage.Path)
	fmt.Printf("  → Packages:  %d loaded, overtime %d/h\n", len(catalog.List()), catalog.OvertimeRate())
	fmt.Println()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		logger.Info("shutting down...")
		shutCtx, shutCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutCancel()
		_ = apiServer.Shutdown(shutCtx)
	}()

	if err := apiServer.Start(cfg.Display.RefreshInterval); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("HTTP server error: %w", err)
	}
	return nil
}

func runInit() error {
	configPath := "spacedesk.yaml"
	if _, err := os.Stat(configPath); err == nil {
		fmt.Printf("  ⚠ %s already exists (skipping)\n", configPath)
		return nil
	}
	if err := config.GenerateDefault(configPath); err != nil {
		return err
	}
	fmt.Printf("  ✓ Generated %s\n", configPath)
	fmt.Println()
	fmt.Println("  Next steps:")
	fmt.Println("    spacedesk start                          # Start the server")
	fmt.Println("    spacedesk checkin C-042 --package fun-work")
	return nil
}

func runCheckIn(port int, cardNumber, packageType string) error {
	var sess ledger.Session
	err := postJSON(port, "/api/sessions",
		map[string]string{"card_number": cardNumber, "package_type": packageType}, &sess)
	if err != nil {
		return err
	}

	f := newFormatter()
	fmt.Printf("  ✓ Checked in card %s (%s)\n", sess.CardNumber, sess.PackageType)
	fmt.Printf("    session: %s\n", sess.ID)
	fmt.Printf("    started: %s %s\n", f.Date(sess.StartTime), f.Clock(sess.StartTime))
	return nil
}

func runCheckOut(port int, sessionID, at string) error {
	body := map[string]string{}
	if at != "" {
		body["checkout_time"] = at
	}

	var resp struct {
		Session ledger.Session `json:"session"`
		Bill    billing.Bill   `json:"bill"`
	}
	if err := postJSON(port, "/api/sessions/"+sessionID+"/checkout", body, &resp); err != nil {
		return err
	}

	fmt.Printf("  ✓ Checked out card %s\n", resp.Session.CardNumber)
	printBill(&resp.Bill)
	return nil
}

func runBill(port int, sessionID string) error {
	var bill billing.Bill
	if err := getJSON(port, "/api/sessions/"+sessionID+"/bill", &bill); err != nil {
		return err
	}
	printBill(&bill)
	return nil
}

func printBill(bill *billing.Bill) {
	f := newFormatter()

	kind := "Live estimate"
	if bill.Final {
		kind = "Final bill"
	}
	fmt.Printf("\n  %s — card %s, %s\n", kind, bill.CardNumber, bill.PackageName)
	fmt.Printf("    allotted: %s\n", display.Duration(bill.AllottedHours))
	fmt.Printf("    elapsed:  %s\n", display.Duration(bill.ElapsedHours))
	if bill.OvertimeHours == 0 {
		fmt.Printf("    no overtime — remaining %s\n", display.Duration(bill.RemainingHours))
		return
	}
	fmt.Printf("    overtime: %d hour(s)\n", bill.OvertimeHours)
	for _, line := range bill.Schedule {
		fmt.Printf("      hour %d: %s\n", line.Hour, f.Currency(line.Fee))
	}
	fmt.Printf("    total:    %s\n", f.Currency(bill.OvertimeFee))
}

func runList(port int, checkedOut bool) error {
	status := "active"
	if checkedOut {
		status = "checked_out"
	}

	var resp struct {
		Sessions []ledger.Session `json:"sessions"`
		Total    int              `json:"total"`
	}
	if err := getJSON(port, "/api/sessions?status="+status, &resp); err != nil {
		return err
	}

	if resp.Total == 0 {
		fmt.Printf("  No %s sessions.\n", strings.ReplaceAll(status, "_", "-"))
		return nil
	}

	f := newFormatter()
	headers := []string{"SESSION", "CARD", "PACKAGE", "STARTED"}
	if checkedOut {
		headers = append(headers, "CHECKED OUT")
	}
	rows := make([][]string, 0, resp.Total)
	for _, sess := range resp.Sessions {
		row := []string{sess.ID, sess.CardNumber, sess.PackageType,
			f.Date(sess.StartTime) + " " + f.Clock(sess.StartTime)}
		if checkedOut && sess.CheckoutTime != nil {
			row = append(row, f.Date(*sess.CheckoutTime)+" "+f.Clock(*sess.CheckoutTime))
		}
		rows = append(rows, row)
	}
	fmt.Print(display.Table(headers, rows))
	return nil
}

func runDelete(port int, sessionID string) error {
	req, err := http.NewRequest(http.MethodDelete, apiURL(port, "/api/sessions/"+sessionID), nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect (is the server running?): %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return apiError(resp)
	}
	fmt.Printf("  ✓ Deleted session %s\n", sessionID)
	return nil
}

func runPackages(port int) error {
	var resp struct {
		Packages     []billing.Package `json:"packages"`
		OvertimeRate int64             `json:"overtime_rate"`
	}
	if err := getJSON(port, "/api/packages", &resp); err != nil {
		return err
	}

	f := newFormatter()
	rows := make([][]string, 0, len(resp.Packages))
	for _, p := range resp.Packages {
		rows = append(rows, []string{p.Type, p.Name, display.Duration(p.Hours), p.Description})
	}
	fmt.Print(display.Table([]string{"TYPE", "NAME", "ALLOTTED", "DESCRIPTION"}, rows))
	fmt.Printf("\n  Overtime: %s per started hour\n", f.Currency(resp.OvertimeRate))
	return nil
}

func runStats(port int) error {
	var stats api.Stats
	if err := getJSON(port, "/api/stats", &stats); err != nil {
		return err
	}
	f := newFormatter()
	fmt.Printf("  Active:        %d\n", stats.ActiveSessions)
	fmt.Printf("  Checked out:   %d\n", stats.CheckedOutSessions)
	fmt.Printf("  Overtime owed: %s\n", f.Currency(stats.TotalOvertimeFee))
	return nil
}

// runWatch polls the server on a fixed interval and re-renders live fees
// for all active sessions. Purely a display loop; Ctrl-C stops it.
func runWatch(port int, interval time.Duration) error {
	f := newFormatter()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	render := func() {
		var resp struct {
			Sessions []ledger.Session `json:"sessions"`
		}
		if err := getJSON(port, "/api/sessions?status=active", &resp); err != nil {
			fmt.Printf("  %v\n", err)
			return
		}

		rows := make([][]string, 0, len(resp.Sessions))
		var total int64
		for _, sess := range resp.Sessions {
			var bill billing.Bill
			if err := getJSON(port, "/api/sessions/"+sess.ID+"/bill", &bill); err != nil {
				continue
			}
			total += bill.OvertimeFee
			rows = append(rows, []string{
				sess.CardNumber,
				bill.PackageName,
				display.Duration(bill.ElapsedHours),
				display.Duration(bill.RemainingHours),
				f.Currency(bill.OvertimeFee),
			})
		}

		fmt.Print("\033[H\033[2J") // clear screen
		fmt.Printf("  SpaceDesk — %d active, overtime owed %s\n\n", len(rows), f.Currency(total))
		if len(rows) > 0 {
			fmt.Print(display.Table([]string{"CARD", "PACKAGE", "ELAPSED", "REMAINING", "FEE"}, rows))
		}
	}

	render()
	for {
		select {
		case <-sigCh:
			fmt.Println()
			return nil
		case <-ticker.C:
			render()
		}
	}
}

func runStatus(port int) error {
	var health map[string]string
	if err := getJSON(port, "/api/health", &health); err != nil {
		fmt.Println("  ✗ Server is not running")
		return err
	}
	fmt.Println("  ✓ Server is running")
	return runStats(port)
}

// ─── Helpers ───

func findConfigFile() string {
	candidates := []string{"spacedesk.yaml", "spacedesk.yml"}
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c
		}
	}
	return ""
}

// loadConfig loads the nearest config file for client-side commands,
// falling back to defaults.
func loadConfig() *config.Config {
	loader := config.NewLoader()
	if path := findConfigFile(); path != "" {
		_ = loader.Load(path)
	}
	return loader.Get()
}

func resolvePort(port int) int {
	if port > 0 {
		return port
	}
	return loadConfig().Server.Port
}

func newFormatter() *display.Formatter {
	cfg := loadConfig()
	f, err := display.NewFormatter(cfg.Billing.Locale, cfg.Billing.Currency)
	if err != nil {
		// Unreachable with a valid config; fall back to defaults.
		f, _ = display.NewFormatter("vi", "VND")
	}
	return f
}

func packagesFromConfig(cfg *config.Config) []billing.Package {
	packages := make([]billing.Package, 0, len(cfg.Packages))
	for _, p := range cfg.Packages {
		packages = append(packages, billing.Package{
			Type:        p.Type,
			Name:        p.Name,
			Hours:       p.Hours,
			Description: p.Description,
		})
	}
	return packages
}

func apiURL(port int, path string) string {
	return fmt.Sprintf("http://localhost:%d%s", resolvePort(port), path)
}

func getJSON(port int, path string, v interface{}) error {
	resp, err := http.Get(apiURL(port, path))
	if err != nil {
		return fmt.Errorf("failed to connect (is the server running?): %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return apiError(resp)
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

func postJSON(port int, path string, body interface{}, v interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	resp, err := http.Post(apiURL(port, path), "application/json", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to connect (is the server running?): %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return apiError(resp)
	}
	if v == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

func apiError(resp *http.Response) error {
	var body struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err == nil && body.Error != "" {
		return fmt.Errorf("%s (HTTP %d)", body.Error, resp.StatusCode)
	}
	return fmt.Errorf("request failed with HTTP %d", resp.StatusCode)
}
