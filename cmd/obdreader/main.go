package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"time"

	"github.com/fatih/color"
	"github.com/manifoldco/promptui"

	"github.com/shaunagostinho/autopulse/internal/bridge"
	"github.com/shaunagostinho/autopulse/internal/can"
	"github.com/shaunagostinho/autopulse/internal/config"
	"github.com/shaunagostinho/autopulse/internal/dtc"
	"github.com/shaunagostinho/autopulse/internal/logger"
	"github.com/shaunagostinho/autopulse/internal/obd"
)

var (
	green  = color.New(color.FgGreen).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	bold   = color.New(color.Bold).SprintFunc()
)

func main() {
	configPath := flag.String("config", "/etc/autopulse/config.yaml", "Path to config file")
	addr := flag.String("addr", "", "Override bridge address (e.g. 127.0.0.1:55555)")
	flag.Parse()

	log.SetFlags(log.Ldate | log.Ltime)

	cfg := config.Load(*configPath)
	if *addr != "" {
		cfg.Bridge.Addr = *addr
	}

	bus, err := openTransport(cfg)
	if err != nil {
		fmt.Println(red("✗"), "failed to connect:", err)
		fmt.Println(yellow("!"), "make sure the ECU simulator is running first")
		os.Exit(1)
	}
	defer bus.Close()
	fmt.Println(green("✓"), "connected to ECU")

	reader := obd.NewReader(bus, time.Duration(cfg.Reader.TimeoutMs)*time.Millisecond)
	defer reader.Close()

	sessionLog := logger.New(logger.Config{
		Enabled:    cfg.Logging.Enabled,
		Path:       cfg.Logging.Path,
		IntervalMs: cfg.Logging.IntervalMs,
	})
	defer sessionLog.Close()

	fmt.Println(bold("\nAutopulse OBD-II Diagnostic Reader"))

	for {
		prompt := promptui.Select{
			Label:    "Select option",
			HideHelp: true,
			Items: []string{
				"Live Dashboard",
				"Check Error Codes (DTCs)",
				"Read Single Parameter",
				"Exit",
			},
		}
		_, choice, err := prompt.Run()
		if err != nil {
			// Ctrl+C at the menu exits cleanly.
			return
		}

		switch choice {
		case "Live Dashboard":
			runDashboard(reader, sessionLog, time.Duration(cfg.Reader.DashPollMs)*time.Millisecond)
		case "Check Error Codes (DTCs)":
			checkErrors(reader)
		case "Read Single Parameter":
			readSingle(reader)
		case "Exit":
			fmt.Println(green("✓"), "connection closed")
			return
		}
	}
}

// openTransport connects to either the TCP bridge or an SLCAN serial
// adapter, per config.
func openTransport(cfg *config.Config) (can.Bus, error) {
	switch cfg.Reader.Transport {
	case "slcan":
		return can.OpenSLCAN(can.SLCANConfig{
			Port:     cfg.Reader.SLCANPort,
			BaudRate: cfg.Reader.SLCANBaud,
		})
	default:
		return bridge.Dial(cfg.Bridge.Addr)
	}
}

// runDashboard polls all live parameters and redraws a single status
// line until the user interrupts with Ctrl+C.
func runDashboard(reader *obd.Reader, sessionLog *logger.Logger, interval time.Duration) {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	fmt.Println(bold("\nLIVE DASHBOARD"), "— press Ctrl+C to stop")

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)
	defer signal.Stop(stop)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			fmt.Println("\n" + green("✓") + " dashboard stopped")
			return
		case <-ticker.C:
		}

		snap := reader.Poll()
		if snap.Empty() {
			fmt.Printf("\r%s no response from ECU — is the simulator running?   ", yellow("!"))
			continue
		}
		sessionLog.Record(snap)

		fmt.Printf("\rRPM: %s | Speed: %s km/h | Coolant: %s°C | Throttle: %s%% | Load: %s%% | Intake: %s°C   ",
			fmtFloat(snap.RPM, "%6.0f"),
			fmtInt(snap.Speed, "%3d"),
			fmtInt(snap.Coolant, "%3d"),
			fmtFloat(snap.Throttle, "%5.1f"),
			fmtFloat(snap.Load, "%5.1f"),
			fmtInt(snap.Intake, "%3d"),
		)
	}
}

// checkErrors reads the stored trouble codes, prints them with their
// descriptions and offers to clear them.
func checkErrors(reader *obd.Reader) {
	fmt.Println(bold("\nDIAGNOSTIC TROUBLE CODES"))

	codes, ok := reader.ReadDTCs()
	if !ok {
		fmt.Println(yellow("!"), "no response from ECU")
		return
	}
	if len(codes) == 0 {
		fmt.Println(green("✓"), "no error codes found — system OK")
		return
	}

	fmt.Printf("%s found %d error code(s):\n", red("⚠"), len(codes))
	for _, c := range codes {
		fmt.Printf("  • %s — %s\n", red(c.String()), dtc.Describe(c.String()))
	}

	prompt := promptui.Select{
		Label:    "Clear error codes?",
		HideHelp: true,
		Items:    []string{"Yes", "No"},
	}
	if _, answer, err := prompt.Run(); err != nil || answer != "Yes" {
		return
	}
	if reader.ClearDTCs() {
		fmt.Println(green("✓"), "error codes cleared successfully")
	} else {
		fmt.Println(red("✗"), "failed to clear error codes")
	}
}

type parameter struct {
	name string
	read func(*obd.Reader) (string, bool)
}

var parameters = []parameter{
	{"RPM", func(r *obd.Reader) (string, bool) {
		v, ok := r.RPM()
		return fmt.Sprintf("%.0f RPM", v), ok
	}},
	{"Speed", func(r *obd.Reader) (string, bool) {
		v, ok := r.Speed()
		return fmt.Sprintf("%d km/h", v), ok
	}},
	{"Coolant Temperature", func(r *obd.Reader) (string, bool) {
		v, ok := r.CoolantTemp()
		return fmt.Sprintf("%d°C", v), ok
	}},
	{"Throttle Position", func(r *obd.Reader) (string, bool) {
		v, ok := r.Throttle()
		return fmt.Sprintf("%.1f%%", v), ok
	}},
	{"Engine Load", func(r *obd.Reader) (string, bool) {
		v, ok := r.EngineLoad()
		return fmt.Sprintf("%.1f%%", v), ok
	}},
	{"Intake Air Temperature", func(r *obd.Reader) (string, bool) {
		v, ok := r.IntakeTemp()
		return fmt.Sprintf("%d°C", v), ok
	}},
	{"Manifold Pressure", func(r *obd.Reader) (string, bool) {
		v, ok := r.ManifoldPressure()
		return fmt.Sprintf("%d kPa", v), ok
	}},
	{"Barometric Pressure", func(r *obd.Reader) (string, bool) {
		v, ok := r.BaroPressure()
		return fmt.Sprintf("%d kPa", v), ok
	}},
	{"MAF Air Flow", func(r *obd.Reader) (string, bool) {
		v, ok := r.MAFRate()
		return fmt.Sprintf("%.2f g/s", v), ok
	}},
}

func readSingle(reader *obd.Reader) {
	names := make([]string, len(parameters))
	for i, p := range parameters {
		names[i] = p.name
	}
	prompt := promptui.Select{
		Label:    "Select parameter",
		HideHelp: true,
		Items:    names,
		Size:     len(names),
	}
	idx, _, err := prompt.Run()
	if err != nil {
		return
	}

	p := parameters[idx]
	if value, ok := p.read(reader); ok {
		fmt.Printf("%s %s: %s\n", green("✓"), p.name, bold(value))
	} else {
		fmt.Println(yellow("!"), "no response from ECU")
	}
}

func fmtFloat(v *float64, format string) string {
	if v == nil {
		return "----"
	}
	return fmt.Sprintf(format, *v)
}

func fmtInt(v *int, format string) string {
	if v == nil {
		return "---"
	}
	return fmt.Sprintf(format, *v)
}
