package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/thatsimonsguy/tank-controller/db"
	"github.com/thatsimonsguy/tank-controller/internal/config"
)

func main() {
	DebugCLI()
}

func DebugCLI() {
	var dbPath, command, channel, ssid, password string
	var delayMs int64
	var limit int
	flag.StringVar(&dbPath, "db", "data/tank.db", "Path to the SQLite database file")
	flag.StringVar(&command, "cmd", "", "Command to run: show-config, set-poll-delay, set-wifi, factory-reset, events")
	flag.StringVar(&channel, "channel", "", "Sensor channel (a or b) for set-poll-delay")
	flag.Int64Var(&delayMs, "delay-ms", 0, "Poll delay in milliseconds for set-poll-delay")
	flag.StringVar(&ssid, "ssid", "", "Wifi SSID for set-wifi")
	flag.StringVar(&password, "password", "", "Wifi password for set-wifi")
	flag.IntVar(&limit, "limit", 20, "Number of events to show")
	help := flag.Bool("help", false, "Show help")
	flag.Parse()

	if *help || command == "" {
		fmt.Println("\nUsage of tank-debug:")
		fmt.Println("  -db string\tPath to the SQLite database file (default 'data/tank.db')")
		fmt.Println("  -cmd string\tCommand to run: show-config, set-poll-delay, set-wifi, factory-reset, events")
		fmt.Println("  -channel string\tSensor channel (a or b) for set-poll-delay")
		fmt.Println("  -delay-ms int\tPoll delay in milliseconds for set-poll-delay")
		fmt.Println("  -ssid string\tWifi SSID for set-wifi")
		fmt.Println("  -password string\tWifi password for set-wifi")
		fmt.Println("  -limit int\tNumber of events to show (default 20)")
		fmt.Println("  -help\tShow this help message")
		os.Exit(0)
	}

	defaults := config.Default()
	factory := defaults.SystemDefaults()

	var err error
	switch command {
	case "show-config":
		err = db.ShowConfigCLI(os.Stdout, dbPath, factory)
	case "set-poll-delay":
		if channel == "" {
			fmt.Println("Error: channel is required")
			os.Exit(1)
		}
		err = db.SetPollDelayCLI(os.Stdout, dbPath, factory, channel, delayMs)
	case "set-wifi":
		if ssid == "" {
			fmt.Println("Error: ssid is required")
			os.Exit(1)
		}
		err = db.SetWifiCLI(os.Stdout, dbPath, factory, ssid, password)
	case "factory-reset":
		err = db.FactoryResetCLI(os.Stdout, dbPath, factory)
	case "events":
		err = db.EventsCLI(os.Stdout, dbPath, limit)
	default:
		fmt.Println("Invalid command")
		os.Exit(1)
	}

	if err != nil {
		fmt.Printf("Command %s failed: %v\n", command, err)
		os.Exit(1)
	}
	fmt.Printf("Command %s completed successfully\n", command)
}
