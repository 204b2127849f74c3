package startup

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/thatsimonsguy/tank-controller/internal/env"
	"github.com/thatsimonsguy/tank-controller/internal/gpio"
	"github.com/thatsimonsguy/tank-controller/internal/model"
)

// BootScript renders the shell script that drives every output to its
// inactive level before the controller starts.
func BootScript(pins gpio.Pins) string {
	var lines []string
	lines = append(lines, "#!/bin/bash", "", "# Tank controller GPIO configuration at boot", "")

	write := func(label string, pin model.GPIOPin) {
		drive := "dh"
		if pin.ActiveHigh {
			drive = "dl"
		}
		lines = append(lines, fmt.Sprintf("# %s", label))
		lines = append(lines, fmt.Sprintf("pinctrl set %d op pn %s", pin.Number, drive))
		lines = append(lines, "")
	}

	for _, out := range pins.Outputs() {
		write(out.Name, out.Pin)
	}

	pull := "pd"
	if !pins.ConfigSelect.ActiveHigh {
		pull = "pu"
	}
	lines = append(lines, "# config_select", fmt.Sprintf("pinctrl set %d ip %s", pins.ConfigSelect.Number, pull), "")

	return strings.Join(lines, "\n") + "\n"
}

func WriteStartupScript() error {
	contents := BootScript(gpio.PinsFromConfig(env.Cfg.GPIO))
	return os.WriteFile(env.Cfg.BootScriptFilePath, []byte(contents), 0755)
}

func InstallStartupService() error {
	unitContents := fmt.Sprintf(`[Unit]
Description=Force tank controller outputs off at boot
After=local-fs.target

[Service]
Type=oneshot
Environment=PATH=/usr/local/bin:/usr/bin:/bin
ExecStart=%s
RemainAfterExit=true

[Install]
WantedBy=multi-user.target
`, env.Cfg.BootScriptFilePath)

	return os.WriteFile(env.Cfg.OSServicePath, []byte(unitContents), 0644)
}

func RunStartupScript() error {
	cmd := exec.Command("/bin/bash", env.Cfg.BootScriptFilePath)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

// MainServiceUnit renders the controller unit. Restart=on-failure is what
// turns a supervisory exit into a restart.
func MainServiceUnit() string {
	gpioUnitName := filepath.Base(env.Cfg.OSServicePath)

	return fmt.Sprintf(`[Unit]
Description=Tank controller main service
After=%s network-online.target
Requires=%s

[Service]
Type=simple
User=%s
WorkingDirectory=%s
ExecStartPre=/bin/bash %s
ExecStart=%s
Restart=on-failure
RestartSec=5s

[Install]
WantedBy=multi-user.target
`, gpioUnitName, gpioUnitName, env.Cfg.ServiceUser, env.Cfg.ServiceWorkdir, env.Cfg.BootScriptFilePath, env.Cfg.ServiceExec)
}

func InstallMainService() error {
	return os.WriteFile(env.Cfg.MainServicePath, []byte(MainServiceUnit()), 0644)
}
