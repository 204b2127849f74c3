package shutdown

import (
	"os"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/tank-controller/internal/env"
	"github.com/thatsimonsguy/tank-controller/internal/gpio"
)

var exit = os.Exit

// Shutdown forces every output off and exits cleanly.
func Shutdown() {
	forceOutputsOff()
	exit(0)
}

// ShutdownWithError forces every output off and exits non-zero so systemd
// restarts the unit. The boot script keeps the relays off until the
// controller takes them over again.
func ShutdownWithError(err error, msg string) {
	log.Error().Err(err).Msg(msg)
	forceOutputsOff()
	exit(1)
}

func forceOutputsOff() {
	if env.Cfg == nil {
		log.Error().Msg("No config loaded, cannot force outputs off")
		return
	}
	if err := gpio.AllOff(gpio.PinsFromConfig(env.Cfg.GPIO)); err != nil {
		log.Error().Err(err).Msg("Failed to force one or more outputs off")
		return
	}
	log.Info().Msg("All outputs deactivated")
}
