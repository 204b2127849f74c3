package env

import (
	"github.com/thatsimonsguy/tank-controller/internal/config"
)

// Cfg is the process configuration, set once by main before any goroutine starts.
var Cfg *config.Config
