package bot

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var commandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "splittab_commands_total",
	Help: "Inbound chat commands handled, by command and outcome.",
}, []string{"command", "outcome"})
