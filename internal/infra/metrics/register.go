package metrics

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once    sync.Once
	pending []prometheus.Collector
)

// register queues collectors from each file's init; nothing is exported
// until MustRegister runs.
func register(cs ...prometheus.Collector) {
	pending = append(pending, cs...)
}

// MustRegister exports every queued collector. With no argument the default
// prometheus registry is used. Later calls are no-ops.
func MustRegister(regs ...prometheus.Registerer) {
	once.Do(func() {
		var reg prometheus.Registerer = prometheus.DefaultRegisterer
		if len(regs) > 0 && regs[0] != nil {
			reg = regs[0]
		}
		reg.MustRegister(pending...)
	})
}

func norm(s string) string { return strings.ToLower(strings.TrimSpace(s)) }
