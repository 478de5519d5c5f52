package obs

import "github.com/prometheus/client_golang/prometheus"

// Build metadata, overridden with -ldflags at release time.
var (
	Version = "dev"
	Commit  = "unknown"
)

// RegisterBuildInfo publishes build_info{version,commit} = 1 on reg.
func RegisterBuildInfo(reg prometheus.Registerer) error {
	g := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "build_info",
		Help: "Civitas build information.",
	}, []string{"version", "commit"})
	if err := reg.Register(g); err != nil {
		return err
	}
	g.WithLabelValues(Version, Commit).Set(1)
	return nil
}
